package errors

// Common error codes used across domains
const (
	CodeNotFound    Code = "not_found"
	CodeInvalid     Code = "invalid"
	CodeUnsupported Code = "unsupported"
	CodeFailed      Code = "failed"
	CodeTimeout     Code = "timeout"
	CodeInterrupted Code = "interrupted"
	CodeUnavailable Code = "unavailable"
)

// ============================================================================
// Discovery Errors
// ============================================================================

var (
	// ErrRootNotFound is returned when the upward walk reaches the filesystem
	// root without finding a kernel source tree
	ErrRootNotFound = New(DomainKernel, "root_not_found",
		"Kernel root could not be located")

	// ErrNoToolchainsFound is returned when a toolchain scan yields no usable toolchain
	ErrNoToolchainsFound = New(DomainToolchain, CodeNotFound,
		"No toolchains found")

	// ErrInvalidSelection is returned when the operator picks an out-of-range ordinal
	ErrInvalidSelection = New(DomainToolchain, "invalid_selection",
		"Invalid toolchain selection")

	// ErrUnsupportedArch is returned for architectures outside arm, arm64 and x86
	ErrUnsupportedArch = New(DomainArch, CodeUnsupported,
		"Unsupported architecture")
)

// ============================================================================
// Build Errors
// ============================================================================

var (
	// ErrMakeFailed is returned when the build tool exits non-zero
	ErrMakeFailed = New(DomainMake, CodeFailed,
		"Build tool invocation failed")

	// ErrTimeout is returned when a build tool invocation exceeds its timeout
	ErrTimeout = New(DomainMake, CodeTimeout,
		"Build tool did not respond before the timeout")

	// ErrBuildFailed is returned when a toolchain's compile fails
	ErrBuildFailed = New(DomainBuild, CodeFailed,
		"Kernel build failed")

	// ErrInterrupted is returned for toolchains skipped after an interrupt
	ErrInterrupted = New(DomainBuild, CodeInterrupted,
		"Build batch interrupted")

	// ErrPackagingFailed is returned when boot image or OTA assembly fails
	ErrPackagingFailed = New(DomainPackaging, CodeFailed,
		"Packaging failed")
)

// ============================================================================
// Infrastructure Errors
// ============================================================================

var (
	// ErrStorageUnavailable is returned when the export backend cannot be reached
	ErrStorageUnavailable = New(DomainStorage, CodeUnavailable,
		"Storage backend unavailable")

	// ErrStorageUploadFailed is returned when an export upload fails
	ErrStorageUploadFailed = New(DomainStorage, "upload_failed",
		"Failed to upload object to storage")

	// ErrSettingNotFound is returned when a key is absent from the settings store
	ErrSettingNotFound = New(DomainDatabase, CodeNotFound,
		"Setting not found")

	// ErrRecordNotFound is returned when a build record does not exist
	ErrRecordNotFound = New(DomainDatabase, "record_not_found",
		"Build record not found")

	// ErrDatabaseQuery is returned when a database query fails
	ErrDatabaseQuery = New(DomainDatabase, "query_failed",
		"Database query failed")

	// ErrInvalidConfig is returned when configuration values are unusable
	ErrInvalidConfig = New(DomainConfig, CodeInvalid,
		"Invalid configuration")
)
