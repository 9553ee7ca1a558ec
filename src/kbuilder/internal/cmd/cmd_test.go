package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
	"github.com/bitswalk/kbuilder/src/kbuilder/db"
	"github.com/bitswalk/kbuilder/src/kbuilder/internal/output"
	"github.com/bitswalk/kbuilder/src/kbuilder/kbuild"
	"github.com/bitswalk/kbuilder/src/kbuilder/kbuild/kbuildtest"
	"github.com/bitswalk/kbuilder/src/kbuilder/toolchain"
)

// =============================================================================
// Test Helpers
// =============================================================================

// workspace is a kernel tree next to a toolchains directory
type workspace struct {
	base       string
	kernel     string
	toolchains string
	export     string
	runner     *kbuildtest.Recorder
}

func mkdirs(t *testing.T, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
}

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	mkdirs(t, filepath.Dir(path))
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
}

// setupWorkspace lays out <base>/msm (an arm64 kernel with a built
// image) and <base>/toolchains with gcc-a and gcc-b, and installs a
// recording build tool
func setupWorkspace(t *testing.T) *workspace {
	t.Helper()
	resetGlobals(t)

	base := t.TempDir()
	ws := &workspace{
		base:       base,
		kernel:     filepath.Join(base, "msm"),
		toolchains: filepath.Join(base, "toolchains"),
		export:     filepath.Join(base, "export"),
		runner: &kbuildtest.Recorder{Outputs: map[string]string{
			kbuild.TargetKernelVersion: "4.9\n",
			kbuild.TargetKernelRelease: "scripts/kconfig/conf --silentoldconfig Kconfig\n4.9.0-perf\n",
		}},
	}

	for _, d := range []string{"arch", "crypto", "Documentation", "drivers", "include", "scripts", "tools"} {
		mkdirs(t, filepath.Join(ws.kernel, d))
	}
	writeFile(t, filepath.Join(ws.kernel, "arch", "arm64", "boot", "Image.gz-dtb"), "kernel", 0644)
	writeFile(t, filepath.Join(ws.toolchains, "gcc-a", "bin", "aarch64-linux-android-gcc"), "#!/bin/sh\necho 4.9.x\n", 0755)
	writeFile(t, filepath.Join(ws.toolchains, "gcc-b", "bin", "aarch64-linux-gnu-gcc"), "", 0755)

	newRunner = func(cfg kbuild.Config) (kbuild.Runner, error) {
		return ws.runner, nil
	}
	return ws
}

// resetGlobals restores package and viper state between tests
func resetGlobals(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	viper.Reset()
	bindFlags()
	bindBuildFlags()
	bindHistoryFlags()
	setDefaults()
	resetFlags(rootCmd)

	cfgFile = ""
	toolchainName = ""
	outputFormat = output.FormatTable

	origRunner, origSelect := newRunner, selectToolchains
	t.Cleanup(func() {
		newRunner, selectToolchains = origRunner, origSelect
	})
	selectToolchains = func(tcs []toolchain.Toolchain) ([]toolchain.Toolchain, error) {
		t.Fatalf("unexpected interactive selection among %v", toolchain.Names(tcs))
		return nil, nil
	}
}

// resetFlags puts every flag of the tree back to its default
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// executeCommand runs the root command with args and returns its output
func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func (ws *workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	base := []string{"-C", ws.kernel, "--toolchains", ws.toolchains, "--export", ws.export, "--log-level", "error"}
	return executeCommand(append(base, args...)...)
}

func (ws *workspace) buildTargets() []string {
	var out []string
	for _, target := range ws.runner.Targets() {
		if target == kbuild.TargetKernelVersion || target == kbuild.TargetKernelRelease {
			continue
		}
		out = append(out, target)
	}
	return out
}

// =============================================================================
// Command Registration Tests
// =============================================================================

func TestRootCommand_HasSubcommands(t *testing.T) {
	expected := []string{
		"version", "build", "clean", "archclean",
		"linuxversion", "releaseversion", "localversion",
		"kernel", "toolchain", "history", "exports",
	}

	commands := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		commands[cmd.Name()] = true
	}
	for _, name := range expected {
		if !commands[name] {
			t.Errorf("expected subcommand %q not found on root", name)
		}
	}
}

func TestSubcommands(t *testing.T) {
	tests := []struct {
		parent   *cobra.Command
		expected []string
	}{
		{buildCmd, []string{"kernel", "ota", "bootimg", "defconfig"}},
		{toolchainCmd, []string{"list", "show", "set", "unset"}},
		{historyCmd, []string{"batch", "show", "prune"}},
		{kernelCmd, []string{"info"}},
	}

	for _, tt := range tests {
		t.Run(tt.parent.Name(), func(t *testing.T) {
			commands := make(map[string]bool)
			for _, cmd := range tt.parent.Commands() {
				commands[cmd.Name()] = true
			}
			for _, name := range tt.expected {
				if !commands[name] {
					t.Errorf("expected %s subcommand %q not found", tt.parent.Name(), name)
				}
			}
		})
	}
}

func TestRootFlags(t *testing.T) {
	for _, name := range []string{"kernel", "jobs", "toolchains", "toolchain", "arch", "clean", "timeout", "export", "output", "config", "log-level", "log-output"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("expected persistent flag --%s", name)
		}
	}
}

// =============================================================================
// Version Tests
// =============================================================================

func TestVersionCommand_JSON(t *testing.T) {
	resetGlobals(t)

	out, err := executeCommand("version", "-o", "json")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if info["version"] == "" || info["go_version"] == "" {
		t.Errorf("missing version fields in %v", info)
	}
}

func TestInvalidOutputFormat(t *testing.T) {
	resetGlobals(t)

	_, err := executeCommand("version", "-o", "xml")
	if !kerrors.Is(err, kerrors.ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}

// =============================================================================
// Kernel query Tests
// =============================================================================

func TestVersionQueries(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{"linuxversion", "4.9"},
		{"releaseversion", "4.9.0-perf"},
		{"localversion", "perf"},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			ws := setupWorkspace(t)
			// start below the root; the tree is found by walking up
			out, err := executeCommand("-C", filepath.Join(ws.kernel, "drivers"), tt.command)
			if err != nil {
				t.Fatalf("%s error: %v", tt.command, err)
			}
			if strings.TrimSpace(out) != tt.want {
				t.Errorf("%s = %q, want %q", tt.command, strings.TrimSpace(out), tt.want)
			}
			for _, c := range ws.runner.Calls() {
				if c.Dir != ws.kernel {
					t.Errorf("build tool ran in %s, want %s", c.Dir, ws.kernel)
				}
			}
		})
	}
}

func TestRootNotFound(t *testing.T) {
	resetGlobals(t)

	_, err := executeCommand("-C", t.TempDir(), "linuxversion")
	if !kerrors.Is(err, kerrors.ErrRootNotFound) {
		t.Errorf("error = %v, want ErrRootNotFound", err)
	}
	if kerrors.ExitCode(err) != 1 {
		t.Errorf("exit code = %d, want 1", kerrors.ExitCode(err))
	}
}

func TestKernelInfoMergesKernelConfig(t *testing.T) {
	ws := setupWorkspace(t)
	writeFile(t, filepath.Join(ws.kernel, ".kbuilder.yaml"), "kernel:\n  arch: arm64\n  extra_version: custom\n", 0644)

	out, err := ws.run(t, "kernel", "info", "-o", "json")
	if err != nil {
		t.Fatalf("kernel info error: %v", err)
	}

	var info kernelInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if info.Root != ws.kernel || info.Name != "msm" {
		t.Errorf("root/name = %s/%s, want %s/msm", info.Root, info.Name, ws.kernel)
	}
	if info.CustomRelease != "4.9.0-perf-custom" {
		t.Errorf("custom release = %q, want 4.9.0-perf-custom", info.CustomRelease)
	}
	if want := filepath.Join(ws.kernel, "arch", "arm64", "boot", "Image.gz-dtb"); info.KbuildImage != want {
		t.Errorf("kbuild image = %q, want %q", info.KbuildImage, want)
	}
	if info.Version.Local != "perf" {
		t.Errorf("local version = %q, want perf", info.Version.Local)
	}
}

// =============================================================================
// Toolchain Tests
// =============================================================================

func TestToolchainSetShowList(t *testing.T) {
	ws := setupWorkspace(t)

	out, err := ws.run(t, "toolchain", "show")
	if err != nil {
		t.Fatalf("toolchain show error: %v", err)
	}
	if !strings.Contains(out, "No default toolchain set") {
		t.Errorf("unexpected show output %q", out)
	}

	if _, err := ws.run(t, "toolchain", "set", "gcc-b"); err != nil {
		t.Fatalf("toolchain set error: %v", err)
	}

	resetFlags(rootCmd)
	out, err = ws.run(t, "toolchain", "show")
	if err != nil {
		t.Fatalf("toolchain show error: %v", err)
	}
	if strings.TrimSpace(out) != "gcc-b" {
		t.Errorf("toolchain show = %q, want gcc-b", out)
	}

	resetFlags(rootCmd)
	out, err = ws.run(t, "toolchain", "list")
	if err != nil {
		t.Fatalf("toolchain list error: %v", err)
	}
	var marked string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "*") {
			marked = line
		}
	}
	if !strings.Contains(marked, "gcc-b") {
		t.Errorf("default toolchain not marked in list:\n%s", out)
	}
	if !strings.Contains(out, "gcc-a") {
		t.Errorf("gcc-a missing from list:\n%s", out)
	}

	if _, err := ws.run(t, "toolchain", "set", "gcc-a"); err != nil {
		t.Fatal(err)
	}
	resetFlags(rootCmd)
	out, err = ws.run(t, "toolchain", "show")
	if err != nil {
		t.Fatalf("toolchain show error: %v", err)
	}
	if strings.TrimSpace(out) != "gcc-a (gcc 4.9.x)" {
		t.Errorf("toolchain show = %q, want the compiler version", out)
	}
}

func TestToolchainSetUnknown(t *testing.T) {
	ws := setupWorkspace(t)

	_, err := ws.run(t, "toolchain", "set", "gcc-z")
	if !kerrors.Is(err, kerrors.ErrInvalidSelection) {
		t.Errorf("error = %v, want ErrInvalidSelection", err)
	}
}

func TestToolchainListJSONFiltersArch(t *testing.T) {
	ws := setupWorkspace(t)
	writeFile(t, filepath.Join(ws.toolchains, "gcc-x86", "bin", "x86_64-linux-gcc"), "", 0755)

	out, err := ws.run(t, "--arch", "arm64", "toolchain", "list", "-o", "json")
	if err != nil {
		t.Fatalf("toolchain list error: %v", err)
	}
	var tcs []toolchain.Toolchain
	if err := json.Unmarshal([]byte(out), &tcs); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if diff := cmp.Diff([]string{"gcc-a", "gcc-b"}, toolchain.Names(tcs)); diff != "" {
		t.Errorf("toolchains mismatch (-want +got):\n%s", diff)
	}
	if tcs[0].Version != "4.9.x" || tcs[1].Version != "" {
		t.Errorf("versions = %q, %q; want 4.9.x and none", tcs[0].Version, tcs[1].Version)
	}
}

// =============================================================================
// Build Tests
// =============================================================================

func TestBuildWithDefaultToolchain(t *testing.T) {
	ws := setupWorkspace(t)

	store, err := db.Open(db.DefaultConfig(ws.kernel))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetSetting(context.Background(), db.KeyDefaultToolchain, "gcc-a"); err != nil {
		t.Fatal(err)
	}
	store.Close()

	out, err := ws.run(t, "build", "kernel")
	if err != nil {
		t.Fatalf("build error: %v\n%s", err, out)
	}

	if diff := cmp.Diff([]string{"defconfig", "archclean", "all"}, ws.buildTargets()); diff != "" {
		t.Errorf("build targets mismatch (-want +got):\n%s", diff)
	}
	for _, c := range ws.runner.Calls() {
		if c.Target == kbuild.TargetAll && !strings.Contains(c.Env[toolchain.EnvCrossCompile], "gcc-a") {
			t.Errorf("compile env = %v, want gcc-a", c.Env)
		}
	}

	release := "4.9.0-perf-gcc-a"
	if _, err := os.Stat(filepath.Join(ws.export, "build_logs", release+"-log.txt")); err != nil {
		t.Errorf("build log missing: %v", err)
	}
	exported := filepath.Join(ws.export, "4.9.0", release+"-Image.gz-dtb")
	if _, err := os.Stat(exported); err != nil {
		t.Errorf("kernel image not exported: %v", err)
	}
	if _, err := os.Stat(exported + ".sha256"); err != nil {
		t.Errorf("checksum not exported: %v", err)
	}
	if !strings.Contains(out, "1 succeeded, 0 failed, 0 skipped") {
		t.Errorf("summary missing from output:\n%s", out)
	}

	resetFlags(rootCmd)
	out, err = ws.run(t, "history", "-o", "json")
	if err != nil {
		t.Fatalf("history error: %v", err)
	}
	var records []db.BuildRecord
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if len(records) != 1 || records[0].Release != release || records[0].Status != "success" {
		t.Errorf("history = %+v, want one successful %s", records, release)
	}
}

func TestHistoryShowExportsAndPrune(t *testing.T) {
	ws := setupWorkspace(t)

	if out, err := ws.run(t, "-t", "gcc-a", "build", "kernel"); err != nil {
		t.Fatalf("build error: %v\n%s", err, out)
	}
	imageKey := "4.9.0/4.9.0-perf-gcc-a-Image.gz-dtb"
	logKey := "4.9.0/4.9.0-perf-gcc-a-log.txt"

	resetFlags(rootCmd)
	out, err := ws.run(t, "history", "-o", "json")
	if err != nil {
		t.Fatalf("history error: %v", err)
	}
	var records []db.BuildRecord
	if err := json.Unmarshal([]byte(out), &records); err != nil || len(records) != 1 {
		t.Fatalf("history = %s, %v; want one record", out, err)
	}

	resetFlags(rootCmd)
	out, err = ws.run(t, "history", "show", records[0].ID, "-o", "json")
	if err != nil {
		t.Fatalf("history show error: %v", err)
	}
	var rec db.BuildRecord
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	var keys []string
	for _, a := range rec.Artifacts {
		keys = append(keys, a.Key)
	}
	if diff := cmp.Diff([]string{imageKey, logKey}, keys); diff != "" {
		t.Errorf("recorded artifact keys mismatch (-want +got):\n%s", diff)
	}

	resetFlags(rootCmd)
	out, err = ws.run(t, "exports", "4.9.0/", "-o", "json")
	if err != nil {
		t.Fatalf("exports error: %v", err)
	}
	var listing exportListing
	if err := json.Unmarshal([]byte(out), &listing); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	var listed []string
	for _, o := range listing.Objects {
		listed = append(listed, o.Key)
	}
	want := []string{imageKey, imageKey + ".sha256", logKey, logKey + ".sha256"}
	if diff := cmp.Diff(want, listed); diff != "" {
		t.Errorf("exported keys mismatch (-want +got):\n%s", diff)
	}
	if listing.Type != "local" || listing.Location != ws.export {
		t.Errorf("storage = %s at %s, want local at %s", listing.Type, listing.Location, ws.export)
	}

	resetFlags(rootCmd)
	if _, err := ws.run(t, "history", "show", "no-such-id"); !kerrors.Is(err, kerrors.ErrRecordNotFound) {
		t.Errorf("history show of a missing record error = %v, want ErrRecordNotFound", err)
	}

	resetFlags(rootCmd)
	out, err = ws.run(t, "history", "prune", "--older-than=-1h")
	if err != nil {
		t.Fatalf("history prune error: %v", err)
	}
	if !strings.Contains(out, "Deleted 1 build records and 2 exported artifacts") {
		t.Errorf("unexpected prune output %q", out)
	}
	if _, err := os.Stat(filepath.Join(ws.export, "4.9.0")); !os.IsNotExist(err) {
		t.Errorf("exported artifacts left after prune: %v", err)
	}
}

func TestBuildFailureExitCode(t *testing.T) {
	ws := setupWorkspace(t)
	selectToolchains = func(tcs []toolchain.Toolchain) ([]toolchain.Toolchain, error) {
		// operator typed "2 1"
		return []toolchain.Toolchain{tcs[1], tcs[0]}, nil
	}
	ws.runner.Fail = func(inv kbuild.Invocation) error {
		if inv.Target == kbuild.TargetAll && strings.Contains(inv.Env[toolchain.EnvCrossCompile], "gcc-b") {
			return kerrors.ErrMakeFailed.WithMessage("make all exited with status 2")
		}
		return nil
	}

	out, err := ws.run(t, "build", "kernel", "--no-export")
	if !kerrors.Is(err, kerrors.ErrBuildFailed) {
		t.Fatalf("error = %v, want ErrBuildFailed", err)
	}
	if kerrors.ExitCode(err) != 1 {
		t.Errorf("exit code = %d, want 1", kerrors.ExitCode(err))
	}

	if diff := cmp.Diff([]string{"defconfig", "clean", "all", "clean", "all"}, ws.buildTargets()); diff != "" {
		t.Errorf("build targets mismatch (-want +got):\n%s", diff)
	}

	failedLog := filepath.Join(ws.export, "build_logs", "4.9.0-perf-gcc-b-log.txt")
	for _, want := range []string{"4.9.0-perf-gcc-b failed with gcc-b", failedLog, "4.9.0-perf-gcc-a built with gcc-a", "1 succeeded, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if _, err := os.Stat(failedLog); err != nil {
		t.Errorf("failed build log missing: %v", err)
	}
}

func TestBuildNoToolchains(t *testing.T) {
	ws := setupWorkspace(t)

	_, err := executeCommand("-C", ws.kernel, "--toolchains", t.TempDir(), "--log-level", "error", "build")
	if !kerrors.Is(err, kerrors.ErrNoToolchainsFound) {
		t.Errorf("error = %v, want ErrNoToolchainsFound", err)
	}
	if len(ws.runner.Calls()) != 0 {
		t.Errorf("build tool ran %v without toolchains", ws.runner.Targets())
	}
}

func TestAndroidBuildDefaultsToOTA(t *testing.T) {
	ws := setupWorkspace(t)
	otaDir := filepath.Join(ws.base, "ota")
	writeFile(t, filepath.Join(otaDir, "META-INF", "com", "google", "android", "updater-script"), "ui_print(\"kernel\");\n", 0644)
	writeFile(t, filepath.Join(ws.kernel, ".kbuilder.yaml"),
		"kernel:\n  flavor: android\nandroid:\n  ota_dir: "+otaDir+"\n", 0644)

	out, err := ws.run(t, "-t", "gcc-a", "build")
	if err != nil {
		t.Fatalf("build error: %v\n%s", err, out)
	}

	zip := filepath.Join(ws.export, "4.9.0", "4.9.0-perf-gcc-a.zip")
	if _, err := os.Stat(zip); err != nil {
		t.Errorf("OTA package not exported: %v\n%s", err, out)
	}
	// the staged package is moved, not copied
	if _, err := os.Stat(filepath.Join(ws.base, "4.9.0-perf-gcc-a.zip")); !os.IsNotExist(err) {
		t.Errorf("staged OTA package left behind: %v", err)
	}
	// the kernel image was placed in the OTA tree
	if _, err := os.Stat(filepath.Join(otaDir, "boot", "Image.gz-dtb")); err != nil {
		t.Errorf("kernel image not copied into the OTA tree: %v", err)
	}
}

func TestDefconfigCommand(t *testing.T) {
	ws := setupWorkspace(t)
	writeFile(t, filepath.Join(ws.kernel, ".kbuilder.yaml"), "kernel:\n  defconfig: msm_defconfig\n", 0644)

	if _, err := ws.run(t, "-t", "gcc-b", "build", "defconfig"); err != nil {
		t.Fatalf("defconfig error: %v", err)
	}

	calls := ws.runner.Calls()
	if len(calls) != 1 || calls[0].Target != "msm_defconfig" {
		t.Fatalf("calls = %+v, want one msm_defconfig", calls)
	}
	if !strings.Contains(calls[0].Env[toolchain.EnvCrossCompile], "gcc-b") {
		t.Errorf("defconfig env = %v, want gcc-b", calls[0].Env)
	}
}

func TestCleanCommands(t *testing.T) {
	for _, target := range []string{"clean", "archclean"} {
		t.Run(target, func(t *testing.T) {
			ws := setupWorkspace(t)
			if _, err := ws.run(t, target); err != nil {
				t.Fatalf("%s error: %v", target, err)
			}
			if diff := cmp.Diff([]string{target}, ws.runner.Targets()); diff != "" {
				t.Errorf("targets mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
