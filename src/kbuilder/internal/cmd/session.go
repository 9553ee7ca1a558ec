package cmd

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/bitswalk/kbuilder/src/common/cli"
	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
	"github.com/bitswalk/kbuilder/src/common/paths"
	"github.com/bitswalk/kbuilder/src/kbuilder/db"
	"github.com/bitswalk/kbuilder/src/kbuilder/kbuild"
	"github.com/bitswalk/kbuilder/src/kbuilder/kernel"
	"github.com/bitswalk/kbuilder/src/kbuilder/toolchain"
)

// Kernel flavors
const (
	flavorLinux   = "linux"
	flavorAndroid = "android"
)

// newRunner builds the build tool runner; tests replace it
var newRunner = func(cfg kbuild.Config) (kbuild.Runner, error) {
	return kbuild.New(cfg, nil)
}

// selectToolchains asks the operator to choose; tests replace it
var selectToolchains = toolchain.SelectInteractive

// session is the kernel tree a command operates on
type session struct {
	kernel *kernel.Descriptor
	runner kbuild.Runner
	flavor string

	store *db.Database
}

// newSession locates the kernel root, merges its .kbuilder.yaml and
// builds the descriptor and runner from the resulting configuration
func newSession() (*session, error) {
	root, err := paths.Resolve(cli.GetExpandedString("kernel.root"))
	if err != nil {
		return nil, kerrors.ErrRootNotFound.WithCause(err)
	}
	root, err = kernel.FindRoot(root)
	if err != nil {
		return nil, err
	}

	merged, err := cli.MergeKernelConfig(root)
	if err != nil {
		return nil, kerrors.ErrInvalidConfig.WithCause(err)
	}
	if merged {
		log.Debug("Merged kernel configuration", "file", filepath.Join(root, cli.KernelConfigName))
	}

	d := kernel.NewDescriptor(root)
	if s := viper.GetString("kernel.arch"); s != "" {
		if d.Arch, err = kernel.ParseArch(s); err != nil {
			return nil, err
		}
	}
	if s := viper.GetString("kernel.defconfig"); s != "" {
		d.Defconfig = s
	}
	d.ExtraVersion = viper.GetString("kernel.extra_version")
	switch base := kernel.ReleaseBase(viper.GetString("kernel.release_base")); base {
	case kernel.ReleaseBaseRelease, kernel.ReleaseBaseLocal:
		d.ReleaseBase = base
	default:
		return nil, kerrors.ErrInvalidConfig.WithMessagef("unknown kernel.release_base %q (want release or local)", base)
	}

	flavor := strings.ToLower(viper.GetString("kernel.flavor"))
	if flavor != flavorLinux && flavor != flavorAndroid {
		return nil, kerrors.ErrInvalidConfig.WithMessagef("unknown kernel.flavor %q (want linux or android)", flavor)
	}

	runner, err := newRunner(kbuild.Config{
		Command: viper.GetString("make.command"),
		Jobs:    viper.GetInt("make.jobs"),
		Timeout: viper.GetDuration("build.timeout"),
	})
	if err != nil {
		return nil, err
	}

	log.Debug("Using kernel tree", "root", root, "arch", d.Arch, "flavor", flavor)
	return &session{kernel: d, runner: runner, flavor: flavor}, nil
}

// Close releases the store when it was opened
func (s *session) Close() error {
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}

// openStore opens the settings and history store on first use
func (s *session) openStore() (*db.Database, error) {
	if s.store != nil {
		return s.store, nil
	}
	cfg := db.DefaultConfig(s.kernel.Root)
	if p := cli.GetExpandedString("store.path"); p != "" {
		cfg.Path = p
	}
	store, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}
	s.store = store
	return store, nil
}

// exportRoot is where logs and artifacts go: paths.export, else
// <kernel>/../export
func (s *session) exportRoot() string {
	if p := cli.GetExpandedString("paths.export"); p != "" {
		return p
	}
	return filepath.Join(filepath.Dir(s.kernel.Root), "export")
}

// logDir is paths.logs, else <export root>/build_logs
func (s *session) logDir() string {
	if p := cli.GetExpandedString("paths.logs"); p != "" {
		return p
	}
	return filepath.Join(s.exportRoot(), "build_logs")
}

// toolchainDir is paths.toolchains, else <kernel>/../toolchains
func (s *session) toolchainDir() string {
	if p := cli.GetExpandedString("paths.toolchains"); p != "" {
		return p
	}
	return filepath.Join(filepath.Dir(s.kernel.Root), "toolchains")
}

// scanToolchains lists the toolchains matching the kernel's architecture
func (s *session) scanToolchains() ([]toolchain.Toolchain, error) {
	dir := s.toolchainDir()
	tcs, err := toolchain.Scan(dir, s.kernel.Arch)
	if err != nil {
		return nil, err
	}
	if len(tcs) == 0 {
		arch := string(s.kernel.Arch)
		if arch == "" {
			arch = "any"
		}
		return nil, kerrors.ErrNoToolchainsFound.WithMessagef("no %s toolchains in %s", arch, dir)
	}
	return tcs, nil
}

// defaultToolchain returns the stored default toolchain name. A missing
// or unreadable store means there is none.
func (s *session) defaultToolchain(ctx context.Context) string {
	store, err := s.openStore()
	if err != nil {
		log.Debug("Settings store unavailable", "error", err)
		return ""
	}
	name, err := store.GetSetting(ctx, db.KeyDefaultToolchain)
	if err != nil {
		if !kerrors.Is(err, kerrors.ErrSettingNotFound) {
			log.Debug("Could not read default toolchain", "error", err)
		}
		return ""
	}
	return name
}

// resolveToolchains picks the batch: --toolchain, else the stored
// default, else the operator's selection
func (s *session) resolveToolchains(ctx context.Context) ([]toolchain.Toolchain, error) {
	tcs, err := s.scanToolchains()
	if err != nil {
		return nil, err
	}

	if toolchainName != "" {
		tc, ok := toolchain.FindByName(tcs, toolchainName)
		if !ok {
			return nil, kerrors.ErrInvalidSelection.WithMessagef("toolchain %q not found in %s (have: %s)",
				toolchainName, s.toolchainDir(), strings.Join(toolchain.Names(tcs), ", "))
		}
		return s.adopt([]toolchain.Toolchain{tc}), nil
	}

	if name := s.defaultToolchain(ctx); name != "" {
		if tc, ok := toolchain.FindByName(tcs, name); ok {
			log.Debug("Using default toolchain", "toolchain", name)
			return s.adopt([]toolchain.Toolchain{tc}), nil
		}
		log.Warn("Default toolchain no longer available", "toolchain", name)
	}

	selected, err := selectToolchains(tcs)
	if err != nil {
		return nil, err
	}
	return s.adopt(selected), nil
}

// adopt sets the kernel architecture from the batch when none was given
func (s *session) adopt(tcs []toolchain.Toolchain) []toolchain.Toolchain {
	if s.kernel.Arch == "" && len(tcs) > 0 {
		s.kernel.Arch = tcs[0].TargetArch
	}
	return tcs
}

// activeToolchain picks a toolchain without prompting: --toolchain, the
// stored default, or the only one available
func (s *session) activeToolchain(ctx context.Context) (toolchain.Toolchain, bool) {
	tcs, err := toolchain.Scan(s.toolchainDir(), s.kernel.Arch)
	if err != nil || len(tcs) == 0 {
		return toolchain.Toolchain{}, false
	}

	for _, name := range []string{toolchainName, s.defaultToolchain(ctx)} {
		if name == "" {
			continue
		}
		if tc, ok := toolchain.FindByName(tcs, name); ok {
			s.adopt([]toolchain.Toolchain{tc})
			return tc, true
		}
	}
	if len(tcs) == 1 {
		s.adopt(tcs)
		return tcs[0], true
	}
	return toolchain.Toolchain{}, false
}

// toolEnv returns the build tool environment for single invocations
// outside a batch: the active toolchain's, or ARCH alone without one
func (s *session) toolEnv(ctx context.Context) map[string]string {
	if tc, ok := s.activeToolchain(ctx); ok {
		return tc.EnvVars(s.kernel.Arch)
	}
	return s.kernel.Env()
}
