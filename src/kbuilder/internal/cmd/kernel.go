package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bitswalk/kbuilder/src/kbuilder/internal/output"
	"github.com/bitswalk/kbuilder/src/kbuilder/kbuild"
	"github.com/bitswalk/kbuilder/src/kbuilder/kernel"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove build files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCleanTarget(cmd, kbuild.TargetClean)
	},
}

var archCleanCmd = &cobra.Command{
	Use:   "archclean",
	Short: "Remove build files in the arch directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCleanTarget(cmd, kbuild.TargetArchClean)
	},
}

var linuxVersionCmd = &cobra.Command{
	Use:     "linuxversion",
	Aliases: []string{"linux-version"},
	Short:   "Print the kernel Linux version",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVersionQuery(cmd, func(v kernel.Version) string { return v.Linux })
	},
}

var releaseVersionCmd = &cobra.Command{
	Use:     "releaseversion",
	Aliases: []string{"release"},
	Short:   "Print the kernel release version",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVersionQuery(cmd, func(v kernel.Version) string { return v.Release })
	},
}

var localVersionCmd = &cobra.Command{
	Use:     "localversion",
	Aliases: []string{"local"},
	Short:   "Print the kernel local version",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVersionQuery(cmd, func(v kernel.Version) string { return v.Local })
	},
}

var kernelCmd = &cobra.Command{
	Use:   "kernel",
	Short: "Inspect the kernel tree",
}

var kernelInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the kernel root, versions and image path",
	Args:  cobra.NoArgs,
	RunE:  runKernelInfo,
}

func init() {
	kernelCmd.AddCommand(kernelInfoCmd)
}

func runCleanTarget(cmd *cobra.Command, target string) error {
	ctx := cmd.Context()

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	inv := kbuild.Invocation{
		Dir:    s.kernel.Root,
		Target: target,
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
		Env:    s.toolEnv(ctx),
	}

	log.Info("Cleaning kernel tree", "kernel", s.kernel.Name, "target", target)
	if err := s.runner.Run(ctx, inv); err != nil {
		return err
	}
	output.Success(cmd.OutOrStdout(), "%s: %s done", s.kernel.Name, target)
	return nil
}

func runVersionQuery(cmd *cobra.Command, field func(kernel.Version) string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	v, err := s.kernel.Resolve(cmd.Context(), s.runner, s.toolEnv(cmd.Context()))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), field(v))
	return nil
}

// kernelInfo is the structured form of kernel info
type kernelInfo struct {
	Name          string         `json:"name" yaml:"name"`
	Root          string         `json:"root" yaml:"root"`
	Arch          string         `json:"arch,omitempty" yaml:"arch,omitempty"`
	Flavor        string         `json:"flavor" yaml:"flavor"`
	Defconfig     string         `json:"defconfig" yaml:"defconfig"`
	Version       kernel.Version `json:"version" yaml:"version"`
	CustomRelease string         `json:"custom_release" yaml:"custom_release"`
	KbuildImage   string         `json:"kbuild_image,omitempty" yaml:"kbuild_image,omitempty"`
	Toolchains    string         `json:"toolchains_dir" yaml:"toolchains_dir"`
	Export        string         `json:"export_dir" yaml:"export_dir"`
	Logs          string         `json:"logs_dir" yaml:"logs_dir"`
}

func runKernelInfo(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	v, err := s.kernel.Resolve(cmd.Context(), s.runner, s.toolEnv(cmd.Context()))
	if err != nil {
		return err
	}

	info := kernelInfo{
		Name:          s.kernel.Name,
		Root:          s.kernel.Root,
		Arch:          string(s.kernel.Arch),
		Flavor:        s.flavor,
		Defconfig:     s.kernel.Defconfig,
		Version:       v,
		CustomRelease: s.kernel.CustomRelease(),
		Toolchains:    s.toolchainDir(),
		Export:        s.exportRoot(),
		Logs:          s.logDir(),
	}
	if s.kernel.Arch != "" {
		if image, err := s.kernel.KbuildImagePath(s.kernel.Arch); err == nil {
			info.KbuildImage = image
		}
	}

	return printResult(cmd, info, func() {
		output.PrintTable(cmd.OutOrStdout(),
			[]string{"FIELD", "VALUE"},
			[][]string{
				{"Name", info.Name},
				{"Root", info.Root},
				{"Arch", orDash(info.Arch)},
				{"Flavor", info.Flavor},
				{"Defconfig", info.Defconfig},
				{"Linux version", v.Linux},
				{"Release version", v.Release},
				{"Local version", orDash(v.Local)},
				{"Custom release", info.CustomRelease},
				{"Kbuild image", orDash(info.KbuildImage)},
				{"Toolchains", info.Toolchains},
				{"Export", info.Export},
				{"Logs", info.Logs},
			},
		)
	})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
