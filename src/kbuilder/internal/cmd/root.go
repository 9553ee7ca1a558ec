// Package cmd is the kbuilder command tree.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bitswalk/kbuilder/src/common/cli"
	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
	"github.com/bitswalk/kbuilder/src/common/logs"
	"github.com/bitswalk/kbuilder/src/common/version"
	"github.com/bitswalk/kbuilder/src/kbuilder/android"
	"github.com/bitswalk/kbuilder/src/kbuilder/build"
	"github.com/bitswalk/kbuilder/src/kbuilder/db"
	"github.com/bitswalk/kbuilder/src/kbuilder/export"
	"github.com/bitswalk/kbuilder/src/kbuilder/internal/output"
	"github.com/bitswalk/kbuilder/src/kbuilder/kbuild"
	"github.com/bitswalk/kbuilder/src/kbuilder/kernel"
	"github.com/bitswalk/kbuilder/src/kbuilder/storage"
	"github.com/bitswalk/kbuilder/src/kbuilder/toolchain"
)

var (
	// VersionInfo holds version information - set at build time via ldflags
	VersionInfo = version.New()

	// Global logger instance
	log = logs.NewDefault()

	// Configuration file path
	cfgFile string

	// Output format (table, json or yaml)
	outputFormat string

	// Toolchain requested with --toolchain
	toolchainName string
)

// Linker variables - set via ldflags at build time
var (
	Version        = "dev"
	ReleaseVersion = "0.0.0"
	BuildDate      = "unknown"
	GitCommit      = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "kbuilder",
	Short: "Cross-compile Linux kernels",
	Long: `kbuilder cross-compiles a Linux kernel source tree with one or more
toolchains, writes a build log per toolchain and, for Android kernels,
packages the result into a boot image or a flashable OTA zip.

Run it from anywhere inside a kernel tree, or point it at one with -C.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command and exits with its status
func Execute() {
	VersionInfo.Version = Version
	VersionInfo.ReleaseVersion = ReleaseVersion
	VersionInfo.BuildDate = BuildDate
	VersionInfo.GitCommit = GitCommit

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		output.PrintError(os.Stderr, err)
	}
	stop()
	os.Exit(kerrors.ExitCode(err))
}

func init() {
	cli.RegisterConfigFlag(rootCmd, &cfgFile, "~/.config/kbuilder/kbuilder.yaml")

	pf := rootCmd.PersistentFlags()
	pf.StringP("kernel", "C", "", "Kernel source directory (default: search upward from the working directory)")
	pf.IntP("jobs", "j", kbuild.DefaultConfig().Jobs, "Number of build tool jobs")
	pf.String("toolchains", "", "Directory holding the toolchains (default: <kernel>/../toolchains)")
	pf.StringVarP(&toolchainName, "toolchain", "t", "", "Toolchain to build with (default: stored default, else prompt)")
	pf.String("arch", "", "Target architecture (arm, arm64, x86)")
	pf.String("clean", "auto", "Clean policy before each compile: auto, full, arch, none")
	pf.Duration("timeout", 0, "Time a build tool invocation may run before it is stopped (0 = no limit)")
	pf.String("export", "", "Export directory for produced artifacts")
	pf.StringVarP(&outputFormat, "output", "o", output.FormatTable, "Output format: table, json, yaml")

	cli.RegisterLogFlags(rootCmd)

	bindFlags()
	setDefaults()

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(archCleanCmd)
	rootCmd.AddCommand(linuxVersionCmd)
	rootCmd.AddCommand(releaseVersionCmd)
	rootCmd.AddCommand(localVersionCmd)
	rootCmd.AddCommand(kernelCmd)
	rootCmd.AddCommand(toolchainCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(exportsCmd)

	_ = rootCmd.RegisterFlagCompletionFunc("output", completionFixed(output.FormatTable, output.FormatJSON, output.FormatYAML))
	_ = rootCmd.RegisterFlagCompletionFunc("clean", completionFixed(
		string(build.CleanAuto), string(build.CleanFull), string(build.CleanArch), string(build.CleanNone)))
	_ = rootCmd.RegisterFlagCompletionFunc("arch", completionArchs)
}

func bindFlags() {
	_ = cli.BindPersistentFlag(rootCmd, "kernel", "kernel.root")
	_ = cli.BindPersistentFlag(rootCmd, "arch", "kernel.arch")
	_ = cli.BindPersistentFlag(rootCmd, "jobs", "make.jobs")
	_ = cli.BindPersistentFlag(rootCmd, "toolchains", "paths.toolchains")
	_ = cli.BindPersistentFlag(rootCmd, "export", "paths.export")
	_ = cli.BindPersistentFlag(rootCmd, "clean", "build.clean_policy")
	_ = cli.BindPersistentFlag(rootCmd, "timeout", "build.timeout")
	_ = cli.BindPersistentFlag(rootCmd, "log-output", "log.output")
	_ = cli.BindPersistentFlag(rootCmd, "log-level", "log.level")
}

func setDefaults() {
	viper.SetDefault("kernel.defconfig", kernel.DefaultDefconfig)
	viper.SetDefault("kernel.flavor", flavorLinux)
	viper.SetDefault("kernel.release_base", string(kernel.ReleaseBaseRelease))
	viper.SetDefault("paths.logs", "")
	viper.SetDefault("make.command", kbuild.DefaultConfig().Command)
	viper.SetDefault("make.jobs", kbuild.DefaultConfig().Jobs)
	viper.SetDefault("build.clean_policy", string(build.CleanAuto))
	viper.SetDefault("build.tag_toolchain", true)
	viper.SetDefault("build.skip_existing", false)
	viper.SetDefault("history.limit", 20)
	viper.SetDefault("build.compress_logs", false)
	viper.SetDefault("build.keep_staged", false)
	viper.SetDefault("build.export", true)
	viper.SetDefault("android.mkbootimg", android.DefaultBootImageConfig().Tool)
	viper.SetDefault("android.ramdisk", android.DefaultBootImageConfig().Ramdisk)
	viper.SetDefault("android.kbuild_image_dir", android.DefaultKbuildImageDir)
	viper.SetDefault("storage.type", storage.TypeLocal)
	viper.SetDefault("storage.s3.region", "us-east-1")
	viper.SetDefault("storage.s3.path_style", true)
	viper.SetDefault("log.output", string(logs.OutputStderr))
	viper.SetDefault("log.level", "info")
}

// initConfig reads the user configuration and wires the package loggers
func initConfig() error {
	opts := cli.DefaultConfigOptions("kbuilder", "KBUILDER")
	opts.ConfigFile = cfgFile

	if err := cli.InitConfig(opts); err != nil {
		return kerrors.ErrInvalidConfig.WithCause(err)
	}
	if !output.ValidFormat(outputFormat) {
		return kerrors.ErrInvalidConfig.WithMessagef("unknown output format %q (want table, json or yaml)", outputFormat)
	}

	setLogger(cli.InitLogger("kbuilder"))
	return nil
}

func setLogger(l *logs.Logger) {
	log = l
	kernel.SetLogger(l)
	toolchain.SetLogger(l)
	kbuild.SetLogger(l)
	build.SetLogger(l)
	android.SetLogger(l)
	export.SetLogger(l)
	db.SetLogger(l)
}

// getOutputFormat returns the current output format
func getOutputFormat() string {
	return outputFormat
}

func completionFixed(values ...string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return values, cobra.ShellCompDirectiveNoFileComp
	}
}

func completionArchs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var archs []string
	for _, a := range kernel.KnownArchs() {
		archs = append(archs, string(a))
	}
	return archs, cobra.ShellCompDirectiveNoFileComp
}

// printResult writes data as JSON/YAML when requested; otherwise runs table
func printResult(cmd *cobra.Command, data interface{}, table func()) error {
	handled, err := output.Print(cmd.OutOrStdout(), getOutputFormat(), data)
	if handled || err != nil {
		return err
	}
	table()
	return nil
}
