package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bitswalk/kbuilder/src/common/cli"
	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
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

// Packaging modes of a build
const (
	packageNone    = "kernel"
	packageBootImg = "bootimg"
	packageOTA     = "ota"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build the kernel with the selected toolchains",
	Long: `Builds the kernel once per selected toolchain. The default configuration
is generated once, then every toolchain gets a clean and a compile and a
log file named after its release.

Without a subcommand Linux kernels build the kernel image and Android
kernels also build the OTA package.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuild(cmd, "")
	},
}

var buildKernelCmd = &cobra.Command{
	Use:   "kernel",
	Short: "Build the kernel image only",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuild(cmd, packageNone)
	},
}

var buildOTACmd = &cobra.Command{
	Use:   "ota",
	Short: "Build the kernel and package it as a flashable OTA zip",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuild(cmd, packageOTA)
	},
}

var buildBootImgCmd = &cobra.Command{
	Use:   "bootimg",
	Short: "Build the kernel and assemble an Android boot image",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuild(cmd, packageBootImg)
	},
}

var buildDefconfigCmd = &cobra.Command{
	Use:   "defconfig",
	Short: "Generate the default kernel configuration",
	Args:  cobra.NoArgs,
	RunE:  runDefconfig,
}

func init() {
	buildCmd.AddCommand(buildKernelCmd)
	buildCmd.AddCommand(buildOTACmd)
	buildCmd.AddCommand(buildBootImgCmd)
	buildCmd.AddCommand(buildDefconfigCmd)

	pf := buildCmd.PersistentFlags()
	pf.BoolP("verbose", "v", false, "Stream build tool output to stderr")
	pf.Bool("no-export", false, "Leave artifacts in place instead of exporting them")
	pf.Bool("compress-logs", false, "Write xz compressed build logs")
	pf.Bool("skip-existing", false, "Do not replace artifacts that were already exported")
	pf.String("extra-version", "", "String appended to the kernel release")
	pf.String("ota-dir", "", "OTA template directory")
	pf.String("ramdisk", "", "Ramdisk image for boot images")

	bindBuildFlags()
}

func bindBuildFlags() {
	_ = cli.BindPersistentFlag(buildCmd, "compress-logs", "build.compress_logs")
	_ = cli.BindPersistentFlag(buildCmd, "skip-existing", "build.skip_existing")
	_ = cli.BindPersistentFlag(buildCmd, "extra-version", "kernel.extra_version")
	_ = cli.BindPersistentFlag(buildCmd, "ota-dir", "android.ota_dir")
	_ = cli.BindPersistentFlag(buildCmd, "ramdisk", "android.ramdisk")
}

// packaging returns the packaging mode for the session's flavor
func packaging(s *session, requested string) string {
	if requested != "" {
		return requested
	}
	if s.flavor == flavorAndroid {
		return packageOTA
	}
	return packageNone
}

func runBuild(cmd *cobra.Command, mode string) error {
	ctx := cmd.Context()

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	tcs, err := s.resolveToolchains(ctx)
	if err != nil {
		return err
	}

	policy, err := build.ParseCleanPolicy(viper.GetString("build.clean_policy"))
	if err != nil {
		return err
	}

	cfg := build.DefaultConfig()
	cfg.LogDir = s.logDir()
	cfg.CleanPolicy = policy
	cfg.TagToolchain = viper.GetBool("build.tag_toolchain")
	cfg.CompressLogs = viper.GetBool("build.compress_logs")
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Output = cmd.ErrOrStderr()
	}

	orch := build.NewOrchestrator(s.runner, cfg)
	if err := addSteps(cmd, s, orch, packaging(s, mode)); err != nil {
		return err
	}

	if store, err := s.openStore(); err == nil {
		orch.SetRecorder(historyRecorder{repo: db.NewBuildRecordRepository(store)})
	} else {
		log.Warn("Build history disabled", "error", err)
	}

	w := cmd.OutOrStdout()
	if getOutputFormat() == output.FormatTable {
		output.Highlight(w, "Building %s with %s", s.kernel.Name, strings.Join(toolchain.Names(tcs), ", "))
	}

	report, runErr := orch.Run(ctx, build.NewBatch(s.kernel, tcs))
	if err := printReport(cmd, report); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if err := report.Err(); err != nil {
		return kerrors.ErrBuildFailed.WithMessagef("%d of %d toolchains did not complete",
			len(report.Results)-len(report.Succeeded())+countStepFailures(report), len(report.Results))
	}
	return nil
}

// addSteps registers the packaging and export steps for mode
func addSteps(cmd *cobra.Command, s *session, orch *build.Orchestrator, mode string) error {
	switch mode {
	case packageBootImg:
		step, err := android.NewBootImage(android.BootImageConfig{
			Tool:    viper.GetString("android.mkbootimg"),
			Ramdisk: cli.GetExpandedString("android.ramdisk"),
		}, nil)
		if err != nil {
			return err
		}
		orch.AddStep(step)
	case packageOTA:
		orch.AddStep(android.NewOTA(android.OTAConfig{
			SourceDir:      cli.GetExpandedString("android.ota_dir"),
			KbuildImageDir: viper.GetString("android.kbuild_image_dir"),
		}))
	}

	noExport, _ := cmd.Flags().GetBool("no-export")
	if noExport || !viper.GetBool("build.export") {
		return nil
	}

	backend, err := storage.New(storageConfig(s))
	if err != nil {
		return err
	}
	orch.AddStep(export.NewStep(backend, export.Config{
		KeepStaged:   viper.GetBool("build.keep_staged"),
		SkipExisting: viper.GetBool("build.skip_existing"),
	}))
	if getOutputFormat() == output.FormatTable {
		output.Faint(cmd.OutOrStdout(), "Exporting to %s storage at %s", backend.Type(), backend.Location())
	}
	return nil
}

// storageConfig reads storage.*; a local backend defaults to the
// export root
func storageConfig(s *session) storage.Config {
	cfg := storage.DefaultConfig()
	cfg.Type = viper.GetString("storage.type")
	cfg.Local.BasePath = s.exportRoot()
	if p := cli.GetExpandedString("storage.local.path"); p != "" {
		cfg.Local.BasePath = p
	}
	cfg.S3 = storage.S3Config{
		Endpoint:        viper.GetString("storage.s3.endpoint"),
		Region:          viper.GetString("storage.s3.region"),
		Bucket:          viper.GetString("storage.s3.bucket"),
		Prefix:          viper.GetString("storage.s3.prefix"),
		AccessKeyID:     viper.GetString("storage.s3.access_key"),
		SecretAccessKey: viper.GetString("storage.s3.secret_key"),
		UsePathStyle:    viper.GetBool("storage.s3.path_style"),
	}
	return cfg
}

func runDefconfig(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	inv := kbuild.Invocation{
		Dir:    s.kernel.Root,
		Target: s.kernel.Defconfig,
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
		Env:    s.toolEnv(ctx),
	}

	if err := s.runner.Run(ctx, inv); err != nil {
		return err
	}
	output.Success(cmd.OutOrStdout(), "Generated %s for %s", s.kernel.Defconfig, s.kernel.Name)
	return nil
}

func countStepFailures(r *build.Report) int {
	n := 0
	for _, res := range r.Succeeded() {
		if len(res.StepErrs) > 0 {
			n++
		}
	}
	return n
}

// buildSummary is the structured form of a build report
type buildSummary struct {
	BatchID  string          `json:"batch_id" yaml:"batch_id"`
	Kernel   string          `json:"kernel" yaml:"kernel"`
	Duration string          `json:"duration" yaml:"duration"`
	Results  []resultSummary `json:"results" yaml:"results"`
}

type resultSummary struct {
	Toolchain string           `json:"toolchain" yaml:"toolchain"`
	Release   string           `json:"release,omitempty" yaml:"release,omitempty"`
	Status    string           `json:"status" yaml:"status"`
	Image     string           `json:"image,omitempty" yaml:"image,omitempty"`
	Log       string           `json:"log,omitempty" yaml:"log,omitempty"`
	Duration  string           `json:"duration" yaml:"duration"`
	Artifacts []build.Artifact `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	Errors    []string         `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func summarize(r *build.Report) buildSummary {
	sum := buildSummary{
		BatchID:  r.BatchID,
		Kernel:   r.Kernel,
		Duration: output.Duration(r.Duration),
	}
	for _, res := range r.Results {
		rs := resultSummary{
			Toolchain: res.Toolchain.Name,
			Release:   res.Release,
			Status:    string(res.Status),
			Image:     res.ImagePath,
			Log:       res.LogPath,
			Duration:  output.Duration(res.Duration),
			Artifacts: res.Artifacts,
		}
		if res.Err != nil {
			rs.Errors = append(rs.Errors, res.Err.Error())
		}
		for _, err := range res.StepErrs {
			rs.Errors = append(rs.Errors, err.Error())
		}
		sum.Results = append(sum.Results, rs)
	}
	return sum
}

// printReport lists what succeeded and what failed, with the log of
// each failed release
func printReport(cmd *cobra.Command, r *build.Report) error {
	return printResult(cmd, summarize(r), func() {
		w := cmd.OutOrStdout()
		fmt.Fprintln(w)
		for _, res := range r.Results {
			switch res.Status {
			case build.StatusSuccess:
				output.Success(w, "%s built with %s in %s", res.Release, res.Toolchain.Name, output.Duration(res.Duration))
				for _, a := range res.Artifacts {
					where := a.Path
					if a.Location != "" {
						where = a.Location
					}
					output.Faint(w, "  %s: %s (%s)", a.Kind, where, output.Size(a.Size))
				}
				for _, err := range res.StepErrs {
					output.Alert(w, "  %v", err)
				}
			case build.StatusFailed:
				output.Alert(w, "%s failed with %s", releaseOrName(res), res.Toolchain.Name)
				if res.LogPath != "" {
					output.Faint(w, "  log: %s", res.LogPath)
				}
			case build.StatusSkipped:
				output.Faint(w, "%s skipped: %v", releaseOrName(res), res.Err)
			}
		}

		fmt.Fprintln(w)
		line := fmt.Sprintf("%d succeeded, %d failed, %d skipped in %s",
			len(r.Succeeded()), len(r.Failed()), len(r.Skipped()), output.Duration(r.Duration))
		if len(r.Failed())+len(r.Skipped()) > 0 {
			output.Alert(w, "%s", line)
		} else {
			output.Success(w, "%s", line)
		}
	})
}

func releaseOrName(res build.Result) string {
	if res.Release != "" {
		return res.Release
	}
	return res.Toolchain.Name
}

// historyRecorder stores toolchain results in the build history
type historyRecorder struct {
	repo *db.BuildRecordRepository
}

// Record implements build.Recorder
func (h historyRecorder) Record(ctx context.Context, batchID string, k *kernel.Descriptor, res build.Result) error {
	rec := &db.BuildRecord{
		BatchID:    batchID,
		Kernel:     k.Name,
		KernelRoot: k.Root,
		Toolchain:  res.Toolchain.Name,
		Release:    res.Release,
		Status:     string(res.Status),
		ImagePath:  res.ImagePath,
		LogPath:    res.LogPath,
		Duration:   res.Duration,
	}
	for _, a := range res.Artifacts {
		rec.Artifacts = append(rec.Artifacts, db.ArtifactRecord{
			Kind:     string(a.Kind),
			Path:     a.Path,
			Key:      a.Key,
			Location: a.Location,
			Size:     a.Size,
			Checksum: a.Checksum,
		})
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if !res.StartedAt.IsZero() {
		started := res.StartedAt.UTC()
		rec.StartedAt = &started
	}
	return h.repo.Create(ctx, rec)
}
