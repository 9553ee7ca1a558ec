package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/bitswalk/kbuilder/src/common/cli"
	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
	"github.com/bitswalk/kbuilder/src/kbuilder/db"
	"github.com/bitswalk/kbuilder/src/kbuilder/export"
	"github.com/bitswalk/kbuilder/src/kbuilder/internal/output"
	"github.com/bitswalk/kbuilder/src/kbuilder/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past builds of this kernel",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyBatchCmd = &cobra.Command{
	Use:   "batch <batch-id>",
	Short: "Show the toolchain results of one build batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryBatch,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <record-id>",
	Short: "Show one build record and its artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old build records and their exported artifacts",
	Args:  cobra.NoArgs,
	RunE:  runHistoryPrune,
}

func init() {
	historyCmd.AddCommand(historyBatchCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPruneCmd)

	historyCmd.Flags().Int("limit", 20, "Maximum number of records (0 = all)")
	bindHistoryFlags()
	historyCmd.Flags().Bool("all", false, "Include every kernel recorded in the store")
	historyPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "Delete records older than this")
	historyPruneCmd.Flags().Bool("keep-exports", false, "Keep the exported artifacts of pruned records")
}

func bindHistoryFlags() {
	_ = cli.BindFlag(historyCmd, "limit", "history.limit")
}

func openHistory() (*session, *db.BuildRecordRepository, error) {
	s, err := newSession()
	if err != nil {
		return nil, nil, err
	}
	store, err := s.openStore()
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, db.NewBuildRecordRepository(store), nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	s, repo, err := openHistory()
	if err != nil {
		return err
	}
	defer s.Close()

	limit := viper.GetInt("history.limit")
	kernelName := s.kernel.Name
	if all, _ := cmd.Flags().GetBool("all"); all {
		kernelName = ""
	}

	records, err := repo.List(cmd.Context(), kernelName, limit)
	if err != nil {
		return err
	}
	return printRecords(cmd, records)
}

func runHistoryBatch(cmd *cobra.Command, args []string) error {
	s, repo, err := openHistory()
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := repo.ListByBatch(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printRecords(cmd, records)
}

func printRecords(cmd *cobra.Command, records []db.BuildRecord) error {
	return printResult(cmd, records, func() {
		w := cmd.OutOrStdout()
		if len(records) == 0 {
			output.PrintMessage(w, "No builds recorded.")
			return
		}
		rows := make([][]string, len(records))
		for i, r := range records {
			rows[i] = []string{
				output.Ago(r.CreatedAt),
				r.Kernel,
				r.Toolchain,
				orDash(r.Release),
				r.Status,
				output.Duration(r.Duration),
				orDash(r.LogPath),
			}
		}
		output.PrintTable(w, []string{"WHEN", "KERNEL", "TOOLCHAIN", "RELEASE", "STATUS", "DURATION", "LOG"}, rows)
	})
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	s, repo, err := openHistory()
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := repo.GetByID(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if rec == nil {
		return kerrors.ErrRecordNotFound.WithMessagef("no build record %s", args[0])
	}

	return printResult(cmd, rec, func() {
		w := cmd.OutOrStdout()
		output.PrintTable(w, []string{"FIELD", "VALUE"}, [][]string{
			{"ID", rec.ID},
			{"Batch", rec.BatchID},
			{"Kernel", rec.Kernel},
			{"Toolchain", rec.Toolchain},
			{"Release", orDash(rec.Release)},
			{"Status", rec.Status},
			{"Duration", output.Duration(rec.Duration)},
			{"Log", orDash(rec.LogPath)},
			{"Error", orDash(rec.Error)},
		})
		if len(rec.Artifacts) == 0 {
			return
		}
		fmt.Fprintln(w)
		rows := make([][]string, len(rec.Artifacts))
		for i, a := range rec.Artifacts {
			rows[i] = []string{a.Kind, a.Path, orDash(a.Location), output.Size(a.Size)}
		}
		output.PrintTable(w, []string{"KIND", "PATH", "EXPORTED", "SIZE"}, rows)
	})
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, repo, err := openHistory()
	if err != nil {
		return err
	}
	defer s.Close()

	age, _ := cmd.Flags().GetDuration("older-than")
	before := time.Now().Add(-age)

	removed := 0
	if keep, _ := cmd.Flags().GetBool("keep-exports"); !keep {
		exported, err := repo.ListExportedBefore(ctx, before)
		if err != nil {
			return err
		}
		if len(exported) > 0 {
			backend, err := storage.New(storageConfig(s))
			if err != nil {
				return err
			}
			var errs error
			for _, a := range exported {
				if err := export.Remove(ctx, backend, a.Key); err != nil {
					errs = multierr.Append(errs, err)
					continue
				}
				removed++
			}
			// records stay so a later prune can retry the failed deletions
			if errs != nil {
				return errs
			}
		}
	}

	n, err := repo.DeleteBefore(ctx, before)
	if err != nil {
		return err
	}
	output.PrintMessage(cmd.OutOrStdout(), fmt.Sprintf("Deleted %d build records and %d exported artifacts.", n, removed))
	return nil
}
