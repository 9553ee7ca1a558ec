package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
	"github.com/bitswalk/kbuilder/src/kbuilder/db"
	"github.com/bitswalk/kbuilder/src/kbuilder/internal/output"
	"github.com/bitswalk/kbuilder/src/kbuilder/toolchain"
)

var toolchainCmd = &cobra.Command{
	Use:     "toolchain",
	Aliases: []string{"gcc", "tc"},
	Short:   "Manage toolchains",
	Args:    cobra.NoArgs,
	RunE:    runToolchainShow,
}

var toolchainListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the available toolchains",
	Args:    cobra.NoArgs,
	RunE:    runToolchainList,
}

var toolchainShowCmd = &cobra.Command{
	Use:     "show",
	Aliases: []string{"view"},
	Short:   "Show the default toolchain",
	Args:    cobra.NoArgs,
	RunE:    runToolchainShow,
}

var toolchainSetCmd = &cobra.Command{
	Use:   "set [name]",
	Short: "Set the default toolchain (prompts when no name is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runToolchainSet,
}

var toolchainUnsetCmd = &cobra.Command{
	Use:   "unset",
	Short: "Forget the default toolchain",
	Args:  cobra.NoArgs,
	RunE:  runToolchainUnset,
}

func init() {
	toolchainCmd.AddCommand(toolchainListCmd)
	toolchainCmd.AddCommand(toolchainShowCmd)
	toolchainCmd.AddCommand(toolchainSetCmd)
	toolchainCmd.AddCommand(toolchainUnsetCmd)

	toolchainListCmd.Flags().Bool("all", false, "List toolchains for every architecture")
}

func runToolchainList(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	arch := s.kernel.Arch
	if all, _ := cmd.Flags().GetBool("all"); all {
		arch = ""
	}
	tcs, err := toolchain.Scan(s.toolchainDir(), arch)
	if err != nil {
		return err
	}
	def := s.defaultToolchain(cmd.Context())
	toolchain.DetectVersions(cmd.Context(), tcs)

	return printResult(cmd, tcs, func() {
		w := cmd.OutOrStdout()
		if len(tcs) == 0 {
			output.PrintMessage(w, fmt.Sprintf("No toolchains found in %s.", s.toolchainDir()))
			return
		}
		rows := make([][]string, len(tcs))
		for i, tc := range tcs {
			mark := ""
			if tc.Name == def {
				mark = "*"
			}
			rows[i] = []string{mark, tc.Name, string(tc.TargetArch), orDash(tc.Version), tc.Compiler()}
		}
		output.PrintTable(w, []string{"", "NAME", "ARCH", "VERSION", "COMPILER"}, rows)
	})
}

func runToolchainShow(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	name := s.defaultToolchain(ctx)

	version := ""
	if name != "" {
		if tcs, err := toolchain.Scan(s.toolchainDir(), ""); err == nil {
			if tc, ok := toolchain.FindByName(tcs, name); ok {
				version, _ = tc.CompilerVersion(ctx)
			}
		}
	}

	data := map[string]string{db.KeyDefaultToolchain: name}
	if version != "" {
		data["version"] = version
	}
	return printResult(cmd, data, func() {
		w := cmd.OutOrStdout()
		if name == "" {
			output.PrintMessage(w, "No default toolchain set.")
			return
		}
		if version != "" {
			output.PrintMessage(w, fmt.Sprintf("%s (gcc %s)", name, version))
			return
		}
		output.PrintMessage(w, name)
	})
}

func runToolchainSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	tcs, err := s.scanToolchains()
	if err != nil {
		return err
	}

	var tc toolchain.Toolchain
	if len(args) == 1 {
		var ok bool
		if tc, ok = toolchain.FindByName(tcs, args[0]); !ok {
			return kerrors.ErrInvalidSelection.WithMessagef("toolchain %q not found in %s", args[0], s.toolchainDir())
		}
	} else {
		selected, err := selectToolchains(tcs)
		if err != nil {
			return err
		}
		if len(selected) != 1 {
			return kerrors.ErrInvalidSelection.WithMessage("select exactly one toolchain")
		}
		tc = selected[0]
	}

	store, err := s.openStore()
	if err != nil {
		return err
	}
	if err := store.SetSetting(ctx, db.KeyDefaultToolchain, tc.Name); err != nil {
		return err
	}

	output.Success(cmd.OutOrStdout(), "Default toolchain set to %s", tc.Name)
	return nil
}

func runToolchainUnset(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	store, err := s.openStore()
	if err != nil {
		return err
	}
	if err := store.DeleteSetting(cmd.Context(), db.KeyDefaultToolchain); err != nil {
		return err
	}
	output.PrintMessage(cmd.OutOrStdout(), "Default toolchain cleared.")
	return nil
}
