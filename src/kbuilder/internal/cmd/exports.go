package cmd

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/bitswalk/kbuilder/src/kbuilder/internal/output"
	"github.com/bitswalk/kbuilder/src/kbuilder/storage"
)

var exportsCmd = &cobra.Command{
	Use:   "exports [prefix]",
	Short: "List exported artifacts",
	Long: `Lists the objects in the export storage, optionally only those whose key
starts with prefix, e.g. a kernel version such as 4.9.112.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExports,
}

// exportListing is the structured form of exports
type exportListing struct {
	Type     string               `json:"type" yaml:"type"`
	Location string               `json:"location" yaml:"location"`
	Objects  []storage.ObjectInfo `json:"objects" yaml:"objects"`
}

func runExports(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	backend, err := storage.New(storageConfig(s))
	if err != nil {
		return err
	}

	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}
	objects, err := backend.List(cmd.Context(), prefix)
	if err != nil {
		return err
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	listing := exportListing{
		Type:     backend.Type(),
		Location: backend.Location(),
		Objects:  objects,
	}
	return printResult(cmd, listing, func() {
		w := cmd.OutOrStdout()
		output.Faint(w, "%s storage at %s", listing.Type, listing.Location)
		if len(objects) == 0 {
			output.PrintMessage(w, "Nothing exported.")
			return
		}
		rows := make([][]string, len(objects))
		for i, o := range objects {
			rows[i] = []string{o.Key, output.Size(o.Size), output.Ago(o.LastModified)}
		}
		output.PrintTable(w, []string{"KEY", "SIZE", "MODIFIED"}, rows)
	})
}
