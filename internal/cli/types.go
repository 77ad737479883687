package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type typesOptions struct {
	file string
	json bool
}

// NewTypesCommand prints the routed document types, checking the registry
// file when one is given.
func NewTypesCommand(root *RootOptions) *cobra.Command {
	opts := &typesOptions{}

	cmd := &cobra.Command{
		Use:   "types",
		Short: "List the document types the server routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if opts.file != "" {
				cfg.Documents.TypesFile = opts.file
			}

			reg, err := cfg.DocumentTypes()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.json {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(reg.All())
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tHISTORIZED\tREQUIRE IF-MATCH")
			for _, t := range reg.All() {
				fmt.Fprintf(w, "%s\t%t\t%t\n", t.Name, t.Historized, t.RequirePrecondition)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "document types YAML file (default DOCUMENT_TYPES_FILE)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print as JSON")

	return cmd
}
