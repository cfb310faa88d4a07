package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/docsim/docsim-client/internal/api"
	"github.com/docsim/docsim-client/internal/models"
)

// newMethodsCmd creates the 'methods' command.
func newMethodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List extraction methods and their options",
		Long: `List every extraction method with the options it requires and accepts.

Options are passed to 'docsim submit' with --param key=value or --params-file.
Boolean options accept true/false.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printMethods(cmd.OutOrStdout())
		},
	}
}

func printMethods(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METHOD\tREQUIRED\tOPTIONAL")
	for _, m := range models.AllMethods() {
		spec, _ := api.LookupMethod(m)
		fmt.Fprintf(w, "%s\t%s\t%s\n", m, optionList(spec.Required), optionList(spec.Optional))
	}
	return w.Flush()
}

func optionList(opts []string) string {
	if len(opts) == 0 {
		return "-"
	}
	out := make([]string, len(opts))
	for i, o := range opts {
		if api.IsBooleanOption(o) {
			o += "=bool"
		}
		out[i] = o
	}
	return strings.Join(out, ", ")
}

// parseMethodFlag validates a --method value.
func parseMethodFlag(value string) (models.ExtractionMethod, error) {
	if value == "" {
		return "", fmt.Errorf("--method is required (see 'docsim methods')")
	}
	return models.ParseMethod(value)
}
