package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/minmaxflow/mini-kode/internal/tool"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List available tools and MCP server status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := tool.DefaultRegistry()
		client := connectMCP(cmd.Context(), appConfig.MCP, registry)
		defer client.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TOOL\tKIND")
		for _, t := range registry.List() {
			kind := "mutating"
			if t.Readonly() {
				kind = "readonly"
			}
			fmt.Fprintf(w, "%s\t%s\n", t.Name(), kind)
		}

		if status := client.Status(); len(status) > 0 {
			fmt.Fprintln(w, "\nMCP SERVER\tSTATUS\tTOOLS\tERROR")
			for _, s := range status {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.Name, s.Status, s.ToolCount, s.Error)
			}
		}
		return w.Flush()
	},
}
