package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/minmaxflow/mini-kode/internal/config"
	"github.com/minmaxflow/mini-kode/internal/headless"
	"github.com/minmaxflow/mini-kode/internal/permission"
)

var grantsJSON bool

var grantsCmd = &cobra.Command{
	Use:   "grants",
	Short: "Manage the project's remembered grants",
	Long: `Manage the grants remembered for the working directory. They are stored in
.mini-kode/permissions.json and apply to every later run in the project.`,
}

var grantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List project grants",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		grants := permission.NewStore().ProjectGrants(workDir)
		out := cmd.OutOrStdout()
		if grantsJSON {
			if grants == nil {
				grants = []permission.Grant{}
			}
			data, err := json.MarshalIndent(grants, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		}
		if len(grants) == 0 {
			fmt.Fprintf(out, "No grants in %s\n", config.GrantsPath(workDir))
			return nil
		}
		for _, g := range grants {
			fmt.Fprintf(out, "%-40s %s\n", g.String(), g.GrantedAt.Local().Format(time.DateTime))
		}
		return nil
	},
}

var grantsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a project grant",
}

var grantsAddFsCmd = &cobra.Command{
	Use:   "fs <path|*>",
	Short: "Allow writes under a directory, or everywhere with *",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if path != "*" && !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}
		return addGrant(cmd, permission.FsGrant(filepath.Clean(path), time.Now()))
	},
}

var grantsAddBashCmd = &cobra.Command{
	Use:   "bash <command|prefix:*|*>",
	Short: "Allow an exact command, a prefix such as npm:*, or every command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addGrant(cmd, permission.BashGrant(args[0], time.Now()))
	},
}

var grantsAddMCPCmd = &cobra.Command{
	Use:   "mcp <server> [tool]",
	Short: "Allow one tool of an MCP server, or the whole server",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		toolName := ""
		if len(args) == 2 {
			toolName = args[1]
		}
		return addGrant(cmd, permission.MCPGrant(args[0], toolName, time.Now()))
	},
}

func init() {
	grantsListCmd.Flags().BoolVar(&grantsJSON, "json", false, "Print grants as JSON")

	grantsAddCmd.AddCommand(grantsAddFsCmd)
	grantsAddCmd.AddCommand(grantsAddBashCmd)
	grantsAddCmd.AddCommand(grantsAddMCPCmd)

	grantsCmd.AddCommand(grantsListCmd)
	grantsCmd.AddCommand(grantsAddCmd)
}

func addGrant(cmd *cobra.Command, g permission.Grant) error {
	if err := permission.NewStore().AddProjectGrant(cmd.Context(), workDir, g); err != nil {
		return &exitError{code: headless.ExitError, err: fmt.Errorf("failed to save grant: %w", err)}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %s to %s\n", g.String(), config.GrantsPath(workDir))
	return nil
}
