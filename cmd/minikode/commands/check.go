package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/minmaxflow/mini-kode/internal/headless"
	"github.com/minmaxflow/mini-kode/internal/permission"
)

var (
	checkMode string
	checkJSON bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Show what the permission policy decides",
	Long: `Show what the permission policy decides for a path, command or MCP tool,
using the project grants of the working directory. Exits 3 when approval
would be required.`,
}

var checkFsCmd = &cobra.Command{
	Use:   "fs <path>",
	Short: "Check a file write",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, func(r *permission.Resolver, mode permission.ApprovalMode) checkReport {
			return checkReport{Kind: permission.KindFs, Target: args[0], Verdict: r.CheckFs(workDir, args[0], mode)}
		})
	},
}

var checkBashCmd = &cobra.Command{
	Use:   "bash <command>",
	Short: "Check a shell command",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		command := strings.Join(args, " ")
		return runCheck(cmd, func(r *permission.Resolver, mode permission.ApprovalMode) checkReport {
			report := checkReport{
				Kind:     permission.KindBash,
				Target:   command,
				Segments: permission.PermissionSegments(command),
			}
			validation := permission.ValidateCommand(command)
			report.Validation = &validation
			if !validation.Allowed {
				report.Verdict = validation
				return report
			}
			report.Verdict = r.CheckBash(workDir, command, mode)
			return report
		})
	},
}

var checkMCPCmd = &cobra.Command{
	Use:   "mcp <server> <tool>",
	Short: "Check an MCP tool call",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, func(r *permission.Resolver, mode permission.ApprovalMode) checkReport {
			return checkReport{Kind: permission.KindMCP, Target: args[0] + "/" + args[1], Verdict: r.CheckMCP(workDir, args[0], args[1], mode)}
		})
	},
}

func init() {
	checkCmd.PersistentFlags().StringVar(&checkMode, "mode", "", "Approval mode (default|autoEdit|yolo), overrides config")
	checkCmd.PersistentFlags().BoolVar(&checkJSON, "json", false, "Print the report as JSON")

	checkCmd.AddCommand(checkFsCmd)
	checkCmd.AddCommand(checkBashCmd)
	checkCmd.AddCommand(checkMCPCmd)
}

type checkReport struct {
	Kind       permission.Kind     `json:"kind"`
	Target     string              `json:"target"`
	Mode       string              `json:"mode"`
	Segments   []string            `json:"segments,omitempty"`
	Validation *permission.Verdict `json:"validation,omitempty"`
	Verdict    permission.Verdict  `json:"verdict"`
}

func runCheck(cmd *cobra.Command, check func(*permission.Resolver, permission.ApprovalMode) checkReport) error {
	mode := appConfig.Mode()
	if checkMode != "" {
		m, err := permission.ParseApprovalMode(checkMode)
		if err != nil {
			return &exitError{code: headless.ExitInvalidInput, err: err}
		}
		mode = m
	}

	report := check(permission.NewResolver(permission.NewStore()), mode)
	report.Mode = string(mode)

	out := cmd.OutOrStdout()
	if checkJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	} else {
		printReport(cmd, report)
	}

	if !report.Verdict.Allowed {
		return &exitError{code: headless.ExitPermissionDenied}
	}
	return nil
}

func printReport(cmd *cobra.Command, r checkReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s (mode %s)\n", r.Kind, r.Target, r.Mode)
	if len(r.Segments) > 0 {
		fmt.Fprintf(out, "  segments: %s\n", strings.Join(r.Segments, " | "))
	}
	if r.Validation != nil && !r.Validation.Allowed {
		fmt.Fprintf(out, "  blocked: %s\n", r.Validation.Message)
		return
	}
	if r.Verdict.Allowed {
		fmt.Fprintln(out, "  allowed")
		return
	}
	fmt.Fprintf(out, "  approval required: %s\n", r.Verdict.Message)
}
