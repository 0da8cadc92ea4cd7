package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lvonguyen/cloudgate/internal/playbook"
)

var (
	remPlaybookID string
	remFindingID  string
	remCategory   string
	remResource   string
	remSeverity   string
	remInitiator  string
	remDryRun     bool
	remApprove    bool
	remApprover   string
)

var remediateCmd = &cobra.Command{
	Use:   "remediate",
	Short: "Execute a remediation playbook for a finding",
	Example: `  cloudgate remediate --finding-id FIND-001 --category Storage --resource my-bucket
  cloudgate remediate --playbook AWS-PUBLIC-S3 --finding-id FIND-001 --resource my-bucket --dry-run=false --approve`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if remFindingID == "" {
			return fmt.Errorf("--finding-id is required")
		}

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())
		a.StartGateways()

		finding := playbook.Finding{
			ID:       remFindingID,
			Category: remCategory,
			Severity: remSeverity,
			Resource: remResource,
		}

		var (
			pb playbook.Playbook
			ok bool
		)
		if remPlaybookID != "" {
			pb, ok = a.Library.Get(remPlaybookID)
			if !ok {
				return fmt.Errorf("playbook not found: %s", remPlaybookID)
			}
		} else {
			pb, ok = a.Library.Match(finding)
			if !ok {
				return fmt.Errorf("no playbook matches category %q", remCategory)
			}
		}

		fmt.Printf("Playbook: %s (%s)\n", pb.Name, pb.ID)
		fmt.Printf("Dry-run: %v\n", remDryRun)

		exec, err := a.Playbooks.Execute(cmd.Context(), pb, finding, remInitiator, remDryRun)
		if err != nil {
			return err
		}

		if exec.Status == playbook.StatusAwaitingApproval {
			if !remApprove {
				fmt.Printf("Execution %s is awaiting approval.\n", exec.ExecutionID)
				fmt.Printf("To approve: cloudgate approve %s --approver <name>\n", exec.ExecutionID)
				return nil
			}
			approver := remApprover
			if approver == "" {
				approver = remInitiator
			}
			exec, err = a.Playbooks.Approve(cmd.Context(), exec.ExecutionID, approver, remDryRun)
			if err != nil {
				return err
			}
		}

		printExecution(exec)
		return nil
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve [execution-id]",
	Short: "Approve a remediation execution awaiting approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if remApprover == "" {
			return fmt.Errorf("--approver is required")
		}
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())
		a.StartGateways()

		exec, err := a.Playbooks.Approve(cmd.Context(), args[0], remApprover, remDryRun)
		if err != nil {
			return err
		}
		printExecution(exec)
		return nil
	},
}

func printExecution(exec *playbook.Execution) {
	fmt.Printf("\nExecution: %s\n", exec.ExecutionID)
	fmt.Printf("Status: %s\n", exec.Status)
	if exec.FailureReason != "" {
		fmt.Printf("Failure: %s\n", exec.FailureReason)
	}
	for _, ar := range exec.ActionResults {
		line := fmt.Sprintf("  [%s] %s (%s)", ar.Status, ar.Name, ar.Kind)
		if ar.Message != "" {
			line += ": " + ar.Message
		}
		if ar.Error != "" {
			line += " error: " + ar.Error
		}
		fmt.Println(line)
	}
}

func init() {
	remediateCmd.Flags().StringVar(&remPlaybookID, "playbook", "", "Playbook id (default: match by finding category)")
	remediateCmd.Flags().StringVar(&remFindingID, "finding-id", "", "Finding id to remediate")
	remediateCmd.Flags().StringVar(&remCategory, "category", "", "Finding category")
	remediateCmd.Flags().StringVar(&remResource, "resource", "", "Affected resource")
	remediateCmd.Flags().StringVar(&remSeverity, "severity", "", "Finding severity")
	remediateCmd.Flags().StringVar(&remInitiator, "initiator", "cli", "Who initiates the remediation")
	remediateCmd.Flags().BoolVar(&remDryRun, "dry-run", true, "Test without making changes")
	remediateCmd.Flags().BoolVar(&remApprove, "approve", false, "Approve immediately when approval is required")
	remediateCmd.Flags().StringVar(&remApprover, "approver", "", "Approver identity")
	rootCmd.AddCommand(remediateCmd)

	approveCmd.Flags().StringVar(&remApprover, "approver", "", "Approver identity")
	approveCmd.Flags().BoolVar(&remDryRun, "dry-run", false, "Run the approved execution in dry-run mode")
	rootCmd.AddCommand(approveCmd)
}
