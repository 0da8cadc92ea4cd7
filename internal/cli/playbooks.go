package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	playbookCategory string
	playbookSeverity string
	exportID         string
)

var playbooksCmd = &cobra.Command{
	Use:   "playbooks",
	Short: "List available remediation playbooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())

		if exportID != "" {
			data, err := a.Library.Export(exportID)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		}

		playbooks := a.Library.All()
		if playbookCategory != "" {
			playbooks = a.Library.ByCategory(playbookCategory)
		} else if playbookSeverity != "" {
			playbooks = a.Library.BySeverity(playbookSeverity)
		}

		fmt.Printf("%-22s %-10s %-34s %-8s %s\n", "ID", "SEVERITY", "NAME", "ACTIONS", "APPROVAL")
		for _, pb := range playbooks {
			approval := "no"
			if pb.RequiresApproval {
				approval = "required"
			}
			fmt.Printf("%-22s %-10s %-34s %-8d %s\n", pb.ID, pb.Severity, pb.Name, len(pb.Actions), approval)
		}
		fmt.Printf("\n%d playbooks\n", len(playbooks))
		return nil
	},
}

func init() {
	playbooksCmd.Flags().StringVar(&playbookCategory, "category", "", "Filter by finding category")
	playbooksCmd.Flags().StringVar(&playbookSeverity, "severity", "", "Filter by severity")
	playbooksCmd.Flags().StringVar(&exportID, "export", "", "Export one playbook as YAML")
	rootCmd.AddCommand(playbooksCmd)
}
