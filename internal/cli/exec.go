package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lvonguyen/cloudgate/internal/cloud"
	"github.com/lvonguyen/cloudgate/internal/executor"
	"github.com/lvonguyen/cloudgate/internal/gateway"
)

var execCmd = &cobra.Command{
	Use:   "exec [command or natural language...]",
	Short: "Execute a provider command or natural-language query",
	Example: `  cloudgate exec -p azure "list my vms"
  cloudgate exec -p aws aws ec2 describe-instances
  cloudgate exec -p gcp "gcloud compute instances list | grep RUNNING | wc -l"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, ok := cloud.ParseKind(provider)
		if !ok {
			return fmt.Errorf("unknown provider %q", provider)
		}

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())

		gw := a.Gateways[kind]
		if err := gw.Start(gateway.ContextInfo{}); err != nil {
			return err
		}

		result, err := gw.ExecuteCommand(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		printResult(result)
		if result.Status != executor.StatusSuccess {
			os.Exit(1)
		}
		return nil
	},
}

func printResult(result executor.Result) {
	if result.Warning != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", result.Warning)
	}
	if result.Status != executor.StatusSuccess {
		fmt.Fprintf(os.Stderr, "error (%s): %s\n", result.ErrorKind, result.Output)
		return
	}
	if result.Structured != nil {
		out, err := json.MarshalIndent(result.Structured, "", "  ")
		if err == nil {
			fmt.Println(string(out))
			return
		}
	}
	fmt.Print(result.Output)
	if result.Truncated {
		fmt.Fprintln(os.Stderr, "(output truncated)")
	}
}

func init() {
	rootCmd.AddCommand(execCmd)
}
