package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/manifold/pkg/models"
)

var (
	reportsHostID string
	reportsKind   string
)

// reportsCmd represents the reports command
var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Inspect load reports",
	Long: `Commands for inspecting the load reports hosts send: successful loads,
recovery reloads, and failures that reached the fault boundary.`,
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List load reports",
	RunE:  runReportsList,
}

func init() {
	rootCmd.AddCommand(reportsCmd)
	reportsCmd.AddCommand(reportsListCmd)

	reportsListCmd.Flags().StringVar(&reportsHostID, "host", "", "only show reports from this host")
	reportsListCmd.Flags().StringVar(&reportsKind, "kind", "", "only show reports of this kind: loaded, recovered, terminal")
}

func runReportsList(cmd *cobra.Command, args []string) error {
	c := newAPIClient()
	reports, err := c.ListReports(context.Background(), reportsHostID)
	if err != nil {
		return err
	}

	if reportsKind != "" {
		filtered := reports[:0]
		for _, r := range reports {
			if r.Kind == models.ReportKind(reportsKind) {
				filtered = append(filtered, r)
			}
		}
		reports = filtered
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	if len(reports) == 0 {
		fmt.Println("No reports")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Host", "Module", "Kind", "Version", "Error", "Reported At")

	counts := map[models.ReportKind]int{}
	for _, r := range reports {
		counts[r.Kind]++

		errMsg := r.Error
		if len(errMsg) > 60 {
			errMsg = errMsg[:57] + "..."
		}

		table.Append(
			r.HostID,
			r.Module,
			string(r.Kind),
			r.Version,
			errMsg,
			r.ReportedAt.Format(time.RFC3339),
		)
	}

	table.Render()
	fmt.Printf("\nloaded: %d  recovered: %d  terminal: %d\n",
		counts[models.ReportLoaded], counts[models.ReportRecovered], counts[models.ReportTerminal])
	return nil
}
