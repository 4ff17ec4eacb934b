package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/psantana5/manifold/pkg/client"
)

// hostsCmd represents the hosts command
var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Manage module hosts",
	Long:  `Commands for listing and managing the module hosts registered with the artifact server.`,
}

var hostsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered hosts",
	RunE:  runHostsList,
}

var hostsRemoveCmd = &cobra.Command{
	Use:   "remove <host-id>",
	Short: "Remove a host from the registry",
	Args:  cobra.ExactArgs(1),
	RunE:  runHostsRemove,
}

var hostsMetricsCmd = &cobra.Command{
	Use:   "metrics <metrics-url>",
	Short: "Show load metrics scraped from a host",
	Long: `Scrapes a host's Prometheus endpoint and displays its module load
counters, e.g. manifold hosts metrics http://edge-01:9091/metrics.`,
	Args: cobra.ExactArgs(1),
	RunE: runHostsMetrics,
}

func init() {
	rootCmd.AddCommand(hostsCmd)
	hostsCmd.AddCommand(hostsListCmd)
	hostsCmd.AddCommand(hostsRemoveCmd)
	hostsCmd.AddCommand(hostsMetricsCmd)
}

func newAPIClient() *client.Client {
	return client.NewClient(GetServerURL(), client.WithAPIKey(GetAPIKey()))
}

func runHostsList(cmd *cobra.Command, args []string) error {
	c := newAPIClient()
	hosts, err := c.ListHosts(context.Background())
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(hosts, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	if len(hosts) == 0 {
		fmt.Println("No hosts registered")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Status", "Session", "Modules", "Last Heartbeat")

	for _, h := range hosts {
		table.Append(
			h.ID,
			h.Name,
			string(h.Status),
			h.SessionID,
			strings.Join(h.Modules, ","),
			h.LastHeartbeat.Format(time.RFC3339),
		)
	}

	table.Render()
	fmt.Printf("\nTotal hosts: %d\n", len(hosts))
	return nil
}

func runHostsRemove(cmd *cobra.Command, args []string) error {
	c := newAPIClient()
	if err := c.RemoveHost(context.Background(), args[0]); err != nil {
		return err
	}

	fmt.Printf("Host %s removed\n", args[0])
	return nil
}

func runHostsMetrics(cmd *cobra.Command, args []string) error {
	c := newAPIClient()
	raw, err := c.FetchMetrics(context.Background(), args[0])
	if err != nil {
		return err
	}

	parser := expfmt.TextParser{}
	families, err := parser.TextToMetricFamilies(strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("failed to parse metrics: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Labels", "Value")

	names := make([]string, 0, len(families))
	for name := range families {
		if strings.HasPrefix(name, "manifold_host_") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		for _, m := range families[name].GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%s", lp.GetName(), lp.GetValue()))
			}

			value := 0.0
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			}

			table.Append(name, strings.Join(labels, ","), fmt.Sprintf("%g", value))
		}
	}

	table.Render()
	return nil
}
