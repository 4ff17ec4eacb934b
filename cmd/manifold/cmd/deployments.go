package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var deployComment string

// deploymentsCmd represents the deployments command
var deploymentsCmd = &cobra.Command{
	Use:   "deployments",
	Short: "Manage deployments",
	Long: `Commands for cutting new deployments and inspecting deployment history.
Cutting a deployment publishes the staged module files under new
content-hashed names; assets of all previous deployments stop existing.`,
}

var deploymentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployment history",
	RunE:  runDeploymentsList,
}

var deploymentsCutCmd = &cobra.Command{
	Use:   "cut",
	Short: "Cut a new deployment from the server's staging directory",
	RunE:  runDeploymentsCut,
}

func init() {
	rootCmd.AddCommand(deploymentsCmd)
	deploymentsCmd.AddCommand(deploymentsListCmd)
	deploymentsCmd.AddCommand(deploymentsCutCmd)

	deploymentsCutCmd.Flags().StringVarP(&deployComment, "comment", "m", "", "comment recorded with the deployment")
}

func runDeploymentsList(cmd *cobra.Command, args []string) error {
	c := newAPIClient()
	deployments, err := c.ListDeployments(context.Background())
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(deployments, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	if len(deployments) == 0 {
		fmt.Println("No deployments cut yet")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Cut At", "Assets", "Current", "Comment")

	for _, d := range deployments {
		current := ""
		if d.Current {
			current = "*"
		}
		table.Append(
			d.ID,
			d.CutAt.Format(time.RFC3339),
			fmt.Sprintf("%d", d.AssetCount),
			current,
			d.Comment,
		)
	}

	table.Render()
	fmt.Printf("\nTotal deployments: %d\n", len(deployments))
	return nil
}

func runDeploymentsCut(cmd *cobra.Command, args []string) error {
	c := newAPIClient()
	m, err := c.CutDeployment(context.Background(), deployComment)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Deployment %s cut at %s\n\n", m.DeploymentID, m.CutAt.Format(time.RFC3339))

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Module", "Version", "File", "Size")

	modules := make([]string, 0, len(m.Assets))
	for name := range m.Assets {
		modules = append(modules, name)
	}
	sort.Strings(modules)

	for _, name := range modules {
		asset := m.Assets[name]
		table.Append(
			asset.Module,
			asset.Version,
			asset.FileName,
			fmt.Sprintf("%d", asset.Size),
		)
	}

	table.Render()
	return nil
}
