package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deployCmd = &cobra.Command{
	Use:   "deploy <run-id>",
	Short: "Build an instance and deploy it to the dispatch namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		subdomain, _ := cmd.Flags().GetString("subdomain")

		orch, _, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}

		result := orch.DeployToDispatch(cmd.Context(), args[0], subdomain)
		if !result.Success {
			return fmt.Errorf("deploy instance: %s", result.Error)
		}

		fmt.Printf("Deployed: %s\n", result.DeployedURL)
		return nil
	},
}

func init() {
	deployCmd.Flags().String("subdomain", "", "custom subdomain (defaults to the project name)")
	rootCmd.AddCommand(deployCmd)
}
