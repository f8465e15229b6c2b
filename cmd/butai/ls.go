package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all sandbox instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		orch, _, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}

		result := orch.ListAllInstances(cmd.Context())
		if !result.Success {
			return fmt.Errorf("list instances: %s", result.Error)
		}

		fmt.Println(newInstanceFormatter().FormatInstances(result.Instances))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
