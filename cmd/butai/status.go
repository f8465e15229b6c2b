package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show one instance's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		orch, _, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}

		result := orch.GetInstanceStatus(cmd.Context(), args[0])
		if !result.Success {
			return fmt.Errorf("instance status: %s", result.Error)
		}

		fmt.Println(newInstanceFormatter().FormatInstance(result.Instance))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
