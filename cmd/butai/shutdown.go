package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown <run-id>",
	Short: "Stop an instance and delete its record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		orch, _, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}

		result := orch.ShutdownInstance(cmd.Context(), args[0])
		if !result.Success {
			return fmt.Errorf("shutdown instance: %s", result.Error)
		}

		fmt.Printf("Instance %s shut down\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(shutdownCmd)
}
