package main

import (
	"fmt"
	"strings"

	"github.com/harunnryd/butai/internal/orchestrator"

	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create <template> <project>",
	Short: "Create a sandbox instance from a template",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		webhook, _ := cmd.Flags().GetString("webhook")
		envPairs, _ := cmd.Flags().GetStringSlice("env")

		envVars := make(map[string]string, len(envPairs))
		for _, pair := range envPairs {
			key, value, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("invalid --env value %q, expected KEY=VALUE", pair)
			}
			envVars[key] = value
		}

		orch, _, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}

		result := orch.CreateInstance(cmd.Context(), orchestrator.CreateRequest{
			Template:   args[0],
			Project:    args[1],
			WebhookURL: webhook,
			EnvVars:    envVars,
		})
		if !result.Success {
			return fmt.Errorf("create instance: %s", result.Error)
		}

		fmt.Println(formatCreateResult(result))
		return nil
	},
}

func init() {
	createCmd.Flags().String("webhook", "", "URL notified when the instance is ready")
	createCmd.Flags().StringSlice("env", nil, "extra env vars (KEY=VALUE, repeatable)")
	rootCmd.AddCommand(createCmd)
}
