package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sploithunter/coding-agent-bridge/internal/adapter"
	"github.com/sploithunter/coding-agent-bridge/internal/config"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove bridge hooks from agent settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagDataDir)
		if err != nil {
			return err
		}

		registry := adapter.NewRegistry()
		for _, ad := range registry.All() {
			if err := ad.UninstallHooks(); err != nil {
				fmt.Printf("could not clean %s settings: %v\n", ad.DisplayName(), err)
				continue
			}
			fmt.Printf("removed hooks for %s\n", ad.DisplayName())
		}

		if err := os.Remove(cfg.HookScript()); err == nil {
			fmt.Println("removed", cfg.HookScript())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(uninstallCmd)
}
