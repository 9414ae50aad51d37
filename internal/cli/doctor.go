package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sploithunter/coding-agent-bridge/internal/adapter"
	"github.com/sploithunter/coding-agent-bridge/internal/config"
	"github.com/sploithunter/coding-agent-bridge/internal/tmux"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the bridge's environment",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagDataDir)
		if err != nil {
			return err
		}

		report := func(ok bool, label string) {
			mark := "ok"
			if !ok {
				mark = "MISSING"
			}
			fmt.Printf("  %-40s %s\n", label, mark)
		}

		fmt.Println("environment:")
		driver := tmux.New(newLogger(flagDebug))
		report(driver.IsAvailable(), "tmux on PATH")

		fmt.Println("agents:")
		registry := adapter.NewRegistry()
		for _, ad := range registry.All() {
			report(ad.IsAvailable(), ad.DisplayName()+" binary")
		}

		fmt.Println("data dir:")
		writable := os.MkdirAll(filepath.Join(cfg.DataDir, "data"), 0o755) == nil
		report(writable, cfg.DataDir+" writable")

		_, err = os.Stat(cfg.HookScript())
		report(err == nil, "hook script installed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
