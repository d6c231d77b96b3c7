package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/youlab/tutord/internal/config"
	"github.com/youlab/tutord/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "load config: %v\n", err)
				os.Exit(1)
			}
			if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
				fmt.Fprintf(os.Stderr, "create data root: %v\n", err)
				os.Exit(1)
			}
			db, err := store.Open(cfg.DatabasePath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
				os.Exit(1)
			}
			db.Close()
			fmt.Printf("migrations applied: %s\n", cfg.DatabasePath())
		},
	}
}
