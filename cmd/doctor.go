package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/youlab/tutord/internal/config"
	"github.com/youlab/tutord/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("tutord doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	// git drives the memory block store.
	if path, err := exec.LookPath("git"); err != nil {
		fmt.Println("  git:      NOT FOUND (memory block storage will not work)")
	} else {
		fmt.Printf("  git:      %s (OK)\n", path)
	}

	fmt.Printf("  Data:     %s", cfg.DataRoot)
	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		fmt.Printf(" (NOT WRITABLE: %s)\n", err)
		return
	}
	probe := filepath.Join(cfg.DataRoot, ".doctor_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		fmt.Printf(" (NOT WRITABLE: %s)\n", err)
		return
	}
	os.Remove(probe)
	fmt.Println(" (writable)")

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		fmt.Printf("  Database: %s (FAILED: %s)\n", cfg.DatabasePath(), err)
		return
	}
	db.Close()
	fmt.Printf("  Database: %s (OK, migrations applied)\n", cfg.DatabasePath())

	if cfg.LLM.APIKey == "" {
		fmt.Println("  LLM:      TUTORD_LLM_API_KEY not set")
	} else {
		fmt.Printf("  LLM:      %s (key set)\n", cfg.LLM.Model)
	}
	if cfg.Convo.Endpoint == "" {
		fmt.Println("  Convo:    disabled (no endpoint configured)")
	} else {
		fmt.Printf("  Convo:    %s\n", cfg.Convo.Endpoint)
	}
}
