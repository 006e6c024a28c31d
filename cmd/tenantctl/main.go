package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/teresa-solution/tenant-provisioning-service/internal/app"
	"github.com/teresa-solution/tenant-provisioning-service/internal/config"
)

func main() {
	_ = godotenv.Load()
	app.SetupLogging(config.LogConfig{Level: os.Getenv("LOG_LEVEL")})

	rootCmd := &cobra.Command{
		Use:           "tenantctl",
		Short:         "Operate the tenant provisioning service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		listCmd(),
		statusCmd(),
		retryCmd(),
		cleanupCmd(),
		reconcileCmd(),
		templateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
