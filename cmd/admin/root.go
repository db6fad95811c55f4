package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-image/pkg/simpleimage/config"
)

var (
	cfg    *config.ServerConfig
	logger *slog.Logger
)

// rootCmd loads configuration the same way the server does, so the admin
// tool sees the same database and remote store.
var rootCmd = &cobra.Command{
	Use:   "simpleimage-admin",
	Short: "Administer a simple-image deployment",
	Long: "simpleimage-admin runs migrations and maintenance against the\n" +
		"database and remote store configured in the environment.\n\n" +
		config.EnvUsage("Environment variables:"),
	SilenceUsage:      true,
	PersistentPreRunE: initializeApp,
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(usageCmd)
}

func initializeApp(cmd *cobra.Command, args []string) error {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	loaded, err := config.Load(config.WithEnv())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg = loaded
	logger = config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	return nil
}
