// Command registrar-cli runs spreadsheet imports, duplicate audits and
// exports against the registrar database without the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/registrar-office/registrar-engine/pkg/app"
	"github.com/registrar-office/registrar-engine/pkg/config"
	"github.com/registrar-office/registrar-engine/pkg/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	envFile    string
	jsonOutput bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "registrar-cli",
	Short: "Bulk import and audit tool for registrar records",
	Long: `registrar-cli imports registrar spreadsheets (.xlsx or .csv) into the
records database and audits what is stored.

Configuration comes from config.yaml and the environment. Variables in the
--env-file are loaded first and never override ones already set.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}

		var err error
		cfg, err = config.Load(Version)
		if err != nil {
			return err
		}
		// Logs go to stderr so tables and JSON on stdout stay clean.
		logger, err = logging.New(cfg.Env, cfg.LogLevel)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file to load before reading configuration")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	rootCmd.Version = Version

	rootCmd.AddCommand(recordTypesCmd, importCmd, duplicatesCmd, mismatchesCmd, pruneCmd, exportCmd)
}

// withEngine builds the engine for one command run and closes it afterwards.
func withEngine(ctx context.Context, fn func(*app.Engine) error) error {
	engine, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()
	return fn(engine)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
