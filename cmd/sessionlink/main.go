package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/koyif/sessionlink/internal/config"
	"github.com/koyif/sessionlink/internal/logger"
	"github.com/koyif/sessionlink/internal/schema"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	cfg *config.Config

	configPath string
	envFile    string
	verbose    bool
	policy     string
	parallel   bool
	stepwise   bool
	pageSize   int
)

const (
	exitSuccess        = 0
	exitUserError      = 1
	exitMigrationError = 2
)

var rootCmd = &cobra.Command{
	Use:   "sessionlink",
	Short: "Link OAuth2 tokens to their sessions with a foreign key",
	Long: `sessionlink replaces the hashed session id stored on OAuth2 authorization
codes, access tokens and refresh tokens with a foreign key to the
authenticated session, backfilling every existing row on the way.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default: ./sessionlink.yaml)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	flags.BoolVarP(&verbose, "verbose", "v", false, "development logging")

	upCmd.Flags().StringVar(&policy, "policy", "", "row failure policy: continue or fail-fast")
	upCmd.Flags().BoolVar(&parallel, "parallel", false, "backfill token tables concurrently (requires --stepwise)")
	upCmd.Flags().BoolVar(&stepwise, "stepwise", false, "commit every step on its own and resume interrupted runs")
	upCmd.Flags().IntVar(&pageSize, "page-size", 0, "rows read per query")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := loadEnvFile(envFile); err != nil {
		return err
	}

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Initialize(cfg.Env); err != nil {
		return err
	}

	zap.L().Debug("Configuration loaded",
		zap.String("config", cfg.ConfigPath),
		zap.String("policy", cfg.Backfill.Policy),
		zap.Bool("atomic", cfg.Migration.Atomic),
		zap.Bool("parallel", cfg.Backfill.Parallel))

	return nil
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("verbose") && verbose {
		cfg.Env = "development"
	}
	if flags.Changed("policy") {
		cfg.Backfill.Policy = policy
	}
	if flags.Changed("parallel") {
		cfg.Backfill.Parallel = parallel
	}
	if flags.Changed("stepwise") {
		cfg.Migration.Atomic = !stepwise
	}
	if flags.Changed("page-size") {
		cfg.Backfill.PageSize = pageSize
	}
}

// loadEnvFile exports the variables of path. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}

	var stepErr *schema.StepError
	if errors.As(err, &stepErr) {
		return exitMigrationError
	}
	return exitUserError
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}
