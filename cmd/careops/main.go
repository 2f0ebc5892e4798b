package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/careops/internal/config"
	careerrors "github.com/rohankatakam/careops/internal/errors"
	"github.com/rohankatakam/careops/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile    string
	verbose    bool
	jsonOutput bool
	logger     *logrus.Logger
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var typed *careerrors.Error
		if verbose && stderrors.As(err, &typed) {
			fmt.Fprint(os.Stderr, typed.DetailedString())
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "careops",
	Short: "CareOps - approval-gated operations for hospital agents",
	Long: `CareOps runs the hospital operations agents behind a risk gate.
Low-risk actions execute on their own; everything else waits for a human
approver, and a global kill switch halts all autonomous execution.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("Failed to load config, using defaults")
			cfg = config.Default()
		}

		logCfg := logging.Config{
			Level:      logging.ParseLevel(cfg.Log.Level),
			OutputFile: cfg.Log.File,
			JSONFormat: cfg.Log.JSON,
			Hospital:   config.GetString("CAREOPS_HOSPITAL", ""),
		}
		if verbose {
			logCfg.Level = logging.DEBUG
			logCfg.AddSource = true
		}
		return logging.Initialize(logCfg)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .careops/careops.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON even on a terminal")

	rootCmd.SetVersionTemplate(`CareOps {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(killSwitchCmd)
	rootCmd.AddCommand(approvalsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(dlqCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(secretsCmd)
}
