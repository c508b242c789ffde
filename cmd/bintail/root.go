package main

import (
	"github.com/spf13/cobra"

	"bintail/internal/config"
	"bintail/internal/logger"
	"bintail/internal/session"
)

// Global flag variables
var (
	strictFlag   bool
	logLevelFlag string
	logJSONFlag  bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bintail",
	Short: "Specialize multiverse-instrumented x86-64 binaries offline",
	Long: `bintail rewrites a position-independent x86-64 ELF executable built with
the multiverse compiler plugin. It fixes configuration variables to chosen
values, patches call sites to the matching function variants and trims the
descriptor tables of everything that can no longer change at run time.

Examples:
  bintail show ./app                           List variables and variants
  bintail change ./app config=1 --apply config Bind config to 1 in place
  bintail change ./app config=1 --apply config --trim -o app.special
  bintail run ./app --plan plan.toml           Apply a TOML plan
  bintail graph ./app -o deps.dot              Dependency graph`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.FromEnv()
		flags := cmd.Flags()
		if flags.Changed("strict") {
			cfg.Strict = strictFlag
		}
		if flags.Changed("log-level") {
			cfg.LogLevel = logger.ParseLevel(logLevelFlag)
		}
		if flags.Changed("log-json") {
			cfg.LogJSON = logJSONFlag
		}
		cfg.Apply()
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&strictFlag, "strict", false,
		"Fail on the first diagnostic instead of recording it")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "INFO",
		"Log level: DEBUG, INFO, WARN or ERROR")
	rootCmd.PersistentFlags().BoolVar(&logJSONFlag, "log-json", false,
		"Emit logs as JSON")

	rootCmd.AddCommand(showCmd, changeCmd, runCmd, graphCmd, relocsCmd, symsCmd)
}

func openSession(path string) (*session.Session, error) {
	return session.Open(path, session.Options{Mode: cfg.Mode(), Logger: logger.Logger})
}

// outputPath picks the -o flag, then the configured default. Empty means
// rewrite the input.
func outputPath(flag string) string {
	if flag != "" {
		return flag
	}
	return cfg.Output
}
