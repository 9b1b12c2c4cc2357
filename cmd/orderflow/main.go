package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/coinexec/orderflow/internal/application"
)

const (
	appName = "orderflow"
	version = "v1.0.0"
)

var rootCmd = &cobra.Command{
	Use:     appName,
	Short:   "Token swap order execution engine",
	Version: version,
	Long: `Orderflow accepts token swap orders over a WebSocket stream, quotes the
configured liquidity venues in parallel, routes each order to the venue with
the best effective price, and executes it under the requested slippage bound.
Orders are persisted to Postgres and every lifecycle transition is streamed
back to subscribed clients.

Run 'orderflow serve' to start the engine.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the engine version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", appName, version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// setupLogging applies the configured level and format. Commands call it
// after loading config; until then the zerolog defaults apply.
func setupLogging(section application.LoggingSection) {
	level, err := zerolog.ParseLevel(strings.ToLower(section.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	switch section.Format {
	case "console":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	case "json":
		log.Logger = log.Output(os.Stderr)
	default:
		if term.IsTerminal(int(os.Stderr.Fd())) {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		} else {
			log.Logger = log.Output(os.Stderr)
		}
	}
}
