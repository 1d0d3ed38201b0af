package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/graft"
	"github.com/aretw0/graft/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "graft",
	Short: "Graft is a content-addressed provenance store for reproducible runs",
	Long: `Graft records what produced every artifact: the exact code, parameters,
inputs, and environment. Identical work is answered from the store instead of
re-executed, and every artifact can be traced back to its adopted sources.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("store", "", "Store directory (defaults to $GRAFT_STORE, then .graft)")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress all log output")
}

// fail prints the error the way every command reports and exits.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// storePath resolves the store directory: the --store flag wins, then the
// GRAFT_STORE environment variable, then the default.
func storePath(cmd *cobra.Command) string {
	dir, _ := cmd.Flags().GetString("store")
	if dir != "" {
		return dir
	}
	if env := os.Getenv("GRAFT_STORE"); env != "" {
		return env
	}
	return graft.DefaultStoreDir
}

// newLogger builds the CLI logger from the global flags.
func newLogger(cmd *cobra.Command) *slog.Logger {
	quiet, _ := cmd.Flags().GetBool("quiet")
	if quiet {
		return logging.NewNop()
	}
	levelStr, _ := cmd.Flags().GetString("log-level")
	level, err := logging.ParseLevel(levelStr)
	if err != nil {
		fail(err)
	}
	return logging.New(level)
}

// openEngine opens the store the command operates on, with the built-in
// steps registered.
func openEngine(cmd *cobra.Command) *graft.Engine {
	eng, err := graft.New(storePath(cmd), graft.WithLogger(newLogger(cmd)))
	if err != nil {
		fail(err)
	}
	if err := registerBuiltins(eng); err != nil {
		fail(err)
	}
	return eng
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fail(err)
	}
	fmt.Println(string(data))
}
