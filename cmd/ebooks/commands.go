package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/robotmk/ebooks/internal/config"
	"github.com/robotmk/ebooks/internal/pipeline"
	"github.com/robotmk/ebooks/internal/storage"
)

// newBot wires the bot for the run command; tests replace it to run
// against an in-memory platform.
var newBot = newApp

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot once",
	Long: `Run the bot once: roll the schedule, maybe post, then answer mentions.

The bot starts in debug mode (bot.debug = true), which rolls every feature
on, uses the fallback text instead of the generator and publishes nothing.
Use --live, or "ebooks config set bot.debug false", to publish for real.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")
		live, _ := cmd.Flags().GetBool("live")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		switch {
		case debug:
			cfg.Bot.Debug = true
		case live:
			cfg.Bot.Debug = false
		}
		if cfg.Bot.Debug {
			printWarning("debug mode: nothing will be published")
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newBot(ctx, cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				printWarning("closing storage: %v", err)
			}
		}()

		rep, runErr := a.runner.Run(ctx)
		if err := printRunReport(cmd.OutOrStdout(), rep, asJSON); err != nil {
			return err
		}
		return runErr
	},
}

func printRunReport(w io.Writer, rep pipeline.Report, asJSON bool) error {
	if !asJSON {
		writeReport(w, rep)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func init() {
	runCmd.Flags().Bool("debug", false, "roll everything on and publish nothing")
	runCmd.Flags().Bool("live", false, "publish for real, overriding bot.debug")
	runCmd.Flags().Bool("json", false, "print the run report as JSON")
	runCmd.MarkFlagsMutuallyExclusive("debug", "live")
}

// --- trigger ---

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Ask the running server for a run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := client.trigger(cmd.Context())
		if err != nil {
			return err
		}
		if res.Shared {
			printStep("joined a run already in flight")
		}
		if err := printRunReport(cmd.OutOrStdout(), res.Report, asJSON); err != nil {
			return err
		}
		if res.Error != "" {
			return fmt.Errorf("run failed: %s", res.Error)
		}
		return nil
	},
}

func init() {
	triggerCmd.Flags().Bool("json", false, "print the run report as JSON")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show journaled runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			return fmt.Errorf("--limit must be positive")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !cfg.Storage.Journal {
			printWarning("the run journal is disabled (storage.journal = false); showing earlier runs only")
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		return printHistory(cmd.OutOrStdout(), store, limit)
	},
}

func printHistory(w io.Writer, store *storage.Store, limit int) error {
	runs, err := store.ListRuns(limit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if len(runs) == 0 {
		printStatus("Runs", "none yet")
		return nil
	}
	for _, r := range runs {
		attempts, err := store.ListAttempts(r.ID)
		if err != nil {
			return fmt.Errorf("listing attempts of run %s: %w", r.ID, err)
		}
		writeJournalRun(w, r, attempts)
	}
	return nil
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of runs to show")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# %s\n", config.FilePath())
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		if err := cfg.Validate(); err != nil {
			printWarning("configuration is incomplete:\n%v", err)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ebooks version %s\n", version)
	},
}
