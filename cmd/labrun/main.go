// Command labrun inspects an engine state store. It opens the configured
// storage backend read-only from the CLI's point of view and prints runs,
// items, transfers, or data entries as JSON lines.
//
// Usage:
//
//	labrun [-config path] runs|items|transfers|entries
//	labrun [-config path] run <id>
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"labrun/internal/config"
	"labrun/internal/core"
)

func main() {
	configPath := flag.String("config", os.Getenv("LABRUN_CONFIG"), "path to TOML config (env overrides apply)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(*configPath, flag.Args(), logger); err != nil {
		logger.Error("labrun failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, args []string, logger *slog.Logger) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command: runs|items|transfers|entries|run <id>")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := core.OpenPersistentStore(cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		return err
	}
	logger.Debug("store opened", "driver", cfg.Storage.Driver)

	enc := json.NewEncoder(os.Stdout)
	switch args[0] {
	case "runs":
		for _, r := range store.ListRuns() {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
	case "items":
		for _, item := range store.ListItems() {
			if err := enc.Encode(item); err != nil {
				return err
			}
		}
	case "transfers":
		for _, t := range store.ListTransfers() {
			if err := enc.Encode(t); err != nil {
				return err
			}
		}
	case "entries":
		for _, e := range store.ListDataEntries() {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
	case "run":
		if len(args) < 2 {
			return fmt.Errorf("run requires an id")
		}
		r, ok := store.GetRun(args[1])
		if !ok {
			return fmt.Errorf("run %s not found", args[1])
		}
		return enc.Encode(r)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}
