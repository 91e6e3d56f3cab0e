// Command ptctl runs maintenance tasks against a phrase table model:
//
//	ptctl [-config file] stats
//	ptctl [-config file] merge
//	ptctl [-config file] backup
//	ptctl [-config file] restore
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/backup"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/phrasetable"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ptctl [-config file] stats|merge|backup|restore")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flag.Arg(0)); err != nil {
		slog.Error("command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, command string) error {
	if command == "restore" {
		mgr, err := backupManager(ctx, cfg)
		if err != nil {
			return err
		}
		return mgr.Restore(ctx, cfg.PhraseTable.ModelPath)
	}

	cfg.PhraseTable.Create = false
	cfg.PhraseTable.MergeInterval = 0
	pt, err := phrasetable.New(cfg.PhraseTable, nil, nil)
	if err != nil {
		return err
	}
	defer pt.Close()

	switch command {
	case "stats":
		return printJSON(pt.Stats())
	case "merge":
		if err := pt.Merge(1); err != nil {
			return err
		}
		return printJSON(pt.Stats())
	case "backup":
		mgr, err := backupManager(ctx, cfg)
		if err != nil {
			return err
		}
		rep, err := mgr.Backup(ctx, pt)
		if err != nil {
			return err
		}
		return printJSON(rep)
	}
	return fmt.Errorf("unknown command %q", command)
}

func backupManager(ctx context.Context, cfg *config.Config) (*backup.Manager, error) {
	store, err := backup.NewMinioStore(ctx, cfg.Backup)
	if err != nil {
		return nil, err
	}
	return backup.NewManager(store, cfg.Backup.Prefix), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
