// Command newmarketbot is the entry point for the new-market trading bot.
//
// Usage:
//
//	newmarketbot [-config config.toml] [run]
//	newmarketbot [-config config.toml] positions [-all] [-limit 50]
//	newmarketbot [-config config.toml] events [-limit 20]
//	newmarketbot encrypt-key -out key.json
//
// run (the default) loads and validates the configuration, wires the
// dependencies and runs until SIGINT or SIGTERM. positions prints the
// stored positions as a table and events the newest audit log entries.
// encrypt-key reads a private key and a password from
// NEWMARKETBOT_WALLET_PRIVATE_KEY and NEWMARKETBOT_WALLET_KEY_PASSWORD and
// writes an encrypted key file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alanyoungcy/newmarketbot/internal/app"
	"github.com/alanyoungcy/newmarketbot/internal/config"
	"github.com/alanyoungcy/newmarketbot/internal/crypto"
	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	cmd, args := "run", flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = run(*configPath)
	case "positions":
		err = positions(*configPath, args, os.Stdout)
	case "events":
		err = events(*configPath, args, os.Stdout)
	case "encrypt-key":
		err = encryptKey(args)
	default:
		err = fmt.Errorf("unknown command %q (valid: run, positions, events, encrypt-key)", cmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	redacted := config.RedactedConfig(cfg)
	logger.Info("new-market bot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
		slog.Any("settings", redacted),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("new-market bot stopped")
	return nil
}

func positions(configPath string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("positions", flag.ContinueOnError)
	all := fs.Bool("all", false, "include closed positions")
	limit := fs.Int("limit", 50, "maximum rows with -all")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var rows []domain.Position
	if *all {
		rows, err = store.ListPositions(ctx, domain.ListOpts{Limit: *limit})
	} else {
		rows, err = store.GetOpenPositions(ctx, cfg.Wallet.Address)
	}
	if err != nil {
		return err
	}
	return printPositions(out, rows)
}

func printPositions(out io.Writer, rows []domain.Position) error {
	table := tablewriter.NewWriter(out)
	table.Header("ID", "Market", "Side", "Size", "Entry", "Current", "PnL %", "Status", "Reason", "Opened")

	for _, p := range rows {
		current, pnl := "-", "-"
		if p.CurrentPrice != nil {
			current = fmt.Sprintf("%.3f", *p.CurrentPrice)
			pnl = fmt.Sprintf("%+.2f", p.PnLPercent(*p.CurrentPrice))
		}
		reason := "-"
		if p.CloseReason != nil {
			reason = string(*p.CloseReason)
		}
		if err := table.Append(
			shorten(p.ID, 8),
			shorten(p.MarketName, 40),
			p.Side,
			fmt.Sprintf("%.2f", p.Size),
			fmt.Sprintf("%.3f", p.EntryPrice),
			current,
			pnl,
			string(p.Status),
			reason,
			p.CreatedAt.UTC().Format(time.DateTime),
		); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d position(s)\n", len(rows))
	return nil
}

func events(configPath string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "number of events")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	rows, err := store.RecentEvents(ctx, *limit)
	if err != nil {
		return err
	}
	return printEvents(out, rows)
}

func printEvents(out io.Writer, rows []domain.AuditEvent) error {
	table := tablewriter.NewWriter(out)
	table.Header("Time", "Event", "Detail")
	for _, e := range rows {
		detail, err := json.Marshal(e.Detail)
		if err != nil {
			return err
		}
		if err := table.Append(
			e.Time.UTC().Format(time.DateTime),
			e.Event,
			shorten(string(detail), 80),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func encryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ContinueOnError)
	outPath := fs.String("out", "key.json", "encrypted key file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key := os.Getenv("NEWMARKETBOT_WALLET_PRIVATE_KEY")
	password := os.Getenv("NEWMARKETBOT_WALLET_KEY_PASSWORD")
	if key == "" || password == "" {
		return errors.New("encrypt-key: NEWMARKETBOT_WALLET_PRIVATE_KEY and NEWMARKETBOT_WALLET_KEY_PASSWORD must be set")
	}

	data, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*outPath, data, 0o600); err != nil {
		return fmt.Errorf("encrypt-key: write %s: %w", *outPath, err)
	}
	fmt.Printf("wrote %s\n", *outPath)
	return nil
}
