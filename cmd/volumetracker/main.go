// Command volumetracker reports a wallet's trading volume on one HIP-3 dex, either for
// the last N hours or for its whole history since the dex launched.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Aidin1998/perpstats/internal/config"
	"github.com/Aidin1998/perpstats/internal/exchange"
	"github.com/Aidin1998/perpstats/pkg/logger"
)

const launchDate = "2024-10-01"

type options struct {
	wallet     string
	hours      int
	historical bool
	since      time.Time
	dex        string
	output     string
	infoURL    string
	pace       time.Duration
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintf(stderr, "volumetracker: %v\n", err)
		return 2
	}

	log := newLogger(opts.logLevel, stderr)
	defer log.Sync()

	cfg := config.Default().Exchange
	if loaded, err := config.LoadConfig(); err == nil {
		cfg = loaded.Exchange
	} else {
		log.Debug("using built-in exchange config", zap.Error(err))
	}
	if opts.infoURL != "" {
		cfg.InfoURL = opts.infoURL
	}

	client := exchange.NewClient(cfg, log)
	report, err := collect(ctx, client, opts, time.Now().UTC(), log)
	if err != nil {
		fmt.Fprintf(stderr, "volumetracker: %v\n", err)
		return 1
	}
	if err := render(stdout, report, opts.output); err != nil {
		fmt.Fprintf(stderr, "volumetracker: %v\n", err)
		return 1
	}
	return 0
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	fs := pflag.NewFlagSet("volumetracker", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: volumetracker <wallet> [hours] [flags]")
		fs.PrintDefaults()
	}

	var opts options
	var since string
	fs.BoolVar(&opts.historical, "historical", false, "scan every fill since --since instead of the last [hours]")
	fs.StringVar(&since, "since", launchDate, "first day of a historical scan (YYYY-MM-DD)")
	fs.StringVar(&opts.dex, "dex", "xyz", "dex prefix to count fills for")
	fs.StringVarP(&opts.output, "output", "o", "table", "output format: table, json or yaml")
	fs.StringVar(&opts.infoURL, "info-url", "", "override the exchange info endpoint")
	fs.DurationVar(&opts.pace, "pace", 500*time.Millisecond, "pause between historical window requests")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	rest := fs.Args()
	if len(rest) < 1 || len(rest) > 2 {
		fs.Usage()
		return opts, fmt.Errorf("expected a wallet address and an optional hour count")
	}
	if !common.IsHexAddress(rest[0]) {
		return opts, fmt.Errorf("invalid wallet address %q", rest[0])
	}
	opts.wallet = strings.ToLower(common.HexToAddress(rest[0]).Hex())

	opts.hours = 24
	if len(rest) == 2 {
		h, err := strconv.Atoi(rest[1])
		if err != nil || h <= 0 {
			return opts, fmt.Errorf("hours must be a positive integer, got %q", rest[1])
		}
		opts.hours = h
	}

	t, err := time.Parse("2006-01-02", since)
	if err != nil {
		return opts, fmt.Errorf("--since: %w", err)
	}
	opts.since = t.UTC()

	switch opts.output {
	case "table", "json", "yaml":
	default:
		return opts, fmt.Errorf("unknown output format %q", opts.output)
	}
	return opts, nil
}

// newLogger writes console logs to w so stdout carries only the report.
func newLogger(level string, w io.Writer) *zap.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), logger.ParseLevel(level))
	return zap.New(core)
}
