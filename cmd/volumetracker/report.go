package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Aidin1998/perpstats/internal/analytics"
	"github.com/Aidin1998/perpstats/internal/exchange"
	"github.com/Aidin1998/perpstats/pkg/fixed"
)

const week = 7 * 24 * time.Hour

// FillSource is the part of the exchange client the tracker needs.
type FillSource interface {
	UserFillsByTime(ctx context.Context, user string, start, end time.Time) ([]exchange.Fill, error)
	DayVolumes(ctx context.Context, dex string) (map[string]float64, error)
}

// Report is what the tracker prints.
type Report struct {
	Wallet        string               `json:"wallet"`
	Dex           string               `json:"dex"`
	Mode          string               `json:"mode"`
	Hours         int                  `json:"hours,omitempty"`
	Since         string               `json:"since,omitempty"`
	Volume        analytics.UserVolume `json:"volume"`
	Rank          string               `json:"rank"`
	Activity      *analytics.Activity  `json:"activity,omitempty"`
	Consistency   string               `json:"consistency,omitempty"`
	Tier          string               `json:"estimated_tier,omitempty"`
	FailedWindows int                  `json:"failed_windows,omitempty"`
	GeneratedAt   time.Time            `json:"generated_at"`
}

type window struct {
	start, end time.Time
}

// weeklyWindows splits [since, now) into week-long windows, newest first.
func weeklyWindows(since, now time.Time) []window {
	var out []window
	for end := now; end.After(since); end = end.Add(-week) {
		start := end.Add(-week)
		if start.Before(since) {
			start = since
		}
		out = append(out, window{start: start, end: end})
	}
	return out
}

func collect(ctx context.Context, src FillSource, opts options, now time.Time, log *zap.Logger) (Report, error) {
	r := Report{Wallet: opts.wallet, Dex: opts.dex, GeneratedAt: now}

	var fills []exchange.Fill
	if opts.historical {
		r.Mode = "historical"
		r.Since = opts.since.Format("2006-01-02")
		windows := weeklyWindows(opts.since, now)
		for i, w := range windows {
			batch, err := src.UserFillsByTime(ctx, opts.wallet, w.start, w.end)
			if err != nil {
				if ctx.Err() != nil {
					return r, ctx.Err()
				}
				r.FailedWindows++
				log.Warn("window fetch failed",
					zap.Time("start", w.start), zap.Time("end", w.end), zap.Error(err))
				continue
			}
			for _, f := range batch {
				if opts.dex == "" || hasPrefix(f.Coin, opts.dex) {
					fills = append(fills, f)
				}
			}
			log.Debug("window fetched", zap.Int("window", i+1), zap.Int("of", len(windows)), zap.Int("fills", len(batch)))
			if opts.pace > 0 && i < len(windows)-1 {
				select {
				case <-ctx.Done():
					return r, ctx.Err()
				case <-time.After(opts.pace):
				}
			}
		}
		if r.FailedWindows == len(windows) && len(windows) > 0 {
			return r, fmt.Errorf("all %d history windows failed", len(windows))
		}
	} else {
		r.Mode = "window"
		r.Hours = opts.hours
		batch, err := src.UserFillsByTime(ctx, opts.wallet, now.Add(-time.Duration(opts.hours)*time.Hour), now)
		if err != nil {
			return r, fmt.Errorf("fetch fills: %w", err)
		}
		fills = batch
	}

	volumes, err := src.DayVolumes(ctx, opts.dex)
	if err != nil {
		log.Warn("market volumes unavailable, shares will be zero", zap.Error(err))
		volumes = map[string]float64{}
	}
	r.Volume = analytics.WalletVolume(fills, opts.dex, volumes)
	r.Rank = rankLabel(r.Volume.MarketSharePct)

	if opts.historical {
		a := analytics.ActivityMetrics(fills)
		r.Activity = &a
		r.Consistency = analytics.ConsistencyRating(a.ConsistencyPct)
		r.Tier = estimatedTier(a.TotalVolume, a.DaysActive)
	}
	return r, nil
}

func hasPrefix(coin, dex string) bool {
	return len(coin) > len(dex) && coin[:len(dex)] == dex && coin[len(dex)] == ':'
}

// rankLabel maps a share of dex volume to a rough standing.
func rankLabel(sharePct float64) string {
	switch {
	case sharePct >= 1:
		return "Top 1%"
	case sharePct >= 0.2:
		return "Top 5%"
	case sharePct >= 0.1:
		return "Top 10%"
	case sharePct > 0:
		return "Active Trader"
	default:
		return "Inactive"
	}
}

// estimatedTier buckets lifetime volume and active days into a speculative reward tier.
func estimatedTier(volume float64, activeDays int) string {
	switch {
	case volume >= 10_000_000 && activeDays >= 60:
		return "Tier 1"
	case volume >= 1_000_000 && activeDays >= 30:
		return "Tier 2"
	case volume >= 100_000 && activeDays >= 14:
		return "Tier 3"
	case volume >= 10_000 && activeDays >= 7:
		return "Tier 4"
	case volume > 0:
		return "Small"
	default:
		return "None"
	}
}

func formatCurrency(v float64) string {
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%s$%.2fB", sign, v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%s$%.2fM", sign, v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%s$%.2fK", sign, v/1e3)
	default:
		return fmt.Sprintf("%s$%.2f", sign, v)
	}
}

func render(w io.Writer, r Report, format string) error {
	switch format {
	case "json":
		b, err := fixed.Marshal(r)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", b)
		return err
	case "yaml":
		b, err := toYAML(r)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	default:
		return renderTable(w, r)
	}
}

// toYAML goes through the canonical JSON form so keys and numbers match the json output.
func toYAML(v any) ([]byte, error) {
	b, err := fixed.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	blockStyle(&doc)
	return yaml.Marshal(&doc)
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func renderTable(w io.Writer, r Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Wallet\t%s\n", r.Wallet)
	if r.Mode == "historical" {
		fmt.Fprintf(tw, "Period\tsince %s\n", r.Since)
	} else {
		fmt.Fprintf(tw, "Period\tlast %dh\n", r.Hours)
	}
	fmt.Fprintf(tw, "Dex\t%s\n", r.Dex)
	fmt.Fprintf(tw, "Volume\t%s\n", formatCurrency(r.Volume.TotalVolume))
	fmt.Fprintf(tw, "Trades\t%d\n", r.Volume.TotalTrades)
	fmt.Fprintf(tw, "Avg trade\t%s\n", formatCurrency(r.Volume.AvgTradeSize))
	fmt.Fprintf(tw, "Market share (24h)\t%.4f%%\t%s\n", r.Volume.MarketSharePct, r.Rank)
	if r.Activity != nil {
		a := r.Activity
		fmt.Fprintf(tw, "Active days\t%d of %d\t%.1f%% %s\n", a.DaysActive, a.TotalDays, a.ConsistencyPct, r.Consistency)
		fmt.Fprintf(tw, "Avg daily volume\t%s\n", formatCurrency(a.AvgDailyVolume))
		fmt.Fprintf(tw, "Estimated tier\t%s\n", r.Tier)
		if r.FailedWindows > 0 {
			fmt.Fprintf(tw, "Failed windows\t%d\n", r.FailedWindows)
		}
	}

	if len(r.Volume.ByAsset) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "COIN\tVOLUME\tTRADES\tSHARE")
		for _, a := range r.Volume.ByAsset {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%.4f%%\n", a.Coin, formatCurrency(a.Volume), a.Trades, a.SharePct)
		}
	}

	if r.Activity != nil && len(r.Activity.MonthlyBreakdown) > 0 {
		months := make([]string, 0, len(r.Activity.MonthlyBreakdown))
		for m := range r.Activity.MonthlyBreakdown {
			months = append(months, m)
		}
		sort.Strings(months)
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "MONTH\tVOLUME")
		for _, m := range months {
			fmt.Fprintf(tw, "%s\t%s\n", m, formatCurrency(r.Activity.MonthlyBreakdown[m]))
		}
	}

	if len(r.Volume.UntradedMarkets) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintf(tw, "Untraded markets\t%d\n", len(r.Volume.UntradedMarkets))
		for _, c := range r.Volume.UntradedMarkets {
			fmt.Fprintf(tw, "\t%s\n", c)
		}
	}
	return tw.Flush()
}
