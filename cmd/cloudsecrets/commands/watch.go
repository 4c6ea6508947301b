package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/systmms/cloudsecrets/internal/config"
	"github.com/systmms/cloudsecrets/internal/providers"
)

const defaultWatchInterval = 30 * time.Second

func NewWatchCommand(cfg *config.Config, sel *StoreSelector) *cobra.Command {
	var (
		interval    time.Duration
		duration    time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll a store and report new versions",
		Long: `Keep a store open with background polling and print the names of keys
that change whenever a new latest version appears. Values are never printed.

With --metrics-addr, operation and poll counters are served in the
Prometheus text format on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := sel.Resolve(cfg)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interval") || store.PollInterval == "" {
				store.PollInterval = interval.String()
			}
			if store.Version != "" {
				cfg.Logger.Warn("Store is pinned to version %s; polling will not move it", store.Version)
			}

			if metricsAddr != "" {
				providers.InitMetrics()
				srv := &http.Server{
					Addr:              metricsAddr,
					Handler:           metricsMux(),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						cfg.Logger.Error("Metrics server stopped: %v", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				cfg.Logger.Info("Serving metrics on %s/metrics", metricsAddr)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			s, err := store.Open(ctx, providers.NewRegistry(), cfg.Logger, nil)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			return watchVersions(ctx, cmd.OutOrStdout(), s, checkEvery(store.PollInterval))
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", defaultWatchInterval, "Poll interval")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 watches until interrupted)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// checkEvery samples the cache at half the poll interval so a new version
// is reported within one cycle of being fetched.
func checkEvery(pollInterval string) time.Duration {
	d, err := time.ParseDuration(pollInterval)
	if err != nil || d <= 0 {
		return defaultWatchInterval / 2
	}
	return max(d/2, time.Millisecond)
}

// watchVersions reports each new cached version until ctx is done.
func watchVersions(ctx context.Context, out io.Writer, s *providers.SecretStore, every time.Duration) error {
	version := s.Version()
	previous := s.Secrets()
	_, _ = fmt.Fprintf(out, "%s at version %s (%d keys)\n", s.Name(), displayVersion(version), len(previous))

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			current := s.Version()
			if current == version {
				continue
			}
			secrets := s.Secrets()
			_, _ = fmt.Fprintf(out, "%s moved to version %s\n", s.Name(), displayVersion(current))
			for _, line := range diffKeys(previous, secrets) {
				_, _ = fmt.Fprintf(out, "  %s\n", line)
			}
			version, previous = current, secrets
		}
	}
}

func displayVersion(v string) string {
	if v == "" {
		return "none"
	}
	return v
}

// diffKeys lists the key names that differ, marked +, - or ~.
func diffKeys(before, after map[string]string) []string {
	var lines []string
	for k, v := range after {
		old, ok := before[k]
		switch {
		case !ok:
			lines = append(lines, "+ "+k)
		case old != v:
			lines = append(lines, "~ "+k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			lines = append(lines, "- "+k)
		}
	}
	slices.SortFunc(lines, func(a, b string) int {
		return strings.Compare(a[2:], b[2:])
	})
	return lines
}
