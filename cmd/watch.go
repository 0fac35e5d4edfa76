package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/duty-time-tracker/internal/obs"
)

var (
	watchMetricsAddr string
	watchRescan      time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor every active duty session until interrupted",
	Long: `watch keeps a liveness monitor running for every member on duty and ends
their sessions when the game server stops. Sessions started from other
terminals are picked up on each rescan.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve /metrics and /health on this address (e.g. :9090)")
	watchCmd.Flags().DurationVar(&watchRescan, "rescan", 30*time.Second, "How often to look for sessions started elsewhere")
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.probe == nil {
		return setup(errors.New(`no liveness probe configured (set liveness.probe to "http" or "flag")`))
	}
	if watchRescan <= 0 {
		return errors.New("--rescan must be positive")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs.Init()
	var srv *http.Server
	if watchMetricsAddr != "" {
		srv = newMetricsServer(watchMetricsAddr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				obs.Log(obs.LevelError, "metrics server failed", map[string]any{"addr": srv.Addr, "err": err})
				stop()
			}
		}()
		obs.Log(obs.LevelInfo, "serving metrics", map[string]any{"addr": srv.Addr})
	}

	fmt.Fprintf(os.Stderr, "Watching duty sessions (rescan every %s). Ctrl-C to stop.\n", watchRescan)
	err = watchLoop(ctx, a, watchRescan)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return err
}

// watchLoop reconciles monitors with the store until ctx is done.
func watchLoop(ctx context.Context, a *app, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := a.duty.Reconcile(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			obs.Log(obs.LevelWarn, "reconcile failed", map[string]any{"err": err})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
