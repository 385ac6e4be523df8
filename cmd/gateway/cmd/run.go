package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/fabian4/gateway-homebrew-go/internal/config"
	fwd "github.com/fabian4/gateway-homebrew-go/internal/forward"
	"github.com/fabian4/gateway-homebrew-go/internal/handler"
	"github.com/fabian4/gateway-homebrew-go/internal/health"
	"github.com/fabian4/gateway-homebrew-go/internal/metrics"
	"github.com/fabian4/gateway-homebrew-go/internal/version"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the proxy server",
	RunE:  runGateway,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runGateway(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	watcher, err := config.NewWatcher(configPath, logger)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	initial := watcher.Current()
	transports := fwd.NewDefaultRegistry()
	m := metrics.NewRegistry()

	gw, err := handler.NewGateway(initial, transports, os.Stdout, m, logger)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	prober := newProberSupervisor(gw, logger)
	prober.start()

	watcher.OnReload(func(cfg *config.Config) {
		if err := gw.Reload(cfg); err != nil {
			logger.Printf("reload: rejected new config: %v", err)
			return
		}
		prober.reload(cfg)
		logger.Printf("reload: applied new generation (routes=%d)", len(cfg.Routes))
	})
	if err := watcher.Watch(); err != nil {
		return fmt.Errorf("config watch: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", initial.HTTPPort),
		Handler:           gw,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var metricsSrv *http.Server
	if initial.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%d", initial.MetricsPort), Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics listener: %v", err)
			}
		}()
	}

	go func() {
		logger.Printf("gateway-homebrew-go %s listening on %s (routes=%d)",
			version.Value, srv.Addr, len(initial.Routes))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	prober.stop()
	return gw.Close()
}

// proberSupervisor runs the Health Prober against whatever GatewayState
// generation is currently live, tearing down and restarting the probe
// loop whenever a config reload installs a new generation.
type proberSupervisor struct {
	gw     *handler.Gateway
	logger *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   <-chan struct{}
}

func newProberSupervisor(gw *handler.Gateway, logger *log.Logger) *proberSupervisor {
	return &proberSupervisor{gw: gw, logger: logger}
}

func (s *proberSupervisor) start() {
	s.reload(s.gw.State().Config)
}

func (s *proberSupervisor) reload(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	registry := s.gw.State().Health
	p := health.NewProber(registry, cfg.Routes,
		health.WithInterval(time.Duration(cfg.ProbeIntervalSeconds)*time.Second),
		health.WithTimeout(time.Duration(cfg.ProbeTimeoutSeconds)*time.Second),
		health.WithIssuanceQPS(cfg.ProbeQPS),
		health.WithLogger(s.logger),
	)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = p.Stopped()
	go p.Run(ctx)
}

func (s *proberSupervisor) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
}
