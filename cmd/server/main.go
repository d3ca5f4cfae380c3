package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/podcast/internal/adapters/http"
	"github.com/dkeye/podcast/internal/app"
	"github.com/dkeye/podcast/internal/app/orch"
	"github.com/dkeye/podcast/internal/app/relay"
	"github.com/dkeye/podcast/internal/auth"
	"github.com/dkeye/podcast/internal/config"
	"github.com/dkeye/podcast/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	store, err := auth.NewStore(cfg.Credentials)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid credentials")
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	reg := app.NewRegistry(m)
	wd := app.NewWatchdog(reg, cfg.Watchdog.GracePeriod, cfg.Watchdog.Interval, m)
	o := orch.New(ctx, reg, wd, m, orch.RelayConfig{
		BindHost:    cfg.Relay.BindHost,
		Ports:       relay.PortRange{Start: uint16(cfg.Relay.PortStart), Count: cfg.Relay.PortCount},
		MaxDatagram: cfg.Relay.MaxDatagram,
	})

	r := router.SetupRouter(ctx, cfg, o, store, promReg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", addr).
			Str("relay_host", cfg.Relay.BindHost).
			Int("relay_port_start", cfg.Relay.PortStart).
			Int("relay_port_count", cfg.Relay.PortCount).
			Msg("Podcast server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	o.Shutdown()
	log.Info().Msg("Server exited gracefully")
}
