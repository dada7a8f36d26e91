package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/mattias800/miscord/internal/adapters/http"
	"github.com/mattias800/miscord/internal/adapters/rtc"
	ws "github.com/mattias800/miscord/internal/adapters/signal"
	"github.com/mattias800/miscord/internal/app"
	"github.com/mattias800/miscord/internal/app/orch"
	"github.com/mattias800/miscord/internal/config"
	"github.com/mattias800/miscord/internal/sfu"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	registry := sfu.DefaultRegistry()
	media := sfu.New(registry, cfg.SFU)

	factory, err := rtc.NewFactory(registry, cfg.ICEServers)
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc factory")
	}

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Channels: app.NewChannelDirectory(),
		Policy:   app.SimplePolicy{},
		Media:    media,
	}

	ctl := ws.NewSignalWSController(o, factory)
	media.SetEvents(ctl)

	r := router.SetupRouter(ctx, cfg, o, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Miscord server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
