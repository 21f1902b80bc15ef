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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	router "github.com/dkeye/tabletop/internal/adapters/http"
	"github.com/dkeye/tabletop/internal/adapters/rtc"
	wssignal "github.com/dkeye/tabletop/internal/adapters/signal"
	"github.com/dkeye/tabletop/internal/app"
	"github.com/dkeye/tabletop/internal/app/hub"
	"github.com/dkeye/tabletop/internal/config"
	"github.com/dkeye/tabletop/internal/relay/gif"
	"github.com/dkeye/tabletop/internal/relay/upload"
	"github.com/dkeye/tabletop/internal/storage"
	"github.com/dkeye/tabletop/internal/voicetoken"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	snapshot := storage.NewSnapshotFile(afero.NewOsFs(), cfg.SnapshotPath)
	tokens := app.NewTokenStore(snapshot.Load(), snapshot)
	h := hub.New(tokens, app.PolicyByName(cfg.SlowPolicy))
	log.Info().Str("snapshot", snapshot.Path()).Int("tokens", tokens.Len()).Str("slow_policy", cfg.SlowPolicy).Msg("hub ready")

	ice, err := rtc.ICEConfiguration(iceServers(cfg.ICEServers))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid ice_servers")
	}

	gifs, closeGIFs := newGIFService(cfg.GIF)
	defer closeGIFs()

	limiter := router.NewClientRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	go sweep(ctx, limiter, cfg.RateLimit.Window)

	r := router.SetupRouter(ctx, cfg, router.Services{
		Signal: wssignal.NewSignalWSController(h, wssignal.Options{
			SendBuffer: cfg.SendBuffer,
			ReadLimit:  cfg.ReadLimit,
			WriteWait:  cfg.WriteWait,
			PongWait:   cfg.PongWait,
			PingPeriod: cfg.PingPeriod,
		}),
		Status: h,
		Uploads: upload.NewRelay(upload.Options{
			Endpoint: cfg.Upload.Endpoint,
			APIKey:   cfg.Upload.APIKey,
			MaxBytes: cfg.Upload.MaxBytes,
			Timeout:  cfg.Upload.Timeout,
		}, nil),
		GIFs:    gifs,
		Voice:   voicetoken.NewIssuer(cfg.Voice.APIKey, cfg.Voice.APISecret, cfg.Voice.TokenTTL),
		ICE:     ice,
		Limiter: limiter,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Tabletop server started")
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
	log.Info().Msg("Server exited gracefully")
}

func setupLogger(cfg *config.Config) {
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func iceServers(in []config.ICEServer) []rtc.Server {
	out := make([]rtc.Server, 0, len(in))
	for _, s := range in {
		out = append(out, rtc.Server{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return out
}

func newGIFService(cfg config.GIF) (*gif.Service, func()) {
	client := &http.Client{Timeout: cfg.Timeout}
	closer := func() {}

	var cache gif.TokenCache = gif.NewMemoryCache()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		cache = gif.NewRedisCache(rdb)
		closer = func() { _ = rdb.Close() }
		log.Info().Str("addr", cfg.RedisAddr).Msg("gif token cache on redis")
	}

	var providers []gif.Provider
	if cfg.GiphyAPIKey != "" {
		providers = append(providers, &gif.Giphy{Endpoint: cfg.GiphyEndpoint, APIKey: cfg.GiphyAPIKey, Client: client})
	}
	if cfg.GfycatClientID != "" && cfg.GfycatClientSecret != "" {
		providers = append(providers, &gif.Gfycat{
			TokenEndpoint:  cfg.GfycatTokenEndpoint,
			SearchEndpoint: cfg.GfycatEndpoint,
			ClientID:       cfg.GfycatClientID,
			ClientSecret:   cfg.GfycatClientSecret,
			Client:         client,
			Cache:          cache,
		})
	}
	if len(providers) == 0 {
		log.Warn().Msg("no gif providers configured, gif search disabled")
	}
	return gif.NewService(providers...), closer
}

func sweep(ctx context.Context, rl *router.ClientRateLimiter, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rl.Sweep()
		}
	}
}
