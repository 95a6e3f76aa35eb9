package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bryanveloso/eventfabric/internal/bus"
	"github.com/bryanveloso/eventfabric/internal/campaign"
	"github.com/bryanveloso/eventfabric/internal/config"
	"github.com/bryanveloso/eventfabric/internal/eventsub"
	"github.com/bryanveloso/eventfabric/internal/game/ffbot"
	"github.com/bryanveloso/eventfabric/internal/game/ironmon"
	"github.com/bryanveloso/eventfabric/internal/kv"
	"github.com/bryanveloso/eventfabric/internal/limitbreak"
	"github.com/bryanveloso/eventfabric/internal/metrics"
	"github.com/bryanveloso/eventfabric/internal/music"
	"github.com/bryanveloso/eventfabric/internal/obs"
	"github.com/bryanveloso/eventfabric/internal/osc"
	"github.com/bryanveloso/eventfabric/internal/overlay"
	"github.com/bryanveloso/eventfabric/internal/scheduler"
	"github.com/bryanveloso/eventfabric/internal/status"
	"github.com/bryanveloso/eventfabric/internal/store"
	"github.com/bryanveloso/eventfabric/internal/twitch"
	"github.com/bryanveloso/eventfabric/internal/wsgateway"
	pkgmetrics "github.com/bryanveloso/eventfabric/pkg/metrics"

	_ "github.com/lib/pq"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion, aggregation, and overlay fan-out service",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("obs-url", "", "OBS WebSocket URL (ws://host:port)")
	serveCmd.Flags().String("obs-password", "", "OBS WebSocket password")
	serveCmd.Flags().Bool("obs-auto-refresh-browser-sources", false, "Refresh overlay browser sources on OBS reconnect")
}

// runServe wires every subsystem and runs them under one errgroup so a fatal
// error in any long-running component brings the whole process down for the
// external supervisor (systemd, docker) to restart, rather than silently
// degrading to a half-running service.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel, _ := cmd.Flags().GetString("log-level")
	env, _ := cmd.Flags().GetString("env")
	log, err := buildLogger(env, logLevel, cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	db, err := store.Open(cfg.PostgresDSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	queries := store.New(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.RedisPoolSize,
		MinIdleConns: cfg.RedisMinIdleConns,
		MaxRetries:   cfg.RedisMaxRetries,
	})
	defer redisClient.Close()

	b := bus.New(redisClient, log)
	kvStore := kv.New(redisClient, log)

	tz, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		log.Warn("unknown timezone, falling back to UTC", zap.String("tz", cfg.TimeZone), zap.Error(err))
		tz = time.UTC
	}

	tokens := newStaticTokenStoreFromEnv(cfg.TwitchClientID)
	ads := twitch.NewCommercialStarter(tokens, "twitch", cfg.TwitchBroadcasterID, log)

	campaignSvc := campaign.New(queries, b, log)
	campaignConsumer := campaign.NewConsumer(campaignSvc, b, log)
	eventPersister := store.NewPersister(queries, b, log)
	statusSvc := status.New(kvStore, b, log)
	limitbreakSvc := limitbreak.New(kvStore, b, cfg.LimitBreakRewardIDs, cfg.LimitBreakBarCapacity, log)
	sched := scheduler.New(kvStore, b, ads, log)

	adapter := eventsub.New(eventsub.Config{
		WSURL:       cfg.EventSubWSURL,
		Service:     "twitch",
		UserID:      cfg.TwitchBroadcasterID,
		RestartHour: cfg.AdRestartHour,
		TimeZone:    tz,
	}, tokens, b, kvStore, log)

	var oscListener *osc.Listener
	if cfg.OSCAddr != "" {
		oscListener, err = osc.Listen(cfg.OSCAddr, b, log)
		if err != nil {
			return fmt.Errorf("start osc listener: %w", err)
		}
	}

	var obsClient *obs.Client
	if obsURL, _ := cmd.Flags().GetString("obs-url"); obsURL != "" {
		obsPassword, _ := cmd.Flags().GetString("obs-password")
		autoRefresh, _ := cmd.Flags().GetBool("obs-auto-refresh-browser-sources")
		obsClient = obs.NewClient(obsURL, obsPassword, b, log, autoRefresh)
	}

	var musicPoller *music.Poller
	if cfg.MusicPollURL != "" {
		musicPoller = music.NewPoller(cfg.MusicPollURL, b, log)
	}

	ffbotHandler := ffbot.NewHandler(queries, b, log)
	ironmonServer := ironmon.NewServer(cfg.GameTCPAddr, kvStore, b, log)

	snapshotter := &overlay.CompositeSnapshotter{
		Store:      queries,
		Campaign:   campaignSvc,
		OBS:        obsClient,
		OSC:        oscListener,
		Music:      musicPoller,
		Status:     statusSvc,
		LimitBreak: limitbreakSvc,
	}
	overlayServer := overlay.NewServer(b, snapshotter, log)

	eventsHandler := wsgateway.NewEventsHandler(b, log)
	adsHandler := wsgateway.NewAdsHandler(b, kvStore, log)
	musicHandler := wsgateway.NewMusicHandler(b, log)
	audioHandler := wsgateway.NewAudioHandler(b, cfg.AudioMaxStringLength, cfg.AudioMaxDataSize, cfg.AudioRateLimitPerSecond, log)

	overlayMux := http.NewServeMux()
	overlayMux.Handle("/ws/overlay/", overlayServer)
	overlayHTTPServer := &http.Server{Addr: cfg.OverlayAddr, Handler: overlayMux}

	gatewayMux := http.NewServeMux()
	gatewayMux.Handle("/ws/events/", eventsHandler)
	gatewayMux.Handle("/ws/ads/", adsHandler)
	gatewayMux.Handle("/ws/music/", musicHandler)
	gatewayMux.Handle("/ws/audio/", audioHandler)
	gatewayHTTPServer := &http.Server{Addr: cfg.WSGatewayAddr, Handler: gatewayMux}

	gameMux := http.NewServeMux()
	gameMux.Handle("/api/games/ffbot/", ffbotHandler)
	gameHTTPServer := &http.Server{Addr: cfg.GameHTTPAddr, Handler: gameMux}

	metricsServer := metrics.NewServer(cfg.MetricsAddr)
	pkgmetrics.CollectSystemMetrics(15 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if err := sched.Start(gctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	g.Go(func() error {
		<-gctx.Done()
		sched.Stop()
		return nil
	})

	g.Go(func() error { return adapter.Run(gctx) })
	g.Go(func() error { return campaignConsumer.Run(gctx) })
	g.Go(func() error { return eventPersister.Run(gctx) })
	g.Go(func() error { return ironmonServer.Run(gctx) })
	if oscListener != nil {
		g.Go(func() error { return oscListener.Run(gctx) })
	}
	if obsClient != nil {
		g.Go(func() error { return obsClient.Run(gctx) })
	}
	if musicPoller != nil {
		g.Go(func() error { return musicPoller.Run(gctx) })
	}

	runHTTPServer(g, gctx, overlayHTTPServer, "overlay", log)
	runHTTPServer(g, gctx, gatewayHTTPServer, "ws-gateway", log)
	runHTTPServer(g, gctx, gameHTTPServer, "game-http", log)
	runHTTPServer(g, gctx, metricsServer, "metrics", log)

	log.Info("eventfabric serving",
		zap.String("overlay_addr", cfg.OverlayAddr),
		zap.String("ws_gateway_addr", cfg.WSGatewayAddr),
		zap.String("game_http_addr", cfg.GameHTTPAddr),
		zap.String("game_tcp_addr", cfg.GameTCPAddr),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("service exited: %w", err)
	}
	return nil
}

// runHTTPServer registers srv's ListenAndServe and a shutdown goroutine tied
// to gctx with the group, following the adapter/poller pattern of one
// long-running Run(ctx) call per component.
func runHTTPServer(g *errgroup.Group, gctx context.Context, srv *http.Server, name string, log *zap.Logger) {
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown error", zap.String("server", name), zap.Error(err))
		}
		return nil
	})
}
