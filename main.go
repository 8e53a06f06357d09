package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"livedesk/config"
	"livedesk/internal/chat"
	"livedesk/internal/events"
	"livedesk/internal/handlers"
	"livedesk/internal/integrations/credentials"
	"livedesk/internal/integrations/listings"
	"livedesk/internal/integrations/oauth"
	"livedesk/internal/media"
	"livedesk/internal/notify"
	"livedesk/internal/presence"
	"livedesk/internal/store"
	"livedesk/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.InitLogger("info", "console")
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.InitLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := store.Open(cfg.DBDialect, cfg.DBURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		_ = db.Close()
	}()

	sessionStore := store.NewSessionStore(db)
	conversationStore := store.NewConversationStore(db)
	profileStore := store.NewProfileStore(db)
	credentialStore := store.NewCredentialStore(db)

	bus := events.NewBus()
	bridge := events.NewRabbitBridge(cfg.RabbitURL, cfg.RabbitQueuePrefix)
	defer bridge.Close()
	if bridge.Enabled() {
		bus.AttachBridge(bridge)
	}

	poller := presence.NewPoller(sessionStore, profileStore, conversationStore, bus, presence.PollerOptions{
		Interval:   cfg.PollInterval,
		Window:     cfg.ActivityWindow,
		FetchLimit: cfg.SessionFetchCap,
		VisitorCap: cfg.VisitorCap,
	})

	gate := chat.NewGate(conversationStore, poller, bus, nil)
	trigger := notify.NewTrigger(bus, cfg.AlertDisplayFor, nil)

	listingsClient, err := listings.NewClient(cfg.ListingsBaseURL, cfg.ListingsTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize listings client")
	}
	orchestrator := listings.NewOrchestrator(listingsClient, bus)
	manager := credentials.NewManager(listings.Integration, credentialStore, orchestrator, bus, cfg.CooldownPeriod, nil)

	var exchanger *oauth.Exchanger
	if cfg.OAuthClientID != "" {
		exchanger, err = oauth.NewExchanger(oauth.Options{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			AuthURL:      cfg.OAuthAuthURL,
			TokenURL:     cfg.OAuthTokenURL,
			RedirectURL:  cfg.OAuthRedirectURL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize OAuth exchanger")
		}
	} else {
		log.Info().Msg("OAUTH_CLIENT_ID is not set. OAuth exchange disabled.")
	}

	mediaStore, err := media.NewStore(media.Config{
		Enabled:   cfg.S3Enabled,
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		PublicURL: cfg.S3PublicURL,
		PathStyle: cfg.S3PathStyle,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize attachment storage")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runAlertLoop(ctx, db, conversationStore, trigger, bus)

	server := handlers.NewServer(handlers.Options{
		APIToken:      cfg.APIToken,
		Poller:        poller,
		Gate:          gate,
		Trigger:       trigger,
		Manager:       manager,
		Orchestrator:  orchestrator,
		Exchanger:     exchanger,
		AllowedOrigin: cfg.OAuthAllowedOrigin,
		Media:         mediaStore,
		Sessions:      sessionStore,
		Conversations: conversationStore,
	})

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Handler(),
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	poller.SetOnline(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
}

// runAlertLoop feeds open-conversation counts into the notification trigger.
// Counts arrive from the conversation change feed (LISTEN/NOTIFY or poll
// fallback) and from locally created conversations; one coarse ticker drives
// alert expiry.
func runAlertLoop(ctx context.Context, db *store.DB, convs *store.ConversationStore, trigger *notify.Trigger, bus *events.Bus) {
	observe := func() {
		count, err := convs.OpenCount(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Open-conversation count failed, skipping observation")
			return
		}
		trigger.Observe(count)
	}

	unsubscribe := bus.Subscribe(events.TopicConversationCreated, func(events.Event) {
		observe()
	})
	defer unsubscribe()

	go db.WatchConversations(ctx, observe)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trigger.Tick()
		}
	}
}
