package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"boutique/internal/config"
	"boutique/internal/ratelimit"
	"boutique/internal/server"
	"boutique/internal/util"
	"boutique/pkg/cart"
	"boutique/pkg/checkout"
	"boutique/pkg/cms"
	"boutique/pkg/events"
	"boutique/pkg/mail"
	"boutique/pkg/persist"
	"boutique/pkg/session"
	"boutique/pkg/wishlist"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}

	store, err := buildStore(cfg, redisClient)
	if err != nil {
		log.Fatalf("failed to init state store: %v", err)
	}

	cmsClient := cms.NewClient(cfg.CMSBaseURL)

	var syncer wishlist.Syncer = wishlist.NewReconciler(cmsClient)
	var outbox *wishlist.Outbox
	if cfg.OutboxStream != "" {
		outbox, err = wishlist.NewOutbox(wishlist.OutboxConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     cfg.OutboxStream,
			Group:      cfg.OutboxGroup,
			MaxRetries: cfg.OutboxMaxRetries,
		}, syncer)
		if err != nil {
			log.Fatalf("failed to init wishlist outbox: %v", err)
		}
		syncer = outbox
	}

	// Containers are built once so every request shares one state
	// instance per slot.
	cartStore := cart.New(ctx, store)
	authSession := session.New(ctx, store)
	favorites := wishlist.New(ctx, store, syncer)

	payments, err := checkout.NewService(checkout.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		AppBaseURL:    cfg.AppBaseURL,
	})
	if err != nil {
		log.Fatalf("failed to init payments: %v", err)
	}

	var mailer mail.Mailer
	if cfg.SendgridAPIKey != "" {
		mailer, err = mail.NewSendGridMailer(cfg.SendgridAPIKey, cfg.MailFromName, cfg.MailFrom)
		if err != nil {
			log.Fatalf("failed to init mailer: %v", err)
		}
	}

	var publisher *events.Publisher
	if cfg.AMQPURL != "" {
		publisher, err = events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("failed to init event publisher: %v", err)
		}
		defer publisher.Close()
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.AuthRateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewFixedWindowLimiter(redisClient, "boutique:ratelimit:auth",
			cfg.AuthRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	serverCfg := server.Config{
		CMS:            cmsClient,
		CMSToken:       cfg.CMSToken,
		Payments:       payments,
		Mailer:         mailer,
		Limiter:        limiter,
		TrustedProxies: proxies,
		Cart:           cartStore,
		Session:        authSession,
		Wishlist:       favorites,
	}
	if publisher != nil {
		serverCfg.Publisher = publisher
	}
	httpServer := server.New(serverCfg)

	handler := util.WithRequestID(
		util.WithRequestLog("storefront",
			util.WithSecurityHeaders(
				util.WithCORS(cfg.AllowedOrigins, httpServer.Router()))))

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("storefront listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if outbox != nil {
		outbox.Start(groupCtx)
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}

func buildStore(cfg config.FileConfig, redisClient *redis.Client) (persist.Store, error) {
	switch cfg.StateStore {
	case "", config.StoreMemory:
		return persist.NewMemoryStore(), nil
	case config.StoreFile:
		return persist.NewFileStore(cfg.StateDir)
	case config.StoreRedis:
		ttl, err := config.ParseStateTTL(cfg.StateTTL)
		if err != nil {
			return nil, err
		}
		return persist.NewRedisStore(redisClient, "", ttl), nil
	case config.StorePostgres:
		return persist.NewGormStore(cfg.DatabaseURL)
	case config.StoreMinio:
		return persist.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey,
			cfg.MinioBucket, cfg.MinioUseSSL)
	default:
		return nil, errors.New("unknown state store " + cfg.StateStore)
	}
}
