package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"courtbot/internal/config"
	"courtbot/internal/domain"
	apphttp "courtbot/internal/http"
	"courtbot/internal/integrations/campus"
	"courtbot/internal/integrations/telegram"
	"courtbot/internal/integrations/webhook"
	"courtbot/internal/security/secretbox"
	"courtbot/internal/service/booking"
	storepkg "courtbot/internal/store"
	"courtbot/internal/store/memory"
	"courtbot/internal/store/postgres"
	"courtbot/internal/store/sqlite"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg := config.Load()

	st := openStore(cfg)
	defer st.Close()
	if cfg.WebhookURL != "" {
		publisher := webhook.NewPublisher(
			cfg.WebhookURL,
			cfg.WebhookTimeout,
			cfg.WebhookMaxRetries,
			cfg.WebhookRetryBase,
			cfg.WebhookRetryMax,
		)
		st = storepkg.WithPublisher(st, publisher, cfg.WebhookTimeout)
	}

	notifier := telegram.NewNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)

	var box *secretbox.Box
	if cfg.CredentialSecret != "" {
		b, err := secretbox.New(cfg.CredentialSecret)
		if err != nil {
			log.Printf("credential encryption disabled: %v", err)
		} else {
			box = b
		}
	} else {
		log.Printf("CREDENTIAL_SECRET not set: login material will not be persisted")
	}

	connector := newConnector(cfg, st, notifier)
	srv := apphttp.NewServer(cfg, st, connector, box)
	defer srv.Close()

	autoLogin(cfg, st, box, connector, srv)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("courtbot API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func openStore(cfg config.Config) storepkg.Store {
	switch cfg.StoreMode {
	case "postgres":
		if cfg.DatabaseURL != "" {
			pgStore, err := postgres.NewStore(cfg.DatabaseURL)
			if err == nil {
				return pgStore
			}
			log.Printf("postgres store unavailable, falling back to memory store: %v", err)
		}
	case "sqlite":
		sqlStore, err := sqlite.NewStore(cfg.SQLitePath)
		if err == nil {
			return sqlStore
		}
		log.Printf("sqlite store unavailable, falling back to memory store: %v", err)
	}
	return memory.NewStore()
}

// newConnector builds the login handshake the HTTP layer runs on demand:
// platform login, hop into the booking sub-application, then a scheduler
// bound to that session.
func newConnector(cfg config.Config, st storepkg.Store, notifier *telegram.Notifier) apphttp.Connector {
	return func(ctx context.Context, creds domain.Credentials) (apphttp.Engine, error) {
		client, err := campus.NewClient(ctx, creds.Username, creds.Password, campus.Options{
			Endpoints:     campus.EndpointsFor(cfg.LoginBaseURL, cfg.OrgBaseURL, cfg.BookingBaseURL, cfg.PayMarker),
			PromptTimeout: cfg.PromptTimeout,
			DeviceID:      creds.DeviceID,
		})
		if err != nil {
			return nil, err
		}
		if err := client.Login(ctx); err != nil {
			return nil, err
		}
		if err := client.Hop(ctx); err != nil {
			return nil, err
		}
		scheduler := booking.New(client, st, notifier, booking.Config{
			MonitorInterval: cfg.MonitorInterval,
			MonitorJitter:   cfg.MonitorJitter,
			Retry:           booking.RetryPolicy{MaxAttempts: cfg.MaxRetries, RehopOnExpired: true},
			OpenTime:        cfg.BookingOpenTime,
			Location:        cfg.Location(),
		})
		if err := scheduler.RefreshVenues(ctx); err != nil {
			log.Printf("venue catalog unavailable at connect time: %v", err)
		}
		return scheduler, nil
	}
}

// autoLogin restores the platform session from saved credentials so the bot
// comes back up unattended after a restart.
func autoLogin(cfg config.Config, st storepkg.Store, box *secretbox.Box, connector apphttp.Connector, srv *apphttp.Server) {
	if box == nil {
		return
	}
	creds, ok := st.LoadCredentials()
	if !ok {
		return
	}
	password, err := box.Decrypt(creds.Password)
	if err != nil {
		log.Printf("saved credentials unreadable, skipping auto-login: %v", err)
		return
	}
	creds.Password = password

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PromptTimeout+time.Minute)
	defer cancel()
	engine, err := connector(ctx, creds)
	if err != nil {
		log.Printf("auto-login failed for %s: %v", creds.Username, err)
		return
	}
	srv.SetEngine(engine)
	log.Printf("auto-login succeeded for %s", creds.Username)
}
