package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/firsec/fir/internal/application"
	"github.com/firsec/fir/internal/auth"
	"github.com/firsec/fir/internal/config"
	"github.com/firsec/fir/internal/events"
	"github.com/firsec/fir/internal/infrastructure/graph"
	"github.com/firsec/fir/internal/infrastructure/postgres"
	"github.com/firsec/fir/internal/oauth"
	"github.com/firsec/fir/internal/obs"
	"github.com/firsec/fir/internal/session"
	transporthttp "github.com/firsec/fir/internal/transport/http"
)

func main() {
	// ── Logging ──────────────────────────────────────────────────────────────
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// ── Config ───────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Server.Env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Str("env", cfg.Server.Env).Str("port", cfg.Server.Port).Msg("starting fir")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs.Init()

	// ── Database ──────────────────────────────────────────────────────────────
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping failed")
	}
	log.Info().Msg("postgres connected")

	// ── Repositories ──────────────────────────────────────────────────────────
	users := postgres.NewUserRepository(pool)
	tokens := postgres.NewTokenRepository(pool)
	appRegs := postgres.NewAppRegistrationRepository(pool)
	incidents := postgres.NewIncidentRepository(pool)
	comments := postgres.NewCommentRepository(pool)
	artifacts := postgres.NewArtifactRepository(pool)
	attributes := postgres.NewAttributeRepository(pool)
	files := postgres.NewFileRepository(pool)
	refs := postgres.NewReferenceRepository(pool)

	// ── Sessions ──────────────────────────────────────────────────────────────
	store := session.NewMemoryStore(cfg.Session.TTL())
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := store.Sweep(); removed > 0 {
					log.Debug().Int("removed", removed).Msg("swept expired sessions")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// ── Audit events ──────────────────────────────────────────────────────────
	producer, err := events.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka producer")
	}
	if producer != nil {
		defer producer.Close(context.Background())
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("audit events enabled")
	}

	// ── Authentication ────────────────────────────────────────────────────────
	keys := auth.NewJWKSSource(ctx)
	chain := auth.NewChain(
		oauth.NewSessionAuthenticator(store, users, cfg.Session.CookieName),
		auth.NewBearerAuthenticator(appRegs, users, keys),
		auth.NewStaticTokenAuthenticator(tokens, cfg.Auth.TokenHeader, cfg.Auth.TokenKeyword),
	)

	// ── Sign-in flow ──────────────────────────────────────────────────────────
	applier := auth.NewRoleApplier(users, refs, auth.DefaultRoleMapping())
	directory := graph.New(cfg.Graph.BaseURL)
	flow := oauth.New(oauth.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		Tenant:       cfg.OAuth.Tenant,
		RedirectURL:  cfg.OAuth.RedirectURL,
		Scopes:       cfg.OAuth.Scopes,
	}, store, users, applier, directory, refs)

	// ── Application Service & HTTP Server ─────────────────────────────────────
	hub := transporthttp.NewHub()
	svc := application.NewService(incidents, comments, artifacts, attributes, files, users, tokens, refs, hub, producer)

	handler := transporthttp.NewHandler(svc, hub, flow, store, producer, cfg.Session.CookieName)
	router := transporthttp.NewRouter(handler, chain)

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := router.Start(":" + cfg.Server.Port); err != nil {
			log.Info().Msg("HTTP server stopped")
		}
	}()

	// ── Graceful Shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("fir stopped")
}
