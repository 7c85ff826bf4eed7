package main

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voyager-backend/internal/config"
	"voyager-backend/internal/controller"
	"voyager-backend/internal/db"
	"voyager-backend/internal/history"
	"voyager-backend/internal/ingest"
	"voyager-backend/internal/intent"
	"voyager-backend/internal/llm"
	"voyager-backend/internal/providers"
	"voyager-backend/internal/router"
	"voyager-backend/internal/server"
	"voyager-backend/internal/voice"
)

const memoryHistoryLimit = 500

func setupLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}

// openStore connects the configured history backend. The returned *db.DB is
// nil for the graph and memory backends.
func openStore(ctx context.Context, cfg config.Config, migrate bool) (history.Store, *db.DB, error) {
	switch cfg.HistoryBackend {
	case config.BackendNeo4j:
		s, err := history.NewNeo4jStore(ctx, cfg.Neo4jURI, cfg.Neo4jUsername, cfg.Neo4jPassword, cfg.Neo4jDatabase)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case config.BackendPostgres, config.BackendSQLite:
		dialect, dsn := db.Postgres, cfg.DatabaseURL
		if cfg.HistoryBackend == config.BackendSQLite {
			dialect, dsn = db.SQLite, cfg.DBPath
		}
		database, err := db.Open(dialect, dsn)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open history database")
		}
		if migrate {
			if err := database.RunMigrations(ctx, db.Migrations); err != nil {
				_ = database.Close()
				return nil, nil, errors.Wrap(err, "migrate history database")
			}
		}
		return history.NewSQLStore(database), database, nil
	case config.BackendMemory:
		log.Warn().Str("component", "history").Msg("using in-memory history; records are lost on restart")
		return history.NewMemoryStore(memoryHistoryLimit), nil, nil
	}
	return nil, nil, errors.Errorf("unknown history backend %q", cfg.HistoryBackend)
}

// app holds every long-lived collaborator built from the configuration.
type app struct {
	cfg      config.Config
	store    history.Store
	database *db.DB
	recorder *history.Recorder
	ingest   *ingest.Service
	groq     *llm.GroqClient
	ctrl     controller.Deps
	srv      server.Deps
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	store, database, err := openStore(ctx, cfg, true)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: store, database: database}

	a.groq = llm.NewGroqClient(cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.Model, cfg.HTTPTimeout)
	classifier, err := intent.LoadClassifier(cfg.IntentPromptPath, a.groq)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.ingest, err = ingest.New(ingest.Settings{
		Enabled:   cfg.CoralEnabled,
		ServerURL: cfg.CoralServerURL,
		Token:     cfg.CoralAuthToken,
		RedisAddr: cfg.RedisAddr,
		Timeout:   cfg.HTTPTimeout,
	})
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.recorder = history.NewRecorder(store, 0)

	opts := providers.Options{RapidAPIKey: cfg.RapidAPIKey, Timeout: cfg.HTTPTimeout}
	recipes := providers.NewSpoonacular(opts, cfg.SpoonacularAPIKey)
	clients := router.Clients{
		Flights:    providers.NewFlights(opts),
		Hotels:     providers.NewHotels(opts, providers.NewGeocoder(opts, cfg.LocationIQAPIKey)),
		Ebay:       providers.NewEbay(opts),
		AliExpress: providers.NewAliExpress(opts),
		Recipes:    recipes,
	}

	a.ctrl = controller.Deps{
		Classifier: classifier,
		Router:     router.New(clients, a.recorder),
		Recorder:   a.recorder,
		Publisher:  a.ingest,
	}
	a.srv = server.Deps{
		History:     store,
		Recorder:    a.recorder,
		Recommender: history.NewRecommender(store, a.groq),
		Restaurants: providers.NewYelp(opts),
		Recipes:     recipes,
		Currency:    providers.NewExchangeRates(opts, cfg.ExchangeRateAPIKey),
		STT:         a.groq.Client(),
		TTS:         voice.NewElevenLabs(cfg.ElevenAPIKey, cfg.ElevenVoiceID, cfg.ElevenModel, "", 0),
	}
	if database != nil {
		a.srv.Health = database
	}
	return a, nil
}

// close flushes pending history and releases connections.
func (a *app) close(ctx context.Context) {
	if a.recorder != nil {
		if err := a.recorder.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("history recorder did not drain")
		}
	}
	if a.ingest != nil {
		if err := a.ingest.Close(); err != nil {
			log.Warn().Err(err).Msg("close event ingestion")
		}
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("close history store")
		}
	}
}
