package application

import (
	"context"
	"fmt"
	"log/slog"

	"thirdcoast.systems/allthethings/internal/assets"
	"thirdcoast.systems/allthethings/internal/config"
	"thirdcoast.systems/allthethings/internal/db"
	"thirdcoast.systems/allthethings/internal/ingest"
	"thirdcoast.systems/allthethings/internal/jobs"
	"thirdcoast.systems/allthethings/internal/replicate"
	"thirdcoast.systems/allthethings/internal/search"
	"thirdcoast.systems/allthethings/internal/webhook"
)

// Services is the domain layer behind the HTTP handlers.
type Services struct {
	Store    assets.Store
	Ingest   *ingest.Controller
	Webhooks *webhook.Handler
	Search   *search.Engine
}

// NewServices wires the domain components from an immutable configuration.
func NewServices(conf config.Config, store assets.Store, client jobs.Client, prober ingest.Prober) *Services {
	catalog := jobs.NewCatalog(conf.TranscriptionModelVersion, conf.EmbeddingModelVersion)

	return &Services{
		Store: store,
		Ingest: ingest.NewController(ingest.Options{
			Store:                   store,
			Jobs:                    client,
			Prober:                  prober,
			Catalog:                 catalog,
			TranscriptionWebhookURL: conf.TranscriptionWebhookURL,
		}),
		Webhooks: webhook.NewHandler(webhook.Options{
			Store:               store,
			Jobs:                client,
			Verifier:            webhook.NewVerifier(conf.WebhookSecret),
			Catalog:             catalog,
			EmbeddingWebhookURL: conf.EmbeddingWebhookURL,
			Dimensions:          conf.EmbeddingDimensions,
		}),
		Search: search.NewEngine(search.Options{
			Store:           store,
			Jobs:            client,
			JobType:         catalog.Embedding,
			Dimensions:      conf.EmbeddingDimensions,
			Timeout:         conf.SearchEmbeddingTimeout,
			CandidateFactor: conf.SearchCandidateFactor,
			RateLimit:       conf.SearchRateLimit,
		}),
	}
}

// NewProviderClient builds the job client for the configured provider.
func NewProviderClient(conf config.Config) *replicate.Client {
	return replicate.NewClient(replicate.Options{
		BaseURL:  conf.ProviderAPIURL,
		QueueURL: conf.ProviderQueueURL,
		Token:    conf.ProviderAPIToken,
	})
}

// OpenStore opens the configured asset store. The returned close function is
// always non-nil.
func OpenStore(ctx context.Context, conf config.Config) (assets.Store, func(), error) {
	if conf.StoreBackend == config.StoreBackendMemory {
		slog.Warn("using in-memory asset store; data is lost on restart")
		return assets.NewMemoryStore(), func() {}, nil
	}

	pool, err := OpenDBPoolWithRetry(ctx, conf)
	if err != nil {
		return nil, func() {}, err
	}

	dbc, err := db.NewDatabaseConnection(ctx, pool, conf.DatabaseRetries)
	if err != nil {
		pool.Close()
		return nil, func() {}, err
	}

	if conf.MigrateOnStart {
		if err := dbc.Migrate(ctx); err != nil {
			dbc.Close()
			return nil, func() {}, fmt.Errorf("migrate: %w", err)
		}
	}

	ok, err := dbc.Queries(ctx).AssetsTableExists(ctx)
	if err != nil {
		dbc.Close()
		return nil, func() {}, fmt.Errorf("schema verification: %w", err)
	}
	if !ok {
		dbc.Close()
		return nil, func() {}, fmt.Errorf("assets table does not exist; run pg-migrator or set MIGRATE_ON_START")
	}

	return db.NewAssetStore(dbc), dbc.Close, nil
}
