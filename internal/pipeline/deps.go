package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"covered-call-lab/internal/config"
	"covered-call-lab/internal/marketdata"
	"covered-call-lab/internal/marketdata/eodhd"
	"covered-call-lab/internal/marketdata/fred"
	"covered-call-lab/internal/marketdata/stub"
	"covered-call-lab/internal/storage"
	chstore "covered-call-lab/internal/storage/clickhouse"
	"covered-call-lab/internal/storage/memory"
	"covered-call-lab/internal/storage/migrations"
	"covered-call-lab/internal/storage/postgres"
)

// syntheticSpot is the spot price of every underlying served by the stub provider.
const syntheticSpot = 100.0

// Stores bundles the persistence both jobs run against.
type Stores struct {
	Records  storage.PartitionStore
	Output   storage.ScreeningOutputStore
	Training storage.TrainingDataStore
	RunLog   storage.RunLogStore

	closers []func()
}

// Close releases every connection opened by OpenStores.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// OpenStores connects the configured backends.
// The active and archive partitions live in Postgres (or memory); the
// partitioned outputs live in ClickHouse when a DSN is set, memory otherwise.
func OpenStores(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*Stores, error) {
	s := &Stores{}

	switch cfg.Backend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)
		if cfg.Migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
				s.Close()
				return nil, fmt.Errorf("postgres migrations: %w", err)
			}
		}
		s.Records = postgres.NewTradeRecordStore(pool)
		s.RunLog = postgres.NewRunLogStore(pool)
		logger.Info("using postgres storage")
	default:
		s.Records = memory.NewTradeRecordStore()
		s.RunLog = memory.NewRunLogStore()
		logger.Info("using in-memory storage")
	}

	if cfg.ClickHouseDSN == "" {
		s.Output = memory.NewScreeningOutputStore()
		s.Training = memory.NewTrainingDataStore()
		return s, nil
	}

	var (
		conn *chstore.Conn
		err  error
	)
	if cfg.Migrate {
		conn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN, logger)
	} else {
		conn, err = chstore.NewConn(ctx, cfg.ClickHouseDSN)
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("clickhouse: %w", err)
	}
	s.closers = append(s.closers, func() {
		if err := conn.Close(); err != nil {
			logger.Warn("close clickhouse", zap.Error(err))
		}
	})
	s.Output = chstore.NewScreeningOutputStore(conn)
	s.Training = chstore.NewTrainingDataStore(conn)
	logger.Info("using clickhouse outputs")
	return s, nil
}

// Providers are the market-data boundaries, constructed once per process.
type Providers struct {
	Chains marketdata.ChainSource
	Rates  marketdata.RateSource
	Closes marketdata.ClosingPriceSource
}

// NewProviders builds the configured provider clients.
func NewProviders(cfg config.Config, logger *zap.Logger) Providers {
	var p Providers

	switch cfg.MarketData.Provider {
	case "eodhd":
		c := eodhd.NewClient(cfg.MarketData.APIKey,
			eodhd.WithBaseURL(cfg.MarketData.BaseURL),
			eodhd.WithTimeout(cfg.MarketData.Timeout),
			eodhd.WithRateLimit(cfg.MarketData.RequestsPerSecond, cfg.MarketData.Burst),
			eodhd.WithLogger(logger),
		)
		p.Chains = c
		p.Closes = c
	default:
		p.Chains = stub.SyntheticSource{Spot: syntheticSpot, MaxDays: cfg.Screening.MaxDaysToExpiry}
		p.Closes = stub.NewClosingPrices()
	}

	switch cfg.RiskFree.Provider {
	case "fred":
		opts := []fred.ClientOption{
			fred.WithTimeout(cfg.RiskFree.Timeout),
			fred.WithLogger(logger),
		}
		if cfg.RiskFree.BaseURL != "" {
			opts = append(opts, fred.WithBaseURL(cfg.RiskFree.BaseURL))
		}
		if cfg.RiskFree.SeriesID != "" {
			opts = append(opts, fred.WithSeriesID(cfg.RiskFree.SeriesID))
		}
		p.Rates = fred.NewClient(cfg.RiskFree.APIKey, opts...)
	default:
		p.Rates = marketdata.StaticRate(cfg.RiskFree.FallbackRate)
	}
	return p
}
