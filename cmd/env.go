package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/ngn-platform/score-integrity/internal/auditreport"
	"github.com/ngn-platform/score-integrity/internal/dispute"
	"github.com/ngn-platform/score-integrity/internal/formula"
	"github.com/ngn-platform/score-integrity/internal/lineage"
	"github.com/ngn-platform/score-integrity/internal/receipt"
	"github.com/ngn-platform/score-integrity/internal/store"
	"github.com/ngn-platform/score-integrity/internal/verify"
)

// env bundles the wired services every command runs against.
type env struct {
	Store    store.Store
	Formulas *formula.Registry
	Verify   *verify.Service
	Lineage  *lineage.Tracker
	Disputes *dispute.Manager
	Reports  *auditreport.Aggregator
	Issuer   *receipt.Issuer
	Checker  *receipt.Verifier
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "integrity.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initFormulas() (*formula.Registry, error) {
	reg := formula.NewRegistry()
	if cfg.Formula.WeightsPath != "" {
		if err := reg.LoadWeights(cfg.Formula.WeightsPath); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// initEnv wires the full service graph. Receipt signing is optional:
// commands that never touch receipts still work without a secret.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	reg, err := initFormulas()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	e := &env{
		Store:    st,
		Formulas: reg,
		Verify: verify.NewService(st, reg,
			verify.WithPassThresholdPct(cfg.Verification.PassThresholdPct),
			verify.WithConcurrency(cfg.Verification.Concurrency),
		),
		Lineage:  lineage.NewTracker(st),
		Disputes: dispute.NewManager(st),
		Reports:  auditreport.NewAggregator(st),
	}

	if cfg.Receipt.SigningSecret != "" {
		issuer, err := receipt.NewIssuer(st, reg, cfg.Receipt.SigningSecret)
		if err != nil {
			e.Close()
			return nil, err
		}
		checker, err := receipt.NewVerifier(st, cfg.Receipt.SigningSecret)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.Issuer = issuer
		e.Checker = checker
	}

	return e, nil
}
