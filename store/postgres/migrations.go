package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Entitle store.
var Migrations = migrate.NewGroup("entitle")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_entitle_plans",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_plans (
    id                  TEXT PRIMARY KEY,
    provider_plan_id    TEXT NOT NULL DEFAULT '',
    name                TEXT NOT NULL DEFAULT '',
    tier                TEXT NOT NULL DEFAULT 'free',
    interval            TEXT NOT NULL DEFAULT 'monthly',
    base_price_cents    BIGINT NOT NULL DEFAULT 0,
    base_price_currency TEXT NOT NULL DEFAULT '',
    trial_days          INT NOT NULL DEFAULT 0,
    annual_discount     BOOLEAN NOT NULL DEFAULT FALSE,
    active              BOOLEAN NOT NULL DEFAULT TRUE,
    metadata            JSONB NOT NULL DEFAULT '{}',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entitle_plans_provider ON entitle_plans (provider_plan_id);
CREATE INDEX IF NOT EXISTS idx_entitle_plans_active ON entitle_plans (active);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_plans`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_subscriptions",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_subscriptions (
    id                       TEXT PRIMARY KEY,
    provider_id              TEXT NOT NULL DEFAULT '',
    user_id                  TEXT NOT NULL DEFAULT '',
    provider_plan_id         TEXT NOT NULL DEFAULT '',
    pending_provider_plan_id TEXT NOT NULL DEFAULT '',
    status                   TEXT NOT NULL DEFAULT 'active',
    current_period_end       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    trial_ends_at            TIMESTAMPTZ,
    cancel_at_period_end     BOOLEAN NOT NULL DEFAULT FALSE,
    last_event_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entitle_subs_provider ON entitle_subscriptions (provider_id);
CREATE INDEX IF NOT EXISTS idx_entitle_subs_user ON entitle_subscriptions (user_id, status);
CREATE INDEX IF NOT EXISTS idx_entitle_subs_period_end ON entitle_subscriptions (status, current_period_end);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_processed_events",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_processed_events (
    event_id     TEXT PRIMARY KEY,
    processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_entitle_processed_at ON entitle_processed_events (processed_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_processed_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_dead_letters",
			Version: "20250101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_dead_letters (
    id          TEXT PRIMARY KEY,
    event_id    TEXT NOT NULL DEFAULT '',
    payload     JSONB NOT NULL DEFAULT '{}',
    reason      TEXT NOT NULL DEFAULT '',
    received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_entitle_dead_letters_received ON entitle_dead_letters (received_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_dead_letters`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_entitlement_cache",
			Version: "20250101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_entitlement_cache (
    user_id              TEXT PRIMARY KEY,
    tier                 TEXT NOT NULL DEFAULT 'free',
    features             JSONB NOT NULL DEFAULT '[]',
    is_trialing          BOOLEAN NOT NULL DEFAULT FALSE,
    trial_days_remaining INT NOT NULL DEFAULT 0,
    is_active            BOOLEAN NOT NULL DEFAULT FALSE,
    reason               TEXT NOT NULL DEFAULT '',
    expires_at           TIMESTAMPTZ NOT NULL,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_entitle_cache_expires ON entitle_entitlement_cache (expires_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_entitlement_cache`)
				return err
			},
		},
	)
}
