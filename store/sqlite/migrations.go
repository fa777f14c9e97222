package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the entitle store (SQLite).
var Migrations = migrate.NewGroup("entitle")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_entitle_plans",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_plans (
    id               TEXT PRIMARY KEY,
    tier             TEXT NOT NULL,
    name             TEXT NOT NULL DEFAULT '',
    currency         TEXT NOT NULL DEFAULT 'INR',
    monthly_price    INTEGER NOT NULL DEFAULT 0 CHECK (monthly_price >= 0),
    yearly_price     INTEGER NOT NULL DEFAULT 0 CHECK (yearly_price >= 0),
    limits           TEXT NOT NULL DEFAULT '{}',
    ai_evaluation    INTEGER NOT NULL DEFAULT 0,
    priority_support INTEGER NOT NULL DEFAULT 0,
    metadata         TEXT NOT NULL DEFAULT '{}',
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entitle_plans_tier ON entitle_plans (tier);
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
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_subscriptions (
    id                   TEXT PRIMARY KEY,
    user_id              TEXT NOT NULL,
    plan_id              TEXT NOT NULL,
    status               TEXT NOT NULL DEFAULT 'ACTIVE',
    billing_period       TEXT NOT NULL DEFAULT 'MONTHLY',
    current_period_start TEXT NOT NULL DEFAULT (datetime('now')),
    current_period_end   TEXT NOT NULL DEFAULT (datetime('now')),
    cancelled_at         TEXT,
    mandate_id           TEXT NOT NULL DEFAULT '',
    created_at           TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at           TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entitle_subs_user ON entitle_subscriptions (user_id);
CREATE INDEX IF NOT EXISTS idx_entitle_subs_status_end ON entitle_subscriptions (status, current_period_end);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_payments",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_payments (
    id                 TEXT PRIMARY KEY,
    subscription_id    TEXT NOT NULL,
    user_id            TEXT NOT NULL,
    plan_id            TEXT NOT NULL,
    amount             INTEGER NOT NULL,
    currency           TEXT NOT NULL DEFAULT 'INR',
    status             TEXT NOT NULL DEFAULT 'captured',
    billing_period     TEXT NOT NULL DEFAULT 'MONTHLY',
    gateway_order_id   TEXT NOT NULL,
    gateway_payment_id TEXT NOT NULL,
    gateway_signature  TEXT NOT NULL DEFAULT '',
    created_at         TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at         TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entitle_payments_gateway_ref ON entitle_payments (gateway_order_id, gateway_payment_id);
CREATE INDEX IF NOT EXISTS idx_entitle_payments_user ON entitle_payments (user_id, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_payments`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_usage",
			Version: "20260101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_usage (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    feature      TEXT NOT NULL,
    period_start TEXT NOT NULL,
    period_end   TEXT NOT NULL,
    usage_count  INTEGER NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
    created_at   TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entitle_usage_key ON entitle_usage (user_id, feature, period_start);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_usage`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "add_entitle_subscription_version",
			Version: "20260301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `ALTER TABLE entitle_subscriptions ADD COLUMN version INTEGER NOT NULL DEFAULT 1`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `ALTER TABLE entitle_subscriptions DROP COLUMN version`)
				return err
			},
		},
	)
}
