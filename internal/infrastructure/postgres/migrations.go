package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type migration struct {
	version string
	up      string
}

var migrations = []migration{
	{
		version: "001_nfe_schema",
		up: `
			CREATE TABLE IF NOT EXISTS nfe_issuer_profiles (
				company_id     TEXT PRIMARY KEY,
				cnpj           VARCHAR(14) NOT NULL,
				party          JSONB NOT NULL,
				default_series INTEGER NOT NULL DEFAULT 1,
				environment    VARCHAR(20) NOT NULL,
				created_at     TIMESTAMPTZ NOT NULL,
				updated_at     TIMESTAMPTZ NOT NULL
			);

			CREATE TABLE IF NOT EXISTS nfe_invoices (
				id             UUID PRIMARY KEY,
				company_id     TEXT NOT NULL,
				number         INTEGER NOT NULL,
				series         INTEGER NOT NULL,
				issue_date     TIMESTAMPTZ NOT NULL,
				status         VARCHAR(20) NOT NULL,
				access_key     CHAR(44),
				recipient_name TEXT NOT NULL DEFAULT '',
				grand_total    NUMERIC(15,2) NOT NULL DEFAULT 0,
				payload        JSONB NOT NULL,
				created_at     TIMESTAMPTZ NOT NULL,
				updated_at     TIMESTAMPTZ NOT NULL
			);

			CREATE UNIQUE INDEX IF NOT EXISTS ux_nfe_invoices_access_key
				ON nfe_invoices (company_id, access_key) WHERE access_key IS NOT NULL;
			CREATE INDEX IF NOT EXISTS idx_nfe_invoices_company_date ON nfe_invoices (company_id, issue_date DESC);
			CREATE INDEX IF NOT EXISTS idx_nfe_invoices_company_status ON nfe_invoices (company_id, status);

			CREATE TABLE IF NOT EXISTS nfe_numbering (
				company_id  TEXT NOT NULL,
				series      INTEGER NOT NULL,
				last_number INTEGER NOT NULL,
				PRIMARY KEY (company_id, series)
			);
		`,
	},
}

// Migrate aplica en orden las migraciones pendientes, cada una en su propia transacción.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     VARCHAR(100) PRIMARY KEY,
			executed_at TIMESTAMPTZ NOT NULL
		)`); err != nil {
		return fmt.Errorf("crear tabla de migraciones: %w", err)
	}

	for _, m := range migrations {
		var applied string
		err := pool.QueryRow(ctx, `SELECT version FROM schema_migrations WHERE version = $1`, m.version).Scan(&applied)
		if err == nil {
			continue
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("consultar migración %s: %w", m.version, err)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migración %s: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, m.up); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("ejecutar migración %s: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, executed_at) VALUES ($1, $2)`, m.version, time.Now()); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("registrar migración %s: %w", m.version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migración %s: %w", m.version, err)
		}
	}
	return nil
}
