package pgx

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS companies (
		domain         text PRIMARY KEY,
		id             text NOT NULL,
		external_id    text,
		name           text NOT NULL,
		industry       text,
		employee_count integer,
		location       text,
		website        text,
		rating         double precision,
		types          text[],
		created_at     timestamptz NOT NULL DEFAULT now(),
		updated_at     timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS companies_industry_idx ON companies (industry)`,
	`CREATE INDEX IF NOT EXISTS companies_location_idx ON companies (location)`,
	`CREATE TABLE IF NOT EXISTS persons (
		id          text PRIMARY KEY,
		external_id text,
		full_name   text NOT NULL,
		title       text,
		department  text,
		seniority   text,
		linkedin    text,
		confidence  integer,
		created_at  timestamptz NOT NULL DEFAULT now(),
		updated_at  timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS persons_department_idx ON persons (department)`,
	`CREATE TABLE IF NOT EXISTS emails (
		address    text PRIMARY KEY,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS works_at (
		person_id      text NOT NULL REFERENCES persons (id) ON DELETE CASCADE,
		company_domain text NOT NULL REFERENCES companies (domain) ON DELETE CASCADE,
		batch_id       text NOT NULL,
		created_at     timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (person_id, company_domain)
	)`,
	`CREATE INDEX IF NOT EXISTS works_at_company_idx ON works_at (company_domain)`,
	`CREATE TABLE IF NOT EXISTS has_email (
		person_id     text NOT NULL REFERENCES persons (id) ON DELETE CASCADE,
		email_address text NOT NULL REFERENCES emails (address) ON DELETE CASCADE,
		PRIMARY KEY (person_id, email_address)
	)`,
	`CREATE INDEX IF NOT EXISTS has_email_address_idx ON has_email (email_address)`,
	`CREATE TABLE IF NOT EXISTS vector_collections (
		name       text PRIMARY KEY,
		dimension  integer NOT NULL,
		distance   text NOT NULL DEFAULT 'cosine',
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates the graph tables and the vector collection registry.
// It is idempotent and serialised with an advisory lock.
func EnsureSchema(ctx context.Context, conn pgxIConn) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext('atlas_schema'))"); err != nil {
		return fmt.Errorf("lock schema: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return tx.Commit(ctx)
}
