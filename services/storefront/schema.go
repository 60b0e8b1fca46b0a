package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
)

const salesSchema = `
CREATE TABLE IF NOT EXISTS sales (
	charge_id           TEXT PRIMARY KEY,
	sold_at             TIMESTAMPTZ NOT NULL,
	name                TEXT NOT NULL DEFAULT '',
	email               TEXT NOT NULL,
	phone               TEXT NOT NULL DEFAULT '',
	cpf                 TEXT NOT NULL DEFAULT '',
	item_ids            TEXT[] NOT NULL DEFAULT '{}',
	items               TEXT[] NOT NULL DEFAULT '{}',
	total_cents         BIGINT NOT NULL CHECK (total_cents >= 0),
	method              TEXT NOT NULL,
	clicked_access_link BOOLEAN NOT NULL DEFAULT FALSE,
	click_date          TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS sales_sold_at_idx ON sales (sold_at DESC);
`

// ensureSchema aguarda o banco e aplica o schema via database/sql (driver lib/pq)
func ensureSchema(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer db.Close()

	for i := 0; i < 30; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		log.Printf("⏳ Waiting for database... (%d/30)", i+1)
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database after 30 attempts: %w", err)
	}

	if _, err := db.ExecContext(ctx, salesSchema); err != nil {
		return fmt.Errorf("failed to apply sales schema: %w", err)
	}

	log.Println("✅ Sales schema ready")
	return nil
}
