package audience

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DefaultTable is the table LoadSQL reads when none is configured.
const DefaultTable = "audiences"

// DB holds the methods of *sql.DB, *sql.Tx and *sql.Conn used here.
type DB interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// Schema returns the DDL for an audience table.
func Schema(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	app_id      text NOT NULL,
	audience_id text NOT NULL,
	name        text NOT NULL,
	description text,
	filter      text NOT NULL,
	created_at  timestamptz NOT NULL DEFAULT now(),
	updated_at  timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (app_id, audience_id)
)`, pq.QuoteIdentifier(table))
}

func selectQuery(table string) string {
	return fmt.Sprintf(`SELECT app_id, audience_id, name, description, filter, created_at, updated_at
	FROM %s ORDER BY app_id, created_at, audience_id`, pq.QuoteIdentifier(table))
}

func insertQuery(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (app_id, audience_id, name, description, filter)
	VALUES ($1, $2, $3, $4, $5)`, pq.QuoteIdentifier(table))
}

// OpenSQL opens a database handle. The "postgres" driver is registered by
// lib/pq.
func OpenSQL(driver, url string) (*sql.DB, error) {
	if driver == "" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	return db, nil
}

// LoadSQL reads every audience in table and validates their filters.
func LoadSQL(ctx context.Context, db DB, table string) (*File, error) {
	if table == "" {
		table = DefaultTable
	}
	rows, err := db.QueryContext(ctx, selectQuery(table))
	if err != nil {
		return nil, fmt.Errorf("failed to query audiences: %w", err)
	}
	defer rows.Close()

	f := &File{}
	for rows.Next() {
		var (
			a                    Audience
			desc                 sql.NullString
			createdAt, updatedAt time.Time
		)
		if err := rows.Scan(&a.AppID, &a.AudienceID, &a.Name, &desc, &a.Filter, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audience: %w", err)
		}
		a.Description = desc.String
		a.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		a.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
		f.Audiences = append(f.Audiences, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audiences: %w", err)
	}
	f.normalize()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// InsertSQL stores a new audience. A duplicate id yields ErrExists.
func InsertSQL(ctx context.Context, db DB, table string, a Audience) error {
	if table == "" {
		table = DefaultTable
	}
	if a.AppID == "" {
		a.AppID = DefaultApp
	}
	if err := (&File{Audiences: []Audience{a}}).Validate(); err != nil {
		return err
	}
	desc := sql.NullString{String: a.Description, Valid: a.Description != ""}
	_, err := db.ExecContext(ctx, insertQuery(table), a.AppID, a.AudienceID, a.Name, desc, a.Filter)
	if IsUniqueViolation(err) {
		return fmt.Errorf("audience %q: %w", a.AudienceID, ErrExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert audience %q: %w", a.AudienceID, err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}
