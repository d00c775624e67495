package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/LeventeLantos/whatsapp-blast/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS delivery_results (
	job_id            TEXT        NOT NULL,
	contact_id        BIGINT      NOT NULL,
	phone_number      TEXT        NOT NULL,
	status            TEXT        NOT NULL,
	last_error        TEXT,
	remote_message_id TEXT,
	status_at         TIMESTAMPTZ,
	attempt_count     INT         NOT NULL DEFAULT 0,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (job_id, contact_id)
)`

type PostgresResultRepo struct {
	db *sql.DB
}

func NewPostgresResultRepo(db *sql.DB) *PostgresResultRepo {
	return &PostgresResultRepo{db: db}
}

func (r *PostgresResultRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// RecordResult upserts the contact's current state. attempt_count counts
// terminal outcomes only.
func (r *PostgresResultRepo) RecordResult(ctx context.Context, jobID string, c model.Contact) error {
	if jobID == "" {
		return errors.New("job id must not be empty")
	}

	attempt := 0
	if c.Status.Terminal() {
		attempt = 1
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_results
			(job_id, contact_id, phone_number, status, last_error, remote_message_id, status_at, attempt_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (job_id, contact_id) DO UPDATE
		SET status = EXCLUDED.status,
		    last_error = EXCLUDED.last_error,
		    remote_message_id = EXCLUDED.remote_message_id,
		    status_at = EXCLUDED.status_at,
		    attempt_count = delivery_results.attempt_count + EXCLUDED.attempt_count,
		    updated_at = now()
	`, jobID, c.ID, c.PhoneNumber, string(c.Status), nullString(c.Error), nullString(c.MessageID), nullTime(c.Timestamp), attempt)
	return err
}

// ListResults pages through a job's results in contact order. Pass
// model.StatusAll (or "") to skip the status filter.
func (r *PostgresResultRepo) ListResults(ctx context.Context, jobID string, status model.Status, limit, offset int) ([]model.Contact, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	filter := string(status)
	if status == model.StatusAll {
		filter = ""
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT contact_id, phone_number, status, last_error, remote_message_id, status_at
		FROM delivery_results
		WHERE job_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY contact_id ASC
		LIMIT $3 OFFSET $4
	`, jobID, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		var st string
		var lastErr sql.NullString
		var remoteID sql.NullString
		var statusAt sql.NullTime

		if err := rows.Scan(
			&c.ID,
			&c.PhoneNumber,
			&st,
			&lastErr,
			&remoteID,
			&statusAt,
		); err != nil {
			return nil, err
		}

		c.Status = model.Status(st)
		if lastErr.Valid {
			c.Error = lastErr.String
		}
		if remoteID.Valid {
			c.MessageID = remoteID.String
		}
		if statusAt.Valid {
			t := statusAt.Time
			c.Timestamp = &t
		}

		out = append(out, c)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
