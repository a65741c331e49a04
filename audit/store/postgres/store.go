// Package postgres is the relational audit.Store. Rows are ordered by created_at with the
// seq column as tie-break.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/godamri/helix-activity/audit"
	"github.com/godamri/helix-activity/database"
)

type Store struct {
	db    *sql.DB
	clock *audit.Clock
}

// New seeds the store clock from the newest stored entry so timestamps keep increasing
// across restarts.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db, clock: audit.NewClock()}

	var latest sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM audit_logs`).Scan(&latest); err != nil {
		return nil, &audit.StorageError{Op: "init", Err: database.MapError(err)}
	}
	if latest.Valid {
		s.clock.Observe(latest.Int64)
	}
	return s, nil
}

func (s *Store) Append(ctx context.Context, in audit.EntryInput) (audit.Entry, error) {
	if err := in.Validate(); err != nil {
		return audit.Entry{}, err
	}

	metadata, err := encodeMetadata(in.Metadata)
	if err != nil {
		return audit.Entry{}, err
	}

	entry := audit.Entry{
		ID:         uuid.NewString(),
		Action:     in.Action,
		Summary:    in.Summary,
		ActorID:    in.ActorID,
		ActorEmail: in.ActorEmail,
		TargetID:   in.TargetID,
		TargetType: in.TargetType,
		Metadata:   in.Metadata,
		CreatedAt:  s.clock.Next(),
	}

	const q = `
		INSERT INTO audit_logs (
			id, action, summary, actor_id, actor_email,
			target_id, target_type, metadata, idempotency_key, created_at
		)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''), $10)
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		RETURNING seq
	`
	var seq int64
	err = s.db.QueryRowContext(ctx, q,
		entry.ID, entry.Action, entry.Summary, entry.ActorID, entry.ActorEmail,
		entry.TargetID, entry.TargetType, metadata, in.IdempotencyKey, entry.CreatedAt,
	).Scan(&seq)

	if database.IsNoRows(err) {
		// Lost the idempotency race or a replay: hand back the first write.
		return s.findByIdempotencyKey(ctx, in.IdempotencyKey)
	}
	if err != nil {
		return audit.Entry{}, &audit.StorageError{Op: "append", Err: database.MapError(err)}
	}
	return entry, nil
}

const selectColumns = `
	SELECT id, action, summary, COALESCE(actor_id, ''), COALESCE(actor_email, ''),
		COALESCE(target_id, ''), COALESCE(target_type, ''), metadata, created_at
	FROM audit_logs
`

func (s *Store) findByIdempotencyKey(ctx context.Context, key string) (audit.Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE idempotency_key = $1`, key)
	e, err := scanEntry(row)
	if err != nil {
		return audit.Entry{}, &audit.StorageError{Op: "append", Err: database.MapError(err)}
	}
	return e, nil
}

func (s *Store) Query(ctx context.Context, f audit.Filter) (audit.Page, error) {
	limit := audit.ClampLimit(f.Limit)

	var (
		conds []string
		args  []any
	)
	if f.Action != "" {
		args = append(args, f.Action)
		conds = append(conds, fmt.Sprintf("action = $%d", len(args)))
	}
	if f.After != nil {
		args = append(args, *f.After)
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(selectColumns)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	args = append(args, limit+1)
	fmt.Fprintf(&b, " ORDER BY created_at DESC, seq DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return audit.Page{}, &audit.StorageError{Op: "query", Err: database.MapError(err)}
	}
	defer rows.Close()

	entries := make([]audit.Entry, 0, limit+1)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return audit.Page{}, &audit.StorageError{Op: "query", Err: err}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return audit.Page{}, &audit.StorageError{Op: "query", Err: database.MapError(err)}
	}
	return audit.BuildPage(entries, limit), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (audit.Entry, error) {
	var (
		e        audit.Entry
		metadata []byte
	)
	if err := s.Scan(&e.ID, &e.Action, &e.Summary, &e.ActorID, &e.ActorEmail,
		&e.TargetID, &e.TargetType, &metadata, &e.CreatedAt); err != nil {
		return audit.Entry{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return audit.Entry{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return e, nil
}

func encodeMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", audit.ErrInvalidInput, err)
	}
	return string(raw), nil
}
