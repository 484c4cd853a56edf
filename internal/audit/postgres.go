package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alexbotov/betledger/internal/domain"
)

// PostgresStore persists events to the audit_events table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open database
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Write(ctx context.Context, event *domain.Event) error {
	var data interface{}
	if len(event.Data) > 0 {
		data = string(event.Data)
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, sequence, type, severity, timestamp, actor, subject, description, data, component)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, event.ID, int64(event.Sequence), event.Type, event.Severity, event.Timestamp,
		nullAddress(event.Actor), nullAddress(event.Subject), event.Description, data, event.Component)
	return err
}

func (p *PostgresStore) Query(ctx context.Context, filter *EventFilter) ([]*domain.Event, error) {
	query := `SELECT id, sequence, type, severity, timestamp, actor, subject, description, data, component
			  FROM audit_events WHERE 1=1`
	args := []interface{}{}
	paramIdx := 1

	if filter != nil {
		if filter.Address != "" {
			query += fmt.Sprintf(" AND (actor = $%d OR subject = $%d)", paramIdx, paramIdx)
			args = append(args, string(filter.Address))
			paramIdx++
		}
		if filter.Type != "" {
			query += fmt.Sprintf(" AND type = $%d", paramIdx)
			args = append(args, string(filter.Type))
			paramIdx++
		}
		if !filter.From.IsZero() {
			query += fmt.Sprintf(" AND timestamp >= $%d", paramIdx)
			args = append(args, filter.From)
			paramIdx++
		}
		if !filter.To.IsZero() {
			query += fmt.Sprintf(" AND timestamp <= $%d", paramIdx)
			args = append(args, filter.To)
			paramIdx++
		}
	}

	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", paramIdx)
	args = append(args, filter.limit())

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		var event domain.Event
		var seq int64
		var actor, subject, data sql.NullString

		err := rows.Scan(&event.ID, &seq, &event.Type, &event.Severity, &event.Timestamp,
			&actor, &subject, &event.Description, &data, &event.Component)
		if err != nil {
			return nil, err
		}

		event.Sequence = uint64(seq)
		event.Actor = domain.Address(actor.String)
		event.Subject = domain.Address(subject.String)
		if data.Valid {
			event.Data = []byte(data.String)
		}

		events = append(events, &event)
	}

	return events, rows.Err()
}

// LastSequence returns the highest recorded sequence number
func (p *PostgresStore) LastSequence(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	if err := p.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM audit_events`).Scan(&seq); err != nil {
		return 0, err
	}
	return uint64(seq.Int64), nil
}

func nullAddress(a domain.Address) interface{} {
	if a == "" {
		return nil
	}
	return string(a)
}
