package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dshills/plugforge/internal/plugin"
)

// RecordExecution appends rec to the execution index.
func (s *Store) RecordExecution(ctx context.Context, rec plugin.ExecutionRecord) error {
	var msg sql.NullString
	if rec.Error != nil {
		msg = sql.NullString{String: *rec.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (plugin_id, user_id, status, error, timestamp) VALUES (?, ?, ?, ?, ?)`,
		rec.PluginID,
		rec.UserID,
		string(rec.Status),
		msg,
		rec.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// Executions returns up to limit records for pluginID, newest first.
// An empty pluginID matches every plugin; a non-positive limit returns all.
func (s *Store) Executions(ctx context.Context, pluginID string, limit int) ([]plugin.ExecutionRecord, error) {
	query := `SELECT plugin_id, user_id, status, error, timestamp FROM executions`
	var args []any
	if pluginID != "" {
		query += ` WHERE plugin_id = ?`
		args = append(args, pluginID)
	}
	query += ` ORDER BY seq DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var records []plugin.ExecutionRecord
	for rows.Next() {
		var (
			rec    plugin.ExecutionRecord
			status string
			msg    sql.NullString
			ts     string
		)
		if err := rows.Scan(&rec.PluginID, &rec.UserID, &status, &msg, &ts); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.Status = plugin.Status(status)
		if msg.Valid {
			rec.Error = &msg.String
		}
		rec.Timestamp, _ = time.Parse(timeLayout, ts)
		records = append(records, rec)
	}
	return records, rows.Err()
}
