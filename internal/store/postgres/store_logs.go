package postgres

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"recordhub-backend/internal/models"
	"recordhub-backend/internal/store"
)

const createIntegrationLog = `-- name: CreateIntegrationLog :exec
INSERT INTO integration_logs (
    id, integration_id, action, status, request_data, response_data, error_message
) VALUES (
    $1, $2, $3, $4, $5, $6, $7
);`

func (s *PostgresStore) CreateIntegrationLog(ctx context.Context, arg store.CreateIntegrationLogParams) error {
	_, err := s.db.Exec(ctx, createIntegrationLog,
		uuid.New(),
		arg.IntegrationID,
		arg.Action,
		arg.Status,
		arg.RequestData,
		arg.ResponseData,
		arg.ErrorMessage,
	)
	if err != nil {
		log.Printf("ERROR [PostgresStore] CreateIntegrationLog: Insert failed for integration %s, action %s: %v", arg.IntegrationID, arg.Action, err)
		return fmt.Errorf("database error creating integration log: %w", err)
	}
	return nil
}

// ListIntegrationLogs returns the newest entries for an integration,
// optionally filtered by status.
func (s *PostgresStore) ListIntegrationLogs(ctx context.Context, integrationID uuid.UUID, status *string, limit int) ([]models.IntegrationLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, integration_id, action, status, request_data, response_data, error_message, created_at
		FROM integration_logs
		WHERE integration_id = $1`
	args := []interface{}{integrationID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying integration logs: %w", err)
	}
	defer rows.Close()

	var items []models.IntegrationLogEntry
	for rows.Next() {
		var e models.IntegrationLogEntry
		if err := rows.Scan(
			&e.ID,
			&e.IntegrationID,
			&e.Action,
			&e.Status,
			&e.RequestData,
			&e.ResponseData,
			&e.ErrorMessage,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning integration log row: %w", err)
		}
		items = append(items, e)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating integration log rows: %w", err)
	}

	return items, nil
}
