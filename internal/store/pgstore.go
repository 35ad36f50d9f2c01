package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quorumdocs/docflow/model"
)

// PgStore is a PostgreSQL-backed InstanceStore using pgx/v5.
//
// Schema expectations: workflow_instances carries a unique index on
// (document_id, workflow_id); workflow_history.workflow_instance_id
// references workflow_instances.id.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL instance store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const instanceColumns = `id, document_id, workflow_id, current_stage_id,
       is_active, metadata, created_at, updated_at, completed_at`

// CreateIfAbsent inserts the instance unless one exists for the same
// (document, workflow) pair. The unique index makes the upsert race-safe:
// a losing writer reads back the winner's row.
func (s *PgStore) CreateIfAbsent(ctx context.Context, inst model.WorkflowInstance) (model.WorkflowInstance, bool, error) {
	metaJSON, err := json.Marshal(inst.Metadata)
	if err != nil {
		return model.WorkflowInstance{}, false, fmt.Errorf("marshal metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_instances (
			id, document_id, workflow_id, current_stage_id,
			is_active, metadata, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (document_id, workflow_id) DO NOTHING`,
		inst.ID, inst.DocumentID, inst.WorkflowID, inst.CurrentStageID,
		inst.IsActive, metaJSON, inst.CreatedAt, inst.UpdatedAt, inst.CompletedAt,
	)
	if err != nil {
		return model.WorkflowInstance{}, false, fmt.Errorf("insert workflow instance: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return inst, true, nil
	}

	row := s.pool.QueryRow(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE document_id = $1 AND workflow_id = $2`,
		inst.DocumentID, inst.WorkflowID,
	)
	existing, err := scanInstance(row)
	if err != nil {
		return model.WorkflowInstance{}, false, err
	}
	return existing, false, nil
}

// GetByID retrieves an instance by ID.
func (s *PgStore) GetByID(ctx context.Context, instanceID string) (model.WorkflowInstance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE id = $1`,
		instanceID,
	)
	inst, err := scanInstance(row)
	if err == pgx.ErrNoRows {
		return model.WorkflowInstance{}, model.NewWorkflowNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}
	return inst, err
}

// GetNewestByDocument retrieves the most recently created instance for a document.
func (s *PgStore) GetNewestByDocument(ctx context.Context, documentID string) (model.WorkflowInstance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE document_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		documentID,
	)
	inst, err := scanInstance(row)
	if err == pgx.ErrNoRows {
		return model.WorkflowInstance{}, model.NewWorkflowNotFoundError(
			fmt.Sprintf("no workflow instance found for document %q", documentID),
		)
	}
	return inst, err
}

// ListByDocument returns all instances for a document, newest first.
func (s *PgStore) ListByDocument(ctx context.Context, documentID string) ([]model.WorkflowInstance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE document_id = $1
		ORDER BY created_at DESC, id DESC`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query workflow instances: %w", err)
	}
	defer rows.Close()

	var instances []model.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// Update persists instance state. Last write wins.
func (s *PgStore) Update(ctx context.Context, inst model.WorkflowInstance) error {
	metaJSON, err := json.Marshal(inst.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_instances SET
			current_stage_id = $1,
			is_active = $2,
			metadata = $3,
			updated_at = $4,
			completed_at = $5
		WHERE id = $6`,
		inst.CurrentStageID, inst.IsActive, metaJSON,
		time.Now().UTC(), inst.CompletedAt, inst.ID,
	)
	if err != nil {
		return fmt.Errorf("update workflow instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewWorkflowNotFoundError(
			fmt.Sprintf("workflow instance %q not found", inst.ID),
		)
	}
	return nil
}

// ApplyTransition persists an instance update and a history entry in one
// transaction. Either both land or neither does.
func (s *PgStore) ApplyTransition(ctx context.Context, inst model.WorkflowInstance, entry model.HistoryEntry) error {
	metaJSON, err := json.Marshal(inst.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	entryJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal history metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE workflow_instances SET
			current_stage_id = $1,
			is_active = $2,
			metadata = $3,
			updated_at = $4,
			completed_at = $5
		WHERE id = $6`,
		inst.CurrentStageID, inst.IsActive, metaJSON,
		time.Now().UTC(), inst.CompletedAt, inst.ID,
	)
	if err != nil {
		return fmt.Errorf("update workflow instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewWorkflowNotFoundError(
			fmt.Sprintf("workflow instance %q not found", inst.ID),
		)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO workflow_history (
			id, workflow_instance_id, stage_id, stage_name,
			action, performed_by, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.WorkflowInstanceID, entry.StageID, entry.StageName,
		entry.Action, entry.PerformedBy, entryJSON, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow history: %w", err)
	}

	return tx.Commit(ctx)
}

// DeleteByDocument removes all instances for a document and their history.
func (s *PgStore) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback(ctx)

	// History first (foreign key).
	_, err = tx.Exec(ctx, `
		DELETE FROM workflow_history
		WHERE workflow_instance_id IN (
			SELECT id FROM workflow_instances WHERE document_id = $1
		)`,
		documentID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete workflow history: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM workflow_instances WHERE document_id = $1`,
		documentID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete workflow instances: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// PruneDuplicates keeps the newest instance for a document and deletes the
// rest with their history. The victim set is computed once inside the
// transaction so a concurrent insert cannot widen it mid-delete.
func (s *PgStore) PruneDuplicates(ctx context.Context, documentID string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id FROM workflow_instances
		WHERE document_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET 1`,
		documentID,
	)
	if err != nil {
		return 0, fmt.Errorf("query duplicate instances: %w", err)
	}
	var victims []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan duplicate instance: %w", err)
		}
		victims = append(victims, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(victims) == 0 {
		return 0, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM workflow_history WHERE workflow_instance_id = ANY($1)`,
		victims,
	)
	if err != nil {
		return 0, fmt.Errorf("delete duplicate history: %w", err)
	}
	_, err = tx.Exec(ctx, `
		DELETE FROM workflow_instances WHERE id = ANY($1)`,
		victims,
	)
	if err != nil {
		return 0, fmt.Errorf("delete duplicate instances: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(victims), nil
}

// AppendHistory adds a history entry.
func (s *PgStore) AppendHistory(ctx context.Context, entry model.HistoryEntry) error {
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal history metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_history (
			id, workflow_instance_id, stage_id, stage_name,
			action, performed_by, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.WorkflowInstanceID, entry.StageID, entry.StageName,
		entry.Action, entry.PerformedBy, metaJSON, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow history: %w", err)
	}
	return nil
}

// ListHistory returns all history for an instance, oldest first.
func (s *PgStore) ListHistory(ctx context.Context, instanceID string) ([]model.HistoryEntry, error) {
	return s.queryHistory(ctx, `
		SELECT id, workflow_instance_id, stage_id, stage_name,
		       action, performed_by, metadata, created_at
		FROM workflow_history
		WHERE workflow_instance_id = $1
		ORDER BY created_at ASC`,
		instanceID,
	)
}

// RecentHistory returns up to limit entries for an instance, newest first.
func (s *PgStore) RecentHistory(ctx context.Context, instanceID string, limit int) ([]model.HistoryEntry, error) {
	return s.queryHistory(ctx, `
		SELECT id, workflow_instance_id, stage_id, stage_name,
		       action, performed_by, metadata, created_at
		FROM workflow_history
		WHERE workflow_instance_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		instanceID, limit,
	)
}

// ListDocumentIDs returns the distinct document IDs holding instances.
func (s *PgStore) ListDocumentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT document_id FROM workflow_instances ORDER BY document_id`)
	if err != nil {
		return nil, fmt.Errorf("query document ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeactivateAll marks every active instance inactive.
func (s *PgStore) DeactivateAll(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_instances SET is_active = false, updated_at = $1
		WHERE is_active = true`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate workflow instances: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Stats aggregates instance counts and completion timing.
func (s *PgStore) Stats(ctx context.Context) (model.WorkflowStats, error) {
	var stats model.WorkflowStats
	var avg *float64

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_active AND completed_at IS NULL),
			COUNT(*) FILTER (WHERE completed_at IS NOT NULL),
			COUNT(*) FILTER (WHERE NOT is_active AND completed_at IS NULL),
			AVG(EXTRACT(EPOCH FROM (completed_at - created_at))) FILTER (WHERE completed_at IS NOT NULL)
		FROM workflow_instances`,
	).Scan(&stats.Total, &stats.Active, &stats.Completed, &stats.Inactive, &avg)
	if err != nil {
		return model.WorkflowStats{}, fmt.Errorf("query workflow stats: %w", err)
	}
	if avg != nil {
		stats.AverageCompletionSeconds = *avg
	}
	return stats, nil
}

// HealthCheck verifies the database is reachable.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PgStore) queryHistory(ctx context.Context, query string, args ...any) ([]model.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflow history: %w", err)
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var entry model.HistoryEntry
		var metaJSON []byte
		if err := rows.Scan(
			&entry.ID, &entry.WorkflowInstanceID, &entry.StageID, &entry.StageName,
			&entry.Action, &entry.PerformedBy, &metaJSON, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan workflow history: %w", err)
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &entry.Metadata)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (model.WorkflowInstance, error) {
	var inst model.WorkflowInstance
	var metaJSON []byte
	err := row.Scan(
		&inst.ID, &inst.DocumentID, &inst.WorkflowID, &inst.CurrentStageID,
		&inst.IsActive, &metaJSON, &inst.CreatedAt, &inst.UpdatedAt, &inst.CompletedAt,
	)
	if err == pgx.ErrNoRows {
		return model.WorkflowInstance{}, err
	}
	if err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("scan workflow instance: %w", err)
	}
	if metaJSON != nil {
		if err := json.Unmarshal(metaJSON, &inst.Metadata); err != nil {
			return model.WorkflowInstance{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return inst, nil
}
