package chain

import (
	"context"

	adminmodels "github.com/canopy-network/bakerx/pkg/db/models/admin"
)

// initStatuses creates the statuses table holding status checker reports.
func (db *DB) initStatuses(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS statuses (
			id BIGSERIAL PRIMARY KEY,
			resources JSONB NOT NULL,
			node JSONB,
			timestamp_ms BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_statuses_timestamp ON statuses(timestamp_ms DESC);
	`

	return db.Exec(ctx, query)
}

// ReportStatus appends a status report.
func (db *DB) ReportStatus(ctx context.Context, status adminmodels.Status) error {
	_, err := db.GetExecutor(ctx).Exec(ctx, `
		INSERT INTO statuses (resources, node, timestamp_ms) VALUES ($1, $2, $3)
	`, status.Resources, status.Node, status.TimestampMs)
	return db.StorageError("report status", err)
}

// LatestStatus returns the most recent report.
func (db *DB) LatestStatus(ctx context.Context) (adminmodels.Status, error) {
	var s adminmodels.Status
	err := db.GetExecutor(ctx).QueryRow(ctx, `
		SELECT id, resources, node, timestamp_ms
		FROM statuses
		ORDER BY timestamp_ms DESC, id DESC
		LIMIT 1
	`).Scan(&s.ID, &s.Resources, &s.Node, &s.TimestampMs)
	if err != nil {
		return adminmodels.Status{}, notFound("latest status", err)
	}
	return s, nil
}

// GarbageCollectStatuses deletes everything but the `keep` most recent reports.
func (db *DB) GarbageCollectStatuses(ctx context.Context, keep int) (int64, error) {
	tag, err := db.GetExecutor(ctx).Exec(ctx, `
		DELETE FROM statuses
		WHERE id NOT IN (
			SELECT id FROM statuses ORDER BY timestamp_ms DESC, id DESC LIMIT $1
		)
	`, keep)
	if err != nil {
		return 0, db.StorageError("garbage collect statuses", err)
	}
	return tag.RowsAffected(), nil
}
