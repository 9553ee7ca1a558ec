package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
)

// BuildRecord is one toolchain's outcome in the build history
type BuildRecord struct {
	ID         string        `json:"id" yaml:"id"`
	BatchID    string        `json:"batch_id" yaml:"batch_id"`
	Kernel     string        `json:"kernel" yaml:"kernel"`
	KernelRoot string        `json:"kernel_root" yaml:"kernel_root"`
	Toolchain  string        `json:"toolchain" yaml:"toolchain"`
	Release    string        `json:"release" yaml:"release"`
	Status     string        `json:"status" yaml:"status"`
	ImagePath  string        `json:"image_path,omitempty" yaml:"image_path,omitempty"`
	LogPath    string        `json:"log_path,omitempty" yaml:"log_path,omitempty"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	StartedAt  *time.Time    `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at" yaml:"created_at"`

	// Artifacts is only loaded by GetByID
	Artifacts []ArtifactRecord `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
}

// ArtifactRecord is a file produced for a build record. Key is set when
// the file was exported.
type ArtifactRecord struct {
	Kind     string `json:"kind" yaml:"kind"`
	Path     string `json:"path" yaml:"path"`
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
	Size     int64  `json:"size,omitempty" yaml:"size,omitempty"`
	Checksum string `json:"checksum,omitempty" yaml:"checksum,omitempty"`
}

// BuildRecordRepository handles build history operations
type BuildRecordRepository struct {
	db *Database
}

// NewBuildRecordRepository creates a new build record repository
func NewBuildRecordRepository(db *Database) *BuildRecordRepository {
	return &BuildRecordRepository{db: db}
}

// Create inserts a record and its artifacts, assigning an ID when empty
func (r *BuildRecordRepository) Create(ctx context.Context, rec *BuildRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = time.Now().UTC()

	tx, err := r.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return kerrors.ErrDatabaseQuery.WithMessage("failed to begin transaction").WithCause(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO build_records (id, batch_id, kernel, kernel_root, toolchain, release,
			status, image_path, log_path, error_message, duration_ms, started_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.BatchID, rec.Kernel, rec.KernelRoot, rec.Toolchain, rec.Release,
		rec.Status, rec.ImagePath, rec.LogPath, rec.Error, rec.Duration.Milliseconds(), rec.StartedAt, rec.CreatedAt,
	)
	if err != nil {
		return kerrors.ErrDatabaseQuery.WithMessage("failed to create build record").WithCause(err)
	}

	for _, a := range rec.Artifacts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO build_artifacts (record_id, kind, path, storage_key, location, size, checksum)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, a.Kind, a.Path, a.Key, a.Location, a.Size, a.Checksum)
		if err != nil {
			return kerrors.ErrDatabaseQuery.WithMessage("failed to record build artifact").WithCause(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return kerrors.ErrDatabaseQuery.WithMessage("failed to commit build record").WithCause(err)
	}
	return nil
}

const selectBuildRecordsQuery = `
	SELECT id, batch_id, kernel, kernel_root, toolchain, release, status,
		image_path, log_path, error_message, duration_ms, started_at, created_at
	FROM build_records
`

// GetByID returns a record, or nil when it does not exist
func (r *BuildRecordRepository) GetByID(ctx context.Context, id string) (*BuildRecord, error) {
	row := r.db.DB().QueryRowContext(ctx, selectBuildRecordsQuery+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, kerrors.ErrDatabaseQuery.WithCause(err)
	}

	rec.Artifacts, err = r.queryArtifacts(ctx, `
		SELECT kind, path, storage_key, location, size, checksum
		FROM build_artifacts WHERE record_id = ? ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns the newest records first. An empty kernel lists all
// kernels; limit <= 0 means no limit.
func (r *BuildRecordRepository) List(ctx context.Context, kernel string, limit int) ([]BuildRecord, error) {
	query := selectBuildRecordsQuery
	var args []any
	if kernel != "" {
		query += ` WHERE kernel = ?`
		args = append(args, kernel)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return r.query(ctx, query, args...)
}

// ListByBatch returns a batch's records in build order
func (r *BuildRecordRepository) ListByBatch(ctx context.Context, batchID string) ([]BuildRecord, error) {
	return r.query(ctx, selectBuildRecordsQuery+` WHERE batch_id = ? ORDER BY rowid ASC`, batchID)
}

// ListExportedBefore returns the exported artifacts of records created
// before t
func (r *BuildRecordRepository) ListExportedBefore(ctx context.Context, t time.Time) ([]ArtifactRecord, error) {
	return r.queryArtifacts(ctx, `
		SELECT a.kind, a.path, a.storage_key, a.location, a.size, a.checksum
		FROM build_artifacts a
		JOIN build_records r ON r.id = a.record_id
		WHERE r.created_at < ? AND a.storage_key != ''
		ORDER BY a.id ASC
	`, t.UTC())
}

// DeleteBefore removes records created before t, with their artifacts,
// and returns how many records went
func (r *BuildRecordRepository) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	tx, err := r.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, kerrors.ErrDatabaseQuery.WithMessage("failed to begin transaction").WithCause(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM build_artifacts
		WHERE record_id IN (SELECT id FROM build_records WHERE created_at < ?)
	`, t.UTC()); err != nil {
		return 0, kerrors.ErrDatabaseQuery.WithMessage("failed to prune build artifacts").WithCause(err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM build_records WHERE created_at < ?", t.UTC())
	if err != nil {
		return 0, kerrors.ErrDatabaseQuery.WithMessage("failed to prune build records").WithCause(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, kerrors.ErrDatabaseQuery.WithCause(err)
	}

	if err := tx.Commit(); err != nil {
		return 0, kerrors.ErrDatabaseQuery.WithMessage("failed to commit prune").WithCause(err)
	}
	return n, nil
}

func (r *BuildRecordRepository) queryArtifacts(ctx context.Context, query string, args ...any) ([]ArtifactRecord, error) {
	rows, err := r.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kerrors.ErrDatabaseQuery.WithMessage("failed to list build artifacts").WithCause(err)
	}
	defer rows.Close()

	var artifacts []ArtifactRecord
	for rows.Next() {
		var a ArtifactRecord
		if err := rows.Scan(&a.Kind, &a.Path, &a.Key, &a.Location, &a.Size, &a.Checksum); err != nil {
			return nil, kerrors.ErrDatabaseQuery.WithCause(err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

func (r *BuildRecordRepository) query(ctx context.Context, query string, args ...any) ([]BuildRecord, error) {
	rows, err := r.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kerrors.ErrDatabaseQuery.WithMessage("failed to list build records").WithCause(err)
	}
	defer rows.Close()

	var records []BuildRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, kerrors.ErrDatabaseQuery.WithCause(err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*BuildRecord, error) {
	var rec BuildRecord
	var durationMS int64
	var startedAt sql.NullTime

	err := row.Scan(
		&rec.ID, &rec.BatchID, &rec.Kernel, &rec.KernelRoot, &rec.Toolchain, &rec.Release, &rec.Status,
		&rec.ImagePath, &rec.LogPath, &rec.Error, &durationMS, &startedAt, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Duration = time.Duration(durationMS) * time.Millisecond
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	return &rec, nil
}
