package migrations

import "database/sql"

const buildRecordsTableSQL = `
CREATE TABLE IF NOT EXISTS build_records (
	id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL,
	kernel TEXT NOT NULL,
	kernel_root TEXT NOT NULL,
	toolchain TEXT NOT NULL,
	release TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	image_path TEXT NOT NULL DEFAULT '',
	log_path TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`

const buildRecordsIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_build_records_batch ON build_records(batch_id);
CREATE INDEX IF NOT EXISTS idx_build_records_kernel ON build_records(kernel);
CREATE INDEX IF NOT EXISTS idx_build_records_created ON build_records(created_at);
`

func migration002BuildRecords() Migration {
	return Migration{
		Version:     2,
		Description: "Build history",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(buildRecordsTableSQL); err != nil {
				return err
			}
			_, err := tx.Exec(buildRecordsIndexesSQL)
			return err
		},
	}
}
