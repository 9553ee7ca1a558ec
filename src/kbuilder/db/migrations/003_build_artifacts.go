package migrations

import "database/sql"

const buildArtifactsTableSQL = `
CREATE TABLE IF NOT EXISTS build_artifacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	record_id TEXT NOT NULL REFERENCES build_records(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	path TEXT NOT NULL DEFAULT '',
	storage_key TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	checksum TEXT NOT NULL DEFAULT ''
)`

func migration003BuildArtifacts() Migration {
	return Migration{
		Version:     3,
		Description: "Exported build artifacts",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(buildArtifactsTableSQL); err != nil {
				return err
			}
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_build_artifacts_record ON build_artifacts(record_id)`)
			return err
		},
	}
}
