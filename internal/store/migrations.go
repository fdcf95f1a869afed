package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// One row per recording session started from the CLI, HTTP API or tray
		`CREATE TABLE IF NOT EXISTS recording_sessions (
			id TEXT PRIMARY KEY,
			gesture TEXT NOT NULL,
			target INTEGER NOT NULL,
			start_count INTEGER NOT NULL DEFAULT 0,
			recorded INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL CHECK(status IN ('recording', 'completed', 'stopped', 'failed')),
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,

		// One row per training attempt, including failed ones
		`CREATE TABLE IF NOT EXISTS training_runs (
			id TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			classes TEXT NOT NULL DEFAULT '[]',
			samples INTEGER NOT NULL DEFAULT 0,
			epochs INTEGER NOT NULL DEFAULT 0,
			loss REAL NOT NULL DEFAULT 0,
			accuracy REAL NOT NULL DEFAULT 0,
			converged INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL CHECK(status IN ('succeeded', 'failed')),
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,

		// Settings table - stores application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_recording_sessions_gesture ON recording_sessions(gesture)`,
		`CREATE INDEX IF NOT EXISTS idx_training_runs_created_at ON training_runs(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
