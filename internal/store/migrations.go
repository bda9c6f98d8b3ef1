package store

func (s *Storage) RunMigrations() error {
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS external_calendars (
		id VARCHAR NOT NULL PRIMARY KEY,
		owner_id VARCHAR NOT NULL,
		name VARCHAR NOT NULL,
		provider VARCHAR NOT NULL,
		url TEXT NOT NULL,
		color VARCHAR NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL DEFAULT 1,
		last_synced_at DATETIME NULL DEFAULT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS external_calendars_owner ON external_calendars (owner_id)`,
	`CREATE TABLE IF NOT EXISTS external_events (
		id VARCHAR NOT NULL PRIMARY KEY,
		calendar_id VARCHAR NOT NULL,
		owner_id VARCHAR NOT NULL,
		uid VARCHAR NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		start_at DATETIME NOT NULL,
		end_at DATETIME NULL DEFAULT NULL,
		all_day BOOLEAN NOT NULL DEFAULT 0,
		rrule TEXT NOT NULL DEFAULT '',
		UNIQUE (calendar_id, uid),
		FOREIGN KEY (calendar_id) REFERENCES external_calendars (id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS external_events_owner ON external_events (owner_id, calendar_id)`,
	`CREATE TABLE IF NOT EXISTS classes (
		id VARCHAR NOT NULL PRIMARY KEY,
		owner_id VARCHAR NOT NULL,
		name VARCHAR NOT NULL,
		code VARCHAR NOT NULL DEFAULT '',
		days VARCHAR NOT NULL DEFAULT '',
		start_time VARCHAR NOT NULL,
		end_time VARCHAR NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		semester_start DATETIME NOT NULL,
		semester_end DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id VARCHAR NOT NULL PRIMARY KEY,
		owner_id VARCHAR NOT NULL,
		class_id VARCHAR NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		date DATETIME NOT NULL,
		start_time VARCHAR NOT NULL DEFAULT '',
		end_time VARCHAR NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		topics TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS deadlines (
		id VARCHAR NOT NULL PRIMARY KEY,
		owner_id VARCHAR NOT NULL,
		class_id VARCHAR NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		type VARCHAR NOT NULL DEFAULT '',
		status VARCHAR NOT NULL DEFAULT '',
		due DATETIME NOT NULL,
		weight REAL NULL DEFAULT NULL,
		description TEXT NOT NULL DEFAULT ''
	)`,
}
