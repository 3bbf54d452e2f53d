package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create call records",
		SQL: `
			CREATE TABLE call_records (
				id           TEXT PRIMARY KEY,
				agent_id     TEXT NOT NULL,
				agent_type   TEXT NOT NULL DEFAULT 'ai',
				buyer_id     TEXT NOT NULL,
				property_id  TEXT NOT NULL DEFAULT '',
				lead_id      TEXT NOT NULL DEFAULT '',
				start_time   TEXT NOT NULL,
				end_time     TEXT,
				duration     INTEGER,
				transcript   TEXT NOT NULL DEFAULT '[]',
				status       TEXT NOT NULL DEFAULT 'in_progress',
				created_at   TEXT NOT NULL
			);

			CREATE INDEX idx_call_records_agent ON call_records(agent_id, created_at);
			CREATE INDEX idx_call_records_buyer ON call_records(buyer_id, created_at);
		`,
	},
	{
		Version: 2,
		Name:    "index call record status",
		SQL:     `CREATE INDEX idx_call_records_status ON call_records(status);`,
	},
}
