package db

const schemaSQL = `
-- ===========================================================================
-- HEOS EVENT JOURNAL
-- ===========================================================================

CREATE TABLE IF NOT EXISTS heos_events (
  event_id TEXT PRIMARY KEY,
  received_at TEXT NOT NULL,
  host TEXT NOT NULL,
  event TEXT NOT NULL,
  command TEXT NOT NULL,
  message TEXT NOT NULL DEFAULT '',
  raw TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_heos_events_received_at ON heos_events(received_at);
CREATE INDEX IF NOT EXISTS idx_heos_events_event ON heos_events(event);
`
