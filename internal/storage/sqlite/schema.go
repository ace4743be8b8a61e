package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS objects (
    hash     TEXT PRIMARY KEY,
    obj_type TEXT NOT NULL,
    data     BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS refs (
    name  TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS logs (
    id                  TEXT PRIMARY KEY,
    timestamp           TEXT NOT NULL,
    agent_id            TEXT NOT NULL,
    action              TEXT NOT NULL,
    message             TEXT NOT NULL,
    commit_hash         TEXT,
    details             TEXT,
    level               TEXT NOT NULL DEFAULT 'info',
    integrity_hash      TEXT NOT NULL,
    prev_integrity_hash TEXT
);

CREATE INDEX IF NOT EXISTS idx_logs_agent_id  ON logs(agent_id);
CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_logs_action    ON logs(action);
CREATE INDEX IF NOT EXISTS idx_objects_type   ON objects(obj_type);
`
