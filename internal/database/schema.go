package database

import (
	"strings"

	"github.com/reviewsync/reviewsync-go/internal/errors"
)

// The schema is created on connect; every statement is idempotent. There is
// no migration tooling: the table set is stable and additive changes ship as
// new CREATE statements.
//
// __PK__ expands to the driver's auto-increment surrogate key type.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS servers (
    id __PK__,
    name TEXT NOT NULL,
    host TEXT NOT NULL,
    UNIQUE (name, host)
);

CREATE TABLE IF NOT EXISTS projects (
    id __PK__,
    server_id BIGINT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    parent BIGINT NOT NULL DEFAULT 0,
    UNIQUE (server_id, name)
);

CREATE TABLE IF NOT EXISTS branches (
    id __PK__,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS statuses (
    id __PK__,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS tracking_systems (
    id __PK__,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS file_actions (
    id __PK__,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS persons (
    id __PK__,
    name TEXT NOT NULL DEFAULT '',
    username TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS person_emails (
    id __PK__,
    person BIGINT NOT NULL,
    email TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS changesets (
    id __PK__,
    project BIGINT NOT NULL,
    branch BIGINT NOT NULL,
    topic TEXT NOT NULL DEFAULT '',
    identifier TEXT NOT NULL,
    number BIGINT NOT NULL DEFAULT 0,
    subject TEXT NOT NULL DEFAULT '',
    owner BIGINT NOT NULL DEFAULT 0,
    url TEXT NOT NULL DEFAULT '',
    commit_message TEXT NOT NULL DEFAULT '',
    created_on BIGINT NOT NULL DEFAULT 0,
    last_updated BIGINT NOT NULL DEFAULT 0,
    sort_key TEXT NOT NULL DEFAULT '',
    open BOOLEAN NOT NULL DEFAULT FALSE,
    status BIGINT NOT NULL DEFAULT 0,
    current_patchset BIGINT NOT NULL DEFAULT 0,
    depends_on BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_changesets_identity
    ON changesets (project, branch, identifier, created_on);

CREATE TABLE IF NOT EXISTS patchsets (
    id __PK__,
    changeset BIGINT NOT NULL,
    number BIGINT NOT NULL,
    revision TEXT NOT NULL DEFAULT '',
    ref TEXT NOT NULL DEFAULT '',
    uploader BIGINT NOT NULL DEFAULT 0,
    author BIGINT NOT NULL DEFAULT 0,
    size_insertions BIGINT NOT NULL DEFAULT 0,
    size_deletions BIGINT NOT NULL DEFAULT 0,
    is_draft BOOLEAN NOT NULL DEFAULT FALSE,
    created_on BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_patchsets_identity
    ON patchsets (changeset, number, revision, created_on);

CREATE TABLE IF NOT EXISTS approvals (
    id __PK__,
    patchset BIGINT NOT NULL,
    type TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    value TEXT NOT NULL DEFAULT '',
    granted_on BIGINT NOT NULL DEFAULT 0,
    "by" BIGINT NOT NULL DEFAULT 0,
    voted_earlier BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_approvals_identity
    ON approvals (patchset, type, "by");

CREATE TABLE IF NOT EXISTS comments (
    id __PK__,
    changeset BIGINT NOT NULL,
    timestamp BIGINT NOT NULL DEFAULT 0,
    reviewer BIGINT NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT '',
    number BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS files (
    id __PK__,
    patchset BIGINT NOT NULL,
    file TEXT NOT NULL,
    file_old TEXT NOT NULL DEFAULT '',
    insertions BIGINT NOT NULL DEFAULT 0,
    deletions BIGINT NOT NULL DEFAULT 0,
    type BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_files_identity ON files (patchset, file);

CREATE TABLE IF NOT EXISTS file_comments (
    id __PK__,
    patchset BIGINT NOT NULL,
    file BIGINT NOT NULL,
    line BIGINT NOT NULL DEFAULT 0,
    reviewer BIGINT NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT '',
    message_crc32 BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tracking_ids (
    id __PK__,
    changeset BIGINT NOT NULL,
    system BIGINT NOT NULL,
    number TEXT NOT NULL,
    referenced_earlier BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS submit_records (
    id __PK__,
    changeset BIGINT NOT NULL,
    status TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS submit_record_labels (
    id __PK__,
    submit_record BIGINT NOT NULL,
    label TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT '',
    "by" BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS staged_relationships (
    id __PK__,
    changeset BIGINT NOT NULL,
    identifier TEXT NOT NULL DEFAULT '',
    number BIGINT NOT NULL DEFAULT 0,
    revision TEXT NOT NULL DEFAULT '',
    ref TEXT NOT NULL DEFAULT '',
    is_current_patchset BOOLEAN NOT NULL DEFAULT FALSE,
    kind BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS changeset_neededby (
    changeset BIGINT NOT NULL,
    needed_by BIGINT NOT NULL,
    UNIQUE (changeset, needed_by)
);

CREATE TABLE IF NOT EXISTS crawl_locks (
    host TEXT NOT NULL PRIMARY KEY,
    run_id TEXT NOT NULL,
    locked_at BIGINT NOT NULL
);
`

func (c *Client) initSchema() error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if c.driver == DriverPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	schema := strings.ReplaceAll(schemaTemplate, "__PK__", pk)
	if _, err := c.db.Exec(schema); err != nil {
		return errors.Database(err, "schema initialization failed")
	}
	return nil
}
