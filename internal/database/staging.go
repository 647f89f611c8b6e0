package database

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reviewsync/reviewsync-go/internal/errors"
	"github.com/reviewsync/reviewsync-go/internal/models"
)

// Staging for cross-changeset relationships. A changeset's dependsOn target
// may not be imported yet when the changeset itself arrives (pagination
// order is not topological), so edges are staged with enough identity to
// re-find the target and resolved in one batch join per project.

// ClearStaged truncates the staging table. Called before each project's
// crawl begins and once more when the run finishes, so unresolved rows
// from one project get a window into the next project's resolution pass
// but never survive the run.
func (c *Client) ClearStaged(ctx context.Context) error {
	_, err := c.exec(ctx, "DELETE FROM staged_relationships")
	return err
}

// StageRelationship records one dependsOn/neededBy edge for later
// resolution.
func (c *Client) StageRelationship(ctx context.Context, r *models.StagedRelationship) error {
	_, err := c.insertRow(ctx, "staged_relationships",
		[]string{"changeset", "identifier", "number", "revision", "ref", "is_current_patchset", "kind"},
		r.Changeset, r.Identifier, r.Number, r.Revision, r.Ref, r.IsCurrentPatchset, r.Kind)
	return err
}

// targetJoin matches a staged row to its target changeset: the change id
// and change number locate the changeset, the revision and ref pin the
// referenced patchset to it.
const targetJoin = `
	FROM staged_relationships sr
	JOIN changesets t ON t.identifier = sr.identifier AND t.number = sr.number
	JOIN patchsets p ON p.changeset = t.id AND p.revision = sr.revision AND p.ref = sr.ref`

// ResolveDependsOn writes the resolved target id into each staged source
// changeset's depends_on column. A changeset has at most one dependsOn
// target. Unresolvable rows stay staged; they get one more chance when the
// next project's pass runs, then vanish with the truncate.
func (c *Client) ResolveDependsOn(ctx context.Context) (int64, error) {
	affected, err := c.exec(ctx, `
		UPDATE changesets SET depends_on = (
			SELECT t.id `+targetJoin+`
			WHERE sr.changeset = changesets.id AND sr.kind = ?
			LIMIT 1
		)
		WHERE id IN (
			SELECT sr.changeset `+targetJoin+`
			WHERE sr.kind = ?
		)`,
		models.RelationDependsOn, models.RelationDependsOn)
	if err != nil {
		return 0, err
	}
	c.logger.WithFields(logrus.Fields{
		"resolved": affected,
	}).Debug("Resolved dependsOn relationships")
	return affected, nil
}

// ResolveNeededBy inserts resolved back-references into the many-to-many
// table, deduplicated by the pair.
func (c *Client) ResolveNeededBy(ctx context.Context) (int64, error) {
	affected, err := c.exec(ctx, `
		INSERT INTO changeset_neededby (changeset, needed_by)
		SELECT DISTINCT sr.changeset, t.id `+targetJoin+`
		WHERE sr.kind = ?
		  AND NOT EXISTS (
			SELECT 1 FROM changeset_neededby nb
			WHERE nb.changeset = sr.changeset AND nb.needed_by = t.id
		  )`,
		models.RelationNeededBy)
	if err != nil {
		return 0, err
	}
	c.logger.WithFields(logrus.Fields{
		"resolved": affected,
	}).Debug("Resolved neededBy relationships")
	return affected, nil
}

// NeededBy lists the back-reference targets recorded for a changeset.
func (c *Client) NeededBy(ctx context.Context, changesetID int64) ([]int64, error) {
	var ids []int64
	err := c.db.SelectContext(ctx, &ids,
		c.db.Rebind("SELECT needed_by FROM changeset_neededby WHERE changeset = ? ORDER BY needed_by"),
		changesetID)
	if err != nil {
		return nil, errors.Database(err, "neededBy listing failed")
	}
	return ids, nil
}

// StagedCount reports how many rows are currently staged.
func (c *Client) StagedCount(ctx context.Context) (int64, error) {
	var n int64
	if err := c.getRow(ctx, &n, "SELECT COUNT(*) FROM staged_relationships"); err != nil {
		return 0, err
	}
	return n, nil
}

// AcquireCrawlLock takes the advisory lock for a host. The merge logic is
// single-writer; two crawls of the same server would race the staging table
// and the flag-then-clear passes.
func (c *Client) AcquireCrawlLock(ctx context.Context, host, runID string) error {
	_, err := c.exec(ctx,
		"INSERT INTO crawl_locks (host, run_id, locked_at) VALUES (?, ?, ?)",
		host, runID, time.Now().Unix())
	if err != nil {
		return errors.Databasef(err, "crawl lock for %s is held; another crawl may be running", host)
	}
	return nil
}

// ReleaseCrawlLock drops the advisory lock if this run still holds it.
func (c *Client) ReleaseCrawlLock(ctx context.Context, host, runID string) error {
	_, err := c.exec(ctx, "DELETE FROM crawl_locks WHERE host = ? AND run_id = ?", host, runID)
	return err
}
