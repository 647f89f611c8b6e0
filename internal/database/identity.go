package database

import (
	"context"

	"github.com/reviewsync/reviewsync-go/internal/models"
)

// Accessors keyed by the synthesized composite identities. The feed carries
// no stable primary keys, so "the same entity" means "the same identity
// tuple"; every Find returns ErrNotFound when the tuple is unseen.

func (c *Client) FindServer(ctx context.Context, name, host string) (*models.Server, error) {
	var s models.Server
	err := c.getRow(ctx, &s, "SELECT * FROM servers WHERE name = ? AND host = ?", name, host)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) InsertServer(ctx context.Context, name, host string) (int64, error) {
	return c.insertRow(ctx, "servers", []string{"name", "host"}, name, host)
}

func (c *Client) FindProject(ctx context.Context, serverID int64, name string) (*models.Project, error) {
	var p models.Project
	err := c.getRow(ctx, &p, "SELECT * FROM projects WHERE server_id = ? AND name = ?", serverID, name)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) InsertProject(ctx context.Context, p *models.Project) (int64, error) {
	return c.insertRow(ctx, "projects",
		[]string{"server_id", "name", "description", "parent"},
		p.ServerID, p.Name, p.Description, p.Parent)
}

func (c *Client) UpdateProject(ctx context.Context, id int64, fields map[string]interface{}) error {
	return c.updateByID(ctx, "projects", id, fields)
}

// SetProjectParent writes the parent link resolved in the second pass over
// the project list.
func (c *Client) SetProjectParent(ctx context.Context, childID, parentID int64) error {
	return c.updateByID(ctx, "projects", childID, map[string]interface{}{"parent": parentID})
}

func (c *Client) FindChangeset(ctx context.Context, projectID, branchID int64, identifier string, createdOn int64) (*models.Changeset, error) {
	var cs models.Changeset
	err := c.getRow(ctx, &cs,
		"SELECT * FROM changesets WHERE project = ? AND branch = ? AND identifier = ? AND created_on = ?",
		projectID, branchID, identifier, createdOn)
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

func (c *Client) InsertChangeset(ctx context.Context, cs *models.Changeset) (int64, error) {
	return c.insertRow(ctx, "changesets",
		[]string{"project", "branch", "topic", "identifier", "number", "subject", "owner",
			"url", "commit_message", "created_on", "last_updated", "sort_key", "open", "status"},
		cs.Project, cs.Branch, cs.Topic, cs.Identifier, cs.Number, cs.Subject, cs.Owner,
		cs.URL, cs.CommitMessage, cs.CreatedOn, cs.LastUpdated, cs.SortKey, cs.Open, cs.Status)
}

func (c *Client) UpdateChangeset(ctx context.Context, id int64, fields map[string]interface{}) error {
	return c.updateByID(ctx, "changesets", id, fields)
}

// SetCurrentPatchset records which patchset row is the change's current one.
func (c *Client) SetCurrentPatchset(ctx context.Context, changesetID, patchsetID int64) error {
	return c.updateByID(ctx, "changesets", changesetID,
		map[string]interface{}{"current_patchset": patchsetID})
}

func (c *Client) FindPatchset(ctx context.Context, changesetID, number int64, revision string, createdOn int64) (*models.Patchset, error) {
	var p models.Patchset
	err := c.getRow(ctx, &p,
		"SELECT * FROM patchsets WHERE changeset = ? AND number = ? AND revision = ? AND created_on = ?",
		changesetID, number, revision, createdOn)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) InsertPatchset(ctx context.Context, p *models.Patchset) (int64, error) {
	return c.insertRow(ctx, "patchsets",
		[]string{"changeset", "number", "revision", "ref", "uploader", "author",
			"size_insertions", "size_deletions", "is_draft", "created_on"},
		p.Changeset, p.Number, p.Revision, p.Ref, p.Uploader, p.Author,
		p.Insertions, p.Deletions, p.IsDraft, p.CreatedOn)
}

// FlagApprovalsVotedEarlier marks every stored approval of a patchset as a
// retracted vote. Approvals confirmed by the current feed clear their own
// flag during the merge; whatever stays flagged was dropped upstream.
func (c *Client) FlagApprovalsVotedEarlier(ctx context.Context, patchsetID int64) error {
	_, err := c.exec(ctx, "UPDATE approvals SET voted_earlier = ? WHERE patchset = ?", true, patchsetID)
	return err
}

func (c *Client) FindApproval(ctx context.Context, patchsetID int64, approvalType string, by int64) (*models.Approval, error) {
	var a models.Approval
	err := c.getRow(ctx, &a,
		`SELECT * FROM approvals WHERE patchset = ? AND type = ? AND "by" = ?`,
		patchsetID, approvalType, by)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) InsertApproval(ctx context.Context, a *models.Approval) (int64, error) {
	return c.insertRow(ctx, "approvals",
		[]string{"patchset", "type", "description", "value", "granted_on", `"by"`, "voted_earlier"},
		a.Patchset, a.Type, a.Description, a.Value, a.GrantedOn, a.By, false)
}

// UpdateApproval overwrites the mutable vote fields and clears the
// voted_earlier flag for an approval confirmed by the current feed.
func (c *Client) UpdateApproval(ctx context.Context, id int64, value, description string, grantedOn int64) error {
	return c.updateByID(ctx, "approvals", id, map[string]interface{}{
		"value":         value,
		"description":   description,
		"granted_on":    grantedOn,
		"voted_earlier": false,
	})
}

func (c *Client) FindComment(ctx context.Context, changesetID, timestamp, reviewer, number int64) (*models.Comment, error) {
	var m models.Comment
	err := c.getRow(ctx, &m,
		"SELECT * FROM comments WHERE changeset = ? AND timestamp = ? AND reviewer = ? AND number = ?",
		changesetID, timestamp, reviewer, number)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) InsertComment(ctx context.Context, m *models.Comment) (int64, error) {
	return c.insertRow(ctx, "comments",
		[]string{"changeset", "timestamp", "reviewer", "message", "number"},
		m.Changeset, m.Timestamp, m.Reviewer, m.Message, m.Number)
}

func (c *Client) FindFile(ctx context.Context, patchsetID int64, path string) (*models.File, error) {
	var f models.File
	err := c.getRow(ctx, &f, "SELECT * FROM files WHERE patchset = ? AND file = ?", patchsetID, path)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *Client) InsertFile(ctx context.Context, f *models.File) (int64, error) {
	return c.insertRow(ctx, "files",
		[]string{"patchset", "file", "file_old", "insertions", "deletions", "type"},
		f.Patchset, f.Path, f.OldPath, f.Insertions, f.Deletions, f.Type)
}

func (c *Client) FindFileComment(ctx context.Context, patchsetID, fileID, line, reviewer, crc int64) (*models.FileComment, error) {
	var fc models.FileComment
	err := c.getRow(ctx, &fc,
		"SELECT * FROM file_comments WHERE patchset = ? AND file = ? AND line = ? AND reviewer = ? AND message_crc32 = ?",
		patchsetID, fileID, line, reviewer, crc)
	if err != nil {
		return nil, err
	}
	return &fc, nil
}

func (c *Client) InsertFileComment(ctx context.Context, fc *models.FileComment) (int64, error) {
	return c.insertRow(ctx, "file_comments",
		[]string{"patchset", "file", "line", "reviewer", "message", "message_crc32"},
		fc.Patchset, fc.File, fc.Line, fc.Reviewer, fc.Message, fc.MessageCRC)
}

// FlagTrackingIDsReferencedEarlier mirrors the approval flag-then-clear
// scheme for issue-tracker references dropped from a rewritten commit
// message.
func (c *Client) FlagTrackingIDsReferencedEarlier(ctx context.Context, changesetID int64) error {
	_, err := c.exec(ctx, "UPDATE tracking_ids SET referenced_earlier = ? WHERE changeset = ?", true, changesetID)
	return err
}

func (c *Client) FindTrackingID(ctx context.Context, changesetID, system int64, number string) (*models.TrackingID, error) {
	var t models.TrackingID
	err := c.getRow(ctx, &t,
		"SELECT * FROM tracking_ids WHERE changeset = ? AND system = ? AND number = ?",
		changesetID, system, number)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) InsertTrackingID(ctx context.Context, t *models.TrackingID) (int64, error) {
	return c.insertRow(ctx, "tracking_ids",
		[]string{"changeset", "system", "number", "referenced_earlier"},
		t.Changeset, t.System, t.Number, false)
}

func (c *Client) ClearTrackingIDFlag(ctx context.Context, id int64) error {
	return c.updateByID(ctx, "tracking_ids", id, map[string]interface{}{"referenced_earlier": false})
}

// FindSubmitRecord matches by changeset alone; a changeset carries at most
// one submit record and a resync overwrites its status in place.
func (c *Client) FindSubmitRecord(ctx context.Context, changesetID int64) (*models.SubmitRecord, error) {
	var r models.SubmitRecord
	err := c.getRow(ctx, &r,
		"SELECT * FROM submit_records WHERE changeset = ?", changesetID)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) InsertSubmitRecord(ctx context.Context, r *models.SubmitRecord) (int64, error) {
	return c.insertRow(ctx, "submit_records",
		[]string{"changeset", "status"}, r.Changeset, r.Status)
}

func (c *Client) UpdateSubmitRecordStatus(ctx context.Context, id int64, status string) error {
	return c.updateByID(ctx, "submit_records", id, map[string]interface{}{"status": status})
}

func (c *Client) FindSubmitRecordLabel(ctx context.Context, submitRecordID int64, label string) (*models.SubmitRecordLabel, error) {
	var l models.SubmitRecordLabel
	err := c.getRow(ctx, &l,
		"SELECT * FROM submit_record_labels WHERE submit_record = ? AND label = ?",
		submitRecordID, label)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *Client) InsertSubmitRecordLabel(ctx context.Context, l *models.SubmitRecordLabel) (int64, error) {
	return c.insertRow(ctx, "submit_record_labels",
		[]string{"submit_record", "label", "status", `"by"`},
		l.SubmitRecord, l.Label, l.Status, l.By)
}

func (c *Client) UpdateSubmitRecordLabel(ctx context.Context, id int64, status string, by int64) error {
	return c.updateByID(ctx, "submit_record_labels", id, map[string]interface{}{
		"status": status,
		`"by"`:   by,
	})
}
