package importer

import (
	"context"
	"hash/crc32"

	"github.com/sirupsen/logrus"

	"github.com/reviewsync/reviewsync-go/internal/database"
	"github.com/reviewsync/reviewsync-go/internal/errors"
	"github.com/reviewsync/reviewsync-go/internal/gerrit"
	"github.com/reviewsync/reviewsync-go/internal/models"
)

// Mode declares what the merger may expect to find in storage.
type Mode string

const (
	// ModeInitial is the first crawl of a server: nothing should already
	// exist, so any matched-and-changed changeset is a consistency
	// violation (either an identity collision or a matching bug) and
	// aborts the crawl.
	ModeInitial Mode = "initial"

	// ModeIncremental is every later crawl: matches are expected and
	// resolved by the insert/update/skip logic.
	ModeIncremental Mode = "incremental"
)

// Action is the outcome of merging one changeset record.
type Action int

const (
	ActionInserted Action = iota
	ActionUpdated
	ActionSkipped
)

// Synthetic file action for inline comments on files absent from the
// current patchset's file list (the comment was made on an earlier
// revision of the file).
const fileActionCommented = "COMMENTED"

// Merger reconciles decoded feed records with storage: per entity it
// decides insert, update, or skip, keyed by the synthesized composite
// identities, and never deletes anything.
type Merger struct {
	db     *database.Client
	mode   Mode
	logger *logrus.Logger
}

func NewMerger(db *database.Client, mode Mode, logger *logrus.Logger) *Merger {
	return &Merger{db: db, mode: mode, logger: logger}
}

// MergeChangeset reconciles one changeset and everything nested under it.
// A record whose lastUpdated equals the stored value is skipped outright;
// none of the nested structures are re-walked.
func (m *Merger) MergeChangeset(ctx context.Context, projectID int64, rec *gerrit.ChangesetRecord) (Action, error) {
	branchID, err := m.db.LookupCode(ctx, database.LookupBranches, rec.Branch)
	if err != nil {
		return ActionSkipped, err
	}
	statusID, err := m.db.LookupCode(ctx, database.LookupStatuses, rec.Status)
	if err != nil {
		return ActionSkipped, err
	}
	ownerID, err := m.db.ResolvePerson(ctx, rec.Owner)
	if err != nil {
		return ActionSkipped, err
	}

	action := ActionInserted
	var changesetID int64

	stored, err := m.db.FindChangeset(ctx, projectID, branchID, rec.ID, rec.CreatedOn)
	switch {
	case err == database.ErrNotFound:
		changesetID, err = m.db.InsertChangeset(ctx, &models.Changeset{
			Project:       projectID,
			Branch:        branchID,
			Topic:         rec.Topic,
			Identifier:    rec.ID,
			Number:        rec.Number,
			Subject:       rec.Subject,
			Owner:         ownerID,
			URL:           rec.URL,
			CommitMessage: rec.CommitMessage,
			CreatedOn:     rec.CreatedOn,
			LastUpdated:   rec.LastUpdated,
			SortKey:       rec.SortKey,
			Open:          rec.Open,
			Status:        statusID,
		})
		if err != nil {
			return ActionSkipped, err
		}

	case err != nil:
		return ActionSkipped, err

	case rec.LastUpdated == stored.LastUpdated:
		return ActionSkipped, nil

	case rec.LastUpdated < stored.LastUpdated:
		// A well-behaved feed never resends an older revision of a
		// change. Trust what is stored and move on.
		m.logger.WithFields(logrus.Fields{
			"identifier": rec.ID,
			"stored":     stored.LastUpdated,
			"incoming":   rec.LastUpdated,
		}).Warn("Feed delivered a changeset older than the stored row; skipping")
		return ActionSkipped, nil

	default:
		if m.mode == ModeInitial {
			return ActionSkipped, errors.UnexpectedUpdate("changeset", rec)
		}
		changesetID = stored.ID
		action = ActionUpdated
		fields := changesetDiff(stored, rec, ownerID, statusID)
		if err := m.db.UpdateChangeset(ctx, changesetID, fields); err != nil {
			return ActionSkipped, err
		}
	}

	if err := m.mergePatchsets(ctx, changesetID, rec); err != nil {
		return action, err
	}
	if err := m.mergeComments(ctx, changesetID, rec.Comments); err != nil {
		return action, err
	}
	if err := m.mergeTrackingIDs(ctx, changesetID, rec.TrackingIDs); err != nil {
		return action, err
	}
	if err := m.mergeSubmitRecords(ctx, changesetID, rec.SubmitRecords); err != nil {
		return action, err
	}
	if err := m.stageRelationships(ctx, changesetID, rec); err != nil {
		return action, err
	}
	return action, nil
}

// changesetDiff returns only the columns whose stored value differs from
// the incoming record. Identity columns never change.
func changesetDiff(stored *models.Changeset, rec *gerrit.ChangesetRecord, ownerID, statusID int64) map[string]interface{} {
	fields := make(map[string]interface{})
	if stored.Topic != rec.Topic {
		fields["topic"] = rec.Topic
	}
	if stored.Number != rec.Number {
		fields["number"] = rec.Number
	}
	if stored.Subject != rec.Subject {
		fields["subject"] = rec.Subject
	}
	if stored.Owner != ownerID {
		fields["owner"] = ownerID
	}
	if stored.URL != rec.URL {
		fields["url"] = rec.URL
	}
	if stored.CommitMessage != rec.CommitMessage {
		fields["commit_message"] = rec.CommitMessage
	}
	if stored.LastUpdated != rec.LastUpdated {
		fields["last_updated"] = rec.LastUpdated
	}
	if stored.SortKey != rec.SortKey {
		fields["sort_key"] = rec.SortKey
	}
	if stored.Open != rec.Open {
		fields["open"] = rec.Open
	}
	if stored.Status != statusID {
		fields["status"] = statusID
	}
	return fields
}

func (m *Merger) mergePatchsets(ctx context.Context, changesetID int64, rec *gerrit.ChangesetRecord) error {
	for i := range rec.Patchsets {
		if _, err := m.mergePatchset(ctx, changesetID, &rec.Patchsets[i]); err != nil {
			return err
		}
	}

	// The current patchset arrives both inside patchSets and as its own
	// sub-structure; after the loop its row exists and the pointer column
	// can be set.
	if rec.CurrentPatchset != nil {
		currentID, err := m.mergePatchset(ctx, changesetID, rec.CurrentPatchset)
		if err != nil {
			return err
		}
		if err := m.db.SetCurrentPatchset(ctx, changesetID, currentID); err != nil {
			return err
		}
	}
	return nil
}

// mergePatchset reconciles one patchset revision. Patchsets are immutable
// once pushed: a matched row is reused as is, only a new row cascades into
// file import.
func (m *Merger) mergePatchset(ctx context.Context, changesetID int64, rec *gerrit.PatchsetRecord) (int64, error) {
	uploaderID, err := m.db.ResolvePerson(ctx, rec.Uploader)
	if err != nil {
		return 0, err
	}
	var authorID int64
	if rec.Author != nil {
		if authorID, err = m.db.ResolvePerson(ctx, *rec.Author); err != nil {
			return 0, err
		}
	}

	var patchsetID int64
	stored, err := m.db.FindPatchset(ctx, changesetID, rec.Number, rec.Revision, rec.CreatedOn)
	switch {
	case err == database.ErrNotFound:
		patchsetID, err = m.db.InsertPatchset(ctx, &models.Patchset{
			Changeset:  changesetID,
			Number:     rec.Number,
			Revision:   rec.Revision,
			Ref:        rec.Ref,
			Uploader:   uploaderID,
			Author:     authorID,
			Insertions: rec.Insertions,
			Deletions:  rec.Deletions,
			IsDraft:    rec.IsDraft,
			CreatedOn:  rec.CreatedOn,
		})
		if err != nil {
			return 0, err
		}
		if err := m.importFiles(ctx, patchsetID, rec.Files); err != nil {
			return 0, err
		}

	case err != nil:
		return 0, err

	default:
		patchsetID = stored.ID
	}

	if err := m.mergeApprovals(ctx, patchsetID, rec.Approvals); err != nil {
		return 0, err
	}
	if err := m.mergeFileComments(ctx, patchsetID, rec.Comments); err != nil {
		return 0, err
	}
	return patchsetID, nil
}

func (m *Merger) importFiles(ctx context.Context, patchsetID int64, files []gerrit.FileRecord) error {
	for _, f := range files {
		actionID, err := m.db.LookupCode(ctx, database.LookupFileActions, f.Type)
		if err != nil {
			return err
		}
		_, err = m.db.InsertFile(ctx, &models.File{
			Patchset:   patchsetID,
			Path:       f.Path,
			OldPath:    f.OldPath,
			Insertions: f.Insertions,
			Deletions:  f.Deletions,
			Type:       actionID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// mergeApprovals reconciles the vote list of a patchset. Stored votes are
// flagged voted_earlier up front; every vote confirmed by the feed clears
// its flag, so whatever remains flagged was retracted upstream. Rows are
// never deleted.
func (m *Merger) mergeApprovals(ctx context.Context, patchsetID int64, approvals []gerrit.ApprovalRecord) error {
	if err := m.db.FlagApprovalsVotedEarlier(ctx, patchsetID); err != nil {
		return err
	}
	for _, a := range approvals {
		byID, err := m.db.ResolvePerson(ctx, a.By)
		if err != nil {
			return err
		}
		stored, err := m.db.FindApproval(ctx, patchsetID, a.Type, byID)
		switch {
		case err == database.ErrNotFound:
			_, err = m.db.InsertApproval(ctx, &models.Approval{
				Patchset:    patchsetID,
				Type:        a.Type,
				Description: a.Description,
				Value:       a.Value,
				GrantedOn:   a.GrantedOn,
				By:          byID,
			})
			if err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := m.db.UpdateApproval(ctx, stored.ID, a.Value, a.Description, a.GrantedOn); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeFileComments reconciles inline comments. The feed carries no
// timestamp for these, so identity falls back to a CRC-32 checksum of the
// message text. A comment on a file missing from the patchset's file list
// gets a synthetic file row with the COMMENTED action.
func (m *Merger) mergeFileComments(ctx context.Context, patchsetID int64, comments []gerrit.FileCommentRecord) error {
	for _, fc := range comments {
		reviewerID, err := m.db.ResolvePerson(ctx, fc.Reviewer)
		if err != nil {
			return err
		}

		file, err := m.db.FindFile(ctx, patchsetID, fc.File)
		if err == database.ErrNotFound {
			actionID, err := m.db.LookupCode(ctx, database.LookupFileActions, fileActionCommented)
			if err != nil {
				return err
			}
			fileID, err := m.db.InsertFile(ctx, &models.File{
				Patchset: patchsetID,
				Path:     fc.File,
				Type:     actionID,
			})
			if err != nil {
				return err
			}
			file = &models.File{ID: fileID}
		} else if err != nil {
			return err
		}

		crc := int64(crc32.ChecksumIEEE([]byte(fc.Message)))
		_, err = m.db.FindFileComment(ctx, patchsetID, file.ID, fc.Line, reviewerID, crc)
		if err == database.ErrNotFound {
			_, err = m.db.InsertFileComment(ctx, &models.FileComment{
				Patchset:   patchsetID,
				File:       file.ID,
				Line:       fc.Line,
				Reviewer:   reviewerID,
				Message:    fc.Message,
				MessageCRC: crc,
			})
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// mergeComments reconciles changeset-level comments. The feed has no
// comment id and genuine duplicates occur (same person, same second, same
// text), so the 1-based position in the feed's list completes the
// identity. Comments are insert-only.
func (m *Merger) mergeComments(ctx context.Context, changesetID int64, comments []gerrit.CommentRecord) error {
	for i, cm := range comments {
		reviewerID, err := m.db.ResolvePerson(ctx, cm.Reviewer)
		if err != nil {
			return err
		}
		number := int64(i + 1)
		_, err = m.db.FindComment(ctx, changesetID, cm.Timestamp, reviewerID, number)
		if err == database.ErrNotFound {
			_, err = m.db.InsertComment(ctx, &models.Comment{
				Changeset: changesetID,
				Timestamp: cm.Timestamp,
				Reviewer:  reviewerID,
				Message:   cm.Message,
				Number:    number,
			})
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// mergeTrackingIDs follows the same flag-then-clear scheme as approvals:
// references dropped from a rewritten commit message stay stored, flagged
// referenced_earlier.
func (m *Merger) mergeTrackingIDs(ctx context.Context, changesetID int64, ids []gerrit.TrackingIDRecord) error {
	if err := m.db.FlagTrackingIDsReferencedEarlier(ctx, changesetID); err != nil {
		return err
	}
	for _, t := range ids {
		systemID, err := m.db.LookupCode(ctx, database.LookupTrackingSystems, t.System)
		if err != nil {
			return err
		}
		stored, err := m.db.FindTrackingID(ctx, changesetID, systemID, t.ID)
		switch {
		case err == database.ErrNotFound:
			_, err = m.db.InsertTrackingID(ctx, &models.TrackingID{
				Changeset: changesetID,
				System:    systemID,
				Number:    t.ID,
			})
			if err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := m.db.ClearTrackingIDFlag(ctx, stored.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Merger) mergeSubmitRecords(ctx context.Context, changesetID int64, records []gerrit.SubmitRecordRecord) error {
	for _, r := range records {
		var recordID int64
		stored, err := m.db.FindSubmitRecord(ctx, changesetID)
		switch {
		case err == database.ErrNotFound:
			recordID, err = m.db.InsertSubmitRecord(ctx, &models.SubmitRecord{
				Changeset: changesetID,
				Status:    r.Status,
			})
			if err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			recordID = stored.ID
			if stored.Status != r.Status {
				if err := m.db.UpdateSubmitRecordStatus(ctx, recordID, r.Status); err != nil {
					return err
				}
			}
		}

		for _, l := range r.Labels {
			var byID int64
			if l.By != nil {
				if byID, err = m.db.ResolvePerson(ctx, *l.By); err != nil {
					return err
				}
			}
			storedLabel, err := m.db.FindSubmitRecordLabel(ctx, recordID, l.Label)
			switch {
			case err == database.ErrNotFound:
				_, err = m.db.InsertSubmitRecordLabel(ctx, &models.SubmitRecordLabel{
					SubmitRecord: recordID,
					Label:        l.Label,
					Status:       l.Status,
					By:           byID,
				})
				if err != nil {
					return err
				}
			case err != nil:
				return err
			default:
				if storedLabel.Status != l.Status || storedLabel.By != byID {
					if err := m.db.UpdateSubmitRecordLabel(ctx, storedLabel.ID, l.Status, byID); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// stageRelationships records the changeset's dependsOn and neededBy edges
// for the batch resolution pass. Targets may not be imported yet.
func (m *Merger) stageRelationships(ctx context.Context, changesetID int64, rec *gerrit.ChangesetRecord) error {
	for _, d := range rec.DependsOn {
		err := m.db.StageRelationship(ctx, &models.StagedRelationship{
			Changeset:         changesetID,
			Identifier:        d.ID,
			Number:            d.Number,
			Revision:          d.Revision,
			Ref:               d.Ref,
			IsCurrentPatchset: d.IsCurrentPatchset,
			Kind:              models.RelationDependsOn,
		})
		if err != nil {
			return err
		}
	}
	for _, d := range rec.NeededBy {
		err := m.db.StageRelationship(ctx, &models.StagedRelationship{
			Changeset:  changesetID,
			Identifier: d.ID,
			Number:     d.Number,
			Revision:   d.Revision,
			Ref:        d.Ref,
			Kind:       models.RelationNeededBy,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
