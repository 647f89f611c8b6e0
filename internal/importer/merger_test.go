package importer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/reviewsync/reviewsync-go/internal/database"
	"github.com/reviewsync/reviewsync-go/internal/errors"
	"github.com/reviewsync/reviewsync-go/internal/gerrit"
)

const testProjectID = int64(1)

func newTestDB(t *testing.T) *database.Client {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	path := filepath.Join(t.TempDir(), "mirror.db")
	c, err := database.NewClient(database.Config{Driver: database.DriverSQLite, DSN: path}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestMerger(t *testing.T, db *database.Client, mode Mode) *Merger {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewMerger(db, mode, logger)
}

func jane() gerrit.PersonRecord {
	return gerrit.PersonRecord{Name: "Jane", Email: "jane@x.com", Username: "jane"}
}

func max() gerrit.PersonRecord {
	return gerrit.PersonRecord{Name: "Max", Email: "max@x.com", Username: "max"}
}

// sampleRecord builds a changeset with one patchset carrying files,
// approvals and an inline comment, plus changeset comments and a tracking
// id.
func sampleRecord() *gerrit.ChangesetRecord {
	return &gerrit.ChangesetRecord{
		Project:       "docs/website",
		Branch:        "main",
		ID:            "Iaaa",
		Number:        4553,
		Subject:       "Rework landing page",
		Owner:         jane(),
		CommitMessage: "Rework landing page\n\nResolves: #12\n",
		CreatedOn:     1000,
		LastUpdated:   2000,
		SortKey:       "001",
		Open:          true,
		Status:        "NEW",
		CurrentPatchset: &gerrit.PatchsetRecord{
			Number:    1,
			Revision:  "rev1",
			Ref:       "refs/changes/53/4553/1",
			Uploader:  jane(),
			CreatedOn: 1000,
			Files: []gerrit.FileRecord{
				{Path: "index.html", Type: "MODIFIED", Insertions: 10, Deletions: 2},
			},
			Approvals: []gerrit.ApprovalRecord{
				{Type: "Code-Review", Value: "1", GrantedOn: 1500, By: max()},
				{Type: "Verified", Value: "1", GrantedOn: 1600, By: max()},
			},
			Comments: []gerrit.FileCommentRecord{
				{File: "index.html", Line: 3, Reviewer: max(), Message: "typo"},
			},
		},
		Patchsets: []gerrit.PatchsetRecord{
			{
				Number:    1,
				Revision:  "rev1",
				Ref:       "refs/changes/53/4553/1",
				Uploader:  jane(),
				CreatedOn: 1000,
				Files: []gerrit.FileRecord{
					{Path: "index.html", Type: "MODIFIED", Insertions: 10, Deletions: 2},
				},
			},
		},
		Comments: []gerrit.CommentRecord{
			{Timestamp: 1700, Reviewer: max(), Message: "Looks good"},
			{Timestamp: 1700, Reviewer: max(), Message: "Looks good"},
		},
		TrackingIDs: []gerrit.TrackingIDRecord{
			{System: "Forge", ID: "#12"},
		},
	}
}

func TestMergeChangesetInsertThenSkip(t *testing.T) {
	db := newTestDB(t)
	m := newTestMerger(t, db, ModeIncremental)
	ctx := context.Background()

	action, err := m.MergeChangeset(ctx, testProjectID, sampleRecord())
	require.NoError(t, err)
	require.Equal(t, ActionInserted, action)

	// Unchanged record: the equal lastUpdated short-circuits everything.
	action, err = m.MergeChangeset(ctx, testProjectID, sampleRecord())
	require.NoError(t, err)
	require.Equal(t, ActionSkipped, action)
}

func TestMergeChangesetDiffUpdate(t *testing.T) {
	db := newTestDB(t)
	m := newTestMerger(t, db, ModeIncremental)
	ctx := context.Background()

	_, err := m.MergeChangeset(ctx, testProjectID, sampleRecord())
	require.NoError(t, err)

	rec := sampleRecord()
	rec.LastUpdated = 3000
	rec.Subject = "Rework landing page v2"
	rec.Open = false
	rec.Status = "MERGED"

	action, err := m.MergeChangeset(ctx, testProjectID, rec)
	require.NoError(t, err)
	require.Equal(t, ActionUpdated, action)

	branchID, err := db.LookupCode(ctx, database.LookupBranches, "main")
	require.NoError(t, err)
	stored, err := db.FindChangeset(ctx, testProjectID, branchID, "Iaaa", 1000)
	require.NoError(t, err)
	require.Equal(t, "Rework landing page v2", stored.Subject)
	require.Equal(t, int64(3000), stored.LastUpdated)
	require.False(t, stored.Open)
}

func TestMergeChangesetOlderRecordSkipped(t *testing.T) {
	db := newTestDB(t)
	m := newTestMerger(t, db, ModeIncremental)
	ctx := context.Background()

	_, err := m.MergeChangeset(ctx, testProjectID, sampleRecord())
	require.NoError(t, err)

	rec := sampleRecord()
	rec.LastUpdated = 500
	rec.Subject = "stale"

	action, err := m.MergeChangeset(ctx, testProjectID, rec)
	require.NoError(t, err)
	require.Equal(t, ActionSkipped, action)

	branchID, err := db.LookupCode(ctx, database.LookupBranches, "main")
	require.NoError(t, err)
	stored, err := db.FindChangeset(ctx, testProjectID, branchID, "Iaaa", 1000)
	require.NoError(t, err)
	require.Equal(t, "Rework landing page", stored.Subject)
}

func TestMergeChangesetInitialModeRejectsUpdate(t *testing.T) {
	db := newTestDB(t)
	m := newTestMerger(t, db, ModeInitial)
	ctx := context.Background()

	_, err := m.MergeChangeset(ctx, testProjectID, sampleRecord())
	require.NoError(t, err)

	rec := sampleRecord()
	rec.LastUpdated = 3000
	_, err = m.MergeChangeset(ctx, testProjectID, rec)
	require.Error(t, err)
	require.True(t, errors.IsKind(err, errors.KindUnexpectedUpdate))
}

func TestMergeApprovalRetraction(t *testing.T) {
	db := newTestDB(t)
	m := newTestMerger(t, db, ModeIncremental)
	ctx := context.Background()

	_, err := m.MergeChangeset(ctx, testProjectID, sampleRecord())
	require.NoError(t, err)

	// The Verified vote disappears from the feed: it was retracted.
	rec := sampleRecord()
	rec.LastUpdated = 3000
	rec.CurrentPatchset.Approvals = rec.CurrentPatchset.Approvals[:1]

	_, err = m.MergeChangeset(ctx, testProjectID, rec)
	require.NoError(t, err)

	branchID, err := db.LookupCode(ctx, database.LookupBranches, "main")
	require.NoError(t, err)
	cs, err := db.FindChangeset(ctx, testProjectID, branchID, "Iaaa", 1000)
	require.NoError(t, err)
	ps, err := db.FindPatchset(ctx, cs.ID, 1, "rev1", 1000)
	require.NoError(t, err)
	voter, err := db.ResolvePerson(ctx, max())
	require.NoError(t, err)

	verified, err := db.FindApproval(ctx, ps.ID, "Verified", voter)
	require.NoError(t, err, "retracted vote must stay stored")
	require.True(t, verified.VotedEarlier)

	codeReview, err := db.FindApproval(ctx, ps.ID, "Code-Review", voter)
	require.NoError(t, err)
	require.False(t, codeReview.VotedEarlier, "confirmed vote must clear its flag")
}

func TestMergeCommentsSequenceDisambiguates(t *testing.T) {
	db := newTestDB(t)
	m := newTestMerger(t, db, ModeIncremental)
	ctx := context.Background()

	_, err := m.MergeChangeset(ctx, testProjectID, sampleRecord())
	require.NoError(t, err)

	branchID, err := db.LookupCode(ctx, database.LookupBranches, "main")
	require.NoError(t, err)
	cs, err := db.FindChangeset(ctx, testProjectID, branchID, "Iaaa", 1000)
	require.NoError(t, err)
	reviewer, err := db.ResolvePerson(ctx, max())
	require.NoError(t, err)

	// Both identical comments exist, told apart by position.
	_, err = db.FindComment(ctx, cs.ID, 1700, reviewer, 1)
	require.NoError(t, err)
	_, err = db.FindComment(ctx, cs.ID, 1700, reviewer, 2)
	require.NoError(t, err)
	_, err = db.FindComment(ctx, cs.ID, 1700, reviewer, 3)
	require.Equal(t, database.ErrNotFound, err)
}

func TestMergeFileCommentSyntheticFile(t *testing.T) {
	db := newTestDB(t)
	m := newTestMerger(t, db, ModeIncremental)
	ctx := context.Background()

	rec := sampleRecord()
	rec.CurrentPatchset.Comments = append(rec.CurrentPatchset.Comments,
		gerrit.FileCommentRecord{File: "removed.css", Line: 1, Reviewer: max(), Message: "gone?"})

	_, err := m.MergeChangeset(ctx, testProjectID, rec)
	require.NoError(t, err)

	branchID, err := db.LookupCode(ctx, database.LookupBranches, "main")
	require.NoError(t, err)
	cs, err := db.FindChangeset(ctx, testProjectID, branchID, "Iaaa", 1000)
	require.NoError(t, err)
	ps, err := db.FindPatchset(ctx, cs.ID, 1, "rev1", 1000)
	require.NoError(t, err)

	file, err := db.FindFile(ctx, ps.ID, "removed.css")
	require.NoError(t, err, "a commented file absent from the file list gets a synthetic row")

	commented, err := db.LookupCode(ctx, database.LookupFileActions, "COMMENTED")
	require.NoError(t, err)
	require.Equal(t, commented, file.Type)
}

func TestMergeTrackingIDFlagThenClear(t *testing.T) {
	db := newTestDB(t)
	m := newTestMerger(t, db, ModeIncremental)
	ctx := context.Background()

	_, err := m.MergeChangeset(ctx, testProjectID, sampleRecord())
	require.NoError(t, err)

	// The commit message is rewritten and drops the reference, gaining a
	// new one.
	rec := sampleRecord()
	rec.LastUpdated = 3000
	rec.TrackingIDs = []gerrit.TrackingIDRecord{{System: "Forge", ID: "#13"}}

	_, err = m.MergeChangeset(ctx, testProjectID, rec)
	require.NoError(t, err)

	branchID, err := db.LookupCode(ctx, database.LookupBranches, "main")
	require.NoError(t, err)
	cs, err := db.FindChangeset(ctx, testProjectID, branchID, "Iaaa", 1000)
	require.NoError(t, err)
	system, err := db.LookupCode(ctx, database.LookupTrackingSystems, "Forge")
	require.NoError(t, err)

	dropped, err := db.FindTrackingID(ctx, cs.ID, system, "#12")
	require.NoError(t, err, "dropped reference must stay stored")
	require.True(t, dropped.ReferencedEarlier)

	current, err := db.FindTrackingID(ctx, cs.ID, system, "#13")
	require.NoError(t, err)
	require.False(t, current.ReferencedEarlier)
}

func TestMergeSubmitRecordStatusTransition(t *testing.T) {
	db := newTestDB(t)
	m := newTestMerger(t, db, ModeIncremental)
	ctx := context.Background()

	rec := sampleRecord()
	rec.SubmitRecords = []gerrit.SubmitRecordRecord{
		{Status: "NOT_READY", Labels: []gerrit.SubmitLabelRecord{
			{Label: "Verified", Status: "NEED"},
		}},
	}
	_, err := m.MergeChangeset(ctx, testProjectID, rec)
	require.NoError(t, err)

	// The changeset becomes submittable; the stored record must flip in
	// place rather than pile up a second row.
	by := max()
	resync := sampleRecord()
	resync.LastUpdated = 3000
	resync.SubmitRecords = []gerrit.SubmitRecordRecord{
		{Status: "OK", Labels: []gerrit.SubmitLabelRecord{
			{Label: "Verified", Status: "OK", By: &by},
		}},
	}
	_, err = m.MergeChangeset(ctx, testProjectID, resync)
	require.NoError(t, err)

	branchID, err := db.LookupCode(ctx, database.LookupBranches, "main")
	require.NoError(t, err)
	cs, err := db.FindChangeset(ctx, testProjectID, branchID, "Iaaa", 1000)
	require.NoError(t, err)

	sr, err := db.FindSubmitRecord(ctx, cs.ID)
	require.NoError(t, err)
	require.Equal(t, "OK", sr.Status)

	label, err := db.FindSubmitRecordLabel(ctx, sr.ID, "Verified")
	require.NoError(t, err)
	require.Equal(t, "OK", label.Status)
	require.NotZero(t, label.By)
}

func TestMergeSetsCurrentPatchset(t *testing.T) {
	db := newTestDB(t)
	m := newTestMerger(t, db, ModeIncremental)
	ctx := context.Background()

	_, err := m.MergeChangeset(ctx, testProjectID, sampleRecord())
	require.NoError(t, err)

	branchID, err := db.LookupCode(ctx, database.LookupBranches, "main")
	require.NoError(t, err)
	cs, err := db.FindChangeset(ctx, testProjectID, branchID, "Iaaa", 1000)
	require.NoError(t, err)
	ps, err := db.FindPatchset(ctx, cs.ID, 1, "rev1", 1000)
	require.NoError(t, err)
	require.Equal(t, ps.ID, cs.CurrentPatchset)
}
