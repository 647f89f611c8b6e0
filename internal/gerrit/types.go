package gerrit

// Typed records decoded from the raw feed at the transport boundary.
// Field presence is optional per sub-structure in the Gerrit query output,
// so absence is represented by zero values (or pointers where the merger
// needs to distinguish "absent" from "empty").

// PersonRecord is a name/email/username triple as delivered by the feed.
// Any of the three may be missing.
type PersonRecord struct {
	Name     string
	Email    string
	Username string
}

// Empty reports whether the feed delivered no identity at all.
func (p PersonRecord) Empty() bool {
	return p.Name == "" && p.Email == "" && p.Username == ""
}

// ApprovalRecord is one vote on a patchset label.
type ApprovalRecord struct {
	Type        string
	Description string
	Value       string
	GrantedOn   int64
	By          PersonRecord
}

// FileRecord is one touched file of a patchset.
type FileRecord struct {
	Path       string
	OldPath    string
	Type       string
	Insertions int64
	Deletions  int64
}

// FileCommentRecord is an inline comment on a patchset file. The feed
// delivers no timestamp for these.
type FileCommentRecord struct {
	File     string
	Line     int64
	Reviewer PersonRecord
	Message  string
}

// PatchsetRecord is one revision of a changeset.
type PatchsetRecord struct {
	Number     int64
	Revision   string
	Ref        string
	Uploader   PersonRecord
	Author     *PersonRecord
	Insertions int64
	Deletions  int64
	IsDraft    bool
	CreatedOn  int64
	Files      []FileRecord
	Approvals  []ApprovalRecord
	Comments   []FileCommentRecord
}

// CommentRecord is a changeset-level review comment.
type CommentRecord struct {
	Timestamp int64
	Reviewer  PersonRecord
	Message   string
}

// TrackingIDRecord is an issue-tracker reference from the commit message.
type TrackingIDRecord struct {
	System string
	ID     string
}

// DependencyRecord identifies the target of a dependsOn/neededBy edge in
// project- and branch-independent terms, so it can be re-found after the
// target is imported.
type DependencyRecord struct {
	ID                string
	Number            int64
	Revision          string
	Ref               string
	IsCurrentPatchset bool
}

// SubmitLabelRecord is one label line of a submit record. By is nil when the
// feed omits the voter.
type SubmitLabelRecord struct {
	Label  string
	Status string
	By     *PersonRecord
}

// SubmitRecordRecord is the submit readiness verdict of a changeset.
type SubmitRecordRecord struct {
	Status string
	Labels []SubmitLabelRecord
}

// ChangesetRecord is one change as delivered by the feed, with all nested
// sub-structures decoded.
type ChangesetRecord struct {
	Project         string
	Branch          string
	Topic           string
	ID              string
	Number          int64
	Subject         string
	Owner           PersonRecord
	URL             string
	CommitMessage   string
	CreatedOn       int64
	LastUpdated     int64
	SortKey         string
	Open            bool
	Status          string
	CurrentPatchset *PatchsetRecord
	Patchsets       []PatchsetRecord
	DependsOn       []DependencyRecord
	NeededBy        []DependencyRecord
	Comments        []CommentRecord
	TrackingIDs     []TrackingIDRecord
	SubmitRecords   []SubmitRecordRecord
}

// ProjectRecord is one project from the project listing.
type ProjectRecord struct {
	Name        string
	Description string
	Parent      string
}

// QueryStats is the trailing stats row of a changeset query page. RowCount
// doubles as the pagination signal: a page below the query limit is the
// final page.
type QueryStats struct {
	RowCount int
}
