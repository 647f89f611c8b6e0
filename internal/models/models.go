package models

// Server represents one mirrored Gerrit instance. Unique by (name, host),
// written once on the first crawl and never updated afterwards.
type Server struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
	Host string `json:"host" db:"host"`
}

// Project represents a Gerrit project. Parent is the surrogate id of the
// parent project, 0 when the project is a root. Unique by (server_id, name),
// case sensitive.
type Project struct {
	ID          int64  `json:"id" db:"id"`
	ServerID    int64  `json:"server_id" db:"server_id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
	Parent      int64  `json:"parent" db:"parent"`
}

// Changeset represents one Gerrit change. The feed carries no stable primary
// key; identity is the tuple (project, branch, identifier, created_on); the
// Change-Id alone is known to collide across changes sharing a branch.
type Changeset struct {
	ID              int64  `json:"id" db:"id"`
	Project         int64  `json:"project" db:"project"`
	Branch          int64  `json:"branch" db:"branch"`
	Topic           string `json:"topic" db:"topic"`
	Identifier      string `json:"identifier" db:"identifier"`
	Number          int64  `json:"number" db:"number"`
	Subject         string `json:"subject" db:"subject"`
	Owner           int64  `json:"owner" db:"owner"`
	URL             string `json:"url" db:"url"`
	CommitMessage   string `json:"commit_message" db:"commit_message"`
	CreatedOn       int64  `json:"created_on" db:"created_on"`
	LastUpdated     int64  `json:"last_updated" db:"last_updated"`
	SortKey         string `json:"sort_key" db:"sort_key"`
	Open            bool   `json:"open" db:"open"`
	Status          int64  `json:"status" db:"status"`
	CurrentPatchset int64  `json:"current_patchset" db:"current_patchset"`
	DependsOn       int64  `json:"depends_on" db:"depends_on"`
}

// Patchset represents one revision of a changeset. Identity is
// (changeset, number, revision, created_on); revision hashes repeat in the
// wild, and so do creation timestamps, but never both at once.
// Patchsets are immutable once pushed: matched or inserted, never updated.
type Patchset struct {
	ID         int64  `json:"id" db:"id"`
	Changeset  int64  `json:"changeset" db:"changeset"`
	Number     int64  `json:"number" db:"number"`
	Revision   string `json:"revision" db:"revision"`
	Ref        string `json:"ref" db:"ref"`
	Uploader   int64  `json:"uploader" db:"uploader"`
	Author     int64  `json:"author" db:"author"`
	Insertions int64  `json:"size_insertions" db:"size_insertions"`
	Deletions  int64  `json:"size_deletions" db:"size_deletions"`
	IsDraft    bool   `json:"is_draft" db:"is_draft"`
	CreatedOn  int64  `json:"created_on" db:"created_on"`
}

// Approval is a reviewer's vote on one label of a patchset. Identity is
// (patchset, type, by). VotedEarlier marks votes that were present on an
// earlier crawl but absent from the current feed: the vote was retracted,
// and the row is kept as a historical marker rather than deleted.
type Approval struct {
	ID           int64  `json:"id" db:"id"`
	Patchset     int64  `json:"patchset" db:"patchset"`
	Type         string `json:"type" db:"type"`
	Description  string `json:"description" db:"description"`
	Value        string `json:"value" db:"value"`
	GrantedOn    int64  `json:"granted_on" db:"granted_on"`
	By           int64  `json:"by" db:"by"`
	VotedEarlier bool   `json:"voted_earlier" db:"voted_earlier"`
}

// Comment is a changeset-level review comment. The feed provides no comment
// id; Number is the 1-based position within the feed's comment list, which
// disambiguates genuine duplicates (same person, same second, same text).
// Comments are insert-only.
type Comment struct {
	ID        int64  `json:"id" db:"id"`
	Changeset int64  `json:"changeset" db:"changeset"`
	Timestamp int64  `json:"timestamp" db:"timestamp"`
	Reviewer  int64  `json:"reviewer" db:"reviewer"`
	Message   string `json:"message" db:"message"`
	Number    int64  `json:"number" db:"number"`
}

// File is one touched file of a patchset. Insert-only per patchset. A file
// commented on in an earlier patchset but absent from the current one gets a
// synthetic row with the COMMENTED action type.
type File struct {
	ID         int64  `json:"id" db:"id"`
	Patchset   int64  `json:"patchset" db:"patchset"`
	Path       string `json:"file" db:"file"`
	OldPath    string `json:"file_old" db:"file_old"`
	Insertions int64  `json:"insertions" db:"insertions"`
	Deletions  int64  `json:"deletions" db:"deletions"`
	Type       int64  `json:"type" db:"type"`
}

// FileComment is an inline review comment. The feed carries no timestamp for
// these, so identity falls back to (patchset, file, line, reviewer, message
// checksum). The CRC-32 checksum is best effort, not collision proof.
type FileComment struct {
	ID         int64  `json:"id" db:"id"`
	Patchset   int64  `json:"patchset" db:"patchset"`
	File       int64  `json:"file" db:"file"`
	Line       int64  `json:"line" db:"line"`
	Reviewer   int64  `json:"reviewer" db:"reviewer"`
	Message    string `json:"message" db:"message"`
	MessageCRC int64  `json:"message_crc32" db:"message_crc32"`
}

// TrackingID is an external issue-tracker reference extracted from a commit
// message. ReferencedEarlier follows the same flag-then-clear scheme as
// Approval.VotedEarlier: ids dropped from a rewritten commit message stay in
// the table, flagged.
type TrackingID struct {
	ID                int64  `json:"id" db:"id"`
	Changeset         int64  `json:"changeset" db:"changeset"`
	System            int64  `json:"system" db:"system"`
	Number            string `json:"number" db:"number"`
	ReferencedEarlier bool   `json:"referenced_earlier" db:"referenced_earlier"`
}

// SubmitRecord is the submit readiness verdict of a changeset.
type SubmitRecord struct {
	ID        int64  `json:"id" db:"id"`
	Changeset int64  `json:"changeset" db:"changeset"`
	Status    string `json:"status" db:"status"`
}

// SubmitRecordLabel is one label line of a submit record, matched by
// (submit_record, label).
type SubmitRecordLabel struct {
	ID           int64  `json:"id" db:"id"`
	SubmitRecord int64  `json:"submit_record" db:"submit_record"`
	Label        string `json:"label" db:"label"`
	Status       string `json:"status" db:"status"`
	By           int64  `json:"by" db:"by"`
}

// Person is a deduplicated identity across the feed. Emails live in a side
// table because one person accumulates addresses over time; they are never
// merged or validated.
type Person struct {
	ID       int64  `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Username string `json:"username" db:"username"`
}

// RelationKind discriminates staged cross-changeset relationships.
type RelationKind int64

const (
	RelationDependsOn RelationKind = 1
	RelationNeededBy  RelationKind = 2
)

// StagedRelationship is a transient row holding a dependsOn/neededBy edge
// whose target may not be imported yet. Staged rows live until the next
// project's crawl truncates the table, so targets appearing late in the same
// project (or in the immediately following one) still resolve.
type StagedRelationship struct {
	ID                int64        `json:"id" db:"id"`
	Changeset         int64        `json:"changeset" db:"changeset"`
	Identifier        string       `json:"identifier" db:"identifier"`
	Number            int64        `json:"number" db:"number"`
	Revision          string       `json:"revision" db:"revision"`
	Ref               string       `json:"ref" db:"ref"`
	IsCurrentPatchset bool         `json:"is_current_patchset" db:"is_current_patchset"`
	Kind              RelationKind `json:"kind" db:"kind"`
}
