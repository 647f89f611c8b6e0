package gerrit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/reviewsync/reviewsync-go/internal/errors"
)

// Field consumption is verified here, at the decode boundary, before any row
// is written: every record level declares a schema mapping each feed field to
// a column or to an explicit discard, and any key outside the schema raises a
// SchemaDrift error naming the level. This is how upstream API changes are
// detected instead of silently losing data.

type fieldPolicy int

const (
	fieldMapped fieldPolicy = iota
	fieldIgnored
)

type fieldSchema map[string]fieldPolicy

// check raises SchemaDrift for keys outside the schema.
func (s fieldSchema) check(level string, obj rawObject) error {
	var unknown []string
	for key := range obj {
		if _, ok := s[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		return errors.SchemaDrift(level, unknown)
	}
	return nil
}

var (
	changesetSchema = fieldSchema{
		"project":         fieldMapped,
		"branch":          fieldMapped,
		"topic":           fieldMapped,
		"id":              fieldMapped,
		"number":          fieldMapped,
		"subject":         fieldMapped,
		"owner":           fieldMapped,
		"url":             fieldMapped,
		"commitMessage":   fieldMapped,
		"createdOn":       fieldMapped,
		"lastUpdated":     fieldMapped,
		"sortKey":         fieldMapped,
		"open":            fieldMapped,
		"status":          fieldMapped,
		"currentPatchSet": fieldMapped,
		"patchSets":       fieldMapped,
		"dependsOn":       fieldMapped,
		"neededBy":        fieldMapped,
		"comments":        fieldMapped,
		"trackingIds":     fieldMapped,
		"submitRecords":   fieldMapped,
	}

	patchsetSchema = fieldSchema{
		"number":         fieldMapped,
		"revision":       fieldMapped,
		"ref":            fieldMapped,
		"uploader":       fieldMapped,
		"author":         fieldMapped,
		"createdOn":      fieldMapped,
		"sizeInsertions": fieldMapped,
		"sizeDeletions":  fieldMapped,
		"isDraft":        fieldMapped,
		"approvals":      fieldMapped,
		"comments":       fieldMapped,
		"files":          fieldMapped,
		// Patchset parent commits are not mirrored.
		"parents": fieldIgnored,
	}

	personSchema = fieldSchema{
		"name":     fieldMapped,
		"email":    fieldMapped,
		"username": fieldMapped,
	}

	approvalSchema = fieldSchema{
		"type":        fieldMapped,
		"description": fieldMapped,
		"value":       fieldMapped,
		"grantedOn":   fieldMapped,
		"by":          fieldMapped,
	}

	fileSchema = fieldSchema{
		"file":       fieldMapped,
		"fileOld":    fieldMapped,
		"type":       fieldMapped,
		"insertions": fieldMapped,
		"deletions":  fieldMapped,
	}

	fileCommentSchema = fieldSchema{
		"file":     fieldMapped,
		"line":     fieldMapped,
		"reviewer": fieldMapped,
		"message":  fieldMapped,
	}

	commentSchema = fieldSchema{
		"timestamp": fieldMapped,
		"reviewer":  fieldMapped,
		"message":   fieldMapped,
	}

	trackingIDSchema = fieldSchema{
		"system": fieldMapped,
		"id":     fieldMapped,
	}

	dependsOnSchema = fieldSchema{
		"id":                fieldMapped,
		"number":            fieldMapped,
		"revision":          fieldMapped,
		"ref":               fieldMapped,
		"isCurrentPatchSet": fieldMapped,
	}

	neededBySchema = fieldSchema{
		"id":       fieldMapped,
		"number":   fieldMapped,
		"revision": fieldMapped,
		"ref":      fieldMapped,
	}

	submitRecordSchema = fieldSchema{
		"status": fieldMapped,
		"labels": fieldMapped,
	}

	submitLabelSchema = fieldSchema{
		"label":  fieldMapped,
		"status": fieldMapped,
		"by":     fieldMapped,
	}

	projectSchema = fieldSchema{
		"description": fieldMapped,
		"parent":      fieldMapped,
		// Project state (ACTIVE/READ_ONLY/HIDDEN) and the REST-style id
		// duplicate are not mirrored.
		"state": fieldIgnored,
		"id":    fieldIgnored,
	}

	statsSchema = fieldSchema{
		"type":     fieldMapped,
		"rowCount": fieldMapped,
		// Query timing is logged by Gerrit for humans, not mirrored.
		"runTimeMilliseconds": fieldIgnored,
		"moreChanges":         fieldIgnored,
	}
)

// rawObject is one JSON object of the feed, keyed for schema checking.
type rawObject map[string]json.RawMessage

func decodeRawObject(level string, data []byte) (rawObject, error) {
	var obj rawObject
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, errors.MalformedResponse(err, fmt.Sprintf("cannot decode %s record", level))
	}
	return obj, nil
}

func (o rawObject) str(level, key string) (string, error) {
	raw, ok := o[key]
	if !ok {
		return "", nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", errors.MalformedResponse(err, fmt.Sprintf("%s.%s is not a string", level, key))
	}
	return v, nil
}

// intVal tolerates both JSON numbers and numeric strings; old Gerrit servers
// serialize change and patchset numbers as strings.
func (o rawObject) intVal(level, key string) (int64, error) {
	raw, ok := o[key]
	if !ok {
		return 0, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return v, nil
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v, nil
		}
	}
	return 0, errors.MalformedResponse(nil, fmt.Sprintf("%s.%s is not a number", level, key))
}

func (o rawObject) boolVal(level, key string) (bool, error) {
	raw, ok := o[key]
	if !ok {
		return false, nil
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, errors.MalformedResponse(err, fmt.Sprintf("%s.%s is not a boolean", level, key))
	}
	return v, nil
}

func (o rawObject) array(level, key string) ([]json.RawMessage, error) {
	raw, ok := o[key]
	if !ok {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, errors.MalformedResponse(err, fmt.Sprintf("%s.%s is not a list", level, key))
	}
	return items, nil
}

func decodePerson(level string, data []byte) (PersonRecord, error) {
	var p PersonRecord
	obj, err := decodeRawObject(level, data)
	if err != nil {
		return p, err
	}
	if err := personSchema.check(level, obj); err != nil {
		return p, err
	}
	if p.Name, err = obj.str(level, "name"); err != nil {
		return p, err
	}
	if p.Email, err = obj.str(level, "email"); err != nil {
		return p, err
	}
	if p.Username, err = obj.str(level, "username"); err != nil {
		return p, err
	}
	return p, nil
}

func decodeApproval(data []byte) (ApprovalRecord, error) {
	const level = "approval"
	var a ApprovalRecord
	obj, err := decodeRawObject(level, data)
	if err != nil {
		return a, err
	}
	if err := approvalSchema.check(level, obj); err != nil {
		return a, err
	}
	if a.Type, err = obj.str(level, "type"); err != nil {
		return a, err
	}
	if a.Description, err = obj.str(level, "description"); err != nil {
		return a, err
	}
	if a.Value, err = obj.str(level, "value"); err != nil {
		return a, err
	}
	if a.GrantedOn, err = obj.intVal(level, "grantedOn"); err != nil {
		return a, err
	}
	if raw, ok := obj["by"]; ok {
		if a.By, err = decodePerson("approval.by", raw); err != nil {
			return a, err
		}
	}
	return a, nil
}

func decodeFile(data []byte) (FileRecord, error) {
	const level = "file"
	var f FileRecord
	obj, err := decodeRawObject(level, data)
	if err != nil {
		return f, err
	}
	if err := fileSchema.check(level, obj); err != nil {
		return f, err
	}
	if f.Path, err = obj.str(level, "file"); err != nil {
		return f, err
	}
	if f.OldPath, err = obj.str(level, "fileOld"); err != nil {
		return f, err
	}
	if f.Type, err = obj.str(level, "type"); err != nil {
		return f, err
	}
	if f.Insertions, err = obj.intVal(level, "insertions"); err != nil {
		return f, err
	}
	if f.Deletions, err = obj.intVal(level, "deletions"); err != nil {
		return f, err
	}
	return f, nil
}

func decodeFileComment(data []byte) (FileCommentRecord, error) {
	const level = "file comment"
	var c FileCommentRecord
	obj, err := decodeRawObject(level, data)
	if err != nil {
		return c, err
	}
	if err := fileCommentSchema.check(level, obj); err != nil {
		return c, err
	}
	if c.File, err = obj.str(level, "file"); err != nil {
		return c, err
	}
	if c.Line, err = obj.intVal(level, "line"); err != nil {
		return c, err
	}
	if c.Message, err = obj.str(level, "message"); err != nil {
		return c, err
	}
	if raw, ok := obj["reviewer"]; ok {
		if c.Reviewer, err = decodePerson("file comment.reviewer", raw); err != nil {
			return c, err
		}
	}
	return c, nil
}

func decodePatchset(data []byte) (PatchsetRecord, error) {
	const level = "patchset"
	var p PatchsetRecord
	obj, err := decodeRawObject(level, data)
	if err != nil {
		return p, err
	}
	if err := patchsetSchema.check(level, obj); err != nil {
		return p, err
	}
	if p.Number, err = obj.intVal(level, "number"); err != nil {
		return p, err
	}
	if p.Revision, err = obj.str(level, "revision"); err != nil {
		return p, err
	}
	if p.Ref, err = obj.str(level, "ref"); err != nil {
		return p, err
	}
	if p.CreatedOn, err = obj.intVal(level, "createdOn"); err != nil {
		return p, err
	}
	if p.Insertions, err = obj.intVal(level, "sizeInsertions"); err != nil {
		return p, err
	}
	if p.Deletions, err = obj.intVal(level, "sizeDeletions"); err != nil {
		return p, err
	}
	if p.IsDraft, err = obj.boolVal(level, "isDraft"); err != nil {
		return p, err
	}
	if raw, ok := obj["uploader"]; ok {
		if p.Uploader, err = decodePerson("patchset.uploader", raw); err != nil {
			return p, err
		}
	}
	if raw, ok := obj["author"]; ok {
		author, err := decodePerson("patchset.author", raw)
		if err != nil {
			return p, err
		}
		p.Author = &author
	}
	files, err := obj.array(level, "files")
	if err != nil {
		return p, err
	}
	for _, raw := range files {
		f, err := decodeFile(raw)
		if err != nil {
			return p, err
		}
		p.Files = append(p.Files, f)
	}
	approvals, err := obj.array(level, "approvals")
	if err != nil {
		return p, err
	}
	for _, raw := range approvals {
		a, err := decodeApproval(raw)
		if err != nil {
			return p, err
		}
		p.Approvals = append(p.Approvals, a)
	}
	comments, err := obj.array(level, "comments")
	if err != nil {
		return p, err
	}
	for _, raw := range comments {
		c, err := decodeFileComment(raw)
		if err != nil {
			return p, err
		}
		p.Comments = append(p.Comments, c)
	}
	return p, nil
}

func decodeComment(data []byte) (CommentRecord, error) {
	const level = "comment"
	var c CommentRecord
	obj, err := decodeRawObject(level, data)
	if err != nil {
		return c, err
	}
	if err := commentSchema.check(level, obj); err != nil {
		return c, err
	}
	if c.Timestamp, err = obj.intVal(level, "timestamp"); err != nil {
		return c, err
	}
	if c.Message, err = obj.str(level, "message"); err != nil {
		return c, err
	}
	if raw, ok := obj["reviewer"]; ok {
		if c.Reviewer, err = decodePerson("comment.reviewer", raw); err != nil {
			return c, err
		}
	}
	return c, nil
}

func decodeTrackingID(data []byte) (TrackingIDRecord, error) {
	const level = "tracking id"
	var t TrackingIDRecord
	obj, err := decodeRawObject(level, data)
	if err != nil {
		return t, err
	}
	if err := trackingIDSchema.check(level, obj); err != nil {
		return t, err
	}
	if t.System, err = obj.str(level, "system"); err != nil {
		return t, err
	}
	if t.ID, err = obj.str(level, "id"); err != nil {
		return t, err
	}
	return t, nil
}

func decodeDependency(level string, schema fieldSchema, data []byte) (DependencyRecord, error) {
	var d DependencyRecord
	obj, err := decodeRawObject(level, data)
	if err != nil {
		return d, err
	}
	if err := schema.check(level, obj); err != nil {
		return d, err
	}
	if d.ID, err = obj.str(level, "id"); err != nil {
		return d, err
	}
	if d.Number, err = obj.intVal(level, "number"); err != nil {
		return d, err
	}
	if d.Revision, err = obj.str(level, "revision"); err != nil {
		return d, err
	}
	if d.Ref, err = obj.str(level, "ref"); err != nil {
		return d, err
	}
	if d.IsCurrentPatchset, err = obj.boolVal(level, "isCurrentPatchSet"); err != nil {
		return d, err
	}
	return d, nil
}

func decodeSubmitRecord(data []byte) (SubmitRecordRecord, error) {
	const level = "submit record"
	var r SubmitRecordRecord
	obj, err := decodeRawObject(level, data)
	if err != nil {
		return r, err
	}
	if err := submitRecordSchema.check(level, obj); err != nil {
		return r, err
	}
	if r.Status, err = obj.str(level, "status"); err != nil {
		return r, err
	}
	labels, err := obj.array(level, "labels")
	if err != nil {
		return r, err
	}
	for _, raw := range labels {
		l, err := decodeSubmitLabel(raw)
		if err != nil {
			return r, err
		}
		r.Labels = append(r.Labels, l)
	}
	return r, nil
}

func decodeSubmitLabel(data []byte) (SubmitLabelRecord, error) {
	const level = "submit record label"
	var l SubmitLabelRecord
	obj, err := decodeRawObject(level, data)
	if err != nil {
		return l, err
	}
	if err := submitLabelSchema.check(level, obj); err != nil {
		return l, err
	}
	if l.Label, err = obj.str(level, "label"); err != nil {
		return l, err
	}
	if l.Status, err = obj.str(level, "status"); err != nil {
		return l, err
	}
	if raw, ok := obj["by"]; ok {
		by, err := decodePerson("submit record label.by", raw)
		if err != nil {
			return l, err
		}
		l.By = &by
	}
	return l, nil
}

// DecodeChangeset decodes one raw changeset record, recursing into every
// nested sub-structure. Unknown fields at any level raise SchemaDrift, so a
// drifted record is rejected before the merger writes a single row.
func DecodeChangeset(data []byte) (*ChangesetRecord, error) {
	const level = "changeset"
	obj, err := decodeRawObject(level, data)
	if err != nil {
		return nil, err
	}
	if err := changesetSchema.check(level, obj); err != nil {
		return nil, err
	}

	cs := &ChangesetRecord{}
	if cs.Project, err = obj.str(level, "project"); err != nil {
		return nil, err
	}
	if cs.Branch, err = obj.str(level, "branch"); err != nil {
		return nil, err
	}
	if cs.Topic, err = obj.str(level, "topic"); err != nil {
		return nil, err
	}
	if cs.ID, err = obj.str(level, "id"); err != nil {
		return nil, err
	}
	if cs.ID == "" {
		return nil, errors.MalformedResponse(nil, "changeset record carries no change id")
	}
	if cs.Number, err = obj.intVal(level, "number"); err != nil {
		return nil, err
	}
	if cs.Subject, err = obj.str(level, "subject"); err != nil {
		return nil, err
	}
	if cs.URL, err = obj.str(level, "url"); err != nil {
		return nil, err
	}
	if cs.CommitMessage, err = obj.str(level, "commitMessage"); err != nil {
		return nil, err
	}
	if cs.CreatedOn, err = obj.intVal(level, "createdOn"); err != nil {
		return nil, err
	}
	if cs.LastUpdated, err = obj.intVal(level, "lastUpdated"); err != nil {
		return nil, err
	}
	if cs.SortKey, err = obj.str(level, "sortKey"); err != nil {
		return nil, err
	}
	if cs.Open, err = obj.boolVal(level, "open"); err != nil {
		return nil, err
	}
	if cs.Status, err = obj.str(level, "status"); err != nil {
		return nil, err
	}
	if raw, ok := obj["owner"]; ok {
		if cs.Owner, err = decodePerson("changeset.owner", raw); err != nil {
			return nil, err
		}
	}
	if raw, ok := obj["currentPatchSet"]; ok {
		ps, err := decodePatchset(raw)
		if err != nil {
			return nil, err
		}
		cs.CurrentPatchset = &ps
	}

	patchsets, err := obj.array(level, "patchSets")
	if err != nil {
		return nil, err
	}
	for _, raw := range patchsets {
		ps, err := decodePatchset(raw)
		if err != nil {
			return nil, err
		}
		cs.Patchsets = append(cs.Patchsets, ps)
	}

	dependsOn, err := obj.array(level, "dependsOn")
	if err != nil {
		return nil, err
	}
	for _, raw := range dependsOn {
		d, err := decodeDependency("dependsOn", dependsOnSchema, raw)
		if err != nil {
			return nil, err
		}
		cs.DependsOn = append(cs.DependsOn, d)
	}

	neededBy, err := obj.array(level, "neededBy")
	if err != nil {
		return nil, err
	}
	for _, raw := range neededBy {
		d, err := decodeDependency("neededBy", neededBySchema, raw)
		if err != nil {
			return nil, err
		}
		cs.NeededBy = append(cs.NeededBy, d)
	}

	comments, err := obj.array(level, "comments")
	if err != nil {
		return nil, err
	}
	for _, raw := range comments {
		c, err := decodeComment(raw)
		if err != nil {
			return nil, err
		}
		cs.Comments = append(cs.Comments, c)
	}

	trackingIDs, err := obj.array(level, "trackingIds")
	if err != nil {
		return nil, err
	}
	for _, raw := range trackingIDs {
		t, err := decodeTrackingID(raw)
		if err != nil {
			return nil, err
		}
		cs.TrackingIDs = append(cs.TrackingIDs, t)
	}

	submitRecords, err := obj.array(level, "submitRecords")
	if err != nil {
		return nil, err
	}
	for _, raw := range submitRecords {
		r, err := decodeSubmitRecord(raw)
		if err != nil {
			return nil, err
		}
		cs.SubmitRecords = append(cs.SubmitRecords, r)
	}

	return cs, nil
}

// DecodeQueryStats decodes the trailing stats row of a query page.
func DecodeQueryStats(data []byte) (*QueryStats, error) {
	const level = "query stats"
	obj, err := decodeRawObject(level, data)
	if err != nil {
		return nil, err
	}
	if err := statsSchema.check(level, obj); err != nil {
		return nil, err
	}
	typ, err := obj.str(level, "type")
	if err != nil {
		return nil, err
	}
	if typ != "stats" {
		return nil, errors.MalformedResponse(nil,
			fmt.Sprintf("query page did not end with a stats row (got type %q)", typ))
	}
	rowCount, err := obj.intVal(level, "rowCount")
	if err != nil {
		return nil, err
	}
	return &QueryStats{RowCount: int(rowCount)}, nil
}

// IsStatsRow reports whether a raw feed line is the stats trailer rather
// than a changeset record.
func IsStatsRow(data []byte) bool {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Type == "stats"
}

// DecodeProjectList decodes the project listing: a JSON object keyed by
// project name, as produced by ls-projects and the REST /projects/ endpoint.
func DecodeProjectList(data []byte) ([]ProjectRecord, error) {
	const level = "project"
	var tree map[string]json.RawMessage
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, errors.MalformedResponse(err, "cannot decode project listing")
	}

	projects := make([]ProjectRecord, 0, len(tree))
	for name, raw := range tree {
		obj, err := decodeRawObject(level, raw)
		if err != nil {
			return nil, err
		}
		if err := projectSchema.check(level, obj); err != nil {
			return nil, err
		}
		p := ProjectRecord{Name: name}
		if p.Description, err = obj.str(level, "description"); err != nil {
			return nil, err
		}
		if p.Parent, err = obj.str(level, "parent"); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}
