package gerrit

import (
	"bytes"
	"context"

	"github.com/reviewsync/reviewsync-go/internal/errors"
)

// DataService is a connector to one Gerrit instance. The crawl orchestrator
// only ever talks to this interface; SSH and HTTP connectors implement it.
type DataService interface {
	// Name identifies the connector kind in logs ("SSH", "HTTP").
	Name() string

	// Host returns the host this connector talks to, as registered in the
	// servers table.
	Host() string

	// QueryLimit is the page size requested per changeset query.
	QueryLimit() int

	// Projects lists every project visible on the instance.
	Projects(ctx context.Context) ([]ProjectRecord, error)

	// Changesets fetches one page of changesets for a project. An empty
	// resumeKey fetches the newest page; otherwise the query resumes after
	// the given sort key. The caller inspects the page's RowCount against
	// QueryLimit to decide whether another page follows.
	Changesets(ctx context.Context, project, resumeKey string) (*QueryPage, error)
}

// QueryPage is one page of a changeset query plus its stats trailer.
type QueryPage struct {
	Records  []*ChangesetRecord
	RowCount int
}

// LastSortKey returns the continuation cursor for the next page, or "" when
// the page is empty.
func (p *QueryPage) LastSortKey() string {
	if len(p.Records) == 0 {
		return ""
	}
	return p.Records[len(p.Records)-1].SortKey
}

// parseQueryOutput decodes the line-per-record stream of a changeset query.
// Every line is one JSON object; the final line is the stats trailer.
func parseQueryOutput(out []byte) (*QueryPage, error) {
	page := &QueryPage{}
	sawStats := false

	for _, line := range bytes.Split(out, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if sawStats {
			return nil, errors.MalformedResponse(nil, "record after stats trailer in query output")
		}
		if IsStatsRow(line) {
			stats, err := DecodeQueryStats(line)
			if err != nil {
				return nil, err
			}
			page.RowCount = stats.RowCount
			sawStats = true
			continue
		}
		cs, err := DecodeChangeset(line)
		if err != nil {
			return nil, err
		}
		page.Records = append(page.Records, cs)
	}

	if !sawStats {
		return nil, errors.MalformedResponse(nil, "query output carries no stats trailer")
	}
	return page, nil
}
