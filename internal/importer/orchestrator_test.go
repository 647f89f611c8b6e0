package importer

import (
	"context"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/reviewsync/reviewsync-go/internal/database"
	"github.com/reviewsync/reviewsync-go/internal/gerrit"
)

// fakeService serves canned pages per project and records every resume key
// it was asked for.
type fakeService struct {
	host       string
	queryLimit int
	projects   []gerrit.ProjectRecord
	pages      map[string][]*gerrit.QueryPage

	resumeKeys map[string][]string
	fetchCalls map[string]int
}

func newFakeService(limit int) *fakeService {
	return &fakeService{
		host:       "review.example.org",
		queryLimit: limit,
		pages:      map[string][]*gerrit.QueryPage{},
		resumeKeys: map[string][]string{},
		fetchCalls: map[string]int{},
	}
}

func (f *fakeService) Name() string    { return "fake" }
func (f *fakeService) Host() string    { return f.host }
func (f *fakeService) QueryLimit() int { return f.queryLimit }

func (f *fakeService) Projects(ctx context.Context) ([]gerrit.ProjectRecord, error) {
	return f.projects, nil
}

func (f *fakeService) Changesets(ctx context.Context, project, resumeKey string) (*gerrit.QueryPage, error) {
	f.resumeKeys[project] = append(f.resumeKeys[project], resumeKey)
	idx := f.fetchCalls[project]
	f.fetchCalls[project]++
	pages := f.pages[project]
	if idx >= len(pages) {
		return &gerrit.QueryPage{RowCount: 0}, nil
	}
	return pages[idx], nil
}

func record(project, identifier string, number, createdOn, lastUpdated int64, sortKey string) *gerrit.ChangesetRecord {
	return &gerrit.ChangesetRecord{
		Project:     project,
		Branch:      "main",
		ID:          identifier,
		Number:      number,
		Subject:     "change " + identifier,
		Owner:       jane(),
		CreatedOn:   createdOn,
		LastUpdated: lastUpdated,
		SortKey:     sortKey,
		Open:        true,
		Status:      "NEW",
		CurrentPatchset: &gerrit.PatchsetRecord{
			Number:    1,
			Revision:  "rev-" + identifier,
			Ref:       "refs/changes/1",
			Uploader:  jane(),
			CreatedOn: createdOn,
		},
	}
}

func newTestOrchestrator(t *testing.T, db *database.Client, svc gerrit.DataService, opts Options) *Orchestrator {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	if opts.ServerName == "" {
		opts.ServerName = "test"
	}
	return NewOrchestrator(db, svc, opts, logger)
}

func TestCrawlPagination(t *testing.T) {
	db := newTestDB(t)
	svc := newFakeService(2)
	svc.projects = []gerrit.ProjectRecord{{Name: "p"}}

	// Three pages: full, full, partial. The partial page terminates the
	// loop without another fetch.
	page := func(start int, count int) *gerrit.QueryPage {
		p := &gerrit.QueryPage{RowCount: count}
		for i := 0; i < count; i++ {
			n := int64(start + i)
			p.Records = append(p.Records,
				record("p", fmt.Sprintf("I%03d", n), n, n, n+1000, fmt.Sprintf("key%03d", n)))
		}
		return p
	}
	svc.pages["p"] = []*gerrit.QueryPage{page(1, 2), page(3, 2), page(5, 1)}

	o := newTestOrchestrator(t, db, svc, Options{})
	result, err := o.Crawl(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, svc.fetchCalls["p"])
	require.Equal(t, []string{"", "key002", "key004"}, svc.resumeKeys["p"])
	require.Equal(t, int64(5), result.ChangesetsInserted)
	require.Equal(t, 3, result.Pages)
}

func TestCrawlMaxPagesCap(t *testing.T) {
	db := newTestDB(t)
	svc := newFakeService(1)
	svc.projects = []gerrit.ProjectRecord{{Name: "p"}}
	// Every page reports a full row count; without a cap this feed never
	// signals completion.
	svc.pages["p"] = []*gerrit.QueryPage{
		{RowCount: 1, Records: []*gerrit.ChangesetRecord{record("p", "I001", 1, 1, 2, "k1")}},
		{RowCount: 1, Records: []*gerrit.ChangesetRecord{record("p", "I002", 2, 2, 3, "k2")}},
		{RowCount: 1, Records: []*gerrit.ChangesetRecord{record("p", "I003", 3, 3, 4, "k3")}},
	}

	o := newTestOrchestrator(t, db, svc, Options{MaxPages: 2})
	_, err := o.Crawl(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, svc.fetchCalls["p"])
}

func TestCrawlIdempotence(t *testing.T) {
	db := newTestDB(t)
	svc := newFakeService(10)
	svc.projects = []gerrit.ProjectRecord{{Name: "p"}}
	svc.pages["p"] = []*gerrit.QueryPage{{
		RowCount: 2,
		Records: []*gerrit.ChangesetRecord{
			record("p", "I001", 1, 1, 1001, "k1"),
			record("p", "I002", 2, 2, 1002, "k2"),
		},
	}}

	o := newTestOrchestrator(t, db, svc, Options{})
	first, err := o.Crawl(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), first.ChangesetsInserted)
	require.True(t, first.FirstRun)

	// Same feed again: every record matches and short-circuits.
	svc.fetchCalls = map[string]int{}
	second, err := o.Crawl(context.Background())
	require.NoError(t, err)
	require.False(t, second.FirstRun)
	require.Zero(t, second.ChangesetsInserted)
	require.Zero(t, second.ChangesetsUpdated)
	require.Equal(t, int64(2), second.ChangesetsSkipped)
}

func TestCrawlProjectParentLinkage(t *testing.T) {
	db := newTestDB(t)
	svc := newFakeService(10)
	// Alphabetical crawl order puts the child before its parent; linkage
	// must still resolve in the second pass.
	svc.projects = []gerrit.ProjectRecord{
		{Name: "all-projects"},
		{Name: "docs/theme", Parent: "docs/website"},
		{Name: "docs/website", Parent: "all-projects"},
	}

	o := newTestOrchestrator(t, db, svc, Options{})
	result, err := o.Crawl(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, result.Projects)

	ctx := context.Background()
	root, err := db.FindProject(ctx, result.ServerID, "all-projects")
	require.NoError(t, err)
	website, err := db.FindProject(ctx, result.ServerID, "docs/website")
	require.NoError(t, err)
	theme, err := db.FindProject(ctx, result.ServerID, "docs/theme")
	require.NoError(t, err)

	require.Zero(t, root.Parent)
	require.Equal(t, root.ID, website.Parent)
	require.Equal(t, website.ID, theme.Parent)
}

func TestCrawlDeferredDependencyAcrossPages(t *testing.T) {
	db := newTestDB(t)
	svc := newFakeService(1)
	svc.projects = []gerrit.ProjectRecord{{Name: "p"}}

	// B arrives first and depends on A, which only shows up on the next
	// page. The batch pass after the project resolves the link.
	b := record("p", "Ibbb", 2, 2, 1002, "kb")
	b.DependsOn = []gerrit.DependencyRecord{{
		ID: "Iaaa", Number: 1, Revision: "rev-Iaaa", Ref: "refs/changes/1", IsCurrentPatchset: true,
	}}
	a := record("p", "Iaaa", 1, 1, 1001, "ka")
	a.NeededBy = []gerrit.DependencyRecord{{
		ID: "Ibbb", Number: 2, Revision: "rev-Ibbb", Ref: "refs/changes/1",
	}}

	svc.pages["p"] = []*gerrit.QueryPage{
		{RowCount: 1, Records: []*gerrit.ChangesetRecord{b}},
		{RowCount: 1, Records: []*gerrit.ChangesetRecord{a}},
		{RowCount: 0},
	}

	o := newTestOrchestrator(t, db, svc, Options{})
	result, err := o.Crawl(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), result.DependsOnResolved)
	require.Equal(t, int64(1), result.NeededByResolved)

	ctx := context.Background()
	branchID, err := db.LookupCode(ctx, database.LookupBranches, "main")
	require.NoError(t, err)
	project, err := db.FindProject(ctx, result.ServerID, "p")
	require.NoError(t, err)

	storedA, err := db.FindChangeset(ctx, project.ID, branchID, "Iaaa", 1)
	require.NoError(t, err)
	storedB, err := db.FindChangeset(ctx, project.ID, branchID, "Ibbb", 2)
	require.NoError(t, err)
	require.Equal(t, storedA.ID, storedB.DependsOn)

	targets, err := db.NeededBy(ctx, storedA.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{storedB.ID}, targets)

	// The run-end truncate leaves the staging table clean.
	staged, err := db.StagedCount(ctx)
	require.NoError(t, err)
	require.Zero(t, staged)
}

func TestCrawlLockExcludesSecondRun(t *testing.T) {
	db := newTestDB(t)
	svc := newFakeService(10)
	svc.projects = []gerrit.ProjectRecord{{Name: "p"}}

	require.NoError(t, db.AcquireCrawlLock(context.Background(), svc.Host(), "other-run"))

	o := newTestOrchestrator(t, db, svc, Options{})
	_, err := o.Crawl(context.Background())
	require.Error(t, err)
}
