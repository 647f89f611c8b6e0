package importer

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/reviewsync/reviewsync-go/internal/database"
	"github.com/reviewsync/reviewsync-go/internal/gerrit"
	"github.com/reviewsync/reviewsync-go/internal/models"
)

// Orchestrator drives one crawl run: server resolution, project import with
// the deferred parent-link pass, then per project the page loop, the
// per-record merge, and the relationship resolution passes. Everything is
// sequential; the merge logic is single-writer by design.
type Orchestrator struct {
	db      *database.Client
	service gerrit.DataService
	logger  *logrus.Logger

	serverName string
	mode       Mode
	maxPages   int
}

// Options configures a crawl run.
type Options struct {
	// ServerName is the operator-chosen label for the instance; together
	// with the connector's host it identifies the server row.
	ServerName string

	// Mode forces initial or incremental semantics. Empty means derive:
	// initial when the server row was created by this run.
	Mode Mode

	// MaxPages caps the page loop per project. Zero means unbounded,
	// trusting the feed to signal completion via a short page.
	MaxPages int
}

func NewOrchestrator(db *database.Client, service gerrit.DataService, opts Options, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		db:         db,
		service:    service,
		logger:     logger,
		serverName: opts.ServerName,
		mode:       opts.Mode,
		maxPages:   opts.MaxPages,
	}
}

// Result summarizes one crawl run.
type Result struct {
	RunID              string
	ServerID           int64
	FirstRun           bool
	Projects           int
	Pages              int
	ChangesetsInserted int64
	ChangesetsUpdated  int64
	ChangesetsSkipped  int64
	DependsOnResolved  int64
	NeededByResolved   int64
	Duration           time.Duration
}

// Crawl runs one full crawl against the connected instance. It holds the
// advisory crawl lock for the duration; a second crawl of the same host
// fails fast instead of racing the staging table.
func (o *Orchestrator) Crawl(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{RunID: uuid.New().String()}

	host := o.service.Host()
	o.logger.WithFields(logrus.Fields{
		"run_id":    result.RunID,
		"server":    o.serverName,
		"host":      host,
		"connector": o.service.Name(),
	}).Info("Starting crawl")

	if err := o.db.AcquireCrawlLock(ctx, host, result.RunID); err != nil {
		return nil, err
	}
	defer func() {
		if err := o.db.ReleaseCrawlLock(context.WithoutCancel(ctx), host, result.RunID); err != nil {
			o.logger.WithFields(logrus.Fields{"host": host, "error": err}).Warn("Crawl lock release failed")
		}
	}()

	serverID, firstRun, err := o.resolveServer(ctx, host)
	if err != nil {
		return nil, err
	}
	result.ServerID = serverID
	result.FirstRun = firstRun

	mode := o.mode
	if mode == "" {
		mode = ModeIncremental
		if firstRun {
			mode = ModeInitial
		}
	}
	merger := NewMerger(o.db, mode, o.logger)

	projects, err := o.importProjects(ctx, serverID)
	if err != nil {
		return nil, err
	}
	result.Projects = len(projects)

	for _, project := range projects {
		if err := o.crawlProject(ctx, merger, project, result); err != nil {
			return nil, err
		}
	}

	// Leftover staged rows belong to the last project and got their
	// resolution chance; drop them so the next run starts clean.
	if err := o.db.ClearStaged(ctx); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	o.logger.WithFields(logrus.Fields{
		"run_id":   result.RunID,
		"projects": result.Projects,
		"pages":    result.Pages,
		"inserted": result.ChangesetsInserted,
		"updated":  result.ChangesetsUpdated,
		"skipped":  result.ChangesetsSkipped,
		"duration": result.Duration.String(),
	}).Info("Crawl completed")
	return result, nil
}

// resolveServer finds or creates the server row. Server rows are written
// once and never updated.
func (o *Orchestrator) resolveServer(ctx context.Context, host string) (int64, bool, error) {
	server, err := o.db.FindServer(ctx, o.serverName, host)
	if err == nil {
		return server.ID, false, nil
	}
	if err != database.ErrNotFound {
		return 0, false, err
	}
	id, err := o.db.InsertServer(ctx, o.serverName, host)
	if err != nil {
		return 0, false, err
	}
	o.logger.WithFields(logrus.Fields{
		"server_id": id,
		"host":      host,
	}).Info("Registered new server; this is its first crawl")
	return id, true, nil
}

// importProjects imports the full project listing, then fixes parent links
// in a second pass: a child can arrive before its parent has a row, so
// linkage is deferred until every project is inserted.
func (o *Orchestrator) importProjects(ctx context.Context, serverID int64) ([]*models.Project, error) {
	records, err := o.service.Projects(ctx)
	if err != nil {
		return nil, err
	}
	// The listing is a map upstream; impose a stable crawl order.
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })

	parentNames := make(map[string]string)
	projects := make([]*models.Project, 0, len(records))

	for _, rec := range records {
		stored, err := o.db.FindProject(ctx, serverID, rec.Name)
		switch {
		case err == database.ErrNotFound:
			id, err := o.db.InsertProject(ctx, &models.Project{
				ServerID:    serverID,
				Name:        rec.Name,
				Description: rec.Description,
			})
			if err != nil {
				return nil, err
			}
			stored = &models.Project{ID: id, ServerID: serverID, Name: rec.Name, Description: rec.Description}
		case err != nil:
			return nil, err
		default:
			if stored.Description != rec.Description {
				if err := o.db.UpdateProject(ctx, stored.ID, map[string]interface{}{
					"description": rec.Description,
				}); err != nil {
					return nil, err
				}
				stored.Description = rec.Description
			}
		}
		projects = append(projects, stored)
		if rec.Parent != "" {
			parentNames[rec.Name] = rec.Parent
		}
	}

	for _, project := range projects {
		parentName, ok := parentNames[project.Name]
		if !ok {
			continue
		}
		parent, err := o.db.FindProject(ctx, serverID, parentName)
		if err == database.ErrNotFound {
			o.logger.WithFields(logrus.Fields{
				"project": project.Name,
				"parent":  parentName,
			}).Warn("Parent project not in listing; leaving link unset")
			continue
		}
		if err != nil {
			return nil, err
		}
		if project.Parent != parent.ID {
			if err := o.db.SetProjectParent(ctx, project.ID, parent.ID); err != nil {
				return nil, err
			}
			project.Parent = parent.ID
		}
	}

	o.logger.WithFields(logrus.Fields{
		"count": len(projects),
	}).Info("Projects imported")
	return projects, nil
}

// crawlProject pages through one project's changesets and runs the
// relationship resolution passes once all pages are merged.
func (o *Orchestrator) crawlProject(ctx context.Context, merger *Merger, project *models.Project, result *Result) error {
	// Not assumed clean: a crash mid-run leaves rows behind.
	if err := o.db.ClearStaged(ctx); err != nil {
		return err
	}

	o.logger.WithFields(logrus.Fields{
		"project": project.Name,
	}).Info("Crawling project")

	resumeKey := ""
	pages := 0
	for {
		page, err := o.service.Changesets(ctx, project.Name, resumeKey)
		if err != nil {
			return err
		}
		pages++
		result.Pages++

		for _, rec := range page.Records {
			action, err := merger.MergeChangeset(ctx, project.ID, rec)
			if err != nil {
				return err
			}
			switch action {
			case ActionInserted:
				result.ChangesetsInserted++
			case ActionUpdated:
				result.ChangesetsUpdated++
			case ActionSkipped:
				result.ChangesetsSkipped++
			}
		}

		// A short or empty page is the feed's completion signal.
		if page.RowCount == 0 || page.RowCount < o.service.QueryLimit() {
			break
		}
		if o.maxPages > 0 && pages >= o.maxPages {
			o.logger.WithFields(logrus.Fields{
				"project": project.Name,
				"pages":   pages,
			}).Warn("Page cap reached before the feed signalled completion")
			break
		}
		resumeKey = page.LastSortKey()
		if resumeKey == "" {
			break
		}
	}

	dependsOn, err := o.db.ResolveDependsOn(ctx)
	if err != nil {
		return err
	}
	neededBy, err := o.db.ResolveNeededBy(ctx)
	if err != nil {
		return err
	}
	result.DependsOnResolved += dependsOn
	result.NeededByResolved += neededBy

	o.logger.WithFields(logrus.Fields{
		"project":    project.Name,
		"pages":      pages,
		"depends_on": dependsOn,
		"needed_by":  neededBy,
	}).Info("Project crawl completed")
	return nil
}
