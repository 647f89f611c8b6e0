package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/reviewsync/reviewsync-go/internal/errors"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// ErrNotFound is returned by the Find* accessors when no row matches the
// composite identity. Callers branch on it to decide insert vs update.
var ErrNotFound = stderrors.New("database: row not found")

// Config holds the storage connection settings.
type Config struct {
	Driver string // DriverPostgres or DriverSQLite
	DSN    string
}

// Client is the storage layer of the mirror. One Client serves a single
// crawl run; it is not safe for concurrent crawls of the same server.
type Client struct {
	db     *sqlx.DB
	driver string
	logger *logrus.Logger

	lookupCache map[string]int64
}

func NewClient(cfg Config, logger *logrus.Logger) (*Client, error) {
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverSQLite {
		return nil, errors.Config(fmt.Sprintf("unsupported storage driver %q", cfg.Driver))
	}

	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.Databasef(err, "cannot connect to %s storage", cfg.Driver)
	}
	if cfg.Driver == DriverSQLite {
		// A single connection keeps every statement on the same database
		// handle; the crawl is single-writer anyway.
		db.SetMaxOpenConns(1)
	}

	c := &Client{
		db:          db,
		driver:      cfg.Driver,
		logger:      logger,
		lookupCache: make(map[string]int64),
	}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"driver": cfg.Driver,
	}).Debug("Storage ready")
	return c, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// insertRow inserts one row and returns its generated surrogate key,
// papering over the RETURNING vs LastInsertId split between drivers.
func (c *Client) insertRow(ctx context.Context, table string, columns []string, args ...interface{}) (int64, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders)

	if c.driver == DriverPostgres {
		var id int64
		err := c.db.QueryRowxContext(ctx, c.db.Rebind(query+" RETURNING id"), args...).Scan(&id)
		if err != nil {
			return 0, errors.Databasef(err, "insert into %s failed", table)
		}
		return id, nil
	}

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Databasef(err, "insert into %s failed", table)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Databasef(err, "insert into %s returned no id", table)
	}
	return id, nil
}

// updateByID applies a set of column values to one row. The merger passes
// only the columns whose values actually changed.
func (c *Client) updateByID(ctx context.Context, table string, id int64, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	assignments := make([]string, 0, len(fields))
	args := make([]interface{}, 0, len(fields)+1)
	for column, value := range fields {
		assignments = append(assignments, column+" = ?")
		args = append(args, value)
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(assignments, ", "))
	if _, err := c.db.ExecContext(ctx, c.db.Rebind(query), args...); err != nil {
		return errors.Databasef(err, "update of %s id %d failed", table, id)
	}
	return nil
}

// getRow runs a single-row query, translating the driver's empty result
// into ErrNotFound.
func (c *Client) getRow(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := c.db.GetContext(ctx, dest, c.db.Rebind(query), args...)
	if stderrors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return errors.Database(err, "query failed")
	}
	return nil
}

func (c *Client) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := c.db.ExecContext(ctx, c.db.Rebind(query), args...)
	if err != nil {
		return 0, errors.Database(err, "statement failed")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Database(err, "affected row count unavailable")
	}
	return affected, nil
}
