package database

import (
	"context"
	"fmt"

	"github.com/reviewsync/reviewsync-go/internal/errors"
)

// Lookup tables map small enumerations to integer codes. Values are
// immutable once coded; there is no update path.
const (
	LookupBranches        = "branches"
	LookupStatuses        = "statuses"
	LookupTrackingSystems = "tracking_systems"
	LookupFileActions     = "file_actions"
)

var lookupTables = map[string]bool{
	LookupBranches:        true,
	LookupStatuses:        true,
	LookupTrackingSystems: true,
	LookupFileActions:     true,
}

// LookupCode returns the integer code for a value in one of the enumeration
// tables, inserting it on first sight. Codes are cached per Client; the
// tables are append-only so a cached code never goes stale.
func (c *Client) LookupCode(ctx context.Context, table, value string) (int64, error) {
	if !lookupTables[table] {
		return 0, errors.Databasef(nil, "unknown lookup table %q", table)
	}

	cacheKey := table + "\x00" + value
	if id, ok := c.lookupCache[cacheKey]; ok {
		return id, nil
	}

	var id int64
	err := c.getRow(ctx, &id, fmt.Sprintf("SELECT id FROM %s WHERE name = ?", table), value)
	if err == ErrNotFound {
		id, err = c.insertRow(ctx, table, []string{"name"}, value)
	}
	if err != nil {
		return 0, err
	}

	c.lookupCache[cacheKey] = id
	return id, nil
}
