package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupCodeGetOrCreate(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	main, err := c.LookupCode(ctx, LookupBranches, "main")
	require.NoError(t, err)
	require.NotZero(t, main)

	release, err := c.LookupCode(ctx, LookupBranches, "release-1.0")
	require.NoError(t, err)
	require.NotEqual(t, main, release)

	again, err := c.LookupCode(ctx, LookupBranches, "main")
	require.NoError(t, err)
	require.Equal(t, main, again, "codes are immutable once assigned")
}

func TestLookupCodeTablesAreIndependent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	branch, err := c.LookupCode(ctx, LookupBranches, "NEW")
	require.NoError(t, err)
	status, err := c.LookupCode(ctx, LookupStatuses, "NEW")
	require.NoError(t, err)

	// Same value, different enumerations; first code in each table.
	require.Equal(t, branch, status)

	other, err := c.LookupCode(ctx, LookupStatuses, "MERGED")
	require.NoError(t, err)
	require.NotEqual(t, status, other)
}

func TestLookupCodeSurvivesCacheMiss(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	id, err := c.LookupCode(ctx, LookupFileActions, "MODIFIED")
	require.NoError(t, err)

	// A fresh cache must re-find the stored code, not mint a new one.
	c.lookupCache = map[string]int64{}
	again, err := c.LookupCode(ctx, LookupFileActions, "MODIFIED")
	require.NoError(t, err)
	require.Equal(t, id, again)
}

func TestLookupCodeRejectsUnknownTable(t *testing.T) {
	c := newTestClient(t)
	_, err := c.LookupCode(context.Background(), "persons", "x")
	require.Error(t, err)
}
