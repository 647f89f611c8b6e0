package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reviewsync/reviewsync-go/internal/gerrit"
)

func TestResolvePersonByEmail(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	id, err := c.ResolvePerson(ctx, gerrit.PersonRecord{
		Name: "Jane Doe", Email: "jane@example.com", Username: "jane",
	})
	require.NoError(t, err)

	// Email wins even when the other fields disagree.
	again, err := c.ResolvePerson(ctx, gerrit.PersonRecord{
		Name: "J. Doe", Email: "jane@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, id, again)
}

func TestResolvePersonEmailAccumulation(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	id, err := c.ResolvePerson(ctx, gerrit.PersonRecord{
		Name: "Jane", Username: "jane", Email: "a@x.com",
	})
	require.NoError(t, err)

	again, err := c.ResolvePerson(ctx, gerrit.PersonRecord{
		Name: "Jane", Username: "jane", Email: "b@x.com",
	})
	require.NoError(t, err)
	require.Equal(t, id, again, "username match must resolve to the same person")

	emails, err := c.PersonEmails(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"a@x.com", "b@x.com"}, emails)

	// Resubmitting a known address does not duplicate it.
	_, err = c.ResolvePerson(ctx, gerrit.PersonRecord{Username: "jane", Email: "b@x.com"})
	require.NoError(t, err)
	emails, err = c.PersonEmails(ctx, id)
	require.NoError(t, err)
	require.Len(t, emails, 2)
}

func TestResolvePersonFallbackOrder(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	id, err := c.ResolvePerson(ctx, gerrit.PersonRecord{Name: "Max", Username: "max"})
	require.NoError(t, err)

	// No email, username match.
	byUsername, err := c.ResolvePerson(ctx, gerrit.PersonRecord{Username: "max"})
	require.NoError(t, err)
	require.Equal(t, id, byUsername)

	// No email, no username, name match.
	byName, err := c.ResolvePerson(ctx, gerrit.PersonRecord{Name: "Max"})
	require.NoError(t, err)
	require.Equal(t, id, byName)
}

func TestResolvePersonEmptySentinel(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	first, err := c.ResolvePerson(ctx, gerrit.PersonRecord{})
	require.NoError(t, err)
	second, err := c.ResolvePerson(ctx, gerrit.PersonRecord{})
	require.NoError(t, err)
	require.Equal(t, first, second, "empty identities must share the sentinel row")

	emails, err := c.PersonEmails(ctx, first)
	require.NoError(t, err)
	require.Equal(t, []string{"mail@example.org"}, emails)
}

func TestResolvePersonGerritSystemAccount(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	id, err := c.ResolvePerson(ctx, gerrit.PersonRecord{Name: "Gerrit Code Review"})
	require.NoError(t, err)

	p, err := c.findPersonBy(ctx, "username", "Gerrit")
	require.NoError(t, err)
	require.Equal(t, id, p.ID)

	// The pinned username wins even when the feed carries one, so the
	// system account never splits across rows.
	again, err := c.ResolvePerson(ctx, gerrit.PersonRecord{Name: "Gerrit Code Review", Username: "gerrit2"})
	require.NoError(t, err)
	require.Equal(t, id, again)
}

func TestResolvePersonDistinctPeople(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	a, err := c.ResolvePerson(ctx, gerrit.PersonRecord{Username: "alice", Email: "alice@x.com"})
	require.NoError(t, err)
	b, err := c.ResolvePerson(ctx, gerrit.PersonRecord{Username: "bob", Email: "bob@x.com"})
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
