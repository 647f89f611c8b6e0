package database

import (
	"context"

	"github.com/reviewsync/reviewsync-go/internal/errors"
	"github.com/reviewsync/reviewsync-go/internal/gerrit"
	"github.com/reviewsync/reviewsync-go/internal/models"
)

// Sentinel identity for feed records carrying no person data at all. Old
// exports deliver completely empty owner objects; a fixed identity keeps
// them resolving to one row instead of producing null-identity rows.
const (
	unknownName     = "Unknown (Exporter)"
	unknownEmail    = "mail@example.org"
	unknownUsername = "Unknown_export_username"
)

// ResolvePerson maps a feed person to a stored person id, creating the row
// on first sight. Match order is email, then username, then name: an email
// identifies a person outright, while usernames and names only anchor a row
// that accumulates addresses over time. Persons are never merged or deleted.
func (c *Client) ResolvePerson(ctx context.Context, rec gerrit.PersonRecord) (int64, error) {
	if rec.Empty() {
		rec.Name = unknownName
		rec.Email = unknownEmail
		rec.Username = unknownUsername
	}
	if rec.Name == "" {
		rec.Name = unknownName
	}
	// The "Gerrit Code Review" system account carries no username in the
	// feed; pin one so it resolves to the same row across runs.
	if rec.Name == "Gerrit Code Review" {
		rec.Username = "Gerrit"
	}

	if rec.Email != "" {
		id, err := c.findPersonByEmail(ctx, rec.Email)
		if err == nil {
			return id, nil
		}
		if err != ErrNotFound {
			return 0, err
		}
	}

	var match *models.Person
	var err error
	switch {
	case rec.Username != "":
		match, err = c.findPersonBy(ctx, "username", rec.Username)
	case rec.Name != "":
		match, err = c.findPersonBy(ctx, "name", rec.Name)
	default:
		err = ErrNotFound
	}
	if err != nil && err != ErrNotFound {
		return 0, err
	}

	if match == nil {
		id, err := c.insertRow(ctx, "persons", []string{"name", "username"}, rec.Name, rec.Username)
		if err != nil {
			return 0, err
		}
		if _, err := c.insertRow(ctx, "person_emails", []string{"person", "email"}, id, rec.Email); err != nil {
			return 0, err
		}
		return id, nil
	}

	// Known person, possibly under a new address.
	if err := c.appendEmail(ctx, match.ID, rec.Email); err != nil {
		return 0, err
	}
	return match.ID, nil
}

func (c *Client) findPersonByEmail(ctx context.Context, email string) (int64, error) {
	var id int64
	err := c.getRow(ctx, &id,
		"SELECT person FROM person_emails WHERE email = ?", email)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (c *Client) findPersonBy(ctx context.Context, column, value string) (*models.Person, error) {
	if column != "username" && column != "name" {
		return nil, errors.Databasef(nil, "invalid person lookup column %q", column)
	}
	var p models.Person
	err := c.getRow(ctx, &p, "SELECT * FROM persons WHERE "+column+" = ?", value)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// appendEmail adds an address to a person unless it is already on file.
// Addresses are never validated or deduplicated beyond exact equality.
func (c *Client) appendEmail(ctx context.Context, personID int64, email string) error {
	var count int
	err := c.getRow(ctx, &count,
		"SELECT COUNT(*) FROM person_emails WHERE person = ? AND email = ?", personID, email)
	if err != nil && err != ErrNotFound {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err = c.insertRow(ctx, "person_emails", []string{"person", "email"}, personID, email)
	return err
}

// PersonEmails lists the stored addresses of a person in insertion order.
func (c *Client) PersonEmails(ctx context.Context, personID int64) ([]string, error) {
	var emails []string
	err := c.db.SelectContext(ctx, &emails,
		c.db.Rebind("SELECT email FROM person_emails WHERE person = ? ORDER BY id"), personID)
	if err != nil {
		return nil, errors.Database(err, "email listing failed")
	}
	return emails, nil
}
