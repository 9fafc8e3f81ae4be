package checklist

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by a Store when the key does not exist.
	ErrNotFound = errors.New("checklist not found")
	// ErrConditionFailed is returned by UpdateFields when a precondition
	// in Fields does not hold.
	ErrConditionFailed = errors.New("checklist precondition failed")
)

// Store persists items keyed by (id, team). Implementations must be safe for
// concurrent use.
type Store interface {
	// Put writes the item unconditionally.
	Put(ctx context.Context, item *Item) error
	GetByKey(ctx context.Context, key Key) (*Item, error)
	// UpdateFields changes the named fields of an existing item and returns
	// the item as stored afterwards.
	UpdateFields(ctx context.Context, key Key, f Fields) (*Item, error)
	// Delete removes the item. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error
	// Scan returns every item matching the filter.
	Scan(ctx context.Context, f Filter) ([]*Item, error)
	Ping(ctx context.Context) error
}

// Fields is a partial update. Nil fields are left untouched.
type Fields struct {
	Title       *string
	Description *string
	Status      *Stage
	Submitted   *bool
	SubmittedAt *time.Time
	UpdatedAt   time.Time

	// IfStatus requires the stored status to equal this stage.
	IfStatus *Stage
	// IfUnsubmitted requires the stored item not to be submitted.
	IfUnsubmitted bool
}

// Holds reports whether the preconditions of f hold for item.
func (f Fields) Holds(item *Item) bool {
	if f.IfStatus != nil && item.Status != *f.IfStatus {
		return false
	}
	if f.IfUnsubmitted && item.Submitted {
		return false
	}
	return true
}

// Apply copies the set fields onto item.
func (f Fields) Apply(item *Item) {
	if f.Title != nil {
		item.Title = *f.Title
	}
	if f.Description != nil {
		item.Description = *f.Description
	}
	if f.Status != nil {
		item.Status = *f.Status
	}
	if f.Submitted != nil {
		item.Submitted = *f.Submitted
	}
	if f.SubmittedAt != nil {
		at := *f.SubmittedAt
		item.SubmittedAt = &at
	}
	item.UpdatedAt = f.UpdatedAt
}

// Filter selects items in a Scan. Zero fields match everything.
type Filter struct {
	Team      string
	Status    Stage
	Submitted *bool
}

// Match reports whether item satisfies the filter.
func (f Filter) Match(item *Item) bool {
	if f.Team != "" && item.Team != f.Team {
		return false
	}
	if f.Status != "" && item.Status != f.Status {
		return false
	}
	if f.Submitted != nil && item.Submitted != *f.Submitted {
		return false
	}
	return true
}
