// Package audit holds the append-only audit trail: entry types, the Store contract,
// the order lifecycle listener and best-effort mirror sinks.
package audit

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

const (
	ActionOrderStatusChange = "order.status_change"
	TargetTypeOrder         = "order"
)

// Entry is an audit record as stored. CreatedAt is epoch milliseconds assigned by the
// store and is the only ordering key.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	Summary    string         `json:"summary"`
	ActorID    string         `json:"actorId,omitempty"`
	ActorEmail string         `json:"actorEmail,omitempty"`
	TargetID   string         `json:"targetId,omitempty"`
	TargetType string         `json:"targetType,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  int64          `json:"createdAt"`
}

// EntryInput is what callers hand to Append. IdempotencyKey, when set, makes a repeated
// Append return the entry written the first time.
type EntryInput struct {
	Action         string         `json:"action" validate:"required,max=128,action"`
	Summary        string         `json:"summary" validate:"required,max=512"`
	ActorID        string         `json:"actorId,omitempty" validate:"max=128"`
	ActorEmail     string         `json:"actorEmail,omitempty" validate:"max=320"`
	TargetID       string         `json:"targetId,omitempty" validate:"max=128"`
	TargetType     string         `json:"targetType,omitempty" validate:"max=64"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty" validate:"max=256"`
}

// Filter narrows Query. Action is an exact match. After is an exclusive upper bound
// on CreatedAt.
type Filter struct {
	Action string
	Limit  int
	After  *int64
}

type Page struct {
	Items      []Entry `json:"items"`
	NextCursor *int64  `json:"nextCursor,omitempty"`
}

// Store is the audit log persistence contract. Implementations return *StorageError
// for backend failures.
type Store interface {
	Append(ctx context.Context, in EntryInput) (Entry, error)
	Query(ctx context.Context, f Filter) (Page, error)
}

// ClampLimit applies the default and the ceiling to a requested page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// BuildPage trims a newest-first result fetched with limit+1 rows and sets the cursor
// only when older entries remain.
func BuildPage(entries []Entry, limit int) Page {
	if len(entries) <= limit {
		if entries == nil {
			entries = []Entry{}
		}
		return Page{Items: entries}
	}
	items := entries[:limit]
	cursor := items[len(items)-1].CreatedAt
	return Page{Items: items, NextCursor: &cursor}
}

var ErrInvalidInput = errors.New("audit: invalid entry")

// StorageError reports that the backing store could not complete an operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("audit: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

var (
	actionPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*(\.[a-z0-9_-]+)+$`)
	validate      = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("action", func(fl validator.FieldLevel) bool {
		return actionPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks an input before it reaches a store. Actions are lower-case,
// dot-namespaced tags such as "order.status_change".
func (in EntryInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// NoopStore accepts and discards everything.
type NoopStore struct{}

func (NoopStore) Append(_ context.Context, in EntryInput) (Entry, error) {
	return Entry{Action: in.Action, Summary: in.Summary}, nil
}

func (NoopStore) Query(context.Context, Filter) (Page, error) {
	return Page{Items: []Entry{}}, nil
}
