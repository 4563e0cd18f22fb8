package store

import (
	"context"
	"errors"
	"time"

	"github.com/usherd/usher/pkg/params"
)

var (
	// ErrNotFound is returned when a referenced document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyAssigned is returned by AssignRequest when the request
	// exists but a previous dispatch already committed a user.
	ErrAlreadyAssigned = errors.New("request already assigned")

	// ErrDuplicateKey is returned when an insert violates a unique index.
	ErrDuplicateKey = errors.New("duplicate key")
)

// SummaryRow is one day of committed dispatches, keyed by the request's
// creation date in YYYY-MM-DD form.
type SummaryRow struct {
	Date  string `json:"date" bson:"_id"`
	Count int    `json:"count" bson:"count"`
}

// Store is the authoritative persistence layer.
type Store interface {
	UserStore
	RequestStore
	KeyDataTypeStore
	DispatchLogStore

	Ping(ctx context.Context) error
}

type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	// ListUserProfiles returns every user with only the fields candidate
	// selection needs: id, params and quota.
	ListUserProfiles(ctx context.Context) ([]User, error)
}

type RequestStore interface {
	CreateRequest(ctx context.Context, r *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	// ListRequests returns requests, optionally filtered by status.
	ListRequests(ctx context.Context, status string) ([]Request, error)
	// AssignRequest sets the request's user if and only if no user is set.
	// It returns ErrAlreadyAssigned when another dispatch won the race and
	// ErrNotFound when the request does not exist.
	AssignRequest(ctx context.Context, id, userID string, updatedAt time.Time) error
	// DailyAcceptCounts aggregates accepted requests created at or after
	// since, grouped by assigned user.
	DailyAcceptCounts(ctx context.Context, since time.Time) (map[string]int, error)
}

type KeyDataTypeStore interface {
	CreateKeyDataType(ctx context.Context, k *KeyDataType) error
	ListKeyDataTypes(ctx context.Context) ([]KeyDataType, error)
}

type DispatchLogStore interface {
	InsertDispatchLog(ctx context.Context, l *DispatchLog) error
	// DispatchSummary aggregates dispatch logs per request creation date,
	// ascending, optionally bounded by [start, end].
	DispatchSummary(ctx context.Context, start, end *time.Time) ([]SummaryRow, error)
}

// LoadRegistry snapshots the key type registry from the store.
func LoadRegistry(ctx context.Context, s KeyDataTypeStore) (params.Registry, error) {
	kdts, err := s.ListKeyDataTypes(ctx)
	if err != nil {
		return nil, err
	}

	reg := make(params.Registry, len(kdts))
	for _, k := range kdts {
		reg[k.Name] = params.ParseType(k.TypeOf)
	}
	return reg, nil
}

// Midnight returns 00:00:00 UTC of the day containing t.
func Midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
