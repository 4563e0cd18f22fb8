package store

import (
	"time"

	"github.com/usherd/usher/pkg/params"
)

// Request lifecycle states. Requests enter the system as StatusProcessed and
// are moved to the terminal states by systems downstream of the dispatcher.
const (
	StatusProcessed = "processed"
	StatusAwait     = "await"
	StatusAccept    = "accept"
	StatusReject    = "reject"
)

// User is an executor requests can be assigned to. Params hold typed profile
// values keyed by registry key. MaxDailyRequests of nil means unlimited.
// Password is an opaque hash managed by the identity system, carried through
// untouched and never serialized to API responses.
type User struct {
	ID               string         `json:"id" bson:"_id"`
	Username         string         `json:"username" bson:"username"`
	Password         string         `json:"-" bson:"password,omitempty"`
	Email            string         `json:"email,omitempty" bson:"email,omitempty"`
	FirstName        string         `json:"first_name,omitempty" bson:"first_name,omitempty"`
	LastName         string         `json:"last_name,omitempty" bson:"last_name,omitempty"`
	Params           map[string]any `json:"params" bson:"params"`
	MaxDailyRequests *int           `json:"max_daily_requests,omitempty" bson:"max_daily_requests,omitempty"`
	CreatedAt        time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" bson:"updated_at"`
}

// Request is a unit of work to be assigned to a user. User stays nil until a
// dispatch commits an assignment.
type Request struct {
	ID        string                      `json:"id" bson:"_id"`
	Parent    *string                     `json:"parent,omitempty" bson:"parent,omitempty"`
	User      *string                     `json:"user" bson:"user"`
	Params    map[string]params.Condition `json:"params" bson:"params"`
	Text      string                      `json:"text,omitempty" bson:"text,omitempty"`
	Status    string                      `json:"status" bson:"status"`
	CreatedAt time.Time                   `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time                   `json:"updated_at" bson:"updated_at"`
}

// KeyDataType declares the value type for one registry key. Keys without a
// record cast as strings.
type KeyDataType struct {
	Name   string `json:"name" bson:"name"`
	TypeOf string `json:"type_of" bson:"type_of"`
}

// DispatchLog is the append-only audit record of one committed assignment.
type DispatchLog struct {
	RequestID        string    `json:"request_id" bson:"request_id"`
	ParentID         *string   `json:"parent_id,omitempty" bson:"parent_id,omitempty"`
	TaskID           string    `json:"task_id" bson:"task_id"`
	RequestCreatedAt time.Time `json:"request_created_at" bson:"request_created_at"`
	RequestUpdatedAt time.Time `json:"request_updated_at" bson:"request_updated_at"`
}
