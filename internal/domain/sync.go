package domain

import "encoding/json"

type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Mutation is one committed local write, as handed to the sync layer.
// Data is the after-image, Before the pre-image (empty for creates).
type Mutation struct {
	Op      Op              `json:"op"`
	Kind    Kind            `json:"kind"`
	ID      string          `json:"id"`
	Owner   string          `json:"owner"`
	Data    json.RawMessage `json:"data,omitempty"`
	Before  json.RawMessage `json:"before,omitempty"`
	BaseRev int64           `json:"base_rev"`
}

// Ack is the cloud's acknowledgement of one mutation.
type Ack struct {
	Kind    Kind   `json:"kind"`
	ID      string `json:"id"`
	CloudID string `json:"cloud_id"`
	Rev     int64  `json:"rev"`
}

// RemoteRecord is a record as held by the cloud store. ID is the identifier
// generated by the originating device; CloudID is assigned by the cloud.
type RemoteRecord struct {
	Kind    Kind            `json:"kind"`
	ID      string          `json:"id"`
	CloudID string          `json:"cloud_id"`
	Owner   string          `json:"owner"`
	Rev     int64           `json:"rev"`
	Deleted bool            `json:"deleted"`
	Data    json.RawMessage `json:"data"`
}

type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Change is one entry of the cloud's real-time change stream.
type Change struct {
	Type   ChangeType   `json:"type"`
	Record RemoteRecord `json:"record"`
}
