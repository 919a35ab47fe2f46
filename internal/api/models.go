package api

import (
	"encoding/json"
	"time"

	"github.com/tbickmore/relay-core/internal/collab"
)

// SubmitTaskRequest is the request body for POST /tasks.
type SubmitTaskRequest struct {
	Category    string          `json:"category" validate:"required,min=1,max=100"`
	Payload     json.RawMessage `json:"payload"`
	Priority    string          `json:"priority" validate:"omitempty,oneof=low normal high"`
	CacheKey    string          `json:"cache_key" validate:"omitempty,max=250"`
	MaxAttempts int             `json:"max_attempts" validate:"omitempty,min=1,max=20"`
}

// SubmitTaskResponse returns the ID assigned to a submitted task.
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TaskStatusResponse is the response body for GET /tasks/{id}.
type TaskStatusResponse struct {
	TaskID    string `json:"task_id"`
	Category  string `json:"category"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

// CachePutRequest is the request body for PUT /cache/{key}.
type CachePutRequest struct {
	Value      json.RawMessage `json:"value" validate:"required"`
	TTLSeconds int             `json:"ttl_seconds" validate:"omitempty,min=-1"`
}

// CacheGetResponse is the response body for GET /cache/{key}.
type CacheGetResponse struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// ClientMessage is one inbound websocket frame on the collaboration
// endpoint. Type selects which of the optional fields apply.
type ClientMessage struct {
	Type        string            `json:"type" validate:"required,oneof=join operation heartbeat leave"`
	Participant string            `json:"participant,omitempty"`
	Operation   *collab.Operation `json:"operation,omitempty"`
	Cursor      int               `json:"cursor,omitempty"`
}

// ServerMessage is one outbound websocket frame: either a direct reply to
// the sender (ack, reject, joined) or a forwarded session event.
type ServerMessage struct {
	Type        string              `json:"type"`
	DocumentID  string              `json:"document_id,omitempty"`
	Participant string              `json:"participant,omitempty"`
	Operation   *collab.Operation   `json:"operation,omitempty"`
	Cursor      int                 `json:"cursor,omitempty"`
	Session     *collab.SessionInfo `json:"session,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// PresenceResponse is the response body for GET /collab/{doc}/presence.
type PresenceResponse struct {
	DocumentID   string                  `json:"document_id"`
	Participants []collab.PresenceRecord `json:"participants"`
	FetchedAt    time.Time               `json:"fetched_at"`
}
