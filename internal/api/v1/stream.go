package v1

import (
	"fmt"
	"time"
)

// StartStreamRequest is the body of POST /v1/streams.
type StartStreamRequest struct {
	// Report names the report definition to compile and stream.
	Report string `json:"report"`

	// ChunkSize overrides the configured fetch chunk size for this
	// stream. 0 keeps the server default.
	ChunkSize int `json:"chunk_size,omitempty"`

	// MaxDemand caps how many records the stream will ever emit.
	// 0 keeps the server default.
	MaxDemand int `json:"max_demand,omitempty"`
}

// Validate checks the request envelope.
func (r *StartStreamRequest) Validate() error {
	if r.Report == "" {
		return fmt.Errorf("report is required")
	}
	if r.ChunkSize < 0 {
		return fmt.Errorf("chunk_size must be >= 0")
	}
	if r.MaxDemand < 0 {
		return fmt.Errorf("max_demand must be >= 0")
	}
	return nil
}

// StartStreamResponse is the body returned when a stream starts.
type StartStreamResponse struct {
	StreamID     string   `json:"stream_id"`
	Report       string   `json:"report"`
	Resource     string   `json:"resource"`
	Aggregations []string `json:"aggregations"`
}

// StreamStatusResponse reports one stream's registry state.
type StreamStatusResponse struct {
	StreamID     string    `json:"stream_id"`
	Status       string    `json:"status"`
	LastActivity time.Time `json:"last_activity"`
}

// StreamListResponse is the body of GET /v1/streams.
type StreamListResponse struct {
	Streams []StreamStatusResponse `json:"streams"`
}
