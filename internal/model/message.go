package model

import "time"

// APIResponse is a generic wrapper for API responses.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewSuccessResponse creates a successful API response.
func NewSuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error API response.
func NewErrorResponse[T any](errMsg string) APIResponse[T] {
	return APIResponse[T]{
		Success: false,
		Error:   errMsg,
	}
}

// ErrorResponse represents an error response structure.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// QuantityRequest is the body of order and purchase requests. Quantity is
// kept raw so the handler can apply the lenient parsing rules.
type QuantityRequest struct {
	Quantity any `json:"quantity"`
}

// StreamMessage is a message exchanged over a WebSocket stream.
type StreamMessage struct {
	Type      string       `json:"type"`
	Query     string       `json:"query,omitempty"`
	Items     []Item       `json:"items,omitempty"`
	Details   *ItemDetails `json:"details,omitempty"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Stream message types.
const (
	StreamTypeQuery   = "query"
	StreamTypeResults = "results"
	StreamTypeDetails = "details"
	StreamTypeError   = "error"
	StreamTypePing    = "ping"
	StreamTypePong    = "pong"
)

// NewResultsMessage wraps a search result snapshot. An empty result is
// sent without the items field.
func NewResultsMessage(items []Item) StreamMessage {
	return StreamMessage{
		Type:      StreamTypeResults,
		Items:     items,
		Timestamp: time.Now().UTC(),
	}
}

// NewDetailsMessage wraps an item detail snapshot.
func NewDetailsMessage(details ItemDetails) StreamMessage {
	return StreamMessage{
		Type:      StreamTypeDetails,
		Details:   &details,
		Timestamp: time.Now().UTC(),
	}
}

// NewErrorMessage wraps an error for delivery to a stream client.
func NewErrorMessage(err error) StreamMessage {
	return StreamMessage{
		Type:      StreamTypeError,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	}
}

// NewPongMessage answers a client ping.
func NewPongMessage() StreamMessage {
	return StreamMessage{Type: StreamTypePong, Timestamp: time.Now().UTC()}
}
