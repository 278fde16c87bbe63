package common

import "encoding/json"

// Envelope is the server's response wrapper.
type Envelope[T any] struct {
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

type Pagination struct {
	Total int64 `json:"total"`
}

type SearchEnvelope[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// ErrorBody is what the server answers with on a non-2xx status.
type ErrorBody struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}
