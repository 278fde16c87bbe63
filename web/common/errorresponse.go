package common

type ErrorResponse struct {
	Message string `json:"message"`
	// Data carries the current state of the resource when the failure is an
	// idempotent observation, e.g. the record that already exists.
	Data interface{} `json:"data,omitempty"`
}

func NewErrorResponse(message string) *ErrorResponse {
	return &ErrorResponse{
		Message: message,
	}
}

func NewErrorResponseWithData(message string, data interface{}) *ErrorResponse {
	return &ErrorResponse{
		Message: message,
		Data:    data,
	}
}
