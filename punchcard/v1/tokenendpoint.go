package v1

import (
	"context"
	"net/url"
)

type TokenDTO struct {
	Value          string `json:"value"`
	IssuedAtBucket int64  `json:"issuedAtBucket"`
	Action         string `json:"action"`
	TargetID       string `json:"targetId,omitempty"`
	IntervalMs     int64  `json:"intervalMs"`
	ValidUntil     int64  `json:"validUntil"`
}

type TokenEndpoint struct {
	transport *Transport
}

// Current fetches the code a kiosk should display. Empty action means punch.
func (e *TokenEndpoint) Current(ctx context.Context, action, targetID string) (*TokenDTO, error) {
	query := url.Values{}
	if action != "" {
		query.Set("action", action)
	}
	if targetID != "" {
		query.Set("targetId", targetID)
	}
	resp, err := e.transport.Get(ctx, apiPrefix+"/tokens/current", query)
	if err != nil {
		return nil, err
	}
	return decode[*TokenDTO](resp)
}
