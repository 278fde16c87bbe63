package v1

import "time"

type PunchcardClient struct {
	Transport  *Transport
	Attendance *AttendanceEndpoint
	Tokens     *TokenEndpoint
}

// NewPunchcardClient initializes the API client. guard may be nil.
func NewPunchcardClient(baseURL string, token string, timeout time.Duration, guard Guard) *PunchcardClient {
	t := NewTransport(baseURL, token, timeout)
	t.Guard = guard
	return &PunchcardClient{
		Transport:  t,
		Attendance: &AttendanceEndpoint{transport: t},
		Tokens:     &TokenEndpoint{transport: t},
	}
}
