package config

import "time"

// ThrottleRule sets the minimum interval for endpoints whose normalized path
// contains Match.
type ThrottleRule struct {
	Match    string        `yaml:"match"`
	Interval time.Duration `yaml:"interval"`
}

type Device struct {
	BaseURL string `yaml:"baseUrl"`
	// Session is the bearer token of the device. Env only.
	Session   string `yaml:"-"`
	StorePath string `yaml:"storePath"`

	RequestTimeout        time.Duration `yaml:"requestTimeout"`
	FlushInterval         time.Duration `yaml:"flushInterval"`
	TokenRefreshInterval  time.Duration `yaml:"tokenRefreshInterval"`
	RecentRefreshInterval time.Duration `yaml:"recentRefreshInterval"`
	ProbeInterval         time.Duration `yaml:"probeInterval"`
	RecentDays            int           `yaml:"recentDays"`
	PruneAfter            time.Duration `yaml:"pruneAfter"`

	ThrottleDefault time.Duration  `yaml:"throttleDefault"`
	Throttle        []ThrottleRule `yaml:"throttle"`
}

func DefaultDevice() Device {
	return Device{
		BaseURL:               "http://localhost:8090",
		StorePath:             "punchcard-device.db",
		RequestTimeout:        10 * time.Second,
		FlushInterval:         30 * time.Second,
		TokenRefreshInterval:  30 * time.Second,
		RecentRefreshInterval: time.Minute,
		ProbeInterval:         15 * time.Second,
		RecentDays:            14,
		PruneAfter:            7 * 24 * time.Hour,
		ThrottleDefault:       time.Second,
		Throttle: []ThrottleRule{
			// scan actions must feel instant; only the in-flight guard applies
			{Match: "/attendance/clock-", Interval: 300 * time.Millisecond},
			{Match: "/attendance/break/", Interval: 300 * time.Millisecond},
			{Match: "/attendance/sync", Interval: 5 * time.Second},
			{Match: "/attendance/records", Interval: 3 * time.Second},
			{Match: "/tokens/current", Interval: time.Second},
		},
	}
}
