package pool

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a pooled browser
type Status int

const (
	StatusInitializing Status = iota
	StatusIdle
	StatusInUse
	StatusCleaningUp
	StatusFailed
)

var statusNames = []string{"initializing", "idle", "in_use", "cleaning_up", "failed"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown browser status %q", text)
}

// Info is a point-in-time copy of one pooled browser's record
type Info struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsed    time.Time `json:"last_used"`
	UseCount    int       `json:"use_count"`
	BrowserType string    `json:"browser_type"`
	Endpoint    string    `json:"endpoint,omitempty"`
}

// Stats counts pooled browsers by status
type Stats struct {
	Size         int `json:"size"`
	Initializing int `json:"initializing"`
	Idle         int `json:"idle"`
	InUse        int `json:"in_use"`
	CleaningUp   int `json:"cleaning_up"`
	Failed       int `json:"failed"`
}
