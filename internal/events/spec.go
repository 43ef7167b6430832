// Package events fires scheduled prompts into channel queues. Event files
// dropped into <workspace>/events/ describe what to say and when; the
// scheduler watches the directory and runs a minute tick for cron entries.
package events

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/adhocore/gronx"
)

const (
	TypeImmediate = "immediate"
	TypeOneShot   = "one-shot"
	TypePeriodic  = "periodic"
)

// Spec is one event file. The filename is the event's identity: deleting
// and recreating a file makes it a new event.
type Spec struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
	Text      string `json:"text"`
	At        string `json:"at,omitempty"`       // one-shot: RFC3339 with offset
	Schedule  string `json:"schedule,omitempty"` // periodic: 5-field cron
	Timezone  string `json:"timezone,omitempty"` // periodic: IANA name, default UTC
}

// loadSpec reads and validates an event file. The returned time is the
// parsed `at` for one-shot events and the zero value otherwise.
func loadSpec(path string) (*Spec, time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, time.Time{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if spec.ChannelID == "" {
		return nil, time.Time{}, fmt.Errorf("missing channelId")
	}
	if spec.Text == "" {
		return nil, time.Time{}, fmt.Errorf("missing text")
	}

	switch spec.Type {
	case TypeImmediate:
		return &spec, time.Time{}, nil
	case TypeOneShot:
		if spec.At == "" {
			return nil, time.Time{}, fmt.Errorf("one-shot event missing at")
		}
		at, err := time.Parse(time.RFC3339, spec.At)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("invalid at %q: %w", spec.At, err)
		}
		return &spec, at, nil
	case TypePeriodic:
		if spec.Schedule == "" {
			return nil, time.Time{}, fmt.Errorf("periodic event missing schedule")
		}
		if !gronx.New().IsValid(spec.Schedule) {
			return nil, time.Time{}, fmt.Errorf("invalid cron schedule %q", spec.Schedule)
		}
		if spec.Timezone != "" {
			if _, err := time.LoadLocation(spec.Timezone); err != nil {
				return nil, time.Time{}, fmt.Errorf("invalid timezone %q: %w", spec.Timezone, err)
			}
		}
		return &spec, time.Time{}, nil
	default:
		return nil, time.Time{}, fmt.Errorf("unknown event type %q", spec.Type)
	}
}

// location resolves the event's timezone, defaulting to UTC.
func (s *Spec) location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
