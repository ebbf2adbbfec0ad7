// Package answers turns the free-form extracted_data blobs produced by the
// check-in agents into typed records.
package answers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// AgentCode identifies the conversational flow that produced an answer.
type AgentCode string

const (
	AgentPulse          AgentCode = "pulse"
	AgentRoleMapper     AgentCode = "role_mapper"
	AgentWorkflowMapper AgentCode = "workflow_mapper"
	AgentPainScanner    AgentCode = "pain_scanner"
	AgentFocusTracker   AgentCode = "focus_tracker"
)

// BurnoutLevel is the categorical burnout signal reported by the pulse agent.
type BurnoutLevel string

const (
	BurnoutLow    BurnoutLevel = "low"
	BurnoutMedium BurnoutLevel = "medium"
	BurnoutHigh   BurnoutLevel = "high"
)

const (
	MinRating = 1.0
	MaxRating = 5.0
)

var ErrInvalidAnswer = errors.New("invalid answer payload")

// PulseAnswer holds the fields the pulse agent extracts. A nil field means the
// value was absent or unusable.
type PulseAnswer struct {
	Rating         *float64
	WorkloadRating *float64
	BurnoutRisk    *BurnoutLevel
}

// FocusAnswer holds the fields the focus_tracker agent extracts.
type FocusAnswer struct {
	FocusRating *float64
}

func ParsePulse(raw json.RawMessage) (PulseAnswer, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return PulseAnswer{}, err
	}
	return PulseAnswer{
		Rating:         rating(fields["rating"]),
		WorkloadRating: rating(fields["workload_rating"]),
		BurnoutRisk:    burnout(fields["burnout_risk"]),
	}, nil
}

func ParseFocus(raw json.RawMessage) (FocusAnswer, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return FocusAnswer{}, err
	}
	return FocusAnswer{FocusRating: rating(fields["focus_rating"])}, nil
}

// ValidRating reports whether v lies on the 1-5 scale.
func ValidRating(v float64) bool {
	return v >= MinRating && v <= MaxRating
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]json.RawMessage{}, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
	}
	return fields, nil
}

// rating accepts JSON numbers only. Strings, booleans and values outside the
// scale are dropped rather than clamped.
func rating(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil
	}
	if !ValidRating(value) {
		return nil
	}
	return &value
}

func burnout(raw json.RawMessage) *BurnoutLevel {
	if len(raw) == 0 {
		return nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil
	}
	level := BurnoutLevel(strings.ToLower(strings.TrimSpace(value)))
	switch level {
	case BurnoutLow, BurnoutMedium, BurnoutHigh:
		return &level
	default:
		return nil
	}
}
