package analyzer

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"inboxflow/internal/model"
)

var validPriorities = map[string]bool{
	model.PriorityLow:    true,
	model.PriorityMedium: true,
	model.PriorityHigh:   true,
	model.PriorityUrgent: true,
}

var validEnergyLevels = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
}

// ValidateExtraction parses one raw analyzer item into the closed extraction
// struct. Items without a usable title are rejected; recoverable problems
// (out-of-range confidence, unknown priority, bogus durations) are repaired
// by down-weighting rather than propagated.
func ValidateExtraction(raw json.RawMessage) (model.TaskExtraction, error) {
	var e model.TaskExtraction
	if err := json.Unmarshal(raw, &e); err != nil {
		return model.TaskExtraction{}, fmt.Errorf("malformed extraction payload: %w", err)
	}

	e.Title = strings.TrimSpace(e.Title)
	if e.Title == "" {
		return model.TaskExtraction{}, fmt.Errorf("extraction has no title")
	}

	// confidence 必须在 [0,1]；异常值压到保守的下限
	if math.IsNaN(e.Confidence) || math.IsInf(e.Confidence, 0) {
		e.Confidence = 0
	}
	if e.Confidence < 0 {
		e.Confidence = 0
	}
	if e.Confidence > 1 {
		e.Confidence = 1
	}

	if !validPriorities[strings.ToLower(e.Priority)] {
		e.Priority = model.PriorityMedium
	} else {
		e.Priority = strings.ToLower(e.Priority)
	}

	if !validEnergyLevels[strings.ToLower(e.EnergyLevel)] {
		e.EnergyLevel = "medium"
	} else {
		e.EnergyLevel = strings.ToLower(e.EnergyLevel)
	}

	if e.Type == "" {
		e.Type = "task"
	}
	if e.Category == "" {
		e.Category = "other"
	}
	if e.EstimatedDuration < 0 {
		e.EstimatedDuration = 0
	}
	if e.Duration < 0 {
		e.Duration = 0
	}

	return e, nil
}
