package model

import (
	"encoding/json"
	"fmt"
)

// DefectCounts is one named defect-count breakdown, keyed by severity tier.
// All counts are non-negative.
type DefectCounts struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	Major    int `json:"major"`
	Minor    int `json:"minor"`
}

// Validate checks that every severity tier holds a non-negative count.
func (d DefectCounts) Validate(name string) error {
	tiers := map[string]int{
		"total":    d.Total,
		"critical": d.Critical,
		"major":    d.Major,
		"minor":    d.Minor,
	}
	for tier, count := range tiers {
		if count < 0 {
			return fmt.Errorf("%s.%s must be non-negative, got %d", name, tier, count)
		}
	}
	return nil
}

// Report is the merged analysis result for one artifact. Immutable once
// produced; persisted atomically with the transition into SUCCESS.
type Report struct {
	OverallCoverage float64      `json:"overall_coverage"`
	Bugs            DefectCounts `json:"bugs"`
	CodeSmells      DefectCounts `json:"code_smells"`
	Vulnerabilities DefectCounts `json:"vulnerabilities"`
}

// Validate checks the report's bounds: coverage in [0,100] and non-negative
// defect counts across all three breakdowns.
func (r *Report) Validate() error {
	if r.OverallCoverage < 0 || r.OverallCoverage > 100 {
		return fmt.Errorf("overall_coverage must be within [0,100], got %v", r.OverallCoverage)
	}
	if err := r.Bugs.Validate("bugs"); err != nil {
		return err
	}
	if err := r.CodeSmells.Validate("code_smells"); err != nil {
		return err
	}
	return r.Vulnerabilities.Validate("vulnerabilities")
}

// MarshalReport serializes a report after validating it.
func MarshalReport(r *Report) (json.RawMessage, error) {
	if r == nil {
		return nil, fmt.Errorf("report is required")
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report: %w", err)
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return raw, nil
}

// UnmarshalReport deserializes and validates a persisted report.
func UnmarshalReport(raw json.RawMessage) (*Report, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("report payload is empty")
	}
	var r Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report: %w", err)
	}
	return &r, nil
}
