// Package analyzer hosts the artifact analysis providers. Each provider
// produces a fragment of the final quality report; the fragments from all
// providers merge into one complete report.
package analyzer

import (
	"context"
	"errors"
	"fmt"

	"github.com/infernarium/zip-verifyer/internal/domain/model"
)

// Fragment is a partial report produced by a single provider. Fields a
// provider does not compute stay nil.
type Fragment struct {
	Coverage        *float64
	Bugs            *model.DefectCounts
	Vulnerabilities *model.DefectCounts
	CodeSmells      *model.DefectCounts
}

// Provider analyzes artifact content and produces its report fragment.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, content []byte) (Fragment, error)
}

// MergeFragments assembles provider fragments into a complete report. Every
// report field must be contributed exactly once.
func MergeFragments(fragments ...Fragment) (*model.Report, error) {
	var (
		report                          model.Report
		haveCoverage, haveBugs          bool
		haveVulnerabilities, haveSmells bool
	)

	for _, f := range fragments {
		if f.Coverage != nil {
			if haveCoverage {
				return nil, errors.New("duplicate coverage fragment")
			}
			report.OverallCoverage = *f.Coverage
			haveCoverage = true
		}
		if f.Bugs != nil {
			if haveBugs {
				return nil, errors.New("duplicate bugs fragment")
			}
			report.Bugs = *f.Bugs
			haveBugs = true
		}
		if f.Vulnerabilities != nil {
			if haveVulnerabilities {
				return nil, errors.New("duplicate vulnerabilities fragment")
			}
			report.Vulnerabilities = *f.Vulnerabilities
			haveVulnerabilities = true
		}
		if f.CodeSmells != nil {
			if haveSmells {
				return nil, errors.New("duplicate code smells fragment")
			}
			report.CodeSmells = *f.CodeSmells
			haveSmells = true
		}
	}

	if !haveCoverage || !haveBugs || !haveVulnerabilities || !haveSmells {
		return nil, errors.New("incomplete report: missing provider fragments")
	}

	if err := report.Validate(); err != nil {
		return nil, fmt.Errorf("merged report invalid: %w", err)
	}
	return &report, nil
}
