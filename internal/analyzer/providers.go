package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/infernarium/zip-verifyer/internal/domain/model"
)

// Profile tunes a simulated provider: how long an analysis takes and how
// often it fails.
type Profile struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	FailureRate float64
}

// DefaultCoverageProfile mirrors the production behaviour of the coverage
// backend: slow and flaky.
func DefaultCoverageProfile() Profile {
	return Profile{MinLatency: 1 * time.Second, MaxLatency: 10 * time.Second, FailureRate: 0.2}
}

// DefaultVulnerabilityProfile is the slowest backend but does not fail on
// its own.
func DefaultVulnerabilityProfile() Profile {
	return Profile{MinLatency: 5 * time.Second, MaxLatency: 10 * time.Second}
}

// DefaultSmellsProfile is the fastest backend.
func DefaultSmellsProfile() Profile {
	return Profile{MinLatency: 1 * time.Second, MaxLatency: 5 * time.Second}
}

// CoverageProvider computes test coverage and bug counts.
type CoverageProvider struct {
	profile Profile
	rng     Rand
}

// NewCoverageProvider creates a coverage provider with the given profile.
func NewCoverageProvider(profile Profile, rng Rand) *CoverageProvider {
	if rng == nil {
		rng = NewRand()
	}
	return &CoverageProvider{profile: profile, rng: rng}
}

func (p *CoverageProvider) Name() string { return "coverage" }

// Analyze produces the coverage percentage and bug counts. Unlike the other
// providers it fails intermittently per its failure rate.
func (p *CoverageProvider) Analyze(ctx context.Context, _ []byte) (Fragment, error) {
	if err := simulateLatency(ctx, p.profile, p.rng); err != nil {
		return Fragment{}, err
	}
	if p.profile.FailureRate > 0 && p.rng.Float64() < p.profile.FailureRate {
		return Fragment{}, errors.New("coverage backend unavailable")
	}

	coverage := roundTo2(60 + p.rng.Float64()*30)
	bugs := randomDefectCounts(p.rng)
	return Fragment{Coverage: &coverage, Bugs: &bugs}, nil
}

// VulnerabilityProvider computes security vulnerability counts.
type VulnerabilityProvider struct {
	profile Profile
	rng     Rand
}

// NewVulnerabilityProvider creates a vulnerability provider with the given profile.
func NewVulnerabilityProvider(profile Profile, rng Rand) *VulnerabilityProvider {
	if rng == nil {
		rng = NewRand()
	}
	return &VulnerabilityProvider{profile: profile, rng: rng}
}

func (p *VulnerabilityProvider) Name() string { return "vulnerabilities" }

func (p *VulnerabilityProvider) Analyze(ctx context.Context, _ []byte) (Fragment, error) {
	if err := simulateLatency(ctx, p.profile, p.rng); err != nil {
		return Fragment{}, err
	}
	if p.profile.FailureRate > 0 && p.rng.Float64() < p.profile.FailureRate {
		return Fragment{}, errors.New("vulnerability backend unavailable")
	}

	vulns := randomDefectCounts(p.rng)
	return Fragment{Vulnerabilities: &vulns}, nil
}

// SmellsProvider computes code smell counts.
type SmellsProvider struct {
	profile Profile
	rng     Rand
}

// NewSmellsProvider creates a code smells provider with the given profile.
func NewSmellsProvider(profile Profile, rng Rand) *SmellsProvider {
	if rng == nil {
		rng = NewRand()
	}
	return &SmellsProvider{profile: profile, rng: rng}
}

func (p *SmellsProvider) Name() string { return "code_smells" }

func (p *SmellsProvider) Analyze(ctx context.Context, _ []byte) (Fragment, error) {
	if err := simulateLatency(ctx, p.profile, p.rng); err != nil {
		return Fragment{}, err
	}
	if p.profile.FailureRate > 0 && p.rng.Float64() < p.profile.FailureRate {
		return Fragment{}, errors.New("code smells backend unavailable")
	}

	smells := randomDefectCounts(p.rng)
	return Fragment{CodeSmells: &smells}, nil
}

// simulateLatency sleeps for a random duration inside the profile's latency
// band, returning early if the context expires.
func simulateLatency(ctx context.Context, profile Profile, rng Rand) error {
	if profile.MaxLatency <= 0 {
		return ctx.Err()
	}

	delay := profile.MinLatency
	if span := profile.MaxLatency - profile.MinLatency; span > 0 {
		delay += time.Duration(rng.IntN(int(span) + 1))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("analysis interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func randomDefectCounts(rng Rand) model.DefectCounts {
	return model.DefectCounts{
		Total:    5 + rng.IntN(16),
		Critical: rng.IntN(6),
		Major:    rng.IntN(11),
		Minor:    rng.IntN(16),
	}
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}

var (
	_ Provider = (*CoverageProvider)(nil)
	_ Provider = (*VulnerabilityProvider)(nil)
	_ Provider = (*SmellsProvider)(nil)
)
