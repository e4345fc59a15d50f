package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validReport() *Report {
	return &Report{
		OverallCoverage: 75.42,
		Bugs:            DefectCounts{Total: 8, Critical: 2, Major: 4, Minor: 2},
		CodeSmells:      DefectCounts{Total: 12, Critical: 0, Major: 5, Minor: 7},
		Vulnerabilities: DefectCounts{Total: 5, Critical: 1, Major: 2, Minor: 2},
	}
}

func TestReport_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Report)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid report",
			mutate: func(*Report) {},
		},
		{
			name:   "coverage at lower bound",
			mutate: func(r *Report) { r.OverallCoverage = 0 },
		},
		{
			name:   "coverage at upper bound",
			mutate: func(r *Report) { r.OverallCoverage = 100 },
		},
		{
			name:    "coverage below range",
			mutate:  func(r *Report) { r.OverallCoverage = -0.01 },
			wantErr: true,
			errMsg:  "overall_coverage must be within [0,100]",
		},
		{
			name:    "coverage above range",
			mutate:  func(r *Report) { r.OverallCoverage = 100.5 },
			wantErr: true,
			errMsg:  "overall_coverage must be within [0,100]",
		},
		{
			name:    "negative bug count",
			mutate:  func(r *Report) { r.Bugs.Critical = -1 },
			wantErr: true,
			errMsg:  "bugs.critical must be non-negative",
		},
		{
			name:    "negative code smell count",
			mutate:  func(r *Report) { r.CodeSmells.Total = -3 },
			wantErr: true,
			errMsg:  "code_smells.total must be non-negative",
		},
		{
			name:    "negative vulnerability count",
			mutate:  func(r *Report) { r.Vulnerabilities.Minor = -2 },
			wantErr: true,
			errMsg:  "vulnerabilities.minor must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validReport()
			tt.mutate(r)

			err := r.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMarshalReport(t *testing.T) {
	t.Run("round trips a valid report", func(t *testing.T) {
		want := validReport()

		raw, err := MarshalReport(want)
		require.NoError(t, err)

		got, err := UnmarshalReport(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("rejects nil report", func(t *testing.T) {
		_, err := MarshalReport(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "report is required")
	})

	t.Run("rejects invalid report", func(t *testing.T) {
		r := validReport()
		r.OverallCoverage = 180

		_, err := MarshalReport(r)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid report")
	})
}

func TestUnmarshalReport(t *testing.T) {
	t.Run("rejects empty payload", func(t *testing.T) {
		_, err := UnmarshalReport(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "report payload is empty")
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		_, err := UnmarshalReport([]byte(`{"overall_coverage":`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unmarshal report")
	})

	t.Run("rejects persisted report violating bounds", func(t *testing.T) {
		_, err := UnmarshalReport([]byte(`{"overall_coverage":42.0,"bugs":{"total":-1,"critical":0,"major":0,"minor":0},"code_smells":{},"vulnerabilities":{}}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bugs.total must be non-negative")
	})
}
