package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infernarium/zip-verifyer/internal/domain/model"
)

func coveragePtr(v float64) *float64 { return &v }

func defectPtr(d model.DefectCounts) *model.DefectCounts { return &d }

func TestMergeFragments(t *testing.T) {
	coverage := Fragment{
		Coverage: coveragePtr(72.5),
		Bugs:     defectPtr(model.DefectCounts{Total: 6, Critical: 1, Major: 3, Minor: 2}),
	}
	vulns := Fragment{
		Vulnerabilities: defectPtr(model.DefectCounts{Total: 5, Critical: 2, Major: 1, Minor: 2}),
	}
	smells := Fragment{
		CodeSmells: defectPtr(model.DefectCounts{Total: 10, Critical: 0, Major: 4, Minor: 6}),
	}

	t.Run("assembles complete report from three fragments", func(t *testing.T) {
		report, err := MergeFragments(coverage, vulns, smells)
		require.NoError(t, err)

		assert.Equal(t, 72.5, report.OverallCoverage)
		assert.Equal(t, *coverage.Bugs, report.Bugs)
		assert.Equal(t, *vulns.Vulnerabilities, report.Vulnerabilities)
		assert.Equal(t, *smells.CodeSmells, report.CodeSmells)
	})

	t.Run("fragment order does not matter", func(t *testing.T) {
		first, err := MergeFragments(coverage, vulns, smells)
		require.NoError(t, err)
		second, err := MergeFragments(smells, coverage, vulns)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("rejects duplicate contributions", func(t *testing.T) {
		tests := []struct {
			name      string
			fragments []Fragment
			errMsg    string
		}{
			{
				name:      "duplicate coverage",
				fragments: []Fragment{coverage, {Coverage: coveragePtr(90)}, vulns, smells},
				errMsg:    "duplicate coverage fragment",
			},
			{
				name:      "duplicate bugs",
				fragments: []Fragment{coverage, {Bugs: defectPtr(model.DefectCounts{})}, vulns, smells},
				errMsg:    "duplicate bugs fragment",
			},
			{
				name:      "duplicate vulnerabilities",
				fragments: []Fragment{coverage, vulns, vulns, smells},
				errMsg:    "duplicate vulnerabilities fragment",
			},
			{
				name:      "duplicate code smells",
				fragments: []Fragment{coverage, vulns, smells, smells},
				errMsg:    "duplicate code smells fragment",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := MergeFragments(tt.fragments...)
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			})
		}
	})

	t.Run("rejects missing contributions", func(t *testing.T) {
		_, err := MergeFragments(coverage, vulns)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing provider fragments")

		_, err = MergeFragments()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing provider fragments")
	})

	t.Run("rejects merged report violating bounds", func(t *testing.T) {
		bad := Fragment{
			Coverage: coveragePtr(140),
			Bugs:     coverage.Bugs,
		}
		_, err := MergeFragments(bad, vulns, smells)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "merged report invalid")
	})
}
