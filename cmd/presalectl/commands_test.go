package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alien88ted/presale-monitor/service/presale"
)

func TestApplyFilter(t *testing.T) {
	metrics := &presale.Metrics{
		TransactionCount: 3,
		TotalRaised:      presale.TotalRaised{TotalUSD: 450.5},
		TopContributors: []presale.Contributor{
			{Address: "whale", TotalUSD: 400},
			{Address: "minnow", TotalUSD: 50.5},
		},
	}

	tests := []struct {
		name   string
		filter string
		want   []any
	}{
		{
			name:   "scalar field",
			filter: ".total_raised.total_usd",
			want:   []any{450.5},
		},
		{
			name:   "array iteration",
			filter: ".top_contributors[].address",
			want:   []any{"whale", "minnow"},
		},
		{
			name:   "select",
			filter: `.top_contributors[] | select(.total_usd > 100) | .address`,
			want:   []any{"whale"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := applyFilter(metrics, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyFilter_ParseError(t *testing.T) {
	_, err := applyFilter(map[string]any{}, ".[invalid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")
}

func TestApplyFilter_RuntimeError(t *testing.T) {
	_, err := applyFilter([]any{1, 2}, ".foo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jq filter error")
}
