package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/pdf-rag/internal/ragerr"
)

func TestPointID(t *testing.T) {
	// uuid5(NAMESPACE_URL, "doc1:<i>")
	expected := []string{
		"ac3bc37d-f169-5f73-842f-b277e90123ad",
		"2102f41f-82a4-5909-a638-d8a95138cf65",
		"1b86fb50-8071-5651-8ca8-7c76272a028d",
	}
	for i, want := range expected {
		assert.Equal(t, want, PointID("doc1", i))
	}

	assert.Equal(t, PointID("doc1", 0), PointID("doc1", 0), "ids must be deterministic")
	assert.NotEqual(t, PointID("doc1", 0), PointID("doc2", 0))
}

func TestCollectionConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     CollectionConfig
		wantErr bool
	}{
		{"valid", CollectionConfig{Name: "docs", Dimension: 384, Metric: MetricCosine}, false},
		{"missing name", CollectionConfig{Dimension: 384, Metric: MetricCosine}, true},
		{"zero dimension", CollectionConfig{Name: "docs", Metric: MetricCosine}, true},
		{"unsupported metric", CollectionConfig{Name: "docs", Dimension: 384, Metric: "dot"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ragerr.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateUpsert(t *testing.T) {
	payload := []map[string]any{{}}

	err := validateUpsert(2, []string{"a", "b"}, [][]float32{{1, 0}}, payload)
	assert.ErrorIs(t, err, ragerr.ErrValidation)

	err = validateUpsert(2, []string{"a"}, [][]float32{{1, 0, 0}}, payload)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.ErrorIs(t, err, ragerr.ErrStore)

	require.NoError(t, validateUpsert(2, []string{"a"}, [][]float32{{1, 0}}, payload))
	require.NoError(t, validateUpsert(2, nil, nil, nil))
}

func TestValidateQuery(t *testing.T) {
	assert.ErrorIs(t, validateQuery(2, []float32{1, 0}, 0), ragerr.ErrValidation)
	assert.ErrorIs(t, validateQuery(2, []float32{1}, 5), ErrDimensionMismatch)
	assert.NoError(t, validateQuery(2, []float32{1, 0}, 5))
}

func TestScoredPointAccessors(t *testing.T) {
	p := ScoredPoint{Payload: map[string]any{PayloadText: "hello", PayloadSource: "doc1"}}
	assert.Equal(t, "hello", p.Text())
	assert.Equal(t, "doc1", p.Source())

	empty := ScoredPoint{}
	assert.Empty(t, empty.Text())
	assert.Empty(t, empty.Source())
}
