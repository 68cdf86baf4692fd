package embedding

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine returns fixed vectors keyed by text.
type fakeEngine struct {
	vectors map[string][]float32
}

func (f *fakeEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	v, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (f *fakeEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEngine) Dimensions() int { return 3 }
func (f *fakeEngine) Name() string    { return "fake" }

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		a, b    []float32
		want    float64
		wantErr bool
	}{
		{name: "identical", a: []float32{1, 0, 0}, b: []float32{1, 0, 0}, want: 1.0},
		{name: "orthogonal", a: []float32{1, 0, 0}, b: []float32{0, 1, 0}, want: 0.0},
		{name: "opposite", a: []float32{1, 0, 0}, b: []float32{-1, 0, 0}, want: -1.0},
		{name: "scaled", a: []float32{2, 0, 0}, b: []float32{5, 0, 0}, want: 1.0},
		{name: "dimension mismatch", a: []float32{1, 0}, b: []float32{1, 0, 0}, wantErr: true},
		{name: "zero vector", a: []float32{0, 0, 0}, b: []float32{1, 0, 0}, want: 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestPairwiseMatrixSingleText(t *testing.T) {
	eng := &fakeEngine{}

	r, err := PairwiseMatrix(context.Background(), eng, []string{"a"}, []string{"anything"}, 0.9)
	require.NoError(t, err)

	// A lone answer has nothing to disagree with.
	assert.Equal(t, 1.0, r.Average)
	assert.Equal(t, 1.0, r.Min)
	assert.True(t, r.AllPairsMeet(0.99))
}

func TestPairwiseMatrix(t *testing.T) {
	eng := &fakeEngine{vectors: map[string][]float32{
		"x": {1, 0, 0},
		"y": {1, 0, 0},
		"z": {0, 1, 0},
	}}

	r, err := PairwiseMatrix(context.Background(), eng, []string{"m1", "m2", "m3"}, []string{"x", "y", "z"}, 0.9)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, r.Matrix[0][1], 1e-6)
	assert.InDelta(t, 0.0, r.Matrix[0][2], 1e-6)
	assert.Equal(t, r.Matrix[1][2], r.Matrix[2][1], "matrix is symmetric")
	assert.InDelta(t, 1.0/3.0, r.Average, 1e-6)
	assert.Equal(t, 0.0, r.Min)
	assert.Equal(t, 1.0, r.Max)
	assert.False(t, r.AllPairsMeet(0.9))
}

func TestPairwiseMatrixMismatchedInputs(t *testing.T) {
	eng := &fakeEngine{}
	_, err := PairwiseMatrix(context.Background(), eng, []string{"a", "b"}, []string{"only one"}, 0.5)
	assert.Error(t, err)
}

func TestPairwiseMatrixNilEngine(t *testing.T) {
	// A missing engine is an error, not a panic; the single-text shortcut
	// never needs one.
	_, err := PairwiseMatrix(context.Background(), nil, []string{"a", "b"}, []string{"x", "y"}, 0.5)
	assert.Error(t, err)

	r, err := PairwiseMatrix(context.Background(), nil, []string{"a"}, []string{"x"}, 0.5)
	assert.NoError(t, err)
	assert.Equal(t, 1.0, r.Average)
}

func TestNewEngineUnknownProvider(t *testing.T) {
	_, err := NewEngine(Config{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}
