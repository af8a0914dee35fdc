package ml

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(value float64) TreeNode {
	return TreeNode{FeatureIdx: -1, LeftChild: -1, RightChild: -1, Value: value, IsLeaf: true}
}

func split(feature int, threshold float64, left, right int) TreeNode {
	return TreeNode{FeatureIdx: feature, Threshold: threshold, LeftChild: left, RightChild: right}
}

func TestDecisionTreePredict(t *testing.T) {
	tree, err := NewDecisionTree(FeatureNames(), []TreeNode{
		split(4, 5.25, 1, 2),
		leaf(10),
		split(0, 0.75, 3, 4),
		leaf(20),
		leaf(30),
	})
	require.NoError(t, err)

	rec := referenceRecord()
	got, err := tree.Predict(rec.Frame())
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)

	// Equal to the threshold goes left.
	rec.OverallHeight = 5.25
	got, err = tree.Predict(rec.Frame())
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)

	rec.OverallHeight = 7
	rec.RelativeCompactness = 0.9
	got, err = tree.Predict(rec.Frame())
	require.NoError(t, err)
	assert.Equal(t, 30.0, got)
}

func TestDecisionTreeRejectsBadStructure(t *testing.T) {
	tests := []struct {
		name  string
		nodes []TreeNode
	}{
		{"empty", nil},
		{"child before parent", []TreeNode{split(0, 0.5, 1, 2), split(1, 5, 0, 2), leaf(1)}},
		{"self loop", []TreeNode{split(0, 0.5, 0, 1), leaf(1)}},
		{"child out of range", []TreeNode{split(0, 0.5, 1, 5), leaf(1)}},
		{"feature out of range", []TreeNode{split(8, 0.5, 1, 2), leaf(1), leaf(2)}},
		{"NaN leaf", []TreeNode{leaf(math.NaN())}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecisionTree(FeatureNames(), tt.nodes)
			assert.Error(t, err)
		})
	}
}

func TestPredictRejectsReorderedFrame(t *testing.T) {
	tree, err := NewDecisionTree(FeatureNames(), []TreeNode{leaf(1)})
	require.NoError(t, err)

	frame := referenceRecord().Frame()
	frame.Columns[0], frame.Columns[1] = frame.Columns[1], frame.Columns[0]
	_, err = tree.Predict(frame)
	requireInferenceField(t, err, "X2")

	_, err = tree.Predict(Frame{Columns: FeatureNames(), Values: []float64{1, 2}})
	requireInferenceField(t, err, "")
}

func TestForestAveragesTrees(t *testing.T) {
	forest, err := NewForest(FeatureNames(), [][]TreeNode{
		{leaf(14.5)},
		{split(7, 2.5, 1, 2), leaf(16.5), leaf(17.5)},
	})
	require.NoError(t, err)

	got, err := forest.Predict(referenceRecord().Frame())
	require.NoError(t, err)
	assert.InDelta(t, 16.0, got, 1e-12)

	_, err = NewForest(FeatureNames(), nil)
	assert.Error(t, err)
}

func TestBoostedTrees(t *testing.T) {
	trees := [][]TreeNode{{leaf(-8)}, {leaf(2.5)}}
	boosted, err := NewBoostedTrees(FeatureNames(), trees, 22, 0.5)
	require.NoError(t, err)

	got, err := boosted.Predict(referenceRecord().Frame())
	require.NoError(t, err)
	assert.InDelta(t, 19.25, got, 1e-12)

	_, err = NewBoostedTrees(FeatureNames(), trees, 22, 0)
	assert.Error(t, err)
}

func TestLinearModel(t *testing.T) {
	model, err := NewLinearModel(FeatureNames(), []float64{1, 0.1, 0, 0, 2, 0, 4, 0}, -10)
	require.NoError(t, err)

	got, err := model.Predict(referenceRecord().Frame())
	require.NoError(t, err)
	assert.InDelta(t, -1.5, got, 1e-9)

	_, err = NewLinearModel(FeatureNames(), []float64{1, 2}, 0)
	assert.Error(t, err)
	_, err = NewLinearModel(nil, nil, 0)
	assert.Error(t, err)
	_, err = NewLinearModel(FeatureNames(), []float64{math.NaN(), 0, 0, 0, 0, 0, 0, 0}, 0)
	assert.Error(t, err)
}
