package ml

import (
	"errors"
	"fmt"
	"math"
)

// DecisionTree is a regression tree stored as a pre-order node array.
type DecisionTree struct {
	features []string
	nodes    []TreeNode
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	IsLeaf     bool    `json:"is_leaf"`
}

func NewDecisionTree(features []string, nodes []TreeNode) (*DecisionTree, error) {
	if err := validateTree(nodes, len(features)); err != nil {
		return nil, err
	}
	return &DecisionTree{
		features: append([]string(nil), features...),
		nodes:    append([]TreeNode(nil), nodes...),
	}, nil
}

func (dt *DecisionTree) Predict(frame Frame) (float64, error) {
	if err := checkFrame(dt.features, frame); err != nil {
		return 0, err
	}
	return evalTree(dt.nodes, frame.Values)
}

func (dt *DecisionTree) FeatureNames() []string {
	return append([]string(nil), dt.features...)
}

// evalTree walks from the root; x[feature] <= threshold goes left.
func evalTree(nodes []TreeNode, features []float64) (float64, error) {
	if len(nodes) == 0 {
		return 0, errors.New("tree has no nodes")
	}
	idx := 0
	for {
		node := nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
}

// validateTree requires every child to come after its parent, which rules
// out cycles and guarantees evalTree terminates.
func validateTree(nodes []TreeNode, featureCount int) error {
	if len(nodes) == 0 {
		return errors.New("tree has no nodes")
	}
	for i, node := range nodes {
		if node.IsLeaf {
			if math.IsNaN(node.Value) || math.IsInf(node.Value, 0) {
				return fmt.Errorf("node %d: leaf value is not finite", i)
			}
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= featureCount {
			return fmt.Errorf("node %d: feature index %d out of range [0, %d)", i, node.FeatureIdx, featureCount)
		}
		if node.LeftChild <= i || node.LeftChild >= len(nodes) {
			return fmt.Errorf("node %d: left child %d out of range", i, node.LeftChild)
		}
		if node.RightChild <= i || node.RightChild >= len(nodes) {
			return fmt.Errorf("node %d: right child %d out of range", i, node.RightChild)
		}
	}
	return nil
}
