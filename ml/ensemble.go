package ml

import (
	"errors"
	"fmt"
)

// Forest averages the outputs of its trees.
type Forest struct {
	features []string
	trees    [][]TreeNode
}

func NewForest(features []string, trees [][]TreeNode) (*Forest, error) {
	if len(trees) == 0 {
		return nil, errors.New("forest has no trees")
	}
	for i, nodes := range trees {
		if err := validateTree(nodes, len(features)); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return &Forest{features: append([]string(nil), features...), trees: trees}, nil
}

func (f *Forest) Predict(frame Frame) (float64, error) {
	if err := checkFrame(f.features, frame); err != nil {
		return 0, err
	}
	sum := 0.0
	for i, nodes := range f.trees {
		value, err := evalTree(nodes, frame.Values)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		sum += value
	}
	return sum / float64(len(f.trees)), nil
}

func (f *Forest) FeatureNames() []string {
	return append([]string(nil), f.features...)
}

// BoostedTrees is a gradient boosted regressor: init + learningRate * sum(trees).
type BoostedTrees struct {
	features     []string
	trees        [][]TreeNode
	init         float64
	learningRate float64
}

func NewBoostedTrees(features []string, trees [][]TreeNode, init, learningRate float64) (*BoostedTrees, error) {
	if len(trees) == 0 {
		return nil, errors.New("boosted model has no trees")
	}
	if learningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", learningRate)
	}
	for i, nodes := range trees {
		if err := validateTree(nodes, len(features)); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return &BoostedTrees{
		features:     append([]string(nil), features...),
		trees:        trees,
		init:         init,
		learningRate: learningRate,
	}, nil
}

func (b *BoostedTrees) Predict(frame Frame) (float64, error) {
	if err := checkFrame(b.features, frame); err != nil {
		return 0, err
	}
	sum := 0.0
	for i, nodes := range b.trees {
		value, err := evalTree(nodes, frame.Values)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		sum += value
	}
	return b.init + b.learningRate*sum, nil
}

func (b *BoostedTrees) FeatureNames() []string {
	return append([]string(nil), b.features...)
}
