package ml

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	ArtifactFormat  = "regression-model"
	ArtifactVersion = 1
)

type ModelType string

const (
	ModelTypeDecisionTree     ModelType = "decision_tree"
	ModelTypeRandomForest     ModelType = "random_forest"
	ModelTypeGradientBoosting ModelType = "gradient_boosting"
	ModelTypeLinear           ModelType = "linear"
)

// Artifact is the serialized form of a trained regression model.
type Artifact struct {
	Format       string    `json:"format"`
	Version      int       `json:"version"`
	ModelType    ModelType `json:"model_type"`
	Target       string    `json:"target,omitempty"`
	FeatureNames []string  `json:"feature_names"`
	Trees        []Tree    `json:"trees,omitempty"`
	Init         float64   `json:"init,omitempty"`
	LearningRate float64   `json:"learning_rate,omitempty"`
	Coef         []float64 `json:"coef,omitempty"`
	Intercept    float64   `json:"intercept,omitempty"`
}

type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

// DecodeArtifact parses an artifact and checks its header. Unknown fields
// are rejected so a newer writer fails here instead of predicting wrongly.
func DecodeArtifact(payload []byte) (*Artifact, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()

	var artifact Artifact
	if err := dec.Decode(&artifact); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errors.New("decode artifact: trailing data after JSON object")
	}
	if artifact.Format != ArtifactFormat {
		return nil, fmt.Errorf("unsupported artifact format %q", artifact.Format)
	}
	if artifact.Version != ArtifactVersion {
		return nil, fmt.Errorf("unsupported artifact version %d (want %d)", artifact.Version, ArtifactVersion)
	}
	if err := checkFeatureNames(artifact.FeatureNames); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// Build turns the artifact into a ready predictor, validating its structure.
func (a *Artifact) Build() (Predictor, error) {
	switch a.ModelType {
	case ModelTypeDecisionTree:
		if len(a.Trees) != 1 {
			return nil, fmt.Errorf("decision tree needs exactly one tree, got %d", len(a.Trees))
		}
		return NewDecisionTree(a.FeatureNames, a.Trees[0].Nodes)
	case ModelTypeRandomForest:
		return NewForest(a.FeatureNames, a.treeNodes())
	case ModelTypeGradientBoosting:
		return NewBoostedTrees(a.FeatureNames, a.treeNodes(), a.Init, a.LearningRate)
	case ModelTypeLinear:
		return NewLinearModel(a.FeatureNames, a.Coef, a.Intercept)
	default:
		return nil, fmt.Errorf("unsupported model type %q", a.ModelType)
	}
}

func (a *Artifact) treeNodes() [][]TreeNode {
	trees := make([][]TreeNode, len(a.Trees))
	for i, tree := range a.Trees {
		trees[i] = append([]TreeNode(nil), tree.Nodes...)
	}
	return trees
}

// Save writes the artifact as indented JSON.
func (a *Artifact) Save(path string) error {
	if a.Format == "" {
		a.Format = ArtifactFormat
	}
	if a.Version == 0 {
		a.Version = ArtifactVersion
	}
	payload, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

func checkFeatureNames(names []string) error {
	if len(names) == 0 {
		return errors.New("artifact has no feature names")
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "" {
			return errors.New("artifact has an empty feature name")
		}
		if seen[name] {
			return fmt.Errorf("artifact repeats feature %q", name)
		}
		seen[name] = true
	}
	return nil
}
