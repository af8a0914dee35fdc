package ml

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"time"
)

const (
	TargetHeating = "heating"
	TargetCooling = "cooling"
)

// ArtifactInfo describes a loaded artifact.
type ArtifactInfo struct {
	Target        string    `json:"target"`
	Path          string    `json:"path"`
	SHA256        string    `json:"sha256"`
	ModelType     ModelType `json:"model_type"`
	FormatVersion int       `json:"format_version"`
	Trees         int       `json:"trees"`
	FeatureNames  []string  `json:"feature_names"`
	LoadedAt      time.Time `json:"loaded_at"`
}

// LoadModel reads and validates one artifact. All failures are
// *ModelLoadError.
func LoadModel(path string) (Predictor, ArtifactInfo, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, ArtifactInfo{}, &ModelLoadError{Path: path, Err: err}
	}
	artifact, err := DecodeArtifact(payload)
	if err != nil {
		return nil, ArtifactInfo{}, &ModelLoadError{Path: path, Err: err}
	}
	model, err := artifact.Build()
	if err != nil {
		return nil, ArtifactInfo{}, &ModelLoadError{Path: path, Err: err}
	}

	sum := sha256.Sum256(payload)
	info := ArtifactInfo{
		Path:          path,
		SHA256:        hex.EncodeToString(sum[:]),
		ModelType:     artifact.ModelType,
		FormatVersion: artifact.Version,
		Trees:         len(artifact.Trees),
		FeatureNames:  append([]string(nil), artifact.FeatureNames...),
		LoadedAt:      time.Now().UTC(),
	}
	return model, info, nil
}

// ModelStore holds the heating and cooling predictors for the lifetime of
// the process. It is populated once and never mutated.
type ModelStore struct {
	heating     Predictor
	cooling     Predictor
	heatingInfo ArtifactInfo
	coolingInfo ArtifactInfo
}

// Load reads both artifacts. Either failing is fatal and no store is
// returned.
func Load(heatingPath, coolingPath string) (*ModelStore, error) {
	heating, heatingInfo, err := LoadModel(heatingPath)
	if err != nil {
		return nil, withTarget(err, TargetHeating)
	}
	cooling, coolingInfo, err := LoadModel(coolingPath)
	if err != nil {
		return nil, withTarget(err, TargetCooling)
	}
	heatingInfo.Target = TargetHeating
	coolingInfo.Target = TargetCooling

	return &ModelStore{
		heating:     heating,
		cooling:     cooling,
		heatingInfo: heatingInfo,
		coolingInfo: coolingInfo,
	}, nil
}

// NewModelStore wraps already constructed predictors.
func NewModelStore(heating, cooling Predictor) (*ModelStore, error) {
	if heating == nil || cooling == nil {
		return nil, &ModelLoadError{Err: errors.New("both heating and cooling predictors are required")}
	}
	return &ModelStore{
		heating:     heating,
		cooling:     cooling,
		heatingInfo: ArtifactInfo{Target: TargetHeating, FeatureNames: heating.FeatureNames()},
		coolingInfo: ArtifactInfo{Target: TargetCooling, FeatureNames: cooling.FeatureNames()},
	}, nil
}

func (s *ModelStore) Heating() Predictor { return s.heating }

func (s *ModelStore) Cooling() Predictor { return s.cooling }

func (s *ModelStore) Info() []ArtifactInfo {
	return []ArtifactInfo{s.heatingInfo, s.coolingInfo}
}

func withTarget(err error, target string) error {
	var loadErr *ModelLoadError
	if errors.As(err, &loadErr) {
		loadErr.Target = target
		return loadErr
	}
	return &ModelLoadError{Target: target, Err: err}
}
