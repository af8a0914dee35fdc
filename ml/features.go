package ml

import (
	"math"
)

// FeatureRecord is one building described by the eight geometry parameters
// the load models were trained on. Field order is the training column order.
type FeatureRecord struct {
	RelativeCompactness     float64 `json:"X1"`
	SurfaceArea             float64 `json:"X2"`
	WallArea                float64 `json:"X3"`
	RoofArea                float64 `json:"X4"`
	OverallHeight           float64 `json:"X5"`
	Orientation             int     `json:"X6"`
	GlazingArea             float64 `json:"X7"`
	GlazingAreaDistribution int     `json:"X8"`
}

// FieldType is the value kind of a feature column.
type FieldType string

const (
	FieldFloat   FieldType = "float"
	FieldInteger FieldType = "integer"
)

// FieldSpec describes one feature column and its accepted domain.
type FieldSpec struct {
	Name    string    `json:"name"`
	Label   string    `json:"label"`
	Type    FieldType `json:"type"`
	Min     float64   `json:"min"`
	Max     float64   `json:"max"`
	Choices []int     `json:"choices,omitempty"`
	Step    float64   `json:"step,omitempty"`
	Default float64   `json:"default"`
}

var featureSchema = []FieldSpec{
	{Name: "X1", Label: "Relative Compactness", Type: FieldFloat, Min: 0, Max: 1, Step: 0.01, Default: 0.5},
	{Name: "X2", Label: "Surface Area", Type: FieldFloat, Min: 0, Max: 400, Step: 0.01, Default: 10},
	{Name: "X3", Label: "Wall Area", Type: FieldFloat, Min: 0, Max: 200, Step: 0.01, Default: 10},
	{Name: "X4", Label: "Roof Area", Type: FieldFloat, Min: 0, Max: 100, Step: 0.01, Default: 10},
	{Name: "X5", Label: "Overall Height", Type: FieldFloat, Min: 0, Max: 50, Step: 0.01, Default: 3},
	{Name: "X6", Label: "Orientation", Type: FieldInteger, Min: 1, Max: 4, Choices: []int{1, 2, 3, 4}, Default: 1},
	{Name: "X7", Label: "Glazing Area", Type: FieldFloat, Min: 0, Max: 1, Step: 0.01, Default: 0.25},
	{Name: "X8", Label: "Glazing Area Distribution", Type: FieldInteger, Min: 0, Max: 5, Choices: []int{0, 1, 2, 3, 4, 5}, Default: 0},
}

// Schema returns a copy of the feature columns in training order.
func Schema() []FieldSpec {
	out := make([]FieldSpec, len(featureSchema))
	for i, spec := range featureSchema {
		out[i] = spec
		out[i].Choices = append([]int(nil), spec.Choices...)
	}
	return out
}

func FeatureNames() []string {
	names := make([]string, len(featureSchema))
	for i, spec := range featureSchema {
		names[i] = spec.Name
	}
	return names
}

// DefaultFeatureRecord returns the values the input form starts with.
func DefaultFeatureRecord() FeatureRecord {
	defaults := make([]float64, len(featureSchema))
	for i, spec := range featureSchema {
		defaults[i] = spec.Default
	}
	return recordFromVector(defaults)
}

// Vector returns the record values in training column order.
func (r FeatureRecord) Vector() []float64 {
	return []float64{
		r.RelativeCompactness,
		r.SurfaceArea,
		r.WallArea,
		r.RoofArea,
		r.OverallHeight,
		float64(r.Orientation),
		r.GlazingArea,
		float64(r.GlazingAreaDistribution),
	}
}

// Frame returns the record as a single named row.
func (r FeatureRecord) Frame() Frame {
	return Frame{Columns: FeatureNames(), Values: r.Vector()}
}

// CheckFinite rejects NaN and infinite values.
func (r FeatureRecord) CheckFinite() error {
	for i, value := range r.Vector() {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return inferenceErrorf(featureSchema[i].Name, "must be a finite number")
		}
	}
	return nil
}

// Validate checks every field against its documented domain.
func (r FeatureRecord) Validate() error {
	if err := r.CheckFinite(); err != nil {
		return err
	}
	for i, value := range r.Vector() {
		if err := checkDomain(featureSchema[i], value); err != nil {
			return err
		}
	}
	return nil
}

func checkDomain(spec FieldSpec, value float64) error {
	if spec.Type == FieldInteger {
		for _, choice := range spec.Choices {
			if value == float64(choice) {
				return nil
			}
		}
		return inferenceErrorf(spec.Name, "%v is not one of %v", value, spec.Choices)
	}
	if value < spec.Min || value > spec.Max {
		return inferenceErrorf(spec.Name, "%v is outside [%v, %v]", value, spec.Min, spec.Max)
	}
	return nil
}

func recordFromVector(v []float64) FeatureRecord {
	return FeatureRecord{
		RelativeCompactness:     v[0],
		SurfaceArea:             v[1],
		WallArea:                v[2],
		RoofArea:                v[3],
		OverallHeight:           v[4],
		Orientation:             int(v[5]),
		GlazingArea:             v[6],
		GlazingAreaDistribution: int(v[7]),
	}
}
