package ml

// Frame is a single row of named values, the positional input every
// predictor consumes.
type Frame struct {
	Columns []string
	Values  []float64
}

// Predictor is a trained regression model. Implementations are immutable
// after load and safe for concurrent use.
type Predictor interface {
	Predict(frame Frame) (float64, error)
	// FeatureNames is the column order the model was trained on.
	FeatureNames() []string
}

func checkFrame(expected []string, frame Frame) error {
	if len(frame.Values) != len(frame.Columns) {
		return inferenceErrorf("", "frame has %d columns but %d values", len(frame.Columns), len(frame.Values))
	}
	return checkColumns(expected, frame.Columns)
}
