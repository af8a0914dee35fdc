package ml

import (
	"encoding/json"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// DecodeRecord builds a FeatureRecord from loosely typed input such as a
// decoded JSON object. Every feature must be present, no other keys are
// allowed, and X6/X8 must be whole numbers.
func DecodeRecord(fields map[string]interface{}) (FeatureRecord, error) {
	unknown := make([]string, 0)
	for key := range fields {
		if fieldIndex(key) < 0 {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return FeatureRecord{}, inferenceErrorf(unknown[0], "unexpected field")
	}

	values := make([]float64, len(featureSchema))
	for i, spec := range featureSchema {
		raw, ok := fields[spec.Name]
		if !ok {
			return FeatureRecord{}, inferenceErrorf(spec.Name, "missing field")
		}
		value, err := toFeatureValue(spec, raw)
		if err != nil {
			return FeatureRecord{}, err
		}
		values[i] = value
	}
	return recordFromVector(values), nil
}

// DecodeFrame builds records from a column-oriented frame. The columns must
// match the training order exactly; reordered frames are rejected rather than
// realigned.
func DecodeFrame(columns []string, rows [][]interface{}) ([]FeatureRecord, error) {
	if err := checkColumns(FeatureNames(), columns); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, inferenceErrorf("", "frame has no rows")
	}

	records := make([]FeatureRecord, 0, len(rows))
	for r, row := range rows {
		if len(row) != len(featureSchema) {
			return nil, inferenceErrorf("", "row %d has %d values, expected %d", r, len(row), len(featureSchema))
		}
		values := make([]float64, len(row))
		for i, raw := range row {
			value, err := toFeatureValue(featureSchema[i], raw)
			if err != nil {
				return nil, err
			}
			values[i] = value
		}
		records = append(records, recordFromVector(values))
	}
	return records, nil
}

// ParseForm reads a record from submitted form values keyed X1..X8.
func ParseForm(form url.Values) (FeatureRecord, error) {
	values := make([]float64, len(featureSchema))
	for i, spec := range featureSchema {
		raw := strings.TrimSpace(form.Get(spec.Name))
		if raw == "" {
			return FeatureRecord{}, inferenceErrorf(spec.Name, "missing field")
		}
		if spec.Type == FieldInteger {
			n, err := strconv.ParseInt(raw, 10, 32)
			if err != nil {
				return FeatureRecord{}, inferenceErrorf(spec.Name, "%q is not an integer", raw)
			}
			values[i] = float64(n)
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return FeatureRecord{}, inferenceErrorf(spec.Name, "%q is not a number", raw)
		}
		values[i] = f
	}
	return recordFromVector(values), nil
}

func toFeatureValue(spec FieldSpec, raw interface{}) (float64, error) {
	var value float64
	switch v := raw.(type) {
	case float64:
		value = v
	case float32:
		value = float64(v)
	case int:
		value = float64(v)
	case int64:
		value = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, inferenceErrorf(spec.Name, "%q is not a number", v.String())
		}
		value = f
	case nil:
		return 0, inferenceErrorf(spec.Name, "value is null")
	default:
		return 0, inferenceErrorf(spec.Name, "expected %s, got %T", spec.Type, raw)
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, inferenceErrorf(spec.Name, "must be a finite number")
	}
	if spec.Type == FieldInteger {
		if value != math.Trunc(value) {
			return 0, inferenceErrorf(spec.Name, "expected integer, got %v", value)
		}
		if value < math.MinInt32 || value > math.MaxInt32 {
			return 0, inferenceErrorf(spec.Name, "integer %v out of range", value)
		}
	}
	return value, nil
}

// checkColumns reports the first difference between the expected column
// order and the given one.
func checkColumns(expected, columns []string) error {
	seen := make(map[string]bool, len(columns))
	for _, name := range columns {
		if seen[name] {
			return inferenceErrorf(name, "duplicate column")
		}
		seen[name] = true
	}
	for _, name := range expected {
		if !seen[name] {
			return inferenceErrorf(name, "missing column")
		}
	}
	if len(columns) != len(expected) {
		for _, name := range columns {
			if indexOf(expected, name) < 0 {
				return inferenceErrorf(name, "unexpected column")
			}
		}
	}
	for i := range expected {
		if columns[i] != expected[i] {
			return inferenceErrorf(columns[i], "column %d is %s, expected %s", i, columns[i], expected[i])
		}
	}
	return nil
}

func fieldIndex(name string) int {
	for i, spec := range featureSchema {
		if spec.Name == name {
			return i
		}
	}
	return -1
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
