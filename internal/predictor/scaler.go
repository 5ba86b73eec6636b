package predictor

import (
	"encoding/json"
	"fmt"
	"os"
)

// Scaler holds per-feature normalization statistics exported at training
// time as JSON {"mean": [...], "scale": [...]}.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// LoadScaler reads scaler statistics from a JSON file.
func LoadScaler(path string) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scaler: %w", err)
	}
	var s Scaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scaler: %w", err)
	}
	if len(s.Mean) != len(s.Scale) {
		return nil, fmt.Errorf("scaler %s: mean/scale length mismatch (%d vs %d)", path, len(s.Mean), len(s.Scale))
	}
	return &s, nil
}

// Transform normalizes a feature row in place: (x - mean) / scale.
// Rows wider than the statistics keep their tail unscaled.
func (s *Scaler) Transform(row []float32) {
	if s == nil {
		return
	}
	for i := range row {
		if i >= len(s.Mean) {
			return
		}
		if s.Scale[i] != 0 {
			row[i] = float32((float64(row[i]) - s.Mean[i]) / s.Scale[i])
		}
	}
}

// Inverse denormalizes a model output row in place: x * scale + mean.
func (s *Scaler) Inverse(row []float64) {
	if s == nil {
		return
	}
	for i := range row {
		if i >= len(s.Mean) {
			return
		}
		row[i] = row[i]*s.Scale[i] + s.Mean[i]
	}
}
