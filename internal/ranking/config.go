package ranking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/onnwee/lostfound/internal/signal"
)

// CalibrationConfig is the JSON structure of the calibration file.
//
//	{"version": 3, "weights": {"text": 0.35, "geo": 0.3}}
//
// Signals missing from weights keep their default value.
type CalibrationConfig struct {
	Version int64                   `json:"version"`
	Weights map[signal.Name]float64 `json:"weights"`
}

// LoadCalibration loads weights from a JSON calibration file merged over
// DefaultWeights. An empty path returns the defaults. A file that cannot be
// read, parsed or validated returns the defaults with an error so the caller
// can refuse to start.
func LoadCalibration(filePath string) (WeightVector, error) {
	if filePath == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return DefaultWeights(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var cfg CalibrationConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultWeights(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	defaults := DefaultWeights()
	merged := MergeCalibration(defaults, cfg)
	if err := merged.Validate(); err != nil {
		return DefaultWeights(), fmt.Errorf("calibration file %s: %w", filePath, err)
	}
	logCalibrationOverrides(defaults, merged)

	return merged, nil
}

// MergeCalibration applies every weight present in override on top of base.
// Explicit zeros are kept so a calibration can switch a signal off.
func MergeCalibration(base WeightVector, override CalibrationConfig) WeightVector {
	result := base.Clone()
	for name, v := range override.Weights {
		result.Weights[name] = v
	}
	if override.Version > 0 {
		result.Version = override.Version
	}
	if len(override.Weights) > 0 {
		result.Source = SourceCalibration
		result.UpdatedAt = time.Now().UTC()
	}
	return result
}

// logCalibrationOverrides logs which weights differ from defaults.
func logCalibrationOverrides(defaults, loaded WeightVector) {
	var overrides []string
	for name, v := range loaded.Weights {
		if d, ok := defaults.Weights[name]; !ok || d != v {
			overrides = append(overrides, fmt.Sprintf("%s: %.2f -> %.2f", name, d, v))
		}
	}

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"version", loaded.Version,
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)")
	}
}
