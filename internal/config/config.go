// Package config loads and validates the dedup pipeline's configuration
// surface: exactly the six recognized keys (§4.7). Unknown keys are
// rejected at load time rather than silently ignored.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// Config is the pipeline's recognized configuration surface.
type Config struct {
	AutoMergeThreshold     float64
	HumanReviewThreshold   float64
	EnableExternalAnalyzer bool
	SafetyMode             bool
	MaxExternalRatePerMin  int
	BatchSize              int
}

// Default returns the spec's documented defaults.
func Default() Config {
	return Config{
		AutoMergeThreshold:     90.0,
		HumanReviewThreshold:   70.0,
		EnableExternalAnalyzer: true,
		SafetyMode:             true,
		MaxExternalRatePerMin:  10,
		BatchSize:              100,
	}
}

// raw mirrors Config's recognized JSON keys. Using pointers lets Load tell
// "key present, value false/zero" apart from "key absent, keep the default".
type raw struct {
	AutoMergeThreshold     *float64 `json:"auto_merge_threshold"`
	HumanReviewThreshold   *float64 `json:"human_review_threshold"`
	EnableExternalAnalyzer *bool    `json:"enable_external_analyzer"`
	SafetyMode             *bool    `json:"safety_mode"`
	MaxExternalRatePerMin  *int     `json:"max_external_rate_per_min"`
	BatchSize              *int     `json:"batch_size"`
}

// Load decodes Config from r, starting from the documented defaults and
// overriding only the keys present. Any key outside the recognized set is
// rejected by the decoder's DisallowUnknownFields.
func Load(r io.Reader) (Config, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var parsed raw
	if err := dec.Decode(&parsed); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}

	cfg := Default()
	if parsed.AutoMergeThreshold != nil {
		cfg.AutoMergeThreshold = *parsed.AutoMergeThreshold
	}
	if parsed.HumanReviewThreshold != nil {
		cfg.HumanReviewThreshold = *parsed.HumanReviewThreshold
	}
	if parsed.EnableExternalAnalyzer != nil {
		cfg.EnableExternalAnalyzer = *parsed.EnableExternalAnalyzer
	}
	if parsed.SafetyMode != nil {
		cfg.SafetyMode = *parsed.SafetyMode
	}
	if parsed.MaxExternalRatePerMin != nil {
		cfg.MaxExternalRatePerMin = *parsed.MaxExternalRatePerMin
	}
	if parsed.BatchSize != nil {
		cfg.BatchSize = *parsed.BatchSize
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile loads Config from a JSON file at path. A missing file yields the
// documented defaults; a malformed or unrecognized-key file is an error.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := Load(f)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that every field holds a sane value.
func (c Config) Validate() error {
	var errs []error

	if c.AutoMergeThreshold < 0 || c.AutoMergeThreshold > 100 {
		errs = append(errs, errors.New("config: auto_merge_threshold must be within [0,100]"))
	}
	if c.HumanReviewThreshold < 0 || c.HumanReviewThreshold > 100 {
		errs = append(errs, errors.New("config: human_review_threshold must be within [0,100]"))
	}
	if c.AutoMergeThreshold <= c.HumanReviewThreshold {
		errs = append(errs, errors.New("config: auto_merge_threshold must exceed human_review_threshold"))
	}
	if c.MaxExternalRatePerMin <= 0 {
		errs = append(errs, errors.New("config: max_external_rate_per_min must be positive"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("config: batch_size must be positive"))
	}

	return errors.Join(errs...)
}
