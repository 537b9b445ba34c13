// Package config holds the externally supplied reduction parameters. The
// same JSON schema is used for startup configuration and for per-run
// overrides, so every field is optional and falls back to a default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// TuningConfig represents the root configuration for a reduction run.
// Fields omitted from the JSON file retain their default values, so partial
// configs are safe.
type TuningConfig struct {
	// Instrument selection
	Instrument *string `json:"instrument,omitempty"` // e.g. "BEER"
	Mode       *string `json:"mode,omitempty"`       // chopper mode name, e.g. "F0"
	RunKind    *string `json:"run_kind,omitempty"`   // sample, vanadium, background, empty_can

	// Streak clustering params
	ClusterBins    *int `json:"cluster_bins,omitempty"`
	BaselineWindow *int `json:"baseline_window,omitempty"`
	MinPeakSep     *int `json:"min_peak_sep,omitempty"`
	MinValleySep   *int `json:"min_valley_sep,omitempty"`
	FitIterations  *int `json:"fit_iterations,omitempty"`
	// NeighborGapUS masks events whose streak line passes within this many
	// microseconds of a neighboring streak's line. Zero disables the check.
	NeighborGapUS *float64 `json:"neighbor_gap_us,omitempty"`

	// Known-peak unwrapping: expected d-spacing values, one per line.
	DHKLFile *string `json:"dhkl_file,omitempty"`

	// Masking and filtering params
	TwoThetaMinDeg          *float64 `json:"two_theta_min_deg,omitempty"`
	TwoThetaMaxDeg          *float64 `json:"two_theta_max_deg,omitempty"`
	BadPulseThresholdFactor *float64 `json:"bad_pulse_threshold_factor,omitempty"`
	// MaskedPixels lists detector pixel IDs excluded from reduction, for
	// dead or noisy regions. Empty means no pixel mask.
	MaskedPixels []int64 `json:"masked_pixels,omitempty"`
	// Optional windows on the recovered tof and wavelength coordinates.
	// Both ends of a window must be given together.
	TofMinUS         *float64 `json:"tof_min_us,omitempty"`
	TofMaxUS         *float64 `json:"tof_max_us,omitempty"`
	WavelengthMinAng *float64 `json:"wavelength_min_ang,omitempty"`
	WavelengthMaxAng *float64 `json:"wavelength_max_ang,omitempty"`

	// Normalization params
	ProtonChargeUAH          *float64 `json:"proton_charge_uah,omitempty"`
	UncertaintyBroadcastMode *string  `json:"uncertainty_broadcast_mode,omitempty"` // drop or fail
	MonitorSmoothingWindow   *int     `json:"monitor_smoothing_window,omitempty"`
	LorentzCorrection        *bool    `json:"lorentz_correction,omitempty"`

	// Output spectrum binning
	DspacingMin  *float64 `json:"dspacing_min,omitempty"`
	DspacingMax  *float64 `json:"dspacing_max,omitempty"`
	DspacingBins *int     `json:"dspacing_bins,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file is
// validated to ensure it has a .json extension and is under the max file
// size.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into an empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.ClusterBins != nil && *c.ClusterBins < 1 {
		return fmt.Errorf("cluster_bins must be positive, got %d", *c.ClusterBins)
	}
	if c.BaselineWindow != nil && (*c.BaselineWindow < 1 || *c.BaselineWindow%2 == 0) {
		return fmt.Errorf("baseline_window must be odd and positive, got %d", *c.BaselineWindow)
	}
	if c.FitIterations != nil && *c.FitIterations < 1 {
		return fmt.Errorf("fit_iterations must be positive, got %d", *c.FitIterations)
	}
	if c.NeighborGapUS != nil && *c.NeighborGapUS < 0 {
		return fmt.Errorf("neighbor_gap_us must be non-negative, got %f", *c.NeighborGapUS)
	}
	if c.BadPulseThresholdFactor != nil && *c.BadPulseThresholdFactor < 0 {
		return fmt.Errorf("bad_pulse_threshold_factor must be non-negative, got %f", *c.BadPulseThresholdFactor)
	}
	if c.TwoThetaMinDeg != nil && c.TwoThetaMaxDeg != nil && *c.TwoThetaMinDeg >= *c.TwoThetaMaxDeg {
		return fmt.Errorf("two_theta_min_deg %f must be below two_theta_max_deg %f",
			*c.TwoThetaMinDeg, *c.TwoThetaMaxDeg)
	}
	if (c.TofMinUS == nil) != (c.TofMaxUS == nil) {
		return fmt.Errorf("tof_min_us and tof_max_us must be set together")
	}
	if c.TofMinUS != nil && *c.TofMinUS >= *c.TofMaxUS {
		return fmt.Errorf("tof_min_us %f must be below tof_max_us %f", *c.TofMinUS, *c.TofMaxUS)
	}
	if (c.WavelengthMinAng == nil) != (c.WavelengthMaxAng == nil) {
		return fmt.Errorf("wavelength_min_ang and wavelength_max_ang must be set together")
	}
	if c.WavelengthMinAng != nil && *c.WavelengthMinAng >= *c.WavelengthMaxAng {
		return fmt.Errorf("wavelength_min_ang %f must be below wavelength_max_ang %f",
			*c.WavelengthMinAng, *c.WavelengthMaxAng)
	}
	if c.UncertaintyBroadcastMode != nil {
		if m := *c.UncertaintyBroadcastMode; m != "drop" && m != "fail" {
			return fmt.Errorf("uncertainty_broadcast_mode must be drop or fail, got %q", m)
		}
	}
	if c.MonitorSmoothingWindow != nil && (*c.MonitorSmoothingWindow < 1 || *c.MonitorSmoothingWindow%2 == 0) {
		return fmt.Errorf("monitor_smoothing_window must be odd and positive, got %d", *c.MonitorSmoothingWindow)
	}
	if c.DspacingBins != nil && *c.DspacingBins < 1 {
		return fmt.Errorf("dspacing_bins must be positive, got %d", *c.DspacingBins)
	}
	if c.DspacingMin != nil && c.DspacingMax != nil && *c.DspacingMin >= *c.DspacingMax {
		return fmt.Errorf("dspacing_min %f must be below dspacing_max %f", *c.DspacingMin, *c.DspacingMax)
	}
	return nil
}

// GetInstrument returns the instrument value or the default.
func (c *TuningConfig) GetInstrument() string {
	if c.Instrument == nil {
		return "BEER"
	}
	return *c.Instrument
}

// GetMode returns the mode value or the default.
func (c *TuningConfig) GetMode() string {
	if c.Mode == nil {
		return "F0"
	}
	return *c.Mode
}

// GetRunKind returns the run_kind value or the default.
func (c *TuningConfig) GetRunKind() string {
	if c.RunKind == nil {
		return "sample"
	}
	return *c.RunKind
}

// GetClusterBins returns the cluster_bins value or the default.
func (c *TuningConfig) GetClusterBins() int {
	if c.ClusterBins == nil {
		return 1000
	}
	return *c.ClusterBins
}

// GetBaselineWindow returns the baseline_window value or the default.
func (c *TuningConfig) GetBaselineWindow() int {
	if c.BaselineWindow == nil {
		return 99
	}
	return *c.BaselineWindow
}

// GetMinPeakSep returns the min_peak_sep value or the default.
func (c *TuningConfig) GetMinPeakSep() int {
	if c.MinPeakSep == nil {
		return 3
	}
	return *c.MinPeakSep
}

// GetMinValleySep returns the min_valley_sep value or the default.
func (c *TuningConfig) GetMinValleySep() int {
	if c.MinValleySep == nil {
		return 3
	}
	return *c.MinValleySep
}

// GetFitIterations returns the fit_iterations value or the default.
func (c *TuningConfig) GetFitIterations() int {
	if c.FitIterations == nil {
		return 15
	}
	return *c.FitIterations
}

// GetNeighborGapUS returns the neighbor_gap_us value or the default. The
// default of 800 us is the separation tuned on BEER modulation data.
func (c *TuningConfig) GetNeighborGapUS() float64 {
	if c.NeighborGapUS == nil {
		return 800
	}
	return *c.NeighborGapUS
}

// GetDHKLFile returns the dhkl_file value or an empty string.
func (c *TuningConfig) GetDHKLFile() string {
	if c.DHKLFile == nil {
		return ""
	}
	return *c.DHKLFile
}

// GetTwoThetaMinDeg returns the two_theta_min_deg value or the default.
func (c *TuningConfig) GetTwoThetaMinDeg() float64 {
	if c.TwoThetaMinDeg == nil {
		return 0
	}
	return *c.TwoThetaMinDeg
}

// GetTwoThetaMaxDeg returns the two_theta_max_deg value or the default.
func (c *TuningConfig) GetTwoThetaMaxDeg() float64 {
	if c.TwoThetaMaxDeg == nil {
		return 180
	}
	return *c.TwoThetaMaxDeg
}

// TofWindowUS returns the optional tof window in microseconds. ok is false
// when no window is configured.
func (c *TuningConfig) TofWindowUS() (lo, hi float64, ok bool) {
	if c.TofMinUS == nil || c.TofMaxUS == nil {
		return 0, 0, false
	}
	return *c.TofMinUS, *c.TofMaxUS, true
}

// WavelengthWindowAng returns the optional wavelength window in angstrom.
// ok is false when no window is configured.
func (c *TuningConfig) WavelengthWindowAng() (lo, hi float64, ok bool) {
	if c.WavelengthMinAng == nil || c.WavelengthMaxAng == nil {
		return 0, 0, false
	}
	return *c.WavelengthMinAng, *c.WavelengthMaxAng, true
}

// GetBadPulseThresholdFactor returns the bad_pulse_threshold_factor value or
// the default. Zero disables bad-pulse filtering.
func (c *TuningConfig) GetBadPulseThresholdFactor() float64 {
	if c.BadPulseThresholdFactor == nil {
		return 0
	}
	return *c.BadPulseThresholdFactor
}

// GetProtonChargeUAH returns the proton_charge_uah value or zero when the run
// is not normalized by charge.
func (c *TuningConfig) GetProtonChargeUAH() float64 {
	if c.ProtonChargeUAH == nil {
		return 0
	}
	return *c.ProtonChargeUAH
}

// GetUncertaintyBroadcastMode returns the uncertainty_broadcast_mode value or
// the default.
func (c *TuningConfig) GetUncertaintyBroadcastMode() string {
	if c.UncertaintyBroadcastMode == nil {
		return "fail"
	}
	return *c.UncertaintyBroadcastMode
}

// GetMonitorSmoothingWindow returns the monitor_smoothing_window value or
// zero when monitor smoothing is disabled.
func (c *TuningConfig) GetMonitorSmoothingWindow() int {
	if c.MonitorSmoothingWindow == nil {
		return 0
	}
	return *c.MonitorSmoothingWindow
}

// GetLorentzCorrection returns the lorentz_correction value or the default.
func (c *TuningConfig) GetLorentzCorrection() bool {
	if c.LorentzCorrection == nil {
		return true
	}
	return *c.LorentzCorrection
}

// GetDspacingMin returns the dspacing_min value or the default.
func (c *TuningConfig) GetDspacingMin() float64 {
	if c.DspacingMin == nil {
		return 0
	}
	return *c.DspacingMin
}

// GetDspacingMax returns the dspacing_max value or the default.
func (c *TuningConfig) GetDspacingMax() float64 {
	if c.DspacingMax == nil {
		return 2.0
	}
	return *c.DspacingMax
}

// GetDspacingBins returns the dspacing_bins value or the default.
func (c *TuningConfig) GetDspacingBins() int {
	if c.DspacingBins == nil {
		return 200
	}
	return *c.DspacingBins
}
