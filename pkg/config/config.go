// Package config provides configuration loading and management for tubulemetrics.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Polarity values accepted by Processing.Polarity.
const (
	PolarityBrightCells = "bright_cells"
	PolarityDarkCells   = "dark_cells"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters shared by all pipeline stages
	Processing struct {
		// NumWorkers specifies how many goroutines to use for frame-parallel stages
		NumWorkers int `yaml:"numWorkers"`

		// Polarity declares whether tubule cells are brighter or darker than
		// the background: "bright_cells" or "dark_cells"
		Polarity string `yaml:"polarity"`

		// BackgroundMultiplier scales the estimated background before it is
		// subtracted during deblurring
		BackgroundMultiplier float64 `yaml:"backgroundMultiplier"`

		// DownscaleFactor is the integer factor applied before background
		// estimation to keep the large-sigma blurs affordable
		DownscaleFactor int `yaml:"downscaleFactor"`

		// BackgroundSigmas are the Gaussian widths whose pixelwise maximum
		// forms the background estimate
		BackgroundSigmas []float64 `yaml:"backgroundSigmas"`

		// ProfileSmoothingWindow is the running-average window applied to the
		// pooled intensity profile before knee detection
		ProfileSmoothingWindow int `yaml:"profileSmoothingWindow"`

		// KneeSensitivity is the minimum chord deviation for a knee to count;
		// profiles that never exceed it yield no threshold for that frame
		KneeSensitivity float64 `yaml:"kneeSensitivity"`

		// ThresholdSmoothingWindow is the causal window (in frames) for
		// temporal threshold smoothing
		ThresholdSmoothingWindow int `yaml:"thresholdSmoothingWindow"`
	} `yaml:"processing"`

	// Segmentation parameters
	Segmentation struct {
		// MinCellArea is the smallest pixel area a cell component may have
		MinCellArea int `yaml:"minCellArea"`

		// MaxCellComponents caps how many cell components are kept before the
		// area knee cut applies
		MaxCellComponents int `yaml:"maxCellComponents"`

		// CloseRadius and CloseRounds control the opening of the non-cell
		// complement that seals small holes in the cell layer before region
		// classification
		CloseRadius int `yaml:"closeRadius"`
		CloseRounds int `yaml:"closeRounds"`

		// LumenCloseRadius is the structuring radius used to seal the lumen
		// before hole filling
		LumenCloseRadius int `yaml:"lumenCloseRadius"`

		// LumenBorderFrac is the maximum fraction of a component's perimeter
		// that may touch the image border for it to qualify as lumen. The
		// lumen of a tubule crossing the whole field still touches the border
		// at its two end caps, so this stays well above zero.
		LumenBorderFrac float64 `yaml:"lumenBorderFrac"`
	} `yaml:"segmentation"`

	// Vesicle removal parameters
	Vesicles struct {
		// Offsets are the temporal comparison offsets, in frames
		Offsets []int `yaml:"offsets"`

		// ErodeRadius shrinks discrepancy regions before they are sized
		ErodeRadius int `yaml:"erodeRadius"`

		// MinArea is the smallest discrepancy region treated as a vesicle
		MinArea int `yaml:"minArea"`
	} `yaml:"vesicles"`

	// Tracing parameters
	Tracing struct {
		// MaxTractSkewDeg is the mean angular deviation (degrees) above which
		// the two lumen tracts are rejected as non-parallel
		MaxTractSkewDeg float64 `yaml:"maxTractSkewDeg"`

		// MaxTractLengthRatio rejects tract pairs whose arclengths differ by
		// more than this factor
		MaxTractLengthRatio float64 `yaml:"maxTractLengthRatio"`
	} `yaml:"tracing"`

	// Output parameters
	Output struct {
		// SaveDiagnostics controls whether overlay movies are written
		SaveDiagnostics bool `yaml:"saveDiagnostics"`

		// SavePlots controls whether PNG charts are written
		SavePlots bool `yaml:"savePlots"`

		// SummaryWindow is the centered running-average window used for the
		// smoothed presentation columns of the frame summary
		SummaryWindow int `yaml:"summaryWindow"`

		// UnitLabel names the physical unit of the scale factor
		UnitLabel string `yaml:"unitLabel"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is one of trace, debug, info, warn, error
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.Polarity = PolarityBrightCells
	cfg.Processing.BackgroundMultiplier = 0.5
	cfg.Processing.DownscaleFactor = 4
	cfg.Processing.BackgroundSigmas = []float64{5, 10, 20}
	cfg.Processing.ProfileSmoothingWindow = 10
	cfg.Processing.KneeSensitivity = 0
	cfg.Processing.ThresholdSmoothingWindow = 10

	cfg.Segmentation.MinCellArea = 2500
	cfg.Segmentation.MaxCellComponents = 5
	cfg.Segmentation.CloseRadius = 2
	cfg.Segmentation.CloseRounds = 3
	cfg.Segmentation.LumenCloseRadius = 10
	cfg.Segmentation.LumenBorderFrac = 0.25

	cfg.Vesicles.Offsets = []int{-10, -5, 5, 10}
	cfg.Vesicles.ErodeRadius = 2
	cfg.Vesicles.MinArea = 500

	cfg.Tracing.MaxTractSkewDeg = 30
	cfg.Tracing.MaxTractLengthRatio = 2.0

	cfg.Output.SaveDiagnostics = true
	cfg.Output.SavePlots = true
	cfg.Output.SummaryWindow = 20
	cfg.Output.UnitLabel = "um"

	cfg.Logging.Level = "info"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Processing.Polarity != PolarityBrightCells && c.Processing.Polarity != PolarityDarkCells {
		return fmt.Errorf("processing.polarity must be %q or %q, got %q",
			PolarityBrightCells, PolarityDarkCells, c.Processing.Polarity)
	}
	if c.Processing.NumWorkers < 1 {
		return fmt.Errorf("processing.numWorkers must be at least 1, got %d", c.Processing.NumWorkers)
	}
	if c.Processing.DownscaleFactor < 1 {
		return fmt.Errorf("processing.downscaleFactor must be at least 1, got %d", c.Processing.DownscaleFactor)
	}
	if len(c.Processing.BackgroundSigmas) == 0 {
		return fmt.Errorf("processing.backgroundSigmas must not be empty")
	}
	for _, s := range c.Processing.BackgroundSigmas {
		if s <= 0 {
			return fmt.Errorf("processing.backgroundSigmas must be positive, got %v", s)
		}
	}
	if c.Processing.ProfileSmoothingWindow < 1 {
		return fmt.Errorf("processing.profileSmoothingWindow must be at least 1, got %d", c.Processing.ProfileSmoothingWindow)
	}
	if c.Processing.ThresholdSmoothingWindow < 1 {
		return fmt.Errorf("processing.thresholdSmoothingWindow must be at least 1, got %d", c.Processing.ThresholdSmoothingWindow)
	}
	if len(c.Vesicles.Offsets) == 0 {
		return fmt.Errorf("vesicles.offsets must not be empty")
	}
	for _, off := range c.Vesicles.Offsets {
		if off == 0 {
			return fmt.Errorf("vesicles.offsets must not contain 0")
		}
	}
	if c.Tracing.MaxTractLengthRatio < 1 {
		return fmt.Errorf("tracing.maxTractLengthRatio must be at least 1, got %v", c.Tracing.MaxTractLengthRatio)
	}
	if c.Output.SummaryWindow < 1 {
		return fmt.Errorf("output.summaryWindow must be at least 1, got %d", c.Output.SummaryWindow)
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
