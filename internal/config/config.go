// Package config loads the data download tool configuration.
//
// Configuration is a YAML document. Every field has a default, so a missing
// file (or a file that sets only a few fields) is valid.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tool configuration.
type Config struct {
	// DataDir is where extracted bundle contents and the merged store live.
	DataDir string `yaml:"data_dir"`

	// MergedStore is the file name of the merged store inside DataDir.
	MergedStore string `yaml:"merged_store"`

	// UserStore is the file name of the user directory store inside DataDir.
	// It survives Cleanup.
	UserStore string `yaml:"user_store"`

	Merge      MergeConfig      `yaml:"merge"`
	Dictionary DictionaryConfig `yaml:"dictionary"`
	Incidents  IncidentConfig   `yaml:"incidents"`
	TimeZone   TimeZoneConfig   `yaml:"time_zone"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
	Points     PointCatalog     `yaml:"points"`
}

// MergeConfig controls the multi-source merge.
type MergeConfig struct {
	// SourcePattern is the substring a file name must contain to be treated
	// as a source store during discovery.
	SourcePattern string `yaml:"source_pattern"`

	// ReferencePatterns name the source whose catalog seeds the schema of an
	// empty target, tried in order against each file's base name.
	ReferencePatterns []string `yaml:"reference_patterns"`

	// FallbackToFirst uses the first readable source as the schema reference
	// when no file name matches ReferencePatterns.
	FallbackToFirst bool `yaml:"fallback_to_first"`

	// AttachLimit is the engine's ceiling on simultaneously attached stores,
	// counting the target.
	AttachLimit int `yaml:"attach_limit"`

	// BatchSize is the number of sources merged per pass.
	BatchSize int `yaml:"batch_size"`

	// TempDir holds temporary batch targets. Empty means next to the target.
	TempDir string `yaml:"temp_dir"`
}

// DictionaryConfig locates the text dictionary document.
type DictionaryConfig struct {
	Glob string `yaml:"glob"`
}

// IncidentConfig controls incident rendering.
type IncidentConfig struct {
	// TimestampLayout is a Go time layout applied in UTC.
	TimestampLayout string `yaml:"timestamp_layout"`

	// DefaultPrecision applies to %f tokens without an explicit precision.
	// -1 renders the shortest representation that round-trips.
	DefaultPrecision int `yaml:"default_precision"`

	Colors ColorConfig `yaml:"colors"`
}

// ColorConfig is the palette used by the severity color table.
type ColorConfig struct {
	Clear     string `yaml:"clear"`
	Event     string `yaml:"event"`
	Warning   string `yaml:"warning"`
	Alarm     string `yaml:"alarm"`
	BlackText string `yaml:"black_text"`
}

// TimeZoneConfig locates the offset parameter in the merged store.
type TimeZoneConfig struct {
	ParName string `yaml:"par_name"`

	// FallbackTidx is used when ParConfig has no row for ParName.
	FallbackTidx int64 `yaml:"fallback_tidx"`
}

// CleanupConfig controls deletion of the merged store.
type CleanupConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// PointCatalog maps readable point names onto the tables that hold them.
type PointCatalog struct {
	// IOTables maps an ioType value to the table holding its samples.
	IOTables map[string]string `yaml:"io_tables"`

	// VFD maps a readable name onto the drive name and sample field.
	VFD map[string]VFDPoint `yaml:"vfd"`

	// Presets maps a preset graph name to the points it plots.
	Presets map[string][]string `yaml:"presets"`
}

// VFDPoint identifies one drive value.
type VFDPoint struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// DefaultDataDir returns ~/Documents/DDT/data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, "Documents", "DDT", "data")
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DataDir:     DefaultDataDir(),
		MergedStore: "merged_db.sqlite",
		UserStore:   "fbhmi.db",
		Merge: MergeConfig{
			SourcePattern:     "FB20.DC",
			ReferencePatterns: []string{"FB20.DC.1"},
			FallbackToFirst:   true,
			AttachLimit:       10,
			BatchSize:         9,
		},
		Dictionary: DictionaryConfig{Glob: "*textDic*"},
		Incidents: IncidentConfig{
			TimestampLayout:  "2006-01-02 15:04:05",
			DefaultPrecision: -1,
			Colors: ColorConfig{
				Clear:     "#77797d",
				Event:     "#05e81b",
				Warning:   "#e88605",
				Alarm:     "#e80505",
				BlackText: "#000000",
			},
		},
		TimeZone: TimeZoneConfig{
			ParName:      "TimeZoneOffset",
			FallbackTidx: 120184,
		},
		Cleanup: CleanupConfig{
			Attempts: 5,
			Delay:    200 * time.Millisecond,
		},
		Points: PointCatalog{
			IOTables: map[string]string{},
			VFD:      map[string]VFDPoint{},
			Presets:  map[string][]string{},
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults
// for any unset fields.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return errors.New("data_dir must not be empty")
	case c.MergedStore == "":
		return errors.New("merged_store must not be empty")
	case c.Merge.AttachLimit < 2:
		return fmt.Errorf("merge.attach_limit must be at least 2, got %d", c.Merge.AttachLimit)
	case c.Merge.BatchSize < 1:
		return fmt.Errorf("merge.batch_size must be positive, got %d", c.Merge.BatchSize)
	case c.Merge.BatchSize+1 > c.Merge.AttachLimit:
		return fmt.Errorf("merge.batch_size %d exceeds attach_limit %d minus the target",
			c.Merge.BatchSize, c.Merge.AttachLimit)
	case c.Incidents.TimestampLayout == "":
		return errors.New("incidents.timestamp_layout must not be empty")
	case c.Incidents.DefaultPrecision < -1:
		return fmt.Errorf("incidents.default_precision must be -1 or more, got %d", c.Incidents.DefaultPrecision)
	case c.Cleanup.Attempts < 1:
		return fmt.Errorf("cleanup.attempts must be positive, got %d", c.Cleanup.Attempts)
	}
	return nil
}

// MergedStorePath returns the absolute location of the merged store.
func (c *Config) MergedStorePath() string {
	return filepath.Join(c.DataDir, c.MergedStore)
}

// UserStorePath returns the location of the user directory store.
func (c *Config) UserStorePath() string {
	return filepath.Join(c.DataDir, c.UserStore)
}

// EnsureDataDir creates the data directory if it does not exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}
