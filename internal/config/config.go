package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"gopkg.in/yaml.v3"
)

// Default variable lists, overridable from the YAML config file.
var (
	// DefaultSoundingVars are the MiRS SND variables retained (geolocation is always kept).
	DefaultSoundingVars = []string{
		"Player", "Plevel", "PTemp", "PVapor", "PClw", "PRain", "PGraupel",
	}

	// DefaultImageryDropVars are the MiRS IMG variables dropped from the merge.
	DefaultImageryDropVars = []string{
		"Atm_type", "ChanSel", "SWP", "IWP", "Snow",
		"SWE", "SnowGS", "SIce", "SIce_MY", "SIce_FY", "SFR",
		"CldTop", "CldBase", "CldThick", "PrecipType", "RFlag", "SurfM",
		"WindSp", "WindDir", "WindU", "WindV", "Prob_SF", "quality_information",
	}

	// DefaultTrackExtraVars are the storm-state and wind-radii columns carried
	// per track point.
	DefaultTrackExtraVars = []string{
		"DIST2LAND", "LANDFALL", "USA_SSHS",
		"USA_R34_NE", "USA_R34_NW", "USA_R34_SE", "USA_R34_SW",
		"USA_R50_NE", "USA_R50_NW", "USA_R50_SE", "USA_R50_SW",
		"USA_R64_NE", "USA_R64_NW", "USA_R64_SE", "USA_R64_SW",
		"REUNION_R34_NE", "REUNION_R34_NW", "REUNION_R34_SE", "REUNION_R34_SW",
		"REUNION_R50_NE", "REUNION_R50_NW", "REUNION_R50_SE", "REUNION_R50_SW",
		"REUNION_R64_NE", "REUNION_R64_NW", "REUNION_R64_SE", "REUNION_R64_SW",
		"BOM_R34_NE", "BOM_R34_SE", "BOM_R34_NW", "BOM_R34_SW",
		"BOM_R50_NE", "BOM_R50_SE", "BOM_R50_NW", "BOM_R50_SW",
		"BOM_R64_NE", "BOM_R64_SE", "BOM_R64_NW", "BOM_R64_SW",
	}
)

// MergeOptions is the immutable set of knobs shared by the loader, matcher,
// merger and output builder. It is passed by value.
type MergeOptions struct {
	FilterMissingWMO         bool
	IncompleteIntensityYears []int
	TimeTolerance            time.Duration
	DatelineExcludedBasins   []string
	DatelineEdgeDegrees      float64
	RequireFootprint         bool
	StrictCompleteness       bool
	Workers                  int
	TrackExtraVars           []string
	SoundingVars             []string
	ImageryDropVars          []string

	// Reference swath shapes; empty means the modal shape of the matched
	// granules is used.
	ImageryShape  []int
	SoundingShape []int
}

// DefaultMergeOptions returns the options used when nothing is configured.
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{
		FilterMissingWMO:         true,
		IncompleteIntensityYears: []int{2021},
		TimeTolerance:            12 * time.Hour,
		DatelineExcludedBasins:   []string{"NA", "SA"},
		DatelineEdgeDegrees:      1.0,
		Workers:                  runtime.NumCPU(),
		TrackExtraVars:           slices.Clone(DefaultTrackExtraVars),
		SoundingVars:             slices.Clone(DefaultSoundingVars),
		ImageryDropVars:          slices.Clone(DefaultImageryDropVars),
	}
}

// FilterMissingWMOFor reports whether rows with blank WMO intensity are
// dropped for the given year.
func (o MergeOptions) FilterMissingWMOFor(year int) bool {
	return o.FilterMissingWMO && !slices.Contains(o.IncompleteIntensityYears, year)
}

// DatelineExcluded reports whether dateline-wrapped granules are rejected
// for storms of the given basin.
func (o MergeOptions) DatelineExcluded(basin string) bool {
	return slices.Contains(o.DatelineExcludedBasins, strings.ToUpper(strings.TrimSpace(basin)))
}

// SwathShape returns the configured reference shape for a granule type
// prefix ("img" or "snd"), or nil.
func (o MergeOptions) SwathShape(prefix string) []int {
	switch prefix {
	case "img":
		return o.ImageryShape
	case "snd":
		return o.SoundingShape
	default:
		return nil
	}
}

// Validate checks option ranges.
func (o MergeOptions) Validate() error {
	if o.TimeTolerance <= 0 {
		return errors.New("TIME_TOLERANCE must be positive")
	}
	if o.DatelineEdgeDegrees < 0 || o.DatelineEdgeDegrees >= 180 {
		return errors.New("DATELINE_EDGE_DEGREES must be in [0, 180)")
	}
	if o.Workers <= 0 {
		return errors.New("MERGE_WORKERS must be positive")
	}
	for _, shape := range [][]int{o.ImageryShape, o.SoundingShape} {
		for _, d := range shape {
			if d <= 0 {
				return fmt.Errorf("swath shape %v must have positive dimensions", shape)
			}
		}
	}
	return nil
}

// Config holds all run settings, populated from environment variables and an
// optional YAML file.
type Config struct {
	MirsDir    string
	IBTracsCSV string
	IBTracsNC  string
	OutputDir  string
	ConfigFile string

	// StormID pins one storm when a name is reused within a season.
	StormID string

	LogLevel  string
	LogFormat string

	HeaderCacheSize int
	MetricsTextfile string

	// Artifact-ready notifications; disabled when KafkaBrokers is empty.
	KafkaBrokers []string
	KafkaTopic   string

	Merge MergeOptions
}

// MergeOptions returns a copy of the merge options, safe to hand to the
// pipeline stages.
func (c *Config) MergeOptions() MergeOptions {
	m := c.Merge
	m.IncompleteIntensityYears = slices.Clone(m.IncompleteIntensityYears)
	m.DatelineExcludedBasins = slices.Clone(m.DatelineExcludedBasins)
	m.TrackExtraVars = slices.Clone(m.TrackExtraVars)
	m.SoundingVars = slices.Clone(m.SoundingVars)
	m.ImageryDropVars = slices.Clone(m.ImageryDropVars)
	m.ImageryShape = slices.Clone(m.ImageryShape)
	m.SoundingShape = slices.Clone(m.SoundingShape)
	return m
}

// fileConfig mirrors the YAML config file. Unset fields keep their defaults.
type fileConfig struct {
	StormID                  *string        `yaml:"storm_id"`
	FilterMissingWMO         *bool          `yaml:"filter_missing_wmo"`
	IncompleteIntensityYears []int          `yaml:"incomplete_intensity_years"`
	TimeTolerance            *time.Duration `yaml:"time_tolerance"`
	DatelineExcludedBasins   []string       `yaml:"dateline_excluded_basins"`
	DatelineEdgeDegrees      *float64       `yaml:"dateline_edge_degrees"`
	RequireFootprint         *bool          `yaml:"require_footprint"`
	StrictCompleteness       *bool          `yaml:"strict_completeness"`
	Workers                  *int           `yaml:"workers"`
	TrackExtraVars           []string       `yaml:"track_extra_vars"`
	SoundingVars             []string       `yaml:"sounding_vars"`
	ImageryDropVars          []string       `yaml:"imagery_drop_vars"`
	ImageryShape             []int          `yaml:"imagery_swath_shape"`
	SoundingShape            []int          `yaml:"sounding_swath_shape"`
}

// Load reads configuration from environment variables, applying defaults
// where unset, then overlays MERGE_CONFIG_FILE when present.
func Load() (*Config, error) {
	merge := DefaultMergeOptions()

	var err error
	if merge.FilterMissingWMO, err = parseBool("FILTER_MISSING_WMO", merge.FilterMissingWMO); err != nil {
		return nil, err
	}
	if merge.RequireFootprint, err = parseBool("REQUIRE_FOOTPRINT", merge.RequireFootprint); err != nil {
		return nil, err
	}
	if merge.StrictCompleteness, err = parseBool("STRICT_COMPLETENESS", merge.StrictCompleteness); err != nil {
		return nil, err
	}

	tolerance, err := time.ParseDuration(sharedcfg.EnvOrDefault("TIME_TOLERANCE", "12h"))
	if err != nil {
		return nil, errors.New("invalid TIME_TOLERANCE")
	}
	merge.TimeTolerance = tolerance

	if v := os.Getenv("DATELINE_EXCLUDED_BASINS"); v != "" {
		merge.DatelineExcludedBasins = splitList(v)
	}
	if v := os.Getenv("MERGE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New("invalid MERGE_WORKERS")
		}
		merge.Workers = n
	}

	cfg := &Config{
		MirsDir:         os.Getenv("MIRS_DIR"),
		IBTracsCSV:      sharedcfg.EnvOrDefault("IBTRACS_CSV", "ibtracs.ALL.list.v04r00.csv"),
		IBTracsNC:       os.Getenv("IBTRACS_NC"),
		OutputDir:       sharedcfg.EnvOrDefault("OUTPUT_DIR", "."),
		ConfigFile:      os.Getenv("MERGE_CONFIG_FILE"),
		StormID:         strings.TrimSpace(os.Getenv("STORM_ID")),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "text"),
		HeaderCacheSize: parseHeaderCacheSize(),
		MetricsTextfile: os.Getenv("METRICS_TEXTFILE"),
		KafkaTopic:      sharedcfg.EnvOrDefault("KAFKA_TOPIC", "merged-storm-artifacts"),
		Merge:           merge,
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(v)
	}

	if cfg.ConfigFile != "" {
		if err := cfg.ApplyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Merge.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return cfg, nil
}

// ApplyFile overlays the YAML file at path onto the storm selection and the
// merge options.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.StormID != nil {
		c.StormID = strings.TrimSpace(*fc.StormID)
	}

	m := &c.Merge
	if fc.FilterMissingWMO != nil {
		m.FilterMissingWMO = *fc.FilterMissingWMO
	}
	if fc.IncompleteIntensityYears != nil {
		m.IncompleteIntensityYears = fc.IncompleteIntensityYears
	}
	if fc.TimeTolerance != nil {
		m.TimeTolerance = *fc.TimeTolerance
	}
	if fc.DatelineExcludedBasins != nil {
		m.DatelineExcludedBasins = upperAll(fc.DatelineExcludedBasins)
	}
	if fc.DatelineEdgeDegrees != nil {
		m.DatelineEdgeDegrees = *fc.DatelineEdgeDegrees
	}
	if fc.RequireFootprint != nil {
		m.RequireFootprint = *fc.RequireFootprint
	}
	if fc.StrictCompleteness != nil {
		m.StrictCompleteness = *fc.StrictCompleteness
	}
	if fc.Workers != nil {
		m.Workers = *fc.Workers
	}
	if fc.TrackExtraVars != nil {
		m.TrackExtraVars = fc.TrackExtraVars
	}
	if fc.SoundingVars != nil {
		m.SoundingVars = fc.SoundingVars
	}
	if fc.ImageryDropVars != nil {
		m.ImageryDropVars = fc.ImageryDropVars
	}
	if fc.ImageryShape != nil {
		m.ImageryShape = fc.ImageryShape
	}
	if fc.SoundingShape != nil {
		m.SoundingShape = fc.SoundingShape
	}
	return nil
}

func parseBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s", key)
	}
	return b, nil
}

func parseHeaderCacheSize() int {
	if s := os.Getenv("HEADER_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 4096
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}

func upperAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return out
}
