// Package properties holds the run configuration. It is loaded once by the CLI
// and passed explicitly to every component.
package properties

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/forest-guardian/virtual-pixel-regrid/internal/projection"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const EnvPrefix = "REGRID"

// Site is a study site and the vector file of its buffer polygon. Sites are a
// list rather than a map because viper lowercases map keys.
type Site struct {
	Name   string `mapstructure:"name"`
	Buffer string `mapstructure:"buffer"`
}

type Config struct {
	BasePath   string `mapstructure:"base_path"`
	MaskDir    string `mapstructure:"mask_dir"`
	MaskCutDir string `mapstructure:"mask_cut_dir"`
	InputDir   string `mapstructure:"input_dir"`
	OutputRoot string `mapstructure:"output_root"`
	TablesDir  string `mapstructure:"tables_dir"`
	CacheDir   string `mapstructure:"cache_dir"`

	Sites     []Site   `mapstructure:"sites"`
	Variables []string `mapstructure:"variables"`

	TargetResX        float64 `mapstructure:"target_res_x"`
	TargetResY        float64 `mapstructure:"target_res_y"`
	FineResolution    float64 `mapstructure:"fine_resolution"`
	ForestClasses     []int   `mapstructure:"forest_classes"`
	CoverageThreshold float64 `mapstructure:"coverage_threshold"`
	MaskMinYear       int     `mapstructure:"mask_min_year"`
	MaskMaxYear       int     `mapstructure:"mask_max_year"`
	ProjectedCRS      string  `mapstructure:"projected_crs"`

	Workers      int           `mapstructure:"workers"`
	TaskTimeout  time.Duration `mapstructure:"task_timeout"`
	WriteRasters bool          `mapstructure:"write_rasters"`
	WriteGeoJSON bool          `mapstructure:"write_geojson"`

	LogLevel          string `mapstructure:"log_level"`
	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("base_path", ".")
	// empty paths are derived from base_path; the defaults make them visible to env lookup
	for _, key := range []string{"mask_dir", "mask_cut_dir", "input_dir", "output_root", "tables_dir", "cache_dir", "discord_webhook_url"} {
		v.SetDefault(key, "")
	}
	v.SetDefault("sites", []Site{})
	v.SetDefault("variables", []string{"LST", "NDVI", "Rg", "SM"})
	v.SetDefault("target_res_x", 2200.0)
	v.SetDefault("target_res_y", 1660.0)
	v.SetDefault("fine_resolution", 70.0)
	v.SetDefault("forest_classes", []int{3, 4, 5, 6})
	v.SetDefault("coverage_threshold", 0.5)
	v.SetDefault("mask_min_year", 1985)
	v.SetDefault("mask_max_year", 2024)
	v.SetDefault("projected_crs", "EPSG:32721")
	v.SetDefault("workers", 0)
	v.SetDefault("task_timeout", 5*time.Minute)
	v.SetDefault("write_rasters", true)
	v.SetDefault("write_geojson", false)
	v.SetDefault("log_level", "info")
}

// LoadEnv reads the first .env file found among paths. Missing files are
// not an error.
func LoadEnv(paths ...string) {
	for _, p := range paths {
		if err := godotenv.Load(p); err == nil {
			return
		}
	}
}

// Load reads the optional config file and REGRID_* environment overrides
// into a Config, filling relative directories from base_path.
func Load(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("problem reading configuration file: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("problem decoding configuration: %w", err)
	}
	c.resolvePaths()
	return c, nil
}

func (c *Config) resolvePaths() {
	def := func(p *string, name string) {
		if *p == "" {
			*p = filepath.Join(c.BasePath, name)
		}
	}
	def(&c.MaskDir, "Coverage_mapbiomas")
	def(&c.MaskCutDir, "Coverage_mapbiomas_cut")
	def(&c.InputDir, "Rasters_buffers_data")
	def(&c.OutputRoot, "Output_Regrid_OCO3_Multi")
	def(&c.TablesDir, "Tables_CSVs")
	def(&c.CacheDir, ".cache")
	for i, site := range c.Sites {
		if site.Buffer != "" && !filepath.IsAbs(site.Buffer) {
			c.Sites[i].Buffer = filepath.Join(c.BasePath, site.Buffer)
		}
	}
}

// Validate checks ranges and required values.
func (c Config) Validate() error {
	var errs []error
	if !(c.TargetResX > 0) || !(c.TargetResY > 0) {
		errs = append(errs, fmt.Errorf("target resolution must be positive, got %gx%g", c.TargetResX, c.TargetResY))
	}
	if math.IsNaN(c.CoverageThreshold) || c.CoverageThreshold < 0 || c.CoverageThreshold > 1 {
		errs = append(errs, fmt.Errorf("coverage_threshold must be within [0, 1], got %g", c.CoverageThreshold))
	}
	if c.MaskMaxYear != 0 && c.MaskMaxYear < c.MaskMinYear {
		errs = append(errs, fmt.Errorf("mask_max_year %d is before mask_min_year %d", c.MaskMaxYear, c.MaskMinYear))
	}
	if len(c.ForestClasses) == 0 {
		errs = append(errs, errors.New("forest_classes must not be empty"))
	}
	if _, err := projection.ParseEPSG(c.ProjectedCRS); err != nil {
		errs = append(errs, fmt.Errorf("projected_crs: %w", err))
	}
	seen := make(map[string]bool, len(c.Sites))
	for _, site := range c.Sites {
		if site.Name == "" {
			errs = append(errs, errors.New("site without a name"))
		}
		if seen[site.Name] {
			errs = append(errs, fmt.Errorf("site %s declared twice", site.Name))
		}
		seen[site.Name] = true
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.TaskTimeout < 0 {
		errs = append(errs, fmt.Errorf("task_timeout must not be negative, got %s", c.TaskTimeout))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Classes returns the forest classes as mask codes.
func (c Config) Classes() []int32 {
	out := make([]int32, len(c.ForestClasses))
	for i, v := range c.ForestClasses {
		out[i] = int32(v)
	}
	return out
}

// InputFolder is the folder holding the rasters of one site and variable,
// e.g. <input_dir>/LST_ATTO_ECOSTRESS.
func (c Config) InputFolder(site, variable string) string {
	return filepath.Join(c.InputDir, fmt.Sprintf("%s_%s_ECOSTRESS", variable, site))
}

// OutputFolder is where the coarse rasters of one site and variable go.
func (c Config) OutputFolder(site, variable string) string {
	return filepath.Join(c.OutputRoot, site, variable)
}

// Logger returns a logger at the configured level.
func (c Config) Logger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	return log
}
