package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml"

	"github.com/aifoundry-org/multibuild/pkg/matrix"
	"github.com/aifoundry-org/multibuild/pkg/util"
)

const (
	EngineDagger = "dagger"
	EngineLocal  = "local"
)

// Config is everything a build run needs. Files use the toml keys, --dump-config prints the json ones.
type Config struct {
	Engine     string        `json:"engine,omitempty" toml:"engine"`
	OSes       []string      `json:"oses,omitempty" toml:"oses"`
	Arches     []string      `json:"arches,omitempty" toml:"arches"`
	GoVersions []string      `json:"go-versions,omitempty" toml:"go-versions"`
	ExtraAxes  []matrix.Axis `json:"axis,omitempty" toml:"axis"`

	Image   string            `json:"image,omitempty" toml:"image"`
	Source  string            `json:"source,omitempty" toml:"source"`
	Exclude []string          `json:"exclude,omitempty" toml:"exclude"`
	Workdir string            `json:"workdir,omitempty" toml:"workdir"`
	Command []string          `json:"command,omitempty" toml:"command"`
	Env     map[string]string `json:"env,omitempty" toml:"env"`
	Cache   bool              `json:"cache,omitempty" toml:"cache"`

	Output string `json:"output,omitempty" toml:"output"`
	Prefix string `json:"prefix,omitempty" toml:"prefix"`
	OCIRef string `json:"oci-ref,omitempty" toml:"oci-ref"`

	Concurrency    int  `json:"concurrency,omitempty" toml:"concurrency"`
	FailFast       bool `json:"fail-fast,omitempty" toml:"fail-fast"`
	ConnectRetries int  `json:"connect-retries,omitempty" toml:"connect-retries"`
}

// Default mirrors the classic example: linux and darwin, amd64 and arm64, golang:latest,
// outputs under build/<os>/<arch>/ in the current directory.
func Default() *Config {
	return &Config{
		Engine:         EngineDagger,
		OSes:           []string{"linux", "darwin"},
		Arches:         []string{"amd64", "arm64"},
		Image:          "golang:latest",
		Source:         ".",
		Workdir:        "/src",
		Output:         ".",
		Prefix:         "build",
		ConnectRetries: 3,
	}
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "multibuild", "config.toml")
}

// Load reads a TOML file over the defaults. An explicit path must exist; when path is empty
// the file at DefaultPath is used if present.
func Load(path string) (*Config, error) {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = util.LoadFile(path)
	} else {
		path = DefaultPath()
		data, err = util.LoadFileAllowMissing(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config at %s: %w", path, err)
	}
	return Parse(data)
}

// Parse reads TOML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(data) == 0 {
		return cfg, nil
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Matrix builds the build matrix: Go versions (if any) vary slowest, then OS, then
// architecture, then any extra axes.
func (c *Config) Matrix() matrix.Matrix {
	var axes []matrix.Axis
	if len(c.GoVersions) > 0 {
		axes = append(axes, matrix.Axis{Name: matrix.AxisGoVersion, Values: c.GoVersions})
	}
	axes = append(axes,
		matrix.Axis{Name: matrix.AxisOS, Values: c.OSes},
		matrix.Axis{Name: matrix.AxisArch, Values: c.Arches},
	)
	axes = append(axes, c.ExtraAxes...)
	return matrix.New(axes...)
}

func (c *Config) Validate() error {
	switch c.Engine {
	case EngineDagger, EngineLocal:
	default:
		return fmt.Errorf("unknown engine %q, expected %q or %q", c.Engine, EngineDagger, EngineLocal)
	}
	if _, ok := c.Env[matrix.AxisGoVersion]; ok {
		return fmt.Errorf("%s cannot be set as an environment variable, use go versions instead", matrix.AxisGoVersion)
	}
	if c.Engine == EngineLocal && c.Matrix().Has(matrix.AxisGoVersion) {
		return fmt.Errorf("go versions cannot be selected with the %s engine", EngineLocal)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency)
	}
	if c.Prefix == "" {
		return fmt.Errorf("output prefix must not be empty")
	}
	return c.Matrix().Validate()
}

func (c *Config) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}

// Save writes the configuration as TOML so it can be passed back with --config. An existing
// file is only replaced when overwrite is set.
func (c *Config) Save(path string, overwrite bool) error {
	data, err := toml.Marshal(*c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.SaveFile(path, data, overwrite); err != nil {
		return fmt.Errorf("failed to save config to %s: %w", path, err)
	}
	return nil
}
