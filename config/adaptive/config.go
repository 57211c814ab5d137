package adaptive

import (
	"errors"
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nino-chavez/perfgov/content"
	"github.com/nino-chavez/perfgov/monitoring"
	"github.com/nino-chavez/perfgov/recovery"
	"github.com/nino-chavez/perfgov/scroll"
)

// ErrInvalidConfiguration is returned for a configuration that fails
// validation.
var ErrInvalidConfiguration = errors.New("invalid adaptive configuration")

// AdaptiveConfig is the complete governor configuration
type AdaptiveConfig struct {
	// Performance monitoring
	Monitoring *monitoring.Config `json:"monitoring" yaml:"monitoring"`

	// Quality hysteresis
	Quality *monitoring.QualityConfig `json:"quality" yaml:"quality"`

	// Presentation bindings
	Observer *monitoring.ObserverOptions `json:"observer" yaml:"observer"`

	// Scroll coordination
	Scroll *scroll.Config `json:"scroll" yaml:"scroll"`

	// Progressive content disclosure
	Content *content.Config `json:"content" yaml:"content"`

	// Error recovery
	Recovery *recovery.Config `json:"recovery" yaml:"recovery"`

	// Platform probes
	Probes *ProbeConfig `json:"probes" yaml:"probes"`

	// Status and control surface
	Server *ServerConfig `json:"server" yaml:"server"`
}

// ProbeConfig selects the platform probes feeding the sampler
type ProbeConfig struct {
	// Memory ceiling in bytes; zero uses the host's total RAM
	MemoryLimitBytes uint64 `json:"memory_limit_bytes" yaml:"memory_limit_bytes"`

	// Use NVML for GPU utilisation when available
	NVML bool `json:"nvml" yaml:"nvml"`

	// NVML device index
	GPUDevice int `json:"gpu_device" yaml:"gpu_device"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// DefaultConfig returns a configuration with every section at its
// component defaults
func DefaultConfig() *AdaptiveConfig {
	mon := monitoring.DefaultConfig()
	quality := monitoring.DefaultQualityConfig()
	observer := monitoring.DefaultObserverOptions()
	scr := scroll.DefaultConfig()
	cont := content.DefaultConfig()
	rec := recovery.DefaultConfig()

	return &AdaptiveConfig{
		Monitoring: &mon,
		Quality:    &quality,
		Observer:   &observer,
		Scroll:     &scr,
		Content:    &cont,
		Recovery:   &rec,
		Probes: &ProbeConfig{
			NVML: true,
		},
		Server: &ServerConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}

// Validate checks every section
func (c *AdaptiveConfig) Validate() error {
	var errs []error

	check := func(name string, present bool, validate func() error) {
		if !present {
			errs = append(errs, fmt.Errorf("%s: section missing", name))
			return
		}
		if err := validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	check("monitoring", c.Monitoring != nil, func() error { return c.Monitoring.Validate() })
	check("quality", c.Quality != nil, func() error { return c.Quality.Validate() })
	check("observer", c.Observer != nil, func() error { return nil })
	check("scroll", c.Scroll != nil, func() error { return c.Scroll.Validate() })
	check("content", c.Content != nil, func() error { return c.Content.Validate() })
	check("recovery", c.Recovery != nil, func() error { return c.Recovery.Validate() })
	check("probes", c.Probes != nil, c.validateProbes)
	check("server", c.Server != nil, c.validateServer)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}

func (c *AdaptiveConfig) validateProbes() error {
	if c.Probes.GPUDevice < 0 {
		return errors.New("gpu device index must not be negative")
	}
	return nil
}

func (c *AdaptiveConfig) validateServer() error {
	if c.Server.Enabled && c.Server.Addr == "" {
		return errors.New("addr required when the server is enabled")
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *AdaptiveConfig) Clone() *AdaptiveConfig {
	clone := &AdaptiveConfig{}

	if c.Monitoring != nil {
		mon := *c.Monitoring
		clone.Monitoring = &mon
	}
	if c.Quality != nil {
		quality := *c.Quality
		clone.Quality = &quality
	}
	if c.Observer != nil {
		observer := *c.Observer
		clone.Observer = &observer
	}
	if c.Scroll != nil {
		scr := *c.Scroll
		scr.Thresholds = append([]float64(nil), c.Scroll.Thresholds...)
		clone.Scroll = &scr
	}
	if c.Content != nil {
		cont := *c.Content
		cont.Sections = maps.Clone(c.Content.Sections)
		clone.Content = &cont
	}
	if c.Recovery != nil {
		rec := *c.Recovery
		clone.Recovery = &rec
	}
	if c.Probes != nil {
		probes := *c.Probes
		clone.Probes = &probes
	}
	if c.Server != nil {
		server := *c.Server
		clone.Server = &server
	}

	return clone
}

// Parse decodes YAML over the defaults and validates the result. Keys
// absent from data keep their default values.
func Parse(data []byte) (*AdaptiveConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads and parses the YAML file at path.
func LoadFile(path string) (*AdaptiveConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Marshal encodes the configuration as YAML.
func (c *AdaptiveConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
