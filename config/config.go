// Package config loads and persists the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/moyuren/calendar/fetch"
	"github.com/moyuren/calendar/sched"
)

// Config holds all settings of the daemon
type Config struct {
	Listen    Listen              `yaml:"listen"`
	Cache     Cache               `yaml:"cache"`
	Render    Render              `yaml:"render"`
	Webhook   string              `yaml:"webhook"`
	Endpoints []Endpoint          `yaml:"endpoints"`
	Schedules map[string]Schedule `yaml:"schedules"`
}

// Listen describes the HTTP surface
type Listen struct {
	Addr    string `yaml:"addr"`
	TLSAddr string `yaml:"tlsAddr"`
	TLSCert string `yaml:"tlsCert"`
	TLSKey  string `yaml:"tlsKey"`
	TLSOnly bool   `yaml:"tlsOnly"`
}

// Cache describes the image cache directory and its retention
type Cache struct {
	Dir            string `yaml:"dir"`
	RetentionDays  int    `yaml:"retentionDays"`
	CleanupMinutes int    `yaml:"cleanupMinutes"`
}

// RetentionAge returns the retention as a duration
func (c Cache) RetentionAge() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// CleanupInterval returns the sweep interval as a duration
func (c Cache) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupMinutes) * time.Minute
}

// Render describes the local render fallback
type Render struct {
	Disabled bool   `yaml:"disabled"`
	TempDir  string `yaml:"tempDir"`
}

// Endpoint describes one configured image source
type Endpoint struct {
	ID             string `yaml:"id"`
	Kind           string `yaml:"kind"`
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// Schedule describes one target's daily send
type Schedule struct {
	// Time is the daily send time, HH:MM or HHMM
	Time string `yaml:"time"`
	// Enabled defaults to true when omitted
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled resolves the optional enabled flag
func (s Schedule) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Load reads the YAML config at path, filling defaults for missing fields.
// A missing file yields the default config.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Infof("Config file %s does not exist, using defaults", path)
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	cfg.fillDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the config back to path with an atomic rename, used to
// persist schedule edits made over the API
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "failed to swap in config file")
	}

	return nil
}

// editMu serializes schedule edits against each other
var editMu sync.Mutex

// UpdateSchedules replaces the schedules section of the config file with the
// given specs, keeping whatever else is on disk. Schedule edits made over the
// API go through here so they cannot clobber endpoint or webhook changes
// applied since startup.
func UpdateSchedules(path string, specs []sched.Spec) error {
	editMu.Lock()
	defer editMu.Unlock()

	cfg, err := Load(path)
	if err != nil {
		return errors.Wrap(err, "failed to reload config before saving schedules")
	}

	schedules := make(map[string]Schedule, len(specs))
	for _, sp := range specs {
		enabled := sp.Enabled
		schedules[sp.Target] = Schedule{
			Time:    fmt.Sprintf("%02d:%02d", sp.Hour, sp.Minute),
			Enabled: &enabled,
		}
	}
	cfg.Schedules = schedules

	return cfg.Save(path)
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Listen: Listen{
			Addr: ":8080",
		},
		Cache: Cache{
			Dir:            "data/cache",
			RetentionDays:  7,
			CleanupMinutes: 60,
		},
		Render: Render{
			TempDir: "data/render",
		},
		Endpoints: []Endpoint{
			{ID: "52vmy", Kind: "remote", URL: "https://api.52vmy.cn/api/wl/moyu", TimeoutSeconds: 5},
			{ID: "monkeyray", Kind: "remote", URL: "https://api.monkeyray.net/api/v1/moyuren", TimeoutSeconds: 5},
			{ID: "local", Kind: "render", TimeoutSeconds: 30},
		},
		Schedules: map[string]Schedule{},
	}
}

func (c *Config) fillDefaults() {
	d := Default()
	if c.Listen.Addr == "" {
		c.Listen.Addr = d.Listen.Addr
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = d.Cache.Dir
	}
	if c.Cache.RetentionDays == 0 {
		c.Cache.RetentionDays = d.Cache.RetentionDays
	}
	if c.Cache.CleanupMinutes == 0 {
		c.Cache.CleanupMinutes = d.Cache.CleanupMinutes
	}
	if c.Render.TempDir == "" {
		c.Render.TempDir = d.Render.TempDir
	}
	if len(c.Endpoints) == 0 {
		c.Endpoints = d.Endpoints
	}
	if c.Schedules == nil {
		c.Schedules = map[string]Schedule{}
	}
	for i := range c.Endpoints {
		if c.Endpoints[i].TimeoutSeconds == 0 {
			c.Endpoints[i].TimeoutSeconds = 5
		}
		if c.Endpoints[i].Kind == "" {
			c.Endpoints[i].Kind = "remote"
		}
	}
}

func (c *Config) validate() error {
	for _, ep := range c.Endpoints {
		switch ep.Kind {
		case "remote":
			if ep.URL == "" {
				return errors.Errorf("endpoint %s: remote endpoints need a url", ep.ID)
			}
		case "render":
		default:
			return errors.Errorf("endpoint %s: unknown kind %q", ep.ID, ep.Kind)
		}
		if ep.ID == "" {
			return errors.New("endpoints need an id")
		}
	}
	for target, s := range c.Schedules {
		if _, _, err := sched.ParseTimeOfDay(s.Time); err != nil {
			return errors.Wrapf(err, "schedule for %s", target)
		}
	}

	return nil
}

// FetchEndpoints converts the configured endpoints for the registry
func (c *Config) FetchEndpoints() []fetch.Endpoint {
	out := make([]fetch.Endpoint, 0, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		kind := fetch.KindRemote
		if ep.Kind == "render" {
			kind = fetch.KindRender
		}
		out = append(out, fetch.Endpoint{
			ID:      ep.ID,
			Kind:    kind,
			URL:     ep.URL,
			Timeout: time.Duration(ep.TimeoutSeconds) * time.Second,
		})
	}

	return out
}

// ScheduleSpecs converts the configured schedules for the scheduler
func (c *Config) ScheduleSpecs() []sched.Spec {
	out := make([]sched.Spec, 0, len(c.Schedules))
	for target, s := range c.Schedules {
		hour, minute, err := sched.ParseTimeOfDay(s.Time)
		if err != nil {
			log.Errorf("Skipping schedule for %s: %s", target, err)
			continue
		}
		out = append(out, sched.Spec{
			Target:  target,
			Hour:    hour,
			Minute:  minute,
			Enabled: s.IsEnabled(),
		})
	}

	return out
}

// HolidayCacheDir returns where holiday data is cached
func (c *Config) HolidayCacheDir() string {
	return filepath.Join(filepath.Dir(c.Cache.Dir), "holiday")
}
