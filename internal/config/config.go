// Package config loads the reprowatch configuration file.
//
// The file is YAML. Before decoding it is checked against an embedded CUE
// schema, so structural mistakes (unknown keys, wrong types, malformed relay
// URLs) are reported together and before any work starts. A .env file, when
// present, is loaded into the environment first; REPROWATCH_NSEC overrides
// the signing key from the file.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/roach88/reprowatch/internal/model"
	"github.com/roach88/reprowatch/internal/publish"
	"github.com/roach88/reprowatch/internal/rbtlog"
)

//go:embed schema.cue
var schemaCUE string

// EnvSigningKey overrides Nostr.Nsec when set.
const EnvSigningKey = "REPROWATCH_NSEC"

// Defaults.
const (
	DefaultPath            = "config.yaml"
	DefaultStateBackend    = "json"
	DefaultStatePath       = "state.json"
	DefaultPublishInterval = time.Second
)

// Config is the decoded configuration file.
type Config struct {
	Nostr     NostrConfig              `yaml:"nostr"`
	LogSource LogSourceConfig          `yaml:"log_source"`
	State     StateConfig              `yaml:"state"`
	Apps      map[string]*model.AppSpec `yaml:"apps"`
}

type NostrConfig struct {
	Relays           []string      `yaml:"relays"`
	Nsec             string        `yaml:"nsec"`
	RequireAllRelays bool          `yaml:"require_all_relays"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
}

type LogSourceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Repo    string        `yaml:"repo"`
	RawURL  string        `yaml:"raw_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type StateConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// ConfigError reports an unusable configuration. It is always fatal.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Options controls where Load looks for its inputs.
type Options struct {
	// EnvFile is loaded with godotenv if it exists. Empty means ".env".
	EnvFile string

	// Getenv reads environment overrides. Nil means os.Getenv.
	Getenv func(string) string
}

// Load reads, validates and decodes the configuration at path.
func Load(path string, opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &ConfigError{Path: envFile, Err: fmt.Errorf("load env file: %w", err)}
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	if key := getenv(EnvSigningKey); key != "" {
		cfg.Nostr.Nsec = key
	}
	if cfg.Nostr.Nsec != "" {
		if _, err := publish.ParseSecretKey(cfg.Nostr.Nsec); err != nil {
			return nil, &ConfigError{Path: path, Err: fmt.Errorf("nostr.nsec: %w", err)}
		}
	}
	return cfg, nil
}

// Parse validates data against the schema, decodes it and applies defaults.
func Parse(data []byte) (*Config, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if doc == nil {
		return nil, errors.New("empty configuration")
	}
	if err := validate(doc); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	cfg.applyDefaults(hasKey(doc, "nostr", "publish_interval"))
	return &cfg, nil
}

// validate unifies the document with #Config and requires a concrete result.
func validate(doc map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	value := ctx.Encode(doc)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration:\n%s", cueerrors.Details(err, nil))
	}
	return nil
}

// hasKey reports whether the nested key path is present in doc.
func hasKey(doc map[string]any, path ...string) bool {
	cur := doc
	for i, k := range path {
		v, ok := cur[k]
		if !ok {
			return false
		}
		if i == len(path)-1 {
			return true
		}
		if cur, ok = v.(map[string]any); !ok {
			return false
		}
	}
	return false
}

func (c *Config) applyDefaults(intervalSet bool) {
	if !intervalSet {
		c.Nostr.PublishInterval = DefaultPublishInterval
	}
	if c.LogSource.BaseURL == "" {
		c.LogSource.BaseURL = rbtlog.DefaultBaseURL
	}
	if c.LogSource.Repo == "" {
		c.LogSource.Repo = rbtlog.DefaultRepo
	}
	if c.LogSource.Timeout == 0 {
		c.LogSource.Timeout = rbtlog.DefaultTimeout
	}
	if c.State.Backend == "" {
		c.State.Backend = DefaultStateBackend
	}
	if c.State.Path == "" {
		c.State.Path = DefaultStatePath
	}
	for id, app := range c.Apps {
		if app == nil {
			app = &model.AppSpec{}
			c.Apps[id] = app
		}
		app.ID = id
	}
}

// AppSpecs returns every configured application ordered by id.
func (c *Config) AppSpecs() []model.AppSpec {
	out := make([]model.AppSpec, 0, len(c.Apps))
	for _, app := range c.Apps {
		out = append(out, *app)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// App returns the application with the given id.
func (c *Config) App(id string) (model.AppSpec, bool) {
	app, ok := c.Apps[id]
	if !ok {
		return model.AppSpec{}, false
	}
	return *app, true
}

// PublishLimiter spaces publishes by the configured interval. An explicit
// zero interval disables throttling.
func (c *Config) PublishLimiter() *rate.Limiter {
	if c.Nostr.PublishInterval <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(c.Nostr.PublishInterval), 1)
}

// Source builds the log source the configuration selects.
func (c *Config) Source() rbtlog.Source {
	if c.LogSource.RawURL != "" {
		return &rbtlog.RawSource{
			URLTemplate: c.LogSource.RawURL,
			Client:      &http.Client{Timeout: c.LogSource.Timeout},
		}
	}
	return rbtlog.NewCodebergSource(c.LogSource.BaseURL, c.LogSource.Repo, c.LogSource.Timeout)
}
