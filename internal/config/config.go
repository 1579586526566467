// Package config loads quill.toml.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by Find.
const FileName = "quill.toml"

type Config struct {
	Modules  ModulesConfig  `toml:"modules"`
	Analysis AnalysisConfig `toml:"analysis"`
	LSP      LSPConfig      `toml:"lsp"`
	Log      LogConfig      `toml:"log"`

	// Path is the file the configuration came from, empty for defaults.
	Path string `toml:"-"`
}

type ModulesConfig struct {
	// Enabled lists modules in registration order.
	Enabled []string     `toml:"enabled"`
	NoLint  NoLintConfig `toml:"nolint"`
}

type NoLintConfig struct {
	Marker     string `toml:"marker"`
	Annotation string `toml:"annotation"`
}

type AnalysisConfig struct {
	MaxLineLength  int `toml:"max_line_length"`
	MaxDiagnostics int `toml:"max_diagnostics"`
	// CacheDir holds the preamble cache; empty selects the user cache dir.
	CacheDir string `toml:"cache_dir"`
	NoCache  bool   `toml:"no_cache"`
}

type LSPConfig struct {
	Debounce    Duration `toml:"debounce"`
	MetricsAddr string   `toml:"metrics_addr"`
}

type LogConfig struct {
	Level string `toml:"level"`
	// Format is "console" or "json".
	Format string `toml:"format"`
}

// Duration decodes TOML strings such as "300ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no quill.toml exists.
func Default() Config {
	return Config{
		Modules: ModulesConfig{
			Enabled: []string{"nolint", "trimspace"},
			NoLint: NoLintConfig{
				Marker:     "NOLINT",
				Annotation: "(linted)",
			},
		},
		Analysis: AnalysisConfig{
			MaxLineLength:  100,
			MaxDiagnostics: 200,
		},
		LSP: LSPConfig{
			Debounce: Duration{300 * time.Millisecond},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Find walks up from startDir looking for quill.toml.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load decodes path over the defaults and validates the result. Keys the
// schema does not know are errors.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Resolve loads explicit when set, otherwise the nearest quill.toml above
// dir, otherwise the defaults.
func Resolve(explicit, dir string) (Config, error) {
	if explicit != "" {
		return Load(explicit)
	}
	path, ok, err := Find(dir)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Default(), nil
	}
	return Load(path)
}

func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]struct{}, len(c.Modules.Enabled))
	for _, name := range c.Modules.Enabled {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("[modules].enabled: empty module name"))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("[modules].enabled: %q listed twice", name))
		}
		seen[name] = struct{}{}
	}
	if strings.TrimSpace(c.Modules.NoLint.Marker) == "" {
		errs = append(errs, errors.New("[modules.nolint].marker must not be empty"))
	} else if strings.ContainsAny(c.Modules.NoLint.Marker, " \t()") {
		errs = append(errs, fmt.Errorf("[modules.nolint].marker %q contains spaces or parentheses", c.Modules.NoLint.Marker))
	}
	if c.Analysis.MaxLineLength < 0 {
		errs = append(errs, errors.New("[analysis].max_line_length must not be negative"))
	}
	if c.Analysis.MaxDiagnostics < 0 {
		errs = append(errs, errors.New("[analysis].max_diagnostics must not be negative"))
	}
	if c.LSP.Debounce.Duration < 0 {
		errs = append(errs, errors.New("[lsp].debounce must not be negative"))
	}
	if addr := c.LSP.MetricsAddr; addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("[lsp].metrics_addr: %w", err))
		}
	}
	if !slices.Contains([]string{"", "console", "json"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("[log].format %q: want console or json", c.Log.Format))
	}
	return errors.Join(errs...)
}
