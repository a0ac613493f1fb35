package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".skytext"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// EnvPrefix prefixes every grouped environment variable.
	EnvPrefix = "SKYTEXT"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("SKYTEXT_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := resolveHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("SKYTEXT_HOME")); h != "" {
		return expandHome(h)
	}
	return os.UserHomeDir()
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	base, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, p[1:]), nil
}

// Load loads the configuration from file and environment variables.
// Priority: SKYTEXT_* env > legacy env names > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Env files only fill variables the process does not already have.
	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err == nil {
		data, err := loadResolvedConfig(path)
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyLegacyEnv(cfg)

	groups := []struct {
		name   string
		target any
	}{
		{"GATEWAY", &cfg.Gateway},
		{"TWILIO", &cfg.Twilio},
		{"AGENT", &cfg.Agent},
		{"STORE", &cfg.Store},
		{"WEATHER", &cfg.Weather},
		{"MIRROR", &cfg.Mirror},
		{"ALERTS", &cfg.Alerts},
		{"TELEMETRY", &cfg.Telemetry},
		{"LOG", &cfg.Log},
	}
	for _, g := range groups {
		if err := envconfig.Process(EnvPrefix+"_"+g.name, g.target); err != nil {
			return nil, fmt.Errorf("env %s_%s: %w", EnvPrefix, g.name, err)
		}
	}

	if p, err := expandHome(cfg.Store.Path); err == nil {
		cfg.Store.Path = p
	}
	if p, err := expandHome(cfg.Weather.FixturesDir); err == nil {
		cfg.Weather.FixturesDir = p
	}
	return cfg, nil
}

// applyLegacyEnv maps the unprefixed variable names used by earlier
// deployments onto their groups.
func applyLegacyEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("TWILIO_AUTH_TOKEN", &cfg.Twilio.AuthToken)
	str("DEFAULT_LOCATION", &cfg.Agent.DefaultLocation)
	str("TRACE_STORE_PATH", &cfg.Store.Path)
	str("TRACE_STORE_MODE", &cfg.Store.Mode)
	str("DATABASE_URL", &cfg.Store.DSN)
	str("LOG_LEVEL", &cfg.Log.Level)
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = n
		}
	}
	if v := os.Getenv("MAX_INPUT_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxInputChars = n
		}
	}
	if v := os.Getenv("FEATURE_INCLUDE_REF_ID"); v != "" {
		cfg.Agent.IncludeRefID = strings.EqualFold(v, "true") || v == "1"
	}
	if strings.EqualFold(os.Getenv("EVAL_MODE"), WeatherModeFixture) {
		cfg.Weather.Mode = WeatherModeFixture
	}
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func loadResolvedConfig(path string) ([]byte, error) {
	obj, err := loadConfigObject(path, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

func loadConfigObject(path string, visited map[string]struct{}) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, seen := visited[absPath]; seen {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	visited[absPath] = struct{}{}
	defer delete(visited, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", absPath, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	merged := map[string]any{}
	if includeRaw, ok := raw["$include"]; ok {
		includeFiles, err := parseIncludes(includeRaw)
		if err != nil {
			return nil, err
		}
		baseDir := filepath.Dir(absPath)
		for _, includePath := range includeFiles {
			resolvedPath := includePath
			if !filepath.IsAbs(includePath) {
				resolvedPath = filepath.Join(baseDir, includePath)
			}
			child, err := loadConfigObject(resolvedPath, visited)
			if err != nil {
				return nil, err
			}
			deepMerge(merged, child)
		}
	}
	delete(raw, "$include")
	substituteEnvValues(raw)
	deepMerge(merged, raw)
	return merged, nil
}

func parseIncludes(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			if strings.TrimSpace(s) == "" {
				continue
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("$include must be a string or array of strings")
	}
}

func deepMerge(dst, src map[string]any) {
	for key, val := range src {
		srcMap, srcIsMap := val.(map[string]any)
		if !srcIsMap {
			dst[key] = val
			continue
		}
		dstMap, ok := dst[key].(map[string]any)
		if !ok {
			dstMap = map[string]any{}
			dst[key] = dstMap
		}
		deepMerge(dstMap, srcMap)
	}
}

func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			name := envPattern.FindStringSubmatch(match)[1]
			if value, ok := os.LookupEnv(name); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
