package config

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/agentbridge/core/errors"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the project configuration file name.
const ConfigFileName = "agentbridge.yml"

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config file").
			WithDetail("path", path)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration data with env var expansion and defaults.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse config")
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadDefault finds and loads the configuration with hierarchical merging:
// 1. Global config (~/.config/agentbridge/agentbridge.yml) - base layer
// 2. Project config (agentbridge.yml, searched upward from cwd) - overrides global
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to get current directory")
	}

	return LoadFrom(cwd)
}

// LoadFrom loads configuration with hierarchical merging starting from the given directory
func LoadFrom(startDir string) (*Config, error) {
	var finalConfig *Config

	// 1. Load global config if it exists (optional)
	globalPath := GlobalConfigPath()
	if globalPath != "" {
		if data, err := os.ReadFile(globalPath); err == nil {
			expanded := expandEnvVars(string(data))
			var globalConfig Config
			if err := yaml.Unmarshal([]byte(expanded), &globalConfig); err == nil {
				finalConfig = &globalConfig
			}
		}
	}

	// 2. Load and merge project config if present
	projectPath, err := FindConfigFile(startDir)
	if err == nil {
		data, err := os.ReadFile(projectPath)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read project config").
				WithDetail("path", projectPath)
		}

		expanded := expandEnvVars(string(data))
		var projectConfig Config
		if err := yaml.Unmarshal([]byte(expanded), &projectConfig); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse project config").
				WithDetail("path", projectPath)
		}

		if finalConfig == nil {
			finalConfig = &projectConfig
		} else {
			finalConfig = mergeConfigs(finalConfig, &projectConfig)
		}
	}

	if finalConfig == nil {
		finalConfig = &Config{}
	}

	finalConfig.ApplyDefaults()
	return finalConfig, nil
}

// FindConfigFile searches for agentbridge.yml starting at startDir and walking
// up to the filesystem root.
func FindConfigFile(startDir string) (string, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.ConfigNotFound(filepath.Join(startDir, ConfigFileName))
		}
		dir = parent
	}
}

// GlobalConfigPath returns the XDG path of the global config file, or "" if
// the home directory cannot be determined.
func GlobalConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentbridge", ConfigFileName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "agentbridge", ConfigFileName)
}

// mergeConfigs overlays the non-zero fields of overlay onto base.
func mergeConfigs(base, overlay *Config) *Config {
	merged := *base

	if overlay.Backend.BaseURL != "" {
		merged.Backend.BaseURL = overlay.Backend.BaseURL
	}
	if overlay.Backend.Profile != "" {
		merged.Backend.Profile = overlay.Backend.Profile
	}
	if overlay.Backend.RequestTimeoutSeconds != 0 {
		merged.Backend.RequestTimeoutSeconds = overlay.Backend.RequestTimeoutSeconds
	}
	if overlay.Stream.InitialBackoffMS != 0 {
		merged.Stream.InitialBackoffMS = overlay.Stream.InitialBackoffMS
	}
	if overlay.Stream.MaxBackoffMS != 0 {
		merged.Stream.MaxBackoffMS = overlay.Stream.MaxBackoffMS
	}
	if overlay.Stream.MaxAttempts != 0 {
		merged.Stream.MaxAttempts = overlay.Stream.MaxAttempts
	}
	if overlay.Snapshot.MaxOpenFiles != 0 {
		merged.Snapshot.MaxOpenFiles = overlay.Snapshot.MaxOpenFiles
	}
	if overlay.Snapshot.MaxDiagnostics != 0 {
		merged.Snapshot.MaxDiagnostics = overlay.Snapshot.MaxDiagnostics
	}

	if len(overlay.Extensions) > 0 {
		if merged.Extensions == nil {
			merged.Extensions = make(map[string]interface{}, len(overlay.Extensions))
		} else {
			// Copy so the base map is not mutated
			copied := make(map[string]interface{}, len(merged.Extensions)+len(overlay.Extensions))
			for k, v := range merged.Extensions {
				copied[k] = v
			}
			merged.Extensions = copied
		}
		for k, v := range overlay.Extensions {
			merged.Extensions[k] = v
		}
	}

	return &merged
}

// expandEnvVars replaces ${VAR} references with environment values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarRegex.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}
