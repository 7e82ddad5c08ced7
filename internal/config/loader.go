package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/leapstack-labs/gridsql/pkg/core"
)

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("engine", func(fl validator.FieldLevel) bool {
		_, err := core.ParseEngine(fl.Field().String())
		return err == nil
	})
	return v
}

// flagKeys maps flag names to config keys where they differ.
var flagKeys = map[string]string{
	"target":     "target.type",
	"database":   "target.database",
	"path":       "target.path",
	"schema":     "catalog.schema",
	"state":      "catalog.state",
	"validate":   "compile.validate",
	"log-level":  "log.level",
	"log-format": "log.format",
	"metrics":    "metrics.listen",
	"env":        "environment",
}

// Load reads the configuration. cfgFile may be empty, in which case
// gridsql.yaml is searched upward from the working directory. Only flags
// the user changed override lower layers.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	root, cfgFile := locate(cfgFile)
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// GRIDSQL_TARGET__HOST -> target.host; single underscores stay in keys.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ProjectRoot = root

	if cfg.Environment != "" {
		envCfg, ok := cfg.Environments[cfg.Environment]
		if !ok {
			return nil, fmt.Errorf("unknown environment %q", cfg.Environment)
		}
		cfg.Target = MergeTarget(cfg.Target, envCfg.Target)
	}
	if cfg.Target != nil {
		expandTargetEnvVars(cfg.Target)
		applyTargetDefaults(cfg.Target, root)
	}
	cfg.Catalog.State = resolvePath(cfg.Catalog.State, root)
	cfg.Catalog.Schema = resolvePath(cfg.Catalog.Schema, root)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags and that the target names a known engine.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := validate.Var(c.Target.Type, "engine"); err != nil {
		return fmt.Errorf("invalid target configuration: unknown type %q", c.Target.Type)
	}
	return nil
}

// locate returns the project root and the config file to read, if any.
func locate(explicit string) (root, cfgFile string) {
	if explicit != "" {
		if abs, err := filepath.Abs(explicit); err == nil {
			return filepath.Dir(abs), abs
		}
		return filepath.Dir(explicit), explicit
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ".", ""
	}
	dir := cwd
	for range maxUpwardSearchLevels {
		if f := configIn(dir); f != "" {
			return dir, f
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd, ""
}

func configIn(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// resolvePath resolves a path relative to baseDir if it's not absolute.
func resolvePath(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func applyTargetDefaults(t *core.AdapterConfig, root string) {
	e, err := core.ParseEngine(t.Type)
	if err != nil {
		return
	}
	if t.Port == 0 {
		t.Port = defaultPorts[e.String()]
	}
	if e == core.EngineSQLite || e == core.EngineDuckDB {
		t.Path = resolvePath(t.Path, root)
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns, leaving unknown variables as is.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return val
		}
		return match
	})
}

func expandTargetEnvVars(t *core.AdapterConfig) {
	t.Password = expandEnvVars(t.Password)
	t.Username = expandEnvVars(t.Username)
	t.Host = expandEnvVars(t.Host)
	t.Database = expandEnvVars(t.Database)
	t.Path = expandEnvVars(t.Path)
}

// MergeTarget returns base with the non-zero fields of override applied.
// Options and Params are merged key by key.
func MergeTarget(base, override *core.AdapterConfig) *core.AdapterConfig {
	if base == nil {
		return override
	}
	if override == nil {
		return base
	}
	merged := *base
	merged.Options = make(map[string]string, len(base.Options)+len(override.Options))
	merged.Params = make(map[string]any, len(base.Params)+len(override.Params))
	for k, v := range base.Options {
		merged.Options[k] = v
	}
	for k, v := range base.Params {
		merged.Params[k] = v
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&merged.Type, override.Type)
	set(&merged.Path, override.Path)
	set(&merged.Host, override.Host)
	set(&merged.Database, override.Database)
	set(&merged.Username, override.Username)
	set(&merged.Password, override.Password)
	set(&merged.Schema, override.Schema)
	if override.Port != 0 {
		merged.Port = override.Port
	}
	for k, v := range override.Options {
		merged.Options[k] = v
	}
	for k, v := range override.Params {
		merged.Params[k] = v
	}
	return &merged
}
