package duckdb

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Params is the DuckDB section of adapter.Config.Params. Pool settings in
// the same map are decoded by adapter.ParsePool.
type Params struct {
	// Extensions are installed and loaded after connecting, e.g. "json".
	Extensions []string `mapstructure:"extensions"`
	// Settings are applied with SET on every new connection.
	Settings map[string]string `mapstructure:"settings"`
	// Secrets are created once per database.
	Secrets []SecretConfig `mapstructure:"secrets"`
}

// SecretConfig is a CREATE SECRET statement for object storage.
type SecretConfig struct {
	Type     string `mapstructure:"type"`     // s3, gcs, azure, r2
	Provider string `mapstructure:"provider"` // config, credential_chain
	Region   string `mapstructure:"region"`
	// Scope is a single path prefix or a list of them.
	Scope    any    `mapstructure:"scope"`
	KeyID    string `mapstructure:"key_id"`
	Secret   string `mapstructure:"secret"`
	Endpoint string `mapstructure:"endpoint"`
	URLStyle string `mapstructure:"url_style"`
	UseSSL   *bool  `mapstructure:"use_ssl"`
}

func parseParams(raw map[string]any) (*Params, error) {
	p := &Params{}
	if len(raw) == 0 {
		return p, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           p,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create params decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to parse duckdb params: %w", err)
	}
	return p, nil
}

// buildCreateSecretSQL renders one secret, skipping empty options.
func buildCreateSecretSQL(s SecretConfig) string {
	opts := []string{"TYPE " + s.Type}
	if s.Provider != "" {
		opts = append(opts, "PROVIDER "+s.Provider)
	}
	str := func(key, v string) {
		if v != "" {
			opts = append(opts, key+" "+literal(v))
		}
	}
	str("REGION", s.Region)
	if scope := scopes(s.Scope); len(scope) == 1 {
		opts = append(opts, "SCOPE "+literal(scope[0]))
	} else if len(scope) > 1 {
		quoted := make([]string, len(scope))
		for i, v := range scope {
			quoted[i] = literal(v)
		}
		opts = append(opts, "SCOPE ("+strings.Join(quoted, ", ")+")")
	}
	str("KEY_ID", s.KeyID)
	str("SECRET", s.Secret)
	str("ENDPOINT", s.Endpoint)
	str("URL_STYLE", s.URLStyle)
	if s.UseSSL != nil {
		opts = append(opts, fmt.Sprintf("USE_SSL %t", *s.UseSSL))
	}
	return "CREATE SECRET (\n    " + strings.Join(opts, ",\n    ") + "\n)"
}

func scopes(v any) []string {
	switch s := v.(type) {
	case string:
		if s == "" {
			return nil
		}
		return []string{s}
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, x := range s {
			out = append(out, fmt.Sprint(x))
		}
		return out
	}
	return nil
}

func literal(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// setStatements renders Settings in key order.
func (p *Params) setStatements() []string {
	keys := make([]string, 0, len(p.Settings))
	for k := range p.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = fmt.Sprintf("SET %s = %s", k, literal(p.Settings[k]))
	}
	return out
}
