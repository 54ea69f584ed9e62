package idtokenverifier

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/yevtyushkin/id-token-verifier/jwks"
)

// RetryConfig configures the retry policy applied to JWKS fetches.
type RetryConfig struct {
	MaxAttempts  uint          `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	MaxElapsed   time.Duration `mapstructure:"max_elapsed"`
}

// Config describes a verifier declaratively, for applications that wire
// the library from a config file or environment variables instead of code.
// Exactly one of IssuerURL (discovery) or JWKSURI (direct) must be set.
type Config struct {
	Name      string   `mapstructure:"name"`
	IssuerURL string   `mapstructure:"issuer_url"`
	JWKSURI   string   `mapstructure:"jwks_uri"`
	Issuers   []string `mapstructure:"issuers"`
	Audiences []string `mapstructure:"audiences"`

	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	RefreshInterval   time.Duration `mapstructure:"refresh_interval"`
	BackgroundRefresh bool          `mapstructure:"background_refresh"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	ServeStale        *bool         `mapstructure:"serve_stale"`
	CacheDisabled     bool          `mapstructure:"cache_disabled"`

	ClockSkew             time.Duration `mapstructure:"clock_skew"`
	ExpiryRequired        *bool         `mapstructure:"expiry_required"`
	AllowMissingKeyAlg    bool          `mapstructure:"allow_missing_key_alg"`
	RefreshOnUnknownKeyID *bool         `mapstructure:"refresh_on_unknown_key_id"`

	Retry RetryConfig `mapstructure:"retry"`
}

// LoadConfig reads a Config from the given file plus the process
// environment. Environment variables use the IDTV_ prefix with underscores
// for nesting, e.g. IDTV_RETRY_MAX_ATTEMPTS. An optional .env file next to
// the working directory is loaded first when present. Pass an empty path
// to configure from the environment alone.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("IDTV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v, reflect.TypeOf(Config{}), "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		// Environment values arrive as strings; weak decoding turns them
		// into the bool, uint, and pointer fields of Config.
		dc.WeaklyTypedInput = true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindEnvKeys walks the mapstructure tags of the config struct and binds
// each key to its environment variable. Viper's AutomaticEnv only resolves
// keys it has already seen, so without explicit binds a config built purely
// from the environment would come back empty.
func bindEnvKeys(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if field.Type.Kind() == reflect.Struct {
			bindEnvKeys(v, field.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// Validate checks the config for contradictions before any network work.
func (c *Config) Validate() error {
	if c.IssuerURL == "" && c.JWKSURI == "" {
		return errors.New("config requires one of issuer_url or jwks_uri")
	}
	if c.IssuerURL != "" && c.JWKSURI != "" {
		return errors.New("config must set only one of issuer_url and jwks_uri")
	}
	if len(c.Issuers) == 0 {
		return errors.New("config requires at least one allowed issuer")
	}
	if len(c.Audiences) == 0 {
		return errors.New("config requires at least one allowed audience")
	}
	return nil
}

// NewProvider builds the JWKS provider described by the config.
func (c *Config) NewProvider() (*jwks.Provider, error) {
	opts := make([]jwks.ProviderOption, 0, 8)

	if c.IssuerURL != "" {
		issuerURL, err := url.Parse(c.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("invalid issuer_url: %w", err)
		}
		opts = append(opts, jwks.WithIssuerURL(issuerURL))
	} else {
		jwksURL, err := url.Parse(c.JWKSURI)
		if err != nil {
			return nil, fmt.Errorf("invalid jwks_uri: %w", err)
		}
		opts = append(opts, jwks.WithJWKSURI(jwksURL))
	}

	if c.CacheTTL > 0 {
		opts = append(opts, jwks.WithCacheTTL(c.CacheTTL))
	}
	if c.BackgroundRefresh {
		opts = append(opts, jwks.WithBackgroundRefresh(c.RefreshInterval))
	}
	if c.FetchTimeout > 0 {
		opts = append(opts, jwks.WithFetchTimeout(c.FetchTimeout))
	}
	if c.ServeStale != nil {
		opts = append(opts, jwks.WithServeStale(*c.ServeStale))
	}
	if c.RefreshOnUnknownKeyID != nil {
		opts = append(opts, jwks.WithRefreshOnUnknownKID(*c.RefreshOnUnknownKeyID))
	}
	if c.CacheDisabled {
		opts = append(opts, jwks.WithCacheDisabled())
	}

	if c.Retry != (RetryConfig{}) {
		retry := jwks.DefaultRetryPolicy()
		if c.Retry.MaxAttempts > 0 {
			retry.MaxAttempts = c.Retry.MaxAttempts
		}
		if c.Retry.InitialDelay > 0 {
			retry.InitialDelay = c.Retry.InitialDelay
		}
		if c.Retry.MaxDelay > 0 {
			retry.MaxDelay = c.Retry.MaxDelay
		}
		if c.Retry.MaxElapsed > 0 {
			retry.MaxElapsed = c.Retry.MaxElapsed
		}
		opts = append(opts, jwks.WithRetryPolicy(retry))
	}

	return jwks.NewProvider(opts...)
}

// NewVerifier builds the provider and verifier described by the config.
// The returned provider should be closed when the verifier is retired.
func (c *Config) NewVerifier(opts ...Option) (*Verifier, *jwks.Provider, error) {
	provider, err := c.NewProvider()
	if err != nil {
		return nil, nil, err
	}

	verifierOpts := make([]Option, 0, len(opts)+4)
	if c.ClockSkew > 0 {
		verifierOpts = append(verifierOpts, WithClockSkew(c.ClockSkew))
	}
	if c.ExpiryRequired != nil {
		verifierOpts = append(verifierOpts, WithExpiryRequired(*c.ExpiryRequired))
	}
	if c.AllowMissingKeyAlg {
		verifierOpts = append(verifierOpts, WithAllowMissingKeyAlgorithm(true))
	}
	if c.Name != "" {
		verifierOpts = append(verifierOpts, WithName(c.Name))
	}
	verifierOpts = append(verifierOpts, opts...)

	verifier, err := New(provider, c.Issuers, c.Audiences, verifierOpts...)
	if err != nil {
		provider.Close()
		return nil, nil, err
	}
	return verifier, provider, nil
}
