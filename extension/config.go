package extension

import "time"

// Config holds the Entitle extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.entitle" or "entitle" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for entitle routes (default: "/entitle").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// SigningSecret is the shared secret for webhook signature verification.
	// Prefer supplying it here (e.g. from an env-expanded config file) over
	// hardcoding it in application code.
	SigningSecret string `json:"signing_secret" mapstructure:"signing_secret" yaml:"signing_secret"`

	// GraceWindow is how long past-due subscriptions keep their tier while
	// payment retries run (default: 72h).
	GraceWindow time.Duration `json:"grace_window" mapstructure:"grace_window" yaml:"grace_window"`

	// CacheTTL controls how long resolved entitlements are cached before
	// re-evaluating against the store (default: 30s).
	CacheTTL time.Duration `json:"cache_ttl" mapstructure:"cache_ttl" yaml:"cache_ttl"`

	// SweepInterval is how often due subscriptions are re-evaluated
	// (default: 1m).
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// ImmediateDowngrade applies plan downgrades as soon as the provider
	// event arrives instead of deferring them to the period end.
	ImmediateDowngrade bool `json:"immediate_downgrade" mapstructure:"immediate_downgrade" yaml:"immediate_downgrade"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:      "/entitle",
		GraceWindow:   72 * time.Hour,
		CacheTTL:      30 * time.Second,
		SweepInterval: time.Minute,
	}
}
