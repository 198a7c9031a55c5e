package extension

import (
	"time"

	"github.com/xraph/grove"

	entitle "github.com/xraph/entitle"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/store"
)

// Option configures the Entitle Forge extension.
type Option func(*Extension)

// WithStore sets the store for the entitle engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithDatabase builds the store from a grove database. The driver selects
// which backend wraps it (postgres, sqlite, or mongo).
func WithDatabase(db *grove.DB, driver Driver) Option {
	return func(e *Extension) {
		e.db = db
		e.driver = driver
	}
}

// WithEngineOption passes an entitle.Option through to the underlying engine.
func WithEngineOption(opt entitle.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an entitle plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, entitle.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP route registration.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for entitle routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithSigningSecret sets the webhook signing secret.
func WithSigningSecret(secret string) Option {
	return func(e *Extension) { e.config.SigningSecret = secret }
}

// WithGraceWindow sets the past-due grace window.
func WithGraceWindow(d time.Duration) Option {
	return func(e *Extension) { e.config.GraceWindow = d }
}

// WithCacheTTL sets the entitlement cache duration.
func WithCacheTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.CacheTTL = d }
}

// WithSweepInterval sets how often due subscriptions are re-evaluated.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.SweepInterval = d }
}

// WithImmediateDowngrade applies downgrades as soon as the event arrives.
func WithImmediateDowngrade() Option {
	return func(e *Extension) { e.config.ImmediateDowngrade = true }
}
