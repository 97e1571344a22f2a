// Package routercfg manages the singleton router configuration: the global
// and per-category kill switches consulted on every scheduling and
// processing entry point.
package routercfg

import (
	"context"

	"github.com/bissquit/push-garden/internal/domain"
)

// Store persists the router configuration. Load always returns a complete
// config with defaults merged in, so missing or partial persisted state
// degrades to "enabled with defaults" rather than failing.
type Store interface {
	Load(ctx context.Context) (domain.RouterConfig, error)
	Save(ctx context.Context, patch Patch) (domain.RouterConfig, error)
}

// Defaults is the configuration used when nothing is persisted yet.
func Defaults() domain.RouterConfig {
	return domain.RouterConfig{
		GlobalEnabled:     true,
		ProcessingEnabled: true,
		AutoCronEnabled:   true,
		Categories: map[string]domain.CategoryConfig{
			"connect":    {Enabled: true, FirstTimeEnabled: true, RecurringEnabled: true},
			"engagement": {Enabled: true, FirstTimeEnabled: true, RecurringEnabled: true},
		},
	}
}

// CategoryPatch is a partial update of one category's toggles.
type CategoryPatch struct {
	Enabled          *bool `json:"enabled,omitempty"`
	FirstTimeEnabled *bool `json:"first_time_enabled,omitempty"`
	RecurringEnabled *bool `json:"recurring_enabled,omitempty"`
}

// Patch is a partial update of the router configuration. Nil fields leave
// the stored value untouched.
type Patch struct {
	GlobalEnabled     *bool                    `json:"global_enabled,omitempty"`
	ProcessingEnabled *bool                    `json:"processing_enabled,omitempty"`
	AutoCronEnabled   *bool                    `json:"auto_cron_enabled,omitempty"`
	Categories        map[string]CategoryPatch `json:"categories,omitempty"`
}

// Apply merges a patch onto a config and returns the result.
func Apply(cfg domain.RouterConfig, p Patch) domain.RouterConfig {
	if p.GlobalEnabled != nil {
		cfg.GlobalEnabled = *p.GlobalEnabled
	}
	if p.ProcessingEnabled != nil {
		cfg.ProcessingEnabled = *p.ProcessingEnabled
	}
	if p.AutoCronEnabled != nil {
		cfg.AutoCronEnabled = *p.AutoCronEnabled
	}

	if len(p.Categories) > 0 {
		merged := make(map[string]domain.CategoryConfig, len(cfg.Categories)+len(p.Categories))
		for name, cat := range cfg.Categories {
			merged[name] = cat
		}
		for name, cp := range p.Categories {
			cat, ok := merged[name]
			if !ok {
				// New categories start from the safe default, then patch.
				cat = domain.CategoryConfig{Enabled: true, FirstTimeEnabled: true, RecurringEnabled: true}
			}
			if cp.Enabled != nil {
				cat.Enabled = *cp.Enabled
			}
			if cp.FirstTimeEnabled != nil {
				cat.FirstTimeEnabled = *cp.FirstTimeEnabled
			}
			if cp.RecurringEnabled != nil {
				cat.RecurringEnabled = *cp.RecurringEnabled
			}
			merged[name] = cat
		}
		cfg.Categories = merged
	}

	return cfg
}
