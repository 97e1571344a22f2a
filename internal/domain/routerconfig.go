package domain

// CategoryConfig holds per-category delivery toggles. FirstTimeEnabled
// gates one-shot items, RecurringEnabled gates re-armed occurrences.
type CategoryConfig struct {
	Enabled          bool `json:"enabled"`
	FirstTimeEnabled bool `json:"first_time_enabled"`
	RecurringEnabled bool `json:"recurring_enabled"`
}

// RouterConfig is the singleton flags object consulted on every scheduling
// and processing entry point. GlobalEnabled blocks new enqueue when false;
// ProcessingEnabled and AutoCronEnabled gate delivery-processor runs.
type RouterConfig struct {
	GlobalEnabled     bool                      `json:"global_enabled"`
	ProcessingEnabled bool                      `json:"processing_enabled"`
	AutoCronEnabled   bool                      `json:"auto_cron_enabled"`
	Categories        map[string]CategoryConfig `json:"categories"`
}

// CategoryAllows reports whether delivery for the given category and item
// kind is enabled. Categories absent from the config fall back to enabled,
// so partial configuration degrades to "on" rather than silently dropping
// sends.
func (c RouterConfig) CategoryAllows(category string, recurring bool) bool {
	cat, ok := c.Categories[category]
	if !ok {
		return true
	}
	if !cat.Enabled {
		return false
	}
	if recurring {
		return cat.RecurringEnabled
	}
	return cat.FirstTimeEnabled
}
