package routercfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.True(t, cfg.GlobalEnabled)
	assert.True(t, cfg.ProcessingEnabled)
	assert.True(t, cfg.AutoCronEnabled)

	for name, cat := range cfg.Categories {
		assert.True(t, cat.Enabled, "category %s should default to enabled", name)
		assert.True(t, cat.FirstTimeEnabled)
		assert.True(t, cat.RecurringEnabled)
	}
}

func TestApply_TopLevelFlags(t *testing.T) {
	cfg := Apply(Defaults(), Patch{
		GlobalEnabled:   boolPtr(false),
		AutoCronEnabled: boolPtr(false),
	})

	assert.False(t, cfg.GlobalEnabled)
	assert.True(t, cfg.ProcessingEnabled, "unpatched flag keeps its value")
	assert.False(t, cfg.AutoCronEnabled)
}

func TestApply_CategoryPatch(t *testing.T) {
	cfg := Apply(Defaults(), Patch{
		Categories: map[string]CategoryPatch{
			"connect": {RecurringEnabled: boolPtr(false)},
		},
	})

	connect := cfg.Categories["connect"]
	assert.True(t, connect.Enabled)
	assert.True(t, connect.FirstTimeEnabled)
	assert.False(t, connect.RecurringEnabled)

	// Other categories untouched.
	assert.True(t, cfg.Categories["engagement"].RecurringEnabled)
}

func TestApply_NewCategoryStartsEnabled(t *testing.T) {
	cfg := Apply(Defaults(), Patch{
		Categories: map[string]CategoryPatch{
			"digest": {FirstTimeEnabled: boolPtr(false)},
		},
	})

	digest, ok := cfg.Categories["digest"]
	require.True(t, ok)
	assert.True(t, digest.Enabled)
	assert.False(t, digest.FirstTimeEnabled)
	assert.True(t, digest.RecurringEnabled)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	base := Defaults()
	_ = Apply(base, Patch{
		Categories: map[string]CategoryPatch{
			"connect": {Enabled: boolPtr(false)},
		},
	})

	assert.True(t, base.Categories["connect"].Enabled)
}

func TestCategoryAllows(t *testing.T) {
	cfg := Apply(Defaults(), Patch{
		Categories: map[string]CategoryPatch{
			"connect":    {RecurringEnabled: boolPtr(false)},
			"engagement": {Enabled: boolPtr(false)},
		},
	})

	assert.True(t, cfg.CategoryAllows("connect", false))
	assert.False(t, cfg.CategoryAllows("connect", true))
	assert.False(t, cfg.CategoryAllows("engagement", false))
	assert.False(t, cfg.CategoryAllows("engagement", true))
	assert.True(t, cfg.CategoryAllows("unknown", true), "unknown categories degrade to enabled")
}
