package onboarding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlatformCatalog(t *testing.T) {
	ps := Platforms()
	require.Len(t, ps, 7)
	for _, p := range ps {
		assert.NotEmpty(t, p.Name, p.Slug)
		assert.NotEmpty(t, p.Keywords, p.Slug)
		assert.NotEmpty(t, p.SetupSteps, p.Slug)
	}
}

func TestPlatformBySlug(t *testing.T) {
	p, ok := PlatformBySlug("Zen Planner")
	require.True(t, ok)
	assert.Equal(t, "zen-planner", p.Slug)

	_, ok = PlatformBySlug("clubready")
	assert.False(t, ok)
}

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"We book classes through MindBody", "mindbody"},
		{"https://mystudio.zenplanner.com/signup", "zen-planner"},
		{"our store runs on a WordPress shop with woo", "woocommerce"},
		{"just a WordPress site", "generic-widget"},
		{"we take payments with Square POS at the desk", "square"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			p, ok := DetectPlatform(tt.text)
			require.True(t, ok)
			assert.Equal(t, tt.want, p.Slug)
		})
	}

	_, ok := DetectPlatform("pen and paper")
	assert.False(t, ok)
}
