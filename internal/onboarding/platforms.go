package onboarding

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed platforms.yaml
var platformsYAML []byte

// SetupStep is one step of a platform integration guide.
type SetupStep struct {
	Title        string `json:"title" yaml:"title"`
	Instructions string `json:"instructions" yaml:"instructions"`
}

// Troubleshooting pairs a known issue with its fix.
type Troubleshooting struct {
	Issue    string `json:"issue" yaml:"issue"`
	Solution string `json:"solution" yaml:"solution"`
}

// Platform is a third-party system partners commonly run, with the guide
// for wiring insurance into it.
type Platform struct {
	Slug                string            `json:"slug" yaml:"slug"`
	Name                string            `json:"name" yaml:"name"`
	Category            string            `json:"category" yaml:"category"`
	Description         string            `json:"description" yaml:"description"`
	TechnicalComplexity string            `json:"technicalComplexity" yaml:"technicalComplexity"`
	Keywords            []string          `json:"-" yaml:"keywords"`
	SupportedFeatures   []string          `json:"supportedFeatures" yaml:"supportedFeatures"`
	SetupSteps          []SetupStep       `json:"setupSteps" yaml:"setupSteps"`
	Troubleshooting     []Troubleshooting `json:"troubleshooting" yaml:"troubleshooting"`
}

var loadPlatforms = sync.OnceValues(func() ([]Platform, error) {
	var out []Platform
	if err := yaml.Unmarshal(platformsYAML, &out); err != nil {
		return nil, err
	}
	for i := range out {
		for j := range out[i].SetupSteps {
			out[i].SetupSteps[j].Instructions = strings.TrimSpace(out[i].SetupSteps[j].Instructions)
		}
	}
	return out, nil
})

// Platforms returns the bundled platform catalog.
func Platforms() []Platform {
	p, err := loadPlatforms()
	if err != nil {
		panic(fmt.Sprintf("onboarding: bundled platform catalog: %v", err))
	}
	return slices.Clone(p)
}

// PlatformBySlug looks a platform up by slug. Case and spaces are ignored,
// so "Zen Planner" finds "zen-planner".
func PlatformBySlug(slug string) (Platform, bool) {
	want := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(slug)), " ", "-")
	for _, p := range Platforms() {
		if p.Slug == want {
			return p, true
		}
	}
	return Platform{}, false
}

// DetectPlatform finds the platform mentioned in a message or URL. When
// several match, the longest keyword wins.
func DetectPlatform(textOrURL string) (Platform, bool) {
	text := strings.ToLower(textOrURL)
	var (
		best    Platform
		bestLen int
	)
	for _, p := range Platforms() {
		for _, k := range p.Keywords {
			if len(k) > bestLen && strings.Contains(text, k) {
				best, bestLen = p, len(k)
			}
		}
	}
	return best, bestLen > 0
}
