// Package documents serves partner document templates: the bundled demo
// set, database-managed versions, and placeholder interpolation.
package documents

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/diewo77/go-partners/internal/models"
)

//go:embed templates.yaml
var demoYAML []byte

// DefaultVersion is assigned to templates created without a version.
const DefaultVersion = "1.0"

// DateLayout renders the {{DATE}} placeholder.
const DateLayout = "January 2, 2006"

// Template is a template as returned to API callers.
type Template struct {
	ID       string `json:"id" yaml:"-"`
	Type     string `json:"type" yaml:"type"`
	Title    string `json:"title" yaml:"title"`
	Content  string `json:"content" yaml:"content"`
	Version  string `json:"version" yaml:"version"`
	IsActive bool   `json:"isActive" yaml:"-"`
}

var (
	demoOnce sync.Once
	demo     []Template
	demoErr  error
)

// Demo returns a copy of the bundled templates, one per document type, in
// display order. Their IDs are "demo-<type>".
func Demo() []Template {
	demoOnce.Do(func() {
		demoErr = yaml.Unmarshal(demoYAML, &demo)
		for i := range demo {
			demo[i].ID = "demo-" + demo[i].Type
			demo[i].IsActive = true
			demo[i].Content = strings.TrimSpace(demo[i].Content)
		}
	})
	if demoErr != nil {
		panic(fmt.Sprintf("documents: bundled templates: %v", demoErr))
	}
	return slices.Clone(demo)
}

// DemoByType returns the bundled template for docType.
func DemoByType(docType string) (Template, bool) {
	for _, t := range Demo() {
		if t.Type == docType {
			return t, true
		}
	}
	return Template{}, false
}

// IsValidType reports whether docType is a known document type.
func IsValidType(docType string) bool {
	return slices.Contains(models.DocumentTypes, docType)
}

// FromModel converts a database row.
func FromModel(m models.DocumentTemplate) Template {
	return Template{
		ID:       m.ID,
		Type:     m.Type,
		Title:    m.Title,
		Content:  m.Content,
		Version:  m.Version,
		IsActive: m.IsActive,
	}
}

// Values fills template placeholders. Empty fields leave their placeholder
// in place, except Date which defaults to today.
type Values struct {
	BusinessName    string
	BusinessAddress string
	ContactName     string
	EntityType      string
	Date            string
}

// ValuesFromPartner takes placeholder values from a partner record.
func ValuesFromPartner(p *models.Partner) Values {
	if p == nil {
		return Values{}
	}
	return Values{
		BusinessName:    p.BusinessName,
		BusinessAddress: p.BusinessAddress,
		ContactName:     p.ContactName,
		EntityType:      p.EntityType,
	}
}

// Override returns v with every non-empty field of o applied on top.
func (v Values) Override(o Values) Values {
	set := func(dst *string, src string) {
		if s := strings.TrimSpace(src); s != "" {
			*dst = s
		}
	}
	set(&v.BusinessName, o.BusinessName)
	set(&v.BusinessAddress, o.BusinessAddress)
	set(&v.ContactName, o.ContactName)
	set(&v.EntityType, o.EntityType)
	set(&v.Date, o.Date)
	return v
}

// Interpolate substitutes the known placeholders in content. Unknown
// placeholders are left intact.
func Interpolate(content string, v Values, now time.Time) string {
	date := v.Date
	if date == "" {
		date = now.Format(DateLayout)
	}
	pairs := []string{"{{DATE}}", date}
	for placeholder, val := range map[string]string{
		"{{BUSINESS_NAME}}":        v.BusinessName,
		"{{BUSINESS_ADDRESS}}":     v.BusinessAddress,
		"{{CONTACT_NAME}}":         v.ContactName,
		"{{BUSINESS_ENTITY_TYPE}}": v.EntityType,
	} {
		if val != "" {
			pairs = append(pairs, placeholder, val)
		}
	}
	return strings.NewReplacer(pairs...).Replace(content)
}
