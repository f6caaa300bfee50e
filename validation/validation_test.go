package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type signBody struct {
	PartnerID    string `json:"partnerId" validate:"required"`
	DocumentType string `json:"documentType" validate:"required,oneof=partner_agreement w9 direct_deposit"`
	Email        string `json:"signedByEmail" validate:"omitempty,email"`
	Nested       struct {
		Rating int `json:"rating" validate:"omitempty,min=1,max=5"`
	} `json:"nested"`
}

func TestStruct(t *testing.T) {
	ok := signBody{PartnerID: "p1", DocumentType: "w9"}
	assert.Nil(t, Struct(ok))

	bad := signBody{DocumentType: "nda", Email: "nope"}
	bad.Nested.Rating = 9
	v := Struct(bad)
	assert.Equal(t, Violations{
		"partnerId":     "required",
		"documentType":  "oneof",
		"signedByEmail": "email",
		"nested.rating": "max",
	}, v)
	assert.Equal(t, []string{"documentType", "nested.rating", "partnerId", "signedByEmail"}, v.Fields())
	assert.True(t, strings.HasPrefix(v.Error(), "validation failed: documentType: oneof"))
}

func TestHelpers(t *testing.T) {
	v := Violations{}
	Required("title", "  ", v)
	MaxLength("resolution", strings.Repeat("é", 11), 10, v)
	OneOf("status", "paused", []string{"active", "resolved"}, v)
	OneOf("priority", "", []string{"low"}, v)
	RangeInt("helpfulRating", 0, 1, 5, v)

	assert.Equal(t, Violations{
		"title":         "required",
		"resolution":    "too_long",
		"status":        "invalid_choice",
		"helpfulRating": "out_of_range",
	}, v)
	assert.False(t, v.Empty())
	assert.True(t, Violations{}.Empty())
}
