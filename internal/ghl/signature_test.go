package ghl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"type":"document.signed"}`)
	sig := Sign("s3cret", body)

	cases := []struct {
		name   string
		header string
		want   error
	}{
		{"valid", sig, nil},
		{"valid with prefix", "sha256=" + sig, nil},
		{"missing", "", ErrMissingSignature},
		{"not hex", "zz-not-hex", ErrInvalidSignature},
		{"wrong secret", Sign("other", body), ErrInvalidSignature},
		{"truncated", sig[:10], ErrInvalidSignature},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, VerifySignature("s3cret", body, tc.header), tc.want)
		})
	}
}

func TestSignatureCoversBody(t *testing.T) {
	sig := Sign("k", []byte("a"))
	assert.ErrorIs(t, VerifySignature("k", []byte("b"), sig), ErrInvalidSignature)
}
