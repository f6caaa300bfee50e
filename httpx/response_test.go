package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFail(t *testing.T) {
	rr := httptest.NewRecorder()
	Fail(rr, http.StatusBadRequest, "Invalid type", map[string]string{"type": "oneof"})

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["success"] != false || body["error"] != "Invalid type" {
		t.Errorf("unexpected body %v", body)
	}
	if _, ok := body["details"]; !ok {
		t.Error("expected details")
	}
}

func TestJSON_EncodeError(t *testing.T) {
	rr := httptest.NewRecorder()
	JSON(rr, http.StatusOK, map[string]any{"ch": make(chan int)})
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on encode failure, got %d", rr.Code)
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Type string `json:"type"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"type":"w9"}`))
	if err := DecodeJSON(r, &dst); err != nil || dst.Type != "w9" {
		t.Fatalf("DecodeJSON = %v, %q", err, dst.Type)
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	if err := DecodeJSON(r, &dst); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{not json`))
	if err := DecodeJSON(r, &dst); !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("expected ErrInvalidJSON, got %v", err)
	}
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=25&offset=abc", nil)
	if n, err := QueryInt(r, "limit", 20); err != nil || n != 25 {
		t.Errorf("limit = %d, %v", n, err)
	}
	if n, err := QueryInt(r, "missing", 20); err != nil || n != 20 {
		t.Errorf("missing = %d, %v", n, err)
	}
	if _, err := QueryInt(r, "offset", 0); err == nil {
		t.Error("expected error for non-numeric offset")
	}
}
