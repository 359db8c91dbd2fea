package util

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, 403, "permission_denied", "Insufficient permissions to delete quotes", "rid-1")
	var body APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != 403 || body.Code != "permission_denied" || body.RequestID != "rid-1" {
		t.Fatalf("unexpected response %d %+v", rec.Code, body)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("missing content type")
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct{ Email string }
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"email":"a@example.com"}`))
	if err := DecodeJSON(r, &v); err != nil || v.Email != "a@example.com" {
		t.Fatalf("decode: %v %+v", err, v)
	}
	r = httptest.NewRequest("POST", "/", strings.NewReader(`{"email":"a"} {"x":1}`))
	if err := DecodeJSON(r, &v); err == nil {
		t.Fatalf("expected trailing data error")
	}
	r = httptest.NewRequest("POST", "/", strings.NewReader(`nope`))
	if err := DecodeJSON(r, &v); err == nil {
		t.Fatalf("expected invalid json error")
	}
}

func TestRandomTokenUnique(t *testing.T) {
	if a, b := RandomToken(), RandomToken(); a == b || len(a) < 40 {
		t.Fatalf("unexpected tokens %q %q", a, b)
	}
}
