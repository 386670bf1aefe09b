package oauth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestResponse_Defaults(t *testing.T) {
	res := NewResponse()
	if res.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", res.Status)
	}
	if res.Headers == nil || len(res.Headers) != 0 {
		t.Errorf("Headers = %v, want empty", res.Headers)
	}
}

func TestResponse_WriteToJSON(t *testing.T) {
	res := NewResponse()
	res.Set("cache-control", "no-store")
	res.Body = map[string]string{"access_token": "foobar"}

	rr := httptest.NewRecorder()
	if err := res.WriteTo(rr, httptest.NewRequest(http.MethodPost, "/", nil)); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if rr.Code != http.StatusOK {
		t.Errorf("code = %d", rr.Code)
	}
	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["access_token"] != "foobar" {
		t.Errorf("body = %v", body)
	}
}

func TestResponse_WriteToRedirect(t *testing.T) {
	res := NewResponse()
	u, _ := url.Parse("http://example.com/?code=123&state=foobiz")
	res.Redirect(u)

	rr := httptest.NewRecorder()
	if err := res.WriteTo(rr, httptest.NewRequest(http.MethodPost, "/", nil)); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if rr.Code != http.StatusFound {
		t.Errorf("code = %d, want 302", rr.Code)
	}
	if got := rr.Header().Get("Location"); got != "http://example.com/?code=123&state=foobiz" {
		t.Errorf("Location = %q", got)
	}
}

func TestResponse_WriteToOnce(t *testing.T) {
	res := NewResponse()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if err := res.WriteTo(rr, req); err != nil {
		t.Fatalf("first WriteTo: %v", err)
	}
	if err := res.WriteTo(rr, req); !errors.Is(err, ErrResponseWritten) {
		t.Fatalf("second WriteTo err = %v, want ErrResponseWritten", err)
	}
}
