package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

var ErrResponseWritten = errors.New("oauth: response already written")

// Response collects the status, headers and body produced while a request is
// mediated. Nothing reaches the transport until WriteTo is called.
type Response struct {
	Status  int
	Headers http.Header
	Body    any
	// RedirectTarget, when set, turns the response into a redirect.
	RedirectTarget *url.URL

	written bool
}

func NewResponse() *Response {
	return &Response{Status: http.StatusOK, Headers: http.Header{}}
}

func (r *Response) Set(key, value string) {
	r.Headers.Set(key, value)
}

func (r *Response) Get(key string) string {
	return r.Headers.Get(key)
}

// Redirect marks the response as a 302 to u.
func (r *Response) Redirect(u *url.URL) {
	r.RedirectTarget = u
	r.Status = http.StatusFound
}

// IsRedirect reports whether WriteTo will issue a redirect.
func (r *Response) IsRedirect() bool {
	return r.RedirectTarget != nil && r.Status == http.StatusFound
}

// MergeHeaders copies the collected headers onto w without writing anything else.
func (r *Response) MergeHeaders(w http.ResponseWriter) {
	for k, v := range r.Headers {
		w.Header()[k] = append([]string(nil), v...)
	}
}

// WriteTo flushes the response onto w. It may be called once.
func (r *Response) WriteTo(w http.ResponseWriter, req *http.Request) error {
	if r.written {
		return ErrResponseWritten
	}
	r.written = true

	r.MergeHeaders(w)
	if r.IsRedirect() {
		http.Redirect(w, req, r.RedirectTarget.String(), http.StatusFound)
		return nil
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	if r.Body == nil {
		w.WriteHeader(status)
		return nil
	}
	data, err := json.Marshal(r.Body)
	if err != nil {
		return fmt.Errorf("encode response body: %w", err)
	}
	w.Header().Set("Content-Type", string(ContentTypeJSON)+"; charset=utf-8")
	w.WriteHeader(status)
	_, err = w.Write(data)
	return err
}
