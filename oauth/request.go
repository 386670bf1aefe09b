package oauth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

type ContentType string

const (
	ContentTypeJSON ContentType = "application/json"
	ContentTypeForm ContentType = "application/x-www-form-urlencoded"
)

// maxBodySize caps the request bodies read by NewRequest.
const maxBodySize = 1 << 20

// Request is a transport independent snapshot of an inbound HTTP request.
type Request struct {
	Method  string
	Headers http.Header
	Query   url.Values
	Body    url.Values
}

// NewRequest snapshots r. Form bodies are parsed as-is; JSON object bodies are
// flattened into string values. Other content types leave Body empty.
func NewRequest(r *http.Request) (*Request, error) {
	if r == nil {
		return nil, InvalidArgument("Missing parameter: `request`")
	}
	req := &Request{
		Method:  r.Method,
		Headers: r.Header.Clone(),
		Query:   r.URL.Query(),
		Body:    url.Values{},
	}
	if req.Headers == nil {
		req.Headers = http.Header{}
	}
	if r.Body == nil || r.Body == http.NoBody {
		return req, nil
	}

	ct := ContentType(mediaType(r.Header.Get("Content-Type")))
	if ct != ContentTypeForm && ct != ContentTypeJSON {
		return req, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, ServerError(fmt.Errorf("read request body: %w", err))
	}
	if len(data) > maxBodySize {
		return nil, InvalidRequest("Invalid request: body too large")
	}
	// handlers further down the chain may read the body again
	r.Body = io.NopCloser(bytes.NewReader(data))
	if len(bytes.TrimSpace(data)) == 0 {
		return req, nil
	}

	switch ct {
	case ContentTypeForm:
		form, err := url.ParseQuery(string(data))
		if err != nil {
			return nil, InvalidRequest("Invalid request: malformed form body")
		}
		req.Body = form
	case ContentTypeJSON:
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, InvalidRequest("Invalid request: malformed JSON body")
		}
		for k, v := range m {
			if s, ok := formatValue(v); ok {
				req.Body.Set(k, s)
			}
		}
	}
	return req, nil
}

func formatValue(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	default:
		return fmt.Sprintf("%v", t), true
	}
}

// Get returns the first value of the named header.
func (r *Request) Get(header string) string {
	return r.Headers.Get(header)
}

// Is reports whether the request content type is one of types.
func (r *Request) Is(types ...ContentType) bool {
	mt := ContentType(mediaType(r.Headers.Get("Content-Type")))
	for _, t := range types {
		if mt == t {
			return true
		}
	}
	return false
}

// Param returns name from the body, falling back to the query string.
func (r *Request) Param(name string) string {
	if v := r.Body.Get(name); v != "" {
		return v
	}
	return r.Query.Get(name)
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mt
}
