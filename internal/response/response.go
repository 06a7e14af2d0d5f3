// Package response builds outgoing responses and serializes them onto the wire.
package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"webrs/internal/errors"
)

// Header names injected at serialization time.
const (
	HeaderContentType     = "content-type"
	HeaderContentLength   = "content-length"
	HeaderContentEncoding = "content-encoding"
)

// Response is a mutable builder. Nothing is validated until WriteTo.
type Response struct {
	status      int
	contentType string
	headers     map[string]string
	body        []byte
}

// New creates an empty response.
func New(status int, contentType string) *Response {
	return &Response{
		status:      status,
		contentType: contentType,
		headers:     make(map[string]string),
	}
}

// Basic renders a minimal HTML page for a status and its description.
func Basic(status int, description string) *Response {
	page := fmt.Sprintf(`
      <html>
        <body>
          <h1>%d %s</h1>
        </body>
      </html>
    `, status, description)

	res := New(status, "text/html")
	res.SetBody([]byte(page))
	return res
}

// FromError renders err with Basic using its status and description. Errors
// that are not HTTPErrors become a 500 page.
func FromError(err error) *Response {
	if he, ok := err.(*errors.HTTPError); ok {
		return Basic(he.Status, he.Description)
	}
	return Basic(500, errors.DescriptionFor(errors.InternalError))
}

// FromJSON encodes v as JSON.
func FromJSON(status int, v any) (*Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.New(errors.SerializationError, fmt.Errorf("json: %w", err))
	}
	res := New(status, "application/json")
	res.SetBody(data)
	return res, nil
}

// FromYAML encodes v as YAML.
func FromYAML(status int, v any) (res *Response, err error) {
	// yaml.v3 panics on some unsupported values instead of returning an error.
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = errors.New(errors.SerializationError, fmt.Errorf("yaml: %v", r))
		}
	}()

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, errors.New(errors.SerializationError, fmt.Errorf("yaml: %w", err))
	}
	if err := enc.Close(); err != nil {
		return nil, errors.New(errors.SerializationError, fmt.Errorf("yaml: %w", err))
	}
	res = New(status, "application/yaml")
	res.SetBody(buf.Bytes())
	return res, nil
}

// FromTOML encodes v as TOML. The value must encode to a table.
func FromTOML(status int, v any) (*Response, error) {
	data, err := toml.Marshal(v)
	if err != nil {
		return nil, errors.New(errors.SerializationError, fmt.Errorf("toml: %w", err))
	}
	res := New(status, "application/toml")
	res.SetBody(data)
	return res, nil
}

// FromValue encodes v in the named format: json (default), yaml or toml.
func FromValue(status int, v any, format string) (*Response, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return FromJSON(status, v)
	case "yaml", "yml":
		return FromYAML(status, v)
	case "toml":
		return FromTOML(status, v)
	default:
		return nil, errors.New(errors.SerializationError, fmt.Errorf("unknown format %q", format))
	}
}

// SetStatus sets the status code.
func (r *Response) SetStatus(status int) { r.status = status }

// SetContentType sets the content type used when no content-type header is set.
func (r *Response) SetContentType(ct string) { r.contentType = ct }

// SetBody replaces the body.
func (r *Response) SetBody(body []byte) { r.body = body }

// SetHeader sets a header. Names are stored as given; a name that differs
// only in case from an existing one replaces it.
func (r *Response) SetHeader(name, value string) {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	for k := range r.headers {
		if strings.EqualFold(k, name) && k != name {
			delete(r.headers, k)
		}
	}
	r.headers[name] = value
}

// DelHeader removes a header case-insensitively.
func (r *Response) DelHeader(name string) {
	for k := range r.headers {
		if strings.EqualFold(k, name) {
			delete(r.headers, k)
		}
	}
}

// Status returns the status code.
func (r *Response) Status() int { return r.status }

// ContentType returns the content type field.
func (r *Response) ContentType() string { return r.contentType }

// Body returns the body bytes.
func (r *Response) Body() []byte { return r.body }

// Header looks up a header case-insensitively.
func (r *Response) Header(name string) (string, bool) {
	if v, ok := r.headers[name]; ok {
		return v, true
	}
	for k, v := range r.headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Headers returns a copy of the headers as set by the caller.
func (r *Response) Headers() map[string]string {
	out := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		out[k] = v
	}
	return out
}

// wireHeaders lower-cases names and injects content-type and content-length.
// content-length always reflects the final body.
func (r *Response) wireHeaders() map[string]string {
	h := make(map[string]string, len(r.headers)+2)
	for k, v := range r.headers {
		h[strings.ToLower(k)] = v
	}
	if _, ok := h[HeaderContentType]; !ok {
		h[HeaderContentType] = r.contentType
	}
	h[HeaderContentLength] = strconv.Itoa(len(r.body))
	return h
}

// Bytes serializes the response.
func (r *Response) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = r.WriteTo(&buf)
	return buf.Bytes()
}

// WriteTo writes the status line, headers, blank line and body to w.
// The reason phrase is always "OK".
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	h := r.wireHeaders()
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.Grow(64 + 32*len(names) + len(r.body))
	fmt.Fprintf(&buf, "HTTP/1.1 %d OK\r\n", r.status)
	for _, k := range names {
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(h[k])
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(r.body)

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}
