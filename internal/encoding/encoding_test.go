package encoding

import (
	"bytes"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"webrs/internal/metrics"
	"webrs/internal/request"
	"webrs/internal/response"
	"webrs/internal/slogutil"
)

var payload = []byte(strings.Repeat("webrs compresses this body. ", 200))

func newRequest(t *testing.T, headers string) *request.Request {
	t.Helper()
	req, err := request.Parse([]byte("GET /index.html HTTP/1.1\r\n" + headers + "\r\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return req
}

func newResponse() *response.Response {
	res := response.New(200, "text/plain")
	res.SetBody(append([]byte(nil), payload...))
	return res
}

func decode(t *testing.T, encoding string, body []byte) []byte {
	t.Helper()

	var r io.Reader
	switch encoding {
	case Zstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			t.Fatal(err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(body, nil)
		if err != nil {
			t.Fatalf("zstd decode: %v", err)
		}
		return out
	case Gzip:
		gr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			t.Fatalf("gzip reader: %v", err)
		}
		r = gr
	case Brotli:
		r = brotli.NewReader(bytes.NewReader(body))
	default:
		t.Fatalf("unknown encoding %q", encoding)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("%s decode: %v", encoding, err)
	}
	return out
}

func TestTokens(t *testing.T) {
	tests := []struct {
		header string
		want   []string
	}{
		{"gzip, zstd", []string{"zstd", "gzip"}},
		{"gzip, deflate, br, zstd", []string{"zstd", "br", "gzip", "deflate"}},
		{"identity, compress, gzip", []string{"gzip", "identity", "compress"}},
		{"gzip;q=0.8, br;q=1.0", []string{"br", "gzip"}},
		{"GZIP,ZSTD", []string{"zstd", "gzip"}},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got := Tokens(tt.header)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokens(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func TestApply_PrefersZstdAndRoundTrips(t *testing.T) {
	m := metrics.NewCollector()
	n := NewNegotiator(All(), slogutil.NewDiscardLogger(), m)

	res := n.Apply(newRequest(t, "Accept-Encoding: gzip, zstd\r\n"), newResponse())

	enc, ok := res.Header("content-encoding")
	if !ok || enc != Zstd {
		t.Fatalf("content-encoding = %q, %v, want zstd", enc, ok)
	}
	if got := decode(t, Zstd, res.Body()); !bytes.Equal(got, payload) {
		t.Error("zstd round trip did not reproduce the original body")
	}

	var buf bytes.Buffer
	m.WritePrometheus(&buf)
	if !strings.Contains(buf.String(), `webrs_encodings_total{encoding="zstd"} 1`) {
		t.Error("encoding was not recorded in metrics")
	}
}

func TestApply_EachEncodingRoundTrips(t *testing.T) {
	for _, enc := range []string{Zstd, Brotli, Gzip} {
		t.Run(enc, func(t *testing.T) {
			n := NewNegotiator(All(), slogutil.NewDiscardLogger(), nil)
			res := n.Apply(newRequest(t, "Accept-Encoding: "+enc+"\r\n"), newResponse())

			if got, _ := res.Header("content-encoding"); got != enc {
				t.Fatalf("content-encoding = %q, want %q", got, enc)
			}
			if len(res.Body()) >= len(payload) {
				t.Errorf("body not smaller after %s: %d >= %d", enc, len(res.Body()), len(payload))
			}
			if got := decode(t, enc, res.Body()); !bytes.Equal(got, payload) {
				t.Errorf("%s round trip did not reproduce the original body", enc)
			}
		})
	}
}

func TestApply_DisabledEncodingIsSkipped(t *testing.T) {
	n := NewNegotiator(Set{Zstd: false, Brotli: true, Gzip: true}, slogutil.NewDiscardLogger(), nil)

	res := n.Apply(newRequest(t, "Accept-Encoding: zstd\r\n"), newResponse())

	if _, ok := res.Header("content-encoding"); ok {
		t.Error("content-encoding set although zstd is disabled")
	}
	if !bytes.Equal(res.Body(), payload) {
		t.Error("body changed although no encoding applied")
	}
}

func TestApply_FallsBackToNextEnabled(t *testing.T) {
	n := NewNegotiator(Set{Zstd: false, Brotli: false, Gzip: true}, slogutil.NewDiscardLogger(), nil)

	res := n.Apply(newRequest(t, "Accept-Encoding: zstd, br, gzip\r\n"), newResponse())

	if got, _ := res.Header("content-encoding"); got != Gzip {
		t.Fatalf("content-encoding = %q, want gzip", got)
	}
	if got := decode(t, Gzip, res.Body()); !bytes.Equal(got, payload) {
		t.Error("gzip round trip did not reproduce the original body")
	}
}

func TestApply_Unchanged(t *testing.T) {
	n := NewNegotiator(All(), slogutil.NewDiscardLogger(), nil)

	tests := []struct {
		name    string
		headers string
		res     func() *response.Response
	}{
		{"no accept-encoding", "", newResponse},
		{"only unknown tokens", "Accept-Encoding: deflate, compress\r\n", newResponse},
		{"empty body", "Accept-Encoding: gzip\r\n", func() *response.Response {
			return response.New(204, "text/plain")
		}},
		{"already encoded", "Accept-Encoding: gzip\r\n", func() *response.Response {
			res := newResponse()
			res.SetHeader("Content-Encoding", "identity")
			return res
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.res()
			before := append([]byte(nil), in.Body()...)
			beforeEnc, _ := in.Header("content-encoding")

			out := n.Apply(newRequest(t, tt.headers), in)

			if !bytes.Equal(out.Body(), before) {
				t.Error("body changed")
			}
			if enc, _ := out.Header("content-encoding"); enc != beforeEnc {
				t.Errorf("content-encoding = %q, want %q", enc, beforeEnc)
			}
		})
	}
}

func TestApply_SingleContentEncodingOnWire(t *testing.T) {
	n := NewNegotiator(All(), slogutil.NewDiscardLogger(), nil)
	res := n.Apply(newRequest(t, "Accept-Encoding: br, gzip\r\n"), newResponse())

	wire := string(res.Bytes())
	if c := strings.Count(strings.ToLower(wire), "content-encoding:"); c != 1 {
		t.Errorf("content-encoding appears %d times", c)
	}
	if !strings.Contains(wire, "content-encoding: br\r\n") {
		t.Errorf("wire missing brotli header:\n%s", wire[:strings.Index(wire, "\r\n\r\n")])
	}
}

func TestSet_Names(t *testing.T) {
	got := Set{Zstd: true, Gzip: true}.Names()
	if !reflect.DeepEqual(got, []string{"zstd", "gzip"}) {
		t.Errorf("Names() = %v", got)
	}
}
