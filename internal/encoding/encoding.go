// Package encoding negotiates and applies response compression from the
// client's accept-encoding header.
package encoding

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"webrs/internal/metrics"
	"webrs/internal/request"
	"webrs/internal/response"
)

// Encoding names as they appear in accept-encoding and content-encoding.
const (
	Zstd   = "zstd"
	Brotli = "br"
	Gzip   = "gzip"
)

// preference orders recognized tokens; anything else sorts last.
var preference = map[string]int{
	Zstd:   0,
	Brotli: 1,
	Gzip:   2,
}

// Tunable defaults. None of them affect correctness.
const (
	GzipLevel     = gzip.BestSpeed
	ZstdLevel     = zstd.SpeedDefault
	BrotliQuality = 11
	BrotliLGWin   = 21
)

// Set selects which encodings the server is willing to apply.
type Set struct {
	Zstd   bool
	Brotli bool
	Gzip   bool
}

// All enables every supported encoding.
func All() Set {
	return Set{Zstd: true, Brotli: true, Gzip: true}
}

// Enabled reports whether the named encoding is turned on.
func (s Set) Enabled(name string) bool {
	switch name {
	case Zstd:
		return s.Zstd
	case Brotli:
		return s.Brotli
	case Gzip:
		return s.Gzip
	}
	return false
}

// Names lists the enabled encodings in preference order.
func (s Set) Names() []string {
	var out []string
	for _, name := range []string{Zstd, Brotli, Gzip} {
		if s.Enabled(name) {
			out = append(out, name)
		}
	}
	return out
}

// Negotiator applies at most one encoding per response.
type Negotiator struct {
	enabled Set
	logger  *slog.Logger
	metrics *metrics.Collector

	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdErr  error
}

// NewNegotiator creates a negotiator. metrics may be nil.
func NewNegotiator(enabled Set, logger *slog.Logger, m *metrics.Collector) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{
		enabled: enabled,
		logger:  logger,
		metrics: m,
	}
}

// Enabled returns the configured encoding set.
func (n *Negotiator) Enabled() Set {
	return n.enabled
}

// Tokens splits an accept-encoding value and stable-sorts it by preference.
// Parameters such as ";q=0.5" are dropped.
func Tokens(header string) []string {
	var tokens []string
	for _, part := range strings.Split(header, ",") {
		name, _, _ := strings.Cut(part, ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			tokens = append(tokens, name)
		}
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		return rank(tokens[i]) < rank(tokens[j])
	})
	return tokens
}

func rank(token string) int {
	if r, ok := preference[token]; ok {
		return r
	}
	return len(preference)
}

// Apply compresses res for req and returns it. The response is returned
// unchanged when the request has no accept-encoding header, the body is
// empty, the response is already encoded, or no offered token is enabled.
func (n *Negotiator) Apply(req *request.Request, res *response.Response) *response.Response {
	if res == nil {
		return nil
	}
	accept, ok := req.Header("accept-encoding")
	if !ok {
		n.logger.Debug("Request does not support compression", "req", req.ID())
		return res
	}
	if _, encoded := res.Header(response.HeaderContentEncoding); encoded {
		return res
	}
	if len(res.Body()) == 0 {
		return res
	}

	for _, token := range Tokens(accept) {
		if _, known := preference[token]; !known {
			n.logger.Warn("Unsupported compression algorithm", "req", req.ID(), "encoding", token)
			continue
		}
		if !n.enabled.Enabled(token) {
			n.logger.Debug("Compression algorithm disabled", "req", req.ID(), "encoding", token)
			continue
		}

		compressed, err := n.compress(token, res.Body())
		if err != nil {
			n.logger.Error("Compression failed", "req", req.ID(), "encoding", token, "error", err)
			return res
		}

		n.logger.Debug("Compressed response", "req", req.ID(), "encoding", token,
			"before", len(res.Body()), "after", len(compressed))
		res.SetBody(compressed)
		res.SetHeader(response.HeaderContentEncoding, token)
		n.metrics.RecordEncoding(token)
		return res
	}
	return res
}

func (n *Negotiator) compress(token string, body []byte) ([]byte, error) {
	switch token {
	case Zstd:
		return n.compressZstd(body)
	case Brotli:
		return CompressBrotli(body)
	case Gzip:
		return CompressGzip(body)
	}
	return nil, fmt.Errorf("unsupported encoding %q", token)
}

// compressZstd shares one encoder; EncodeAll is safe for concurrent use.
func (n *Negotiator) compressZstd(body []byte) ([]byte, error) {
	n.zstdOnce.Do(func() {
		n.zstdEnc, n.zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(ZstdLevel))
	})
	if n.zstdErr != nil {
		return nil, fmt.Errorf("zstd encoder: %w", n.zstdErr)
	}
	return n.zstdEnc.EncodeAll(body, make([]byte, 0, len(body)/2)), nil
}

// CompressGzip compresses body in one pass at GzipLevel.
func CompressGzip(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, GzipLevel)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CompressBrotli compresses body in one pass at BrotliQuality.
func CompressBrotli(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterOptions(&buf, brotli.WriterOptions{
		Quality: BrotliQuality,
		LGWin:   BrotliLGWin,
	})
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
