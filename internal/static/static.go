// Package static resolves request paths to files under a content root.
package static

import (
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// DefaultMIME is used when the extension has no registered type.
const DefaultMIME = "text/plain"

// IndexName replaces a trailing slash.
const IndexName = "index"

// ErrNotFound is returned for missing files, directories and paths that
// leave the content root.
var ErrNotFound = errors.New("static: not found")

// File is a resolved static file.
type File struct {
	Name string
	Body []byte
	MIME string
	ETag string
}

// FS serves files below Root.
type FS struct {
	Root string
}

// New returns an FS rooted at root.
func New(root string) *FS {
	return &FS{Root: root}
}

// Resolve maps a request path to a slash-separated path relative to the root.
//
//	/           -> index.html
//	/docs/      -> docs/index.html
//	/about      -> about.html
//	/app.js     -> app.js
func Resolve(reqPath string) (string, error) {
	for _, seg := range strings.Split(reqPath, "/") {
		if seg == ".." {
			return "", ErrNotFound
		}
	}

	p := reqPath
	if p == "" || strings.HasSuffix(p, "/") {
		p += IndexName
	}
	if !strings.Contains(path.Base(p), ".") {
		p += ".html"
	}

	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return "", ErrNotFound
	}
	return p, nil
}

// Lookup reads the file addressed by reqPath.
func (s *FS) Lookup(reqPath string) (*File, error) {
	rel, err := Resolve(reqPath)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenInRoot(s.Root, filepath.FromSlash(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || isEscape(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	body, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	return &File{
		Name: rel,
		Body: body,
		MIME: MIMEType(rel),
		ETag: ETag(body),
	}, nil
}

// MIMEType guesses the content type from the file extension.
func MIMEType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return DefaultMIME
}

// ETag returns a strong entity tag for body.
func ETag(body []byte) string {
	sum := blake2b.Sum256(body)
	return `"` + hex.EncodeToString(sum[:12]) + `"`
}

// Matches reports whether an if-none-match header value covers etag.
func Matches(ifNoneMatch, etag string) bool {
	for _, tok := range strings.Split(ifNoneMatch, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "*" {
			return true
		}
		if strings.TrimPrefix(tok, "W/") == etag {
			return true
		}
	}
	return false
}

// os.Root reports escapes with a plain error, not a sentinel.
func isEscape(err error) bool {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return strings.Contains(pathErr.Err.Error(), "escapes")
	}
	return false
}
