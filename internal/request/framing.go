package request

import (
	"bytes"
	"strconv"
	"strings"
)

// HeaderEnd returns the index just past the header terminator, or -1 when buf
// does not yet hold a complete header block.
func HeaderEnd(buf []byte) int {
	idx := bytes.Index(buf, HeaderTerminator)
	if idx < 0 {
		return -1
	}
	return idx + len(HeaderTerminator)
}

// RawHeader scans an unparsed header block for name using the same simplified
// grammar as Parse. It is used before a message is complete, or after Parse
// has rejected it.
func RawHeader(head []byte, name string) (string, bool) {
	if end := bytes.Index(head, HeaderTerminator); end >= 0 {
		head = head[:end]
	}
	lines := strings.Split(string(head), "\n")
	if len(lines) < 2 {
		return "", false
	}
	h := parseHeaders(lines[1:])
	v, ok := h[strings.ToLower(name)]
	return v, ok
}

// ContentLength returns the declared body length of an unparsed header block.
// Missing or malformed values report ok=false.
func ContentLength(head []byte) (n int, ok bool) {
	v, found := RawHeader(head, "content-length")
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
