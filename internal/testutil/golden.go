// Package testutil holds helpers shared by package tests.
package testutil

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// updateGolden rewrites golden files instead of comparing.
// Use: go test ./internal/response -run Golden -update
var updateGolden = flag.Bool("update", false, "update golden files")

// GoldenDir is resolved relative to the package under test.
const GoldenDir = "testdata"

// ShouldUpdate returns true if golden files should be updated.
func ShouldUpdate() bool {
	return *updateGolden
}

// NormalizeWire turns CRLF line endings into LF so wire captures can be
// stored as plain text.
func NormalizeWire(b []byte) []byte {
	return bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
}

// CompareGolden compares got (after NormalizeWire) with testdata/<name>.golden,
// failing with a diff on mismatch.
func CompareGolden(t *testing.T, name string, got []byte) {
	t.Helper()

	normalized := NormalizeWire(got)
	goldenPath := filepath.Join(GoldenDir, name+".golden")

	if *updateGolden {
		if err := os.MkdirAll(GoldenDir, 0o755); err != nil {
			t.Fatalf("Failed to create golden directory: %v", err)
		}
		if err := os.WriteFile(goldenPath, normalized, 0o644); err != nil {
			t.Fatalf("Failed to write golden file: %v", err)
		}
		t.Logf("Updated golden: %s", goldenPath)
		return
	}

	expected, err := os.ReadFile(goldenPath)
	if err != nil {
		if os.IsNotExist(err) {
			t.Fatalf("Golden file missing: %s\n\nGot:\n%s\n\nRun with -update to create it", goldenPath, normalized)
		}
		t.Fatalf("Failed to read golden file: %v", err)
	}

	if !bytes.Equal(normalized, expected) {
		t.Fatalf("Golden mismatch for %s:\n%s\nRun with -update to refresh", name,
			lineDiff(string(expected), string(normalized), goldenPath))
	}
}

// lineDiff marks each differing line; whitespace is made visible with %q.
func lineDiff(expected, got, path string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--- %s (expected)\n+++ got\n", path)

	exp := strings.Split(expected, "\n")
	act := strings.Split(got, "\n")
	for i := 0; i < max(len(exp), len(act)); i++ {
		var e, a string
		if i < len(exp) {
			e = exp[i]
		}
		if i < len(act) {
			a = act[i]
		}
		if e == a {
			continue
		}
		fmt.Fprintf(&buf, "@@ line %d @@\n-%q\n+%q\n", i+1, e, a)
	}
	return buf.String()
}
