package dmarc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("could not read testdata %s: %v", name, err)
	}
	return b
}

// mutate applies old/new replacement pairs to a testdata file.
func mutate(t *testing.T, name string, oldnew ...string) []byte {
	t.Helper()
	content := string(readTestdata(t, name))
	for i := 0; i < len(oldnew); i += 2 {
		if !strings.Contains(content, oldnew[i]) {
			t.Fatalf("testdata %s does not contain %q", name, oldnew[i])
		}
	}
	return []byte(strings.NewReplacer(oldnew...).Replace(content))
}

func mustLoad(t *testing.T, payload []byte) *Document {
	t.Helper()
	doc, err := Load(payload)
	if err != nil {
		t.Fatalf("could not load document: %v", err)
	}
	return doc
}
