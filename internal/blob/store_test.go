package blob

import (
	"strings"
	"testing"
)

func TestObjectKeyKeepsExtension(t *testing.T) {
	key := ObjectKey("tasks", "Design Brief.PDF")

	if !strings.HasPrefix(key, "tasks/") {
		t.Fatalf("key %q should live under tasks/", key)
	}
	if !strings.HasSuffix(key, ".pdf") {
		t.Fatalf("key %q should keep a lowercased extension", key)
	}
	if strings.Contains(key, "Design Brief") {
		t.Fatalf("key %q should not embed the original filename", key)
	}
}

func TestObjectKeyIsUnique(t *testing.T) {
	a := ObjectKey("submissions", "report.zip")
	b := ObjectKey("submissions", "report.zip")
	if a == b {
		t.Fatalf("expected distinct keys, got %q twice", a)
	}
}

func TestObjectKeyWithoutExtension(t *testing.T) {
	key := ObjectKey("docs", "README")
	if strings.Contains(key, ".") {
		t.Fatalf("key %q should have no extension", key)
	}
}
