package ippool

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileSinkWriteListRemove(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	if err != nil {
		t.Fatalf("NewFileSink returned error: %v", err)
	}

	pair, _ := ParsePair("10.8.0.2")
	if err := sink.Write("gateway-01", pair); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "gateway-01"))
	if err != nil {
		t.Fatalf("read ccd file: %v", err)
	}
	if string(content) != "ifconfig-push 10.8.0.2 10.8.0.3\n" {
		t.Fatalf("ccd content = %q", content)
	}

	names, err := sink.List()
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(names) != 1 || names[0] != "gateway-01" {
		t.Fatalf("List = %v, want [gateway-01]", names)
	}

	if err := sink.Remove("gateway-01"); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if err := sink.Remove("gateway-01"); err != nil {
		t.Fatalf("Remove of missing file returned error: %v", err)
	}
}

func TestFileSinkRejectsPathLikeNames(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSink returned error: %v", err)
	}
	pair, _ := ParsePair("10.8.0.2")
	for _, name := range []string{"../escape", "a/b", ".hidden", ""} {
		if err := sink.Write(name, pair); err == nil {
			t.Fatalf("Write(%q) succeeded, want error", name)
		}
	}
}
