package logcache

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestCache_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.db")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if _, ok, err := c.Get(42, "fedora-41-x86_64", KindBuild); err != nil || ok {
		t.Fatalf("Get on empty cache: ok=%v err=%v", ok, err)
	}

	if err := c.Put(42, "fedora-41-x86_64", KindBuild, "error: it broke\n"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	body, ok, err := c.Get(42, "fedora-41-x86_64", KindBuild)
	if err != nil || !ok {
		t.Fatalf("Get after Put: ok=%v err=%v", ok, err)
	}
	if body != "error: it broke\n" {
		t.Errorf("body = %q", body)
	}

	// Kinds are separate keys for the same build.
	if _, ok, err := c.Get(42, "fedora-41-x86_64", KindSRPM); err != nil || ok {
		t.Errorf("srpm log leaked from build log: ok=%v err=%v", ok, err)
	}
	// So are chroots: one build can cover several with distinct logs.
	if _, ok, err := c.Get(42, "fedora-41-aarch64", KindBuild); err != nil || ok {
		t.Errorf("log leaked across chroots: ok=%v err=%v", ok, err)
	}

	if err := c.Put(42, "fedora-41-x86_64", KindBuild, "replaced"); err != nil {
		t.Fatalf("Put replace: %v", err)
	}
	body, ok, err = c.Get(42, "fedora-41-x86_64", KindBuild)
	if err != nil || !ok || body != "replaced" {
		t.Errorf("Get after replace: body=%q ok=%v err=%v", body, ok, err)
	}
}

func TestCache_PersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.db")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	big := strings.Repeat("make[2]: *** [all] Error 2\n", 10000)
	if err := c.Put(7, "fedora-rawhide-s390x", KindSRPM, big); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c.Close()
	body, ok, err := c.Get(7, "fedora-rawhide-s390x", KindSRPM)
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if body != big {
		t.Errorf("body length = %d, want %d", len(body), len(big))
	}
}

func TestCache_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "logs.db")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()
	if err := c.Put(1, "fedora-41-x86_64", KindBuild, "x"); err != nil {
		t.Fatalf("Put: %v", err)
	}
}
