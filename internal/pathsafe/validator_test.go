package pathsafe

import (
	"os"
	"path/filepath"
	"testing"
)

func tempRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "existing.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestValidate_RejectsEmptyInput(t *testing.T) {
	_, err := Validate("", Options{})
	if err == nil {
		t.Fatal("expected error for empty input")
	}
	if perr, ok := err.(*Error); !ok || perr.Reason != ReasonEmpty {
		t.Errorf("got %v, want ReasonEmpty", err)
	}
}

func TestValidate_RejectsTooLong(t *testing.T) {
	long := make([]byte, DefaultMaxLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := Validate(string(long), Options{})
	if perr, ok := err.(*Error); !ok || perr.Reason != ReasonTooLong {
		t.Errorf("got %v, want ReasonTooLong", err)
	}
}

func TestValidate_RejectsControlChars(t *testing.T) {
	_, err := Validate("foo\x00bar", Options{})
	if perr, ok := err.(*Error); !ok || perr.Reason != ReasonControlChar {
		t.Errorf("got %v, want ReasonControlChar", err)
	}
}

func TestValidate_RejectsDotDotSegment(t *testing.T) {
	root := tempRoot(t)
	_, err := Validate("../etc/passwd", Options{AllowedRoots: []string{root}})
	if perr, ok := err.(*Error); !ok || perr.Reason != ReasonDotDotSegment {
		t.Errorf("got %v, want ReasonDotDotSegment", err)
	}
}

func TestValidate_RejectsEllipsisSegment(t *testing.T) {
	root := tempRoot(t)
	_, err := Validate(".../passwd", Options{AllowedRoots: []string{root}})
	if perr, ok := err.(*Error); !ok || perr.Reason != ReasonDotDotSegment {
		t.Errorf("got %v, want ReasonDotDotSegment", err)
	}
}

func TestValidate_AllowsWithinRoot(t *testing.T) {
	root := tempRoot(t)
	resolved, err := Validate("existing.txt", Options{AllowedRoots: []string{root}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := filepath.EvalSymlinks(filepath.Join(root, "existing.txt"))
	if resolved != want {
		t.Errorf("resolved = %q, want %q", resolved, want)
	}
}

func TestValidate_RejectsEscapeViaAbsolutePath(t *testing.T) {
	root := tempRoot(t)
	outside := t.TempDir()
	_, err := Validate(filepath.Join(outside, "secret.txt"), Options{AllowedRoots: []string{root}})
	if perr, ok := err.(*Error); !ok || perr.Reason != ReasonEscapesRoots {
		t.Errorf("got %v, want ReasonEscapesRoots", err)
	}
}

func TestValidate_AllowsWithinTempRoots(t *testing.T) {
	root := tempRoot(t)
	resolved, err := Validate("existing.txt", Options{TempRoots: []string{root}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved == "" {
		t.Error("expected a resolved path")
	}
}

func TestValidate_AllowsMemorySentinel(t *testing.T) {
	resolved, err := Validate(":memory:", Options{AllowMemorySentinel: true, AllowedRoots: []string{"/nonexistent"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved != ":memory:" {
		t.Errorf("resolved = %q, want :memory:", resolved)
	}
}

func TestValidate_MemorySentinelWithoutOptionResolvesUnderRoot(t *testing.T) {
	root := tempRoot(t)
	resolved, err := Validate(":memory:", Options{AllowedRoots: []string{root}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resolvedRoot, _ := filepath.EvalSymlinks(root)
	if want := filepath.Join(resolvedRoot, ":memory:"); resolved != want {
		t.Errorf("resolved = %q, want %q (an ordinary path under the root, not passed through)", resolved, want)
	}
}

func TestValidate_NoRootsFallsBackToWorkingDirectory(t *testing.T) {
	resolved, err := Validate("somefile.txt", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !filepath.IsAbs(resolved) {
		t.Errorf("expected absolute path, got %q", resolved)
	}
}

func TestMustValidate_PanicsOnRejection(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	MustValidate("", Options{})
}
