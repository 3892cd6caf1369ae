package notes

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T, max, readLimit int) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), max, readLimit, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	now := time.Date(2025, 3, 1, 14, 5, 0, 0, time.UTC)
	s.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	return s
}

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Add a !weather command", "add-a-weather-command"},
		{"  Spaces   everywhere  ", "spaces-everywhere"},
		{"../../etc/passwd", "etc-passwd"},
		{"Ünïcödé only", "n-c-d-only"},
		{"!!!", "request"},
		{strings.Repeat("long ", 30), strings.TrimRight(strings.Repeat("long-", 10), "-")},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCreateListRead(t *testing.T) {
	s := newTestStore(t, 10, 4000)

	c, err := s.Create(Request{Title: "Add a weather command", Description: "Show the forecast.", Nick: "alice", Channel: "#c"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Existing {
		t.Error("first create reported as existing")
	}
	if c.Filename != "20250301T140501Z-add-a-weather-command.md" {
		t.Errorf("filename = %q", c.Filename)
	}

	data, _ := os.ReadFile(filepath.Join(s.Root(), c.Filename))
	if !strings.HasPrefix(string(data), "# Add a weather command\n") {
		t.Errorf("file does not start with a heading: %q", data)
	}

	list, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Title != "Add a weather command" || list[0].Size == 0 {
		t.Errorf("list = %+v", list)
	}

	got, err := s.Read(c.Filename)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !strings.Contains(got.Content, "Show the forecast.") || got.Truncated {
		t.Errorf("read = %+v", got)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	s := newTestStore(t, 10, 4000)

	first, _ := s.Create(Request{Title: "Karma", Description: "track ++"})
	second, err := s.Create(Request{Title: "karma", Description: "track ++"})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Existing || second.Filename != first.Filename {
		t.Errorf("duplicate = %+v, want existing %q", second, first.Filename)
	}
	list, _ := s.List()
	if len(list) != 1 {
		t.Errorf("files = %d, want 1", len(list))
	}
}

func TestCreate_Limit(t *testing.T) {
	s := newTestStore(t, 2, 4000)

	for _, title := range []string{"one", "two"} {
		if _, err := s.Create(Request{Title: title}); err != nil {
			t.Fatalf("Create(%q): %v", title, err)
		}
	}
	_, err := s.Create(Request{Title: "three"})
	if !errors.Is(err, ErrLimitReached) {
		t.Fatalf("err = %v, want ErrLimitReached", err)
	}
}

func TestCreate_SameSecondCollision(t *testing.T) {
	s := newTestStore(t, 10, 4000)
	fixed := time.Date(2025, 3, 1, 14, 5, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	a, _ := s.Create(Request{Title: "Same", Description: "a"})
	b, err := s.Create(Request{Title: "Same", Description: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if a.Filename == b.Filename || !strings.HasSuffix(b.Filename, "-same-2.md") {
		t.Errorf("filenames = %q, %q", a.Filename, b.Filename)
	}
}

func TestCreate_RequiresTitle(t *testing.T) {
	s := newTestStore(t, 10, 4000)
	if _, err := s.Create(Request{Title: "  "}); err == nil {
		t.Error("expected error for blank title")
	}
}

func TestRead_Truncates(t *testing.T) {
	s := newTestStore(t, 10, 20)
	c, _ := s.Create(Request{Title: "Long", Description: strings.Repeat("ä", 100)})

	got, err := s.Read(c.Filename)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Truncated || len([]rune(got.Content)) != 20 {
		t.Errorf("content = %q (truncated=%v), want 20 runes", got.Content, got.Truncated)
	}
}

func TestRead_RejectsTraversal(t *testing.T) {
	s := newTestStore(t, 10, 4000)
	outside := filepath.Join(filepath.Dir(s.Root()), "secret.md")
	os.WriteFile(outside, []byte("# secret"), 0o644)

	for _, name := range []string{
		"../secret.md",
		"..\\secret.md",
		"/etc/passwd",
		"sub/../../secret.md",
		"notes.txt",
		"",
		"..",
	} {
		if _, err := s.Read(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Read(%q) err = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestRead_RejectsSymlinkEscape(t *testing.T) {
	s := newTestStore(t, 10, 4000)
	outside := filepath.Join(t.TempDir(), "secret.md")
	os.WriteFile(outside, []byte("# secret"), 0o644)
	if err := os.Symlink(outside, filepath.Join(s.Root(), "link.md")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if _, err := s.Read("link.md"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("err = %v, want ErrInvalidName", err)
	}
}

func TestRead_Missing(t *testing.T) {
	s := newTestStore(t, 10, 4000)
	_, err := s.Read("20250101T000000Z-nothing.md")
	if err == nil || errors.Is(err, ErrInvalidName) {
		t.Errorf("err = %v, want not-found error", err)
	}
}

func TestList_TitleFallback(t *testing.T) {
	s := newTestStore(t, 10, 4000)
	os.WriteFile(filepath.Join(s.Root(), "20250101T000000Z-hand-written.md"), []byte("no heading here\n"), 0o644)

	list, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Title != "hand written" {
		t.Errorf("list = %+v", list)
	}
}
