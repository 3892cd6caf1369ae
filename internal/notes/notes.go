// Package notes stores enhancement requests filed from the channel as
// Markdown files, one per request, under a single root directory.
package notes

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/crypto/blake2b"
)

// ErrLimitReached is returned by Create when the outstanding request
// count is at its maximum.
var ErrLimitReached = errors.New("too many outstanding enhancement requests")

// ErrInvalidName is returned for filenames that are not a plain note
// name inside the store.
var ErrInvalidName = errors.New("invalid enhancement request filename")

// fileTimeLayout prefixes every filename.
const fileTimeLayout = "20060102T150405Z"

// Note describes one stored request.
type Note struct {
	Filename string    `json:"filename"`
	Title    string    `json:"title"`
	Modified time.Time `json:"modified"`
	Size     int64     `json:"size"`
}

// Store is a directory of enhancement request files.
type Store struct {
	root           string
	maxOutstanding int
	readLimit      int
	logger         *slog.Logger
	now            func() time.Time
	md             goldmark.Markdown
}

// NewStore creates the root directory if needed.
func NewStore(root string, maxOutstanding, readLimit int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxOutstanding <= 0 {
		maxOutstanding = 10
	}
	if readLimit <= 0 {
		readLimit = 4000
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve notes dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create notes dir: %w", err)
	}
	return &Store{
		root:           abs,
		maxOutstanding: maxOutstanding,
		readLimit:      readLimit,
		logger:         logger,
		now:            time.Now,
		md:             goldmark.New(),
	}, nil
}

// Root returns the absolute store directory.
func (s *Store) Root() string { return s.root }

// Request is the input to Create.
type Request struct {
	Title       string
	Description string
	Nick        string
	Channel     string
}

// Created is the result of Create. Existing is true when an identical
// request was already on file and nothing new was written.
type Created struct {
	Note
	Existing bool
}

// Create files a new request. An outstanding request with the same title
// and description is returned instead of writing a duplicate.
func (s *Store) Create(req Request) (Created, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return Created{}, fmt.Errorf("title is required")
	}
	desc := strings.TrimSpace(req.Description)
	digest := contentDigest(title, desc)

	existing, err := s.List()
	if err != nil {
		return Created{}, err
	}
	for _, n := range existing {
		data, err := os.ReadFile(filepath.Join(s.root, n.Filename))
		if err != nil {
			continue
		}
		if bytes.Contains(data, []byte(digestMarker(digest))) {
			return Created{Note: n, Existing: true}, nil
		}
	}
	if len(existing) >= s.maxOutstanding {
		return Created{}, fmt.Errorf("%w (%d of %d)", ErrLimitReached, len(existing), s.maxOutstanding)
	}

	now := s.now().UTC()
	body := render(title, desc, req.Nick, req.Channel, now, digest)

	base := now.Format(fileTimeLayout) + "-" + Slugify(title)
	name := base + ".md"
	for i := 2; ; i++ {
		f, err := os.OpenFile(filepath.Join(s.root, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			name = fmt.Sprintf("%s-%d.md", base, i)
			continue
		}
		if err != nil {
			return Created{}, fmt.Errorf("create note: %w", err)
		}
		_, werr := f.WriteString(body)
		cerr := f.Close()
		if werr != nil {
			return Created{}, fmt.Errorf("write note: %w", werr)
		}
		if cerr != nil {
			return Created{}, fmt.Errorf("close note: %w", cerr)
		}
		break
	}

	s.logger.Info("enhancement request created", "file", name, "nick", req.Nick, "channel", req.Channel)
	return Created{Note: Note{
		Filename: name,
		Title:    title,
		Modified: now,
		Size:     int64(len(body)),
	}}, nil
}

func render(title, desc, nick, channel string, at time.Time, digest string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", title)
	if nick != "" {
		fmt.Fprintf(&sb, "- Requested by: %s", nick)
		if channel != "" {
			fmt.Fprintf(&sb, " in %s", channel)
		}
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "- Filed: %s\n\n", at.Format(time.RFC3339))
	if desc != "" {
		sb.WriteString(desc)
		sb.WriteString("\n\n")
	}
	sb.WriteString(digestMarker(digest))
	sb.WriteByte('\n')
	return sb.String()
}

func digestMarker(digest string) string {
	return "<!-- digest:" + digest + " -->"
}

func contentDigest(title, desc string) string {
	sum := blake2b.Sum256([]byte(strings.ToLower(title) + "\x00" + desc))
	return hex.EncodeToString(sum[:16])
}

// List returns every request, oldest first.
func (s *Store) List() ([]Note, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read notes dir: %w", err)
	}

	var notes []Note
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, e.Name()))
		if err != nil {
			s.logger.Warn("unreadable enhancement request", "file", e.Name(), "error", err)
			continue
		}
		notes = append(notes, Note{
			Filename: e.Name(),
			Title:    s.title(data, e.Name()),
			Modified: info.ModTime(),
			Size:     info.Size(),
		})
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].Filename < notes[j].Filename })
	return notes, nil
}

// title returns the text of the first heading, or the filename without
// its timestamp and extension when there is none.
func (s *Store) title(src []byte, filename string) string {
	doc := s.md.Parser().Parse(text.NewReader(src))

	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			title = string(h.Text(src))
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	if title != "" {
		return title
	}

	name := strings.TrimSuffix(filename, ".md")
	if len(name) > len(fileTimeLayout)+1 {
		if _, err := time.Parse(fileTimeLayout, name[:len(fileTimeLayout)]); err == nil {
			name = name[len(fileTimeLayout)+1:]
		}
	}
	return strings.ReplaceAll(name, "-", " ")
}

// Content is a request's text, possibly cut short.
type Content struct {
	Filename  string `json:"filename"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

// Read returns a request's content, truncated to the read limit in
// characters. Names that are not plain .md files inside the store are
// rejected with ErrInvalidName.
func (s *Store) Read(filename string) (Content, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return Content{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Content{}, fmt.Errorf("enhancement request %q not found", filename)
		}
		return Content{}, fmt.Errorf("read note: %w", err)
	}

	c := Content{Filename: filepath.Base(path), Content: string(data)}
	if utf8.RuneCount(data) > s.readLimit {
		runes := []rune(c.Content)
		c.Content = string(runes[:s.readLimit])
		c.Truncated = true
	}
	return c, nil
}

func (s *Store) resolve(filename string) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" || !strings.HasSuffix(name, ".md") || strings.ContainsRune(name, 0) {
		return "", ErrInvalidName
	}
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return "", ErrInvalidName
	}

	path := filepath.Join(s.root, name)
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel != name || strings.HasPrefix(rel, "..") {
		return "", ErrInvalidName
	}

	// A symlink inside the store must not lead out of it.
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		root, rerr := filepath.EvalSymlinks(s.root)
		if rerr != nil {
			root = s.root
		}
		if r, err := filepath.Rel(root, resolved); err != nil || strings.HasPrefix(r, "..") || filepath.IsAbs(r) {
			return "", ErrInvalidName
		}
	}
	return path, nil
}

// Slugify lowercases title and keeps letters and digits, joining runs of
// anything else with single hyphens. The result is at most 50 bytes.
func Slugify(title string) string {
	var sb strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(title) {
		if r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingDash && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			pendingDash = false
			sb.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	slug := sb.String()
	if len(slug) > 50 {
		slug = strings.TrimRight(slug[:50], "-")
	}
	if slug == "" {
		slug = "request"
	}
	return slug
}
