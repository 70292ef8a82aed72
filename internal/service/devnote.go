package service

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/armiapp/armi/internal/markdown"
)

//go:embed content/dev-note.md
var defaultDevNote []byte

const devNoteFile = "dev-note.md"

type DevNote struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	LastUpdated string `json:"last_updated,omitempty"`
	HTML        string `json:"html"`
}

// DevNoteService serves the dev note modal body. A dev-note.md in the
// content directory overrides the built in note.
type DevNoteService struct {
	contentDir string
	parser     *markdown.Parser
}

func NewDevNoteService(contentDir string) *DevNoteService {
	return &DevNoteService{
		contentDir: contentDir,
		parser:     markdown.NewParser(),
	}
}

// Note reads the file on every call so edits show up without a restart.
func (s *DevNoteService) Note() (*DevNote, error) {
	source, err := s.source()
	if err != nil {
		return nil, err
	}

	doc, err := s.parser.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dev note: %w", err)
	}

	note := &DevNote{
		Title:       doc.String("title"),
		LastUpdated: parseDate(doc.Meta["lastUpdated"]),
		HTML:        string(doc.HTML),
	}
	if note.Title == "" {
		note.Title = "A note from the developer"
	}
	// YAML reads an unquoted version as a number
	if v, ok := doc.Meta["version"]; ok && v != nil {
		note.Version = fmt.Sprint(v)
	}
	return note, nil
}

func (s *DevNoteService) source() ([]byte, error) {
	if s.contentDir == "" {
		return defaultDevNote, nil
	}

	content, err := os.ReadFile(filepath.Join(s.contentDir, devNoteFile))
	if errors.Is(err, os.ErrNotExist) {
		return defaultDevNote, nil
	}
	if err != nil {
		slog.Warn("failed to read dev note, using built in note", "error", err, "dir", s.contentDir)
		return defaultDevNote, nil
	}
	return content, nil
}

// parseDate accepts the common frontmatter date spellings.
func parseDate(value any) string {
	var dateStr string

	switch v := value.(type) {
	case string:
		dateStr = v
	case time.Time:
		return v.Format("January 2, 2006")
	default:
		return ""
	}

	formats := []string{
		"2006-01-02",
		"2006/01/02",
		"Jan 2, 2006",
		"January 2, 2006",
		time.RFC3339,
	}

	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t.Format("January 2, 2006")
		}
	}

	return dateStr
}
