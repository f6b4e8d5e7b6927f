// Package retrieval loads the background context handed to interviews: market
// research from a URL, a PDF brief, a text or JSON file, or a retrieval backend.
package retrieval

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/apresai/conceptlab/internal/model"
)

type SourceType string

const (
	SourceURL  SourceType = "url"
	SourcePDF  SourceType = "pdf"
	SourceJSON SourceType = "json"
	SourceText SourceType = "text"

	// maxInputSize is the maximum allowed size for context sources (25 MB).
	maxInputSize = 25 * 1024 * 1024
)

func (s SourceType) String() string {
	return string(s)
}

// Context is retrieval text ready to be placed in prompts.
type Context struct {
	Text      string
	Title     string
	Source    string
	WordCount int
}

// Loader reads one context source.
type Loader interface {
	Load(ctx context.Context, source string) (*Context, error)
}

func DetectSource(input string) SourceType {
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		return SourceURL
	}
	lower := strings.ToLower(input)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return SourcePDF
	case strings.HasSuffix(lower, ".json"):
		return SourceJSON
	}
	return SourceText
}

func NewLoader(input string) Loader {
	switch DetectSource(input) {
	case SourceURL:
		return &URLLoader{}
	case SourcePDF:
		return &PDFLoader{}
	default:
		return &FileLoader{}
	}
}

// Load picks the loader for source and runs it.
func Load(ctx context.Context, source string) (*Context, error) {
	return NewLoader(source).Load(ctx, source)
}

func newContext(text, title, source string) *Context {
	if title == "" {
		title = titleFromText(text, 80)
	}
	return &Context{
		Text:      text,
		Title:     title,
		Source:    source,
		WordCount: model.WordCount(text),
	}
}

func titleFromText(text string, maxLen int) string {
	line := text
	if idx := strings.IndexByte(text, '\n'); idx > 0 {
		line = text[:idx]
	}
	line = strings.TrimSpace(line)
	if len(line) > maxLen {
		line = line[:maxLen] + "..."
	}
	if line == "" {
		return "Untitled"
	}
	return line
}

func validateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not a file", path)
	}
	if info.Size() > maxInputSize {
		return fmt.Errorf("%s is too large (%d MB, max %d MB)", path, info.Size()/(1024*1024), maxInputSize/(1024*1024))
	}
	return nil
}
