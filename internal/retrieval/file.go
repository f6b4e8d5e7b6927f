package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileLoader reads plain text and JSON files. JSON is kept as an opaque blob,
// compacted so it spends fewer prompt characters.
type FileLoader struct{}

func (l *FileLoader) Load(ctx context.Context, source string) (*Context, error) {
	if err := validateFile(source); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("could not read file %s: %w", source, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("file %s is empty", source)
	}

	text := string(data)
	title := ""
	if DetectSource(source) == SourceJSON {
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return nil, fmt.Errorf("file %s is not valid JSON: %w", source, err)
		}
		text = buf.String()
		title = strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	}
	return newContext(text, title, filepath.Base(source)), nil
}
