package extraction

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// FileResult is the text extracted from a single uploaded file.
type FileResult struct {
	FileType      string `json:"file_type"`
	ExtractedText string `json:"extracted_text"`
}

// UnmarshalJSON accepts both shapes an extraction tool may emit for a file:
// a bare string of text, or the structured {file_type, extracted_text} object.
// A bare string leaves FileType empty; Result.Normalize fills it from the name.
func (f *FileResult) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*f = FileResult{ExtractedText: text}
		return nil
	}
	type plain FileResult
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("file result is neither a string nor an object: %w", err)
	}
	*f = FileResult(p)
	return nil
}

// Result maps an original filename to its extracted text.
type Result map[string]FileResult

// Normalize fills missing file types from the filename extension.
func (r Result) Normalize() {
	for name, fr := range r {
		if fr.FileType == "" {
			fr.FileType = FileType(name)
			r[name] = fr
		}
	}
}

// Covers reports whether r has an entry for every name.
func (r Result) Covers(names []string) bool {
	for _, n := range names {
		if _, ok := r[n]; !ok {
			return false
		}
	}
	return true
}

// FileType returns the lower-cased extension of name without the dot.
func FileType(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// plainTextTypes can be read directly without an extraction tool.
var plainTextTypes = map[string]bool{
	"txt":  true,
	"md":   true,
	"json": true,
	"csv":  true,
	"html": true,
	"xml":  true,
	"js":   true,
	"ts":   true,
	"css":  true,
}

// IsPlainText reports whether files of this type are readable as-is.
func IsPlainText(fileType string) bool {
	return plainTextTypes[fileType]
}
