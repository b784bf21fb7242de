// Package corpus streams sentence files through an embedder in batches.
package corpus

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Record represents a single sentence from the input corpus
type Record struct {
	Sentence string `parquet:"sentence" json:"sentence"`
}

// Config contains corpus runner configuration
type Config struct {
	BatchSize      int   `yaml:"batch_size" mapstructure:"batch_size"`           // 32
	ProgressReport int64 `yaml:"progress_report" mapstructure:"progress_report"` // 1000
	SkipEmpty      bool  `yaml:"skip_empty" mapstructure:"skip_empty"`           // true
	StopOnError    bool  `yaml:"stop_on_error" mapstructure:"stop_on_error"`     // false
}

// RunResult represents the result of running a corpus
type RunResult struct {
	TotalSentences int64         `json:"total_sentences"`
	EmbeddedOK     int64         `json:"embedded_ok"`
	EmbeddedFailed int64         `json:"embedded_failed"`
	Skipped        int64         `json:"skipped"`
	Batches        int64         `json:"batches"`
	Duration       time.Duration `json:"duration"`
	EmbeddingTime  time.Duration `json:"embedding_time"`
	Errors         []string      `json:"errors,omitempty"`
}

// FileFormat represents supported corpus formats
type FileFormat string

const (
	FormatText    FileFormat = "text"
	FormatJSONL   FileFormat = "jsonl"
	FormatJSON    FileFormat = "json"
	FormatParquet FileFormat = "parquet"
)

// DetectFileFormat detects the corpus format from the file extension.
// Unknown extensions are read as one sentence per line.
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".json":
		return FormatJSON
	default:
		return FormatText
	}
}

// RecordError is a malformed record the runner can skip
type RecordError struct {
	Line int64
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Line, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
