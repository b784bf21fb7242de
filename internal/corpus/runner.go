package corpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/ctxembed/internal/embeddings"
)

// DefaultBatchSize is used when Config.BatchSize is not positive
const DefaultBatchSize = 32

// BatchFunc receives each embedded batch. offset is the corpus index of the
// batch's first sentence, counting only sentences that were not skipped.
type BatchFunc func(ctx context.Context, offset int64, sentences []string, result embeddings.Result) error

// Runner streams a corpus through an embedder in fixed-size batches
type Runner struct {
	embedder embeddings.Embedder
	config   *Config
	logger   *zap.Logger
}

// NewRunner creates a new corpus runner
func NewRunner(embedder embeddings.Embedder, config *Config, logger *zap.Logger) *Runner {
	if config == nil {
		config = &Config{}
	}
	return &Runner{
		embedder: embedder,
		config:   config,
		logger:   logger,
	}
}

// Run embeds every sentence of the file at path
func (r *Runner) Run(ctx context.Context, path string, fn BatchFunc) (*RunResult, error) {
	format := DetectFileFormat(path)
	r.logger.Info("Starting corpus run",
		zap.String("file", path),
		zap.String("format", string(format)),
		zap.Int("batch_size", r.batchSize()))

	reader, err := Open(path)
	if err != nil {
		return &RunResult{}, err
	}
	defer reader.Close()

	return r.RunReader(ctx, reader, fn)
}

// RunReader embeds every record of reader
func (r *Runner) RunReader(ctx context.Context, reader Reader, fn BatchFunc) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{}
	var offset int64

	for {
		// Check context cancellation
		select {
		case <-ctx.Done():
			result.Duration = time.Since(start)
			return result, ctx.Err()
		default:
		}

		batch, done, err := r.readBatch(reader, result)
		if err != nil {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("failed to read batch: %w", err)
		}

		if len(batch) > 0 {
			if err := r.processBatch(ctx, offset, batch, fn, result); err != nil {
				result.Duration = time.Since(start)
				return result, err
			}
			offset += int64(len(batch))
		}

		if done {
			break
		}
	}

	result.Duration = time.Since(start)

	r.logger.Info("Corpus run completed",
		zap.Int64("total_sentences", result.TotalSentences),
		zap.Int64("embedded_ok", result.EmbeddedOK),
		zap.Int64("embedded_failed", result.EmbeddedFailed),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("batches", result.Batches),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("embedding_time", result.EmbeddingTime))

	return result, nil
}

// readBatch reads up to batchSize sentences. done is true at end of input.
func (r *Runner) readBatch(reader Reader, result *RunResult) ([]string, bool, error) {
	size := r.batchSize()
	batch := make([]string, 0, size)

	for len(batch) < size {
		record, err := reader.Next()
		if err == io.EOF {
			return batch, true, nil
		}
		var recordErr *RecordError
		if errors.As(err, &recordErr) {
			r.logger.Warn("Skipping malformed record", zap.Int64("line", recordErr.Line), zap.Error(recordErr.Err))
			result.Skipped++
			result.Errors = append(result.Errors, recordErr.Error())
			continue
		}
		if err != nil {
			return batch, false, err
		}

		if r.config.SkipEmpty && strings.TrimSpace(record.Sentence) == "" {
			result.Skipped++
			continue
		}
		batch = append(batch, record.Sentence)
	}

	return batch, false, nil
}

// processBatch embeds one batch and hands it to fn. A returned error aborts
// the run.
func (r *Runner) processBatch(ctx context.Context, offset int64, batch []string, fn BatchFunc, result *RunResult) error {
	before := result.TotalSentences
	result.TotalSentences += int64(len(batch))
	result.Batches++

	embeddingStart := time.Now()
	embedded, err := r.embedder.EmbedBatch(ctx, batch)
	result.EmbeddingTime += time.Since(embeddingStart)
	if err != nil {
		if r.config.StopOnError || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			result.EmbeddedFailed += int64(len(batch))
			return fmt.Errorf("batch at offset %d failed: %w", offset, err)
		}
		r.logger.Error("Batch embedding failed",
			zap.Int64("offset", offset),
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
		result.EmbeddedFailed += int64(len(batch))
		result.Errors = append(result.Errors, fmt.Sprintf("offset %d: %v", offset, err))
		return nil
	}
	if len(embedded) != len(batch) {
		return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embedded), len(batch))
	}
	result.EmbeddedOK += int64(len(batch))

	if fn != nil {
		if err := fn(ctx, offset, batch, embedded); err != nil {
			return fmt.Errorf("batch handler failed at offset %d: %w", offset, err)
		}
	}

	r.logger.Debug("Batch embedded",
		zap.Int64("offset", offset),
		zap.Int("batch_size", len(batch)),
		zap.Duration("embedding_time", time.Since(embeddingStart)))

	if pr := r.config.ProgressReport; pr > 0 && before/pr != result.TotalSentences/pr {
		r.reportProgress(result)
	}
	return nil
}

// reportProgress reports current processing progress
func (r *Runner) reportProgress(result *RunResult) {
	r.logger.Info("Corpus progress",
		zap.Int64("sentences_processed", result.TotalSentences),
		zap.Int64("embedded_ok", result.EmbeddedOK),
		zap.Int64("embedded_failed", result.EmbeddedFailed),
		zap.Duration("embedding_time", result.EmbeddingTime))
}

func (r *Runner) batchSize() int {
	if r.config.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return r.config.BatchSize
}
