// Package importer loads JSON-lines message exports into storage and the vector index.
package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/recall/internal/indexer"
	"github.com/hyperjump/recall/internal/models"
	"go.uber.org/zap"
)

// ImportedSuffix is appended to a file once it has been imported.
const ImportedSuffix = ".imported"

const maxLineBytes = 4 << 20

// Ingester persists and indexes one message.
type Ingester interface {
	Ingest(ctx context.Context, msg *models.Message) (indexer.Outcome, error)
}

// Result counts what happened to the lines of one or more files.
type Result struct {
	Files   int `json:"files"`
	Lines   int `json:"lines"`
	Stored  int `json:"stored"`
	Indexed int `json:"indexed"`
	// Duplicate counts lines whose message id was already stored.
	Duplicate int `json:"duplicate"`
	Invalid   int `json:"invalid"`
	Failed    int `json:"failed"`
}

func (r *Result) merge(o Result) {
	r.Files += o.Files
	r.Lines += o.Lines
	r.Stored += o.Stored
	r.Indexed += o.Indexed
	r.Duplicate += o.Duplicate
	r.Invalid += o.Invalid
	r.Failed += o.Failed
}

// Importer reads exports line by line and hands each message to an Ingester.
type Importer struct {
	ingester   Ingester
	extensions []string
	logger     *zap.Logger
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ImporterOption {
	return func(im *Importer) { im.logger = l }
}

// WithExtensions restricts ImportDirectory to files with these extensions.
func WithExtensions(exts []string) ImporterOption {
	return func(im *Importer) { im.extensions = exts }
}

// New creates an importer.
func New(ingester Ingester, opts ...ImporterOption) *Importer {
	im := &Importer{
		ingester:   ingester,
		extensions: []string{".jsonl"},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// ImportFile imports every line of path and, unless a storage error stopped it, renames
// the file to path+ImportedSuffix so it is not imported again.
func (im *Importer) ImportFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open export: %w", err)
	}
	res, err := im.ImportReader(ctx, f)
	_ = f.Close()
	res.Files = 1
	if err != nil {
		return res, fmt.Errorf("import %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(path, path+ImportedSuffix); err != nil {
		return res, fmt.Errorf("mark imported: %w", err)
	}
	im.logger.Info("export imported",
		zap.String("path", path),
		zap.Int("lines", res.Lines),
		zap.Int("stored", res.Stored),
		zap.Int("indexed", res.Indexed),
		zap.Int("invalid", res.Invalid))
	return res, nil
}

// ImportReader imports JSON lines from r. Blank lines are ignored and malformed lines are
// counted as invalid. A storage failure stops the import and is returned.
func (im *Importer) ImportReader(ctx context.Context, r io.Reader) (Result, error) {
	var res Result
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Lines++

		msg, err := parseLine([]byte(line))
		if err != nil {
			im.logger.Warn("skipping invalid export line", zap.Int("line", lineNo), zap.Error(err))
			res.Invalid++
			continue
		}
		out, err := im.ingester.Ingest(ctx, msg)
		if err != nil {
			res.Failed++
			return res, fmt.Errorf("line %d: %w", lineNo, err)
		}
		switch out {
		case indexer.Duplicate:
			res.Duplicate++
			continue
		case indexer.Indexed:
			res.Indexed++
		}
		res.Stored++
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("read export: %w", err)
	}
	return res, nil
}

// parseLine decodes one complete gateway message.
func parseLine(line []byte) (*models.Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if err := models.ValidateRequiredFields(raw); err != nil {
		return nil, err
	}
	var in models.MessageInput
	if err := json.Unmarshal(line, &in); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return in.ToMessage(), nil
}

// ImportDirectory imports every matching file under dir. Files that fail are logged and
// skipped; the first error is returned after the walk.
func (im *Importer) ImportDirectory(ctx context.Context, dir string) (Result, error) {
	var total Result
	info, err := os.Stat(dir)
	if err != nil {
		return total, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return total, fmt.Errorf("not a directory: %s", dir)
	}
	var firstErr error
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !extensionAllowed(filepath.Ext(path), im.extensions) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := im.ImportFile(ctx, path)
		total.merge(res)
		if err != nil {
			im.logger.Error("import failed", zap.String("path", path), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	return total, firstErr
}

func extensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
