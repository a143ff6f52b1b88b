// Package journal is the append-only per-file record log that makes runs
// durable: one JSON object per line, a metadata header first, then chunk
// responses and batch-tracking events in completion order. The final
// aggregate is a pure function of this log.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chronominer/chronominer/pkg/model"
)

// Suffix is appended to the source file stem to name the journal.
const Suffix = "_temporary.jsonl"

// Record types.
const (
	TypeMeta  = "meta"
	TypeChunk = "chunk"
	TypeBatch = "batch"
)

// Meta is the file-level header, always the first line.
type Meta struct {
	Type       string    `json:"type"`
	RunID      string    `json:"run_id"`
	SourceFile string    `json:"source_file"`
	Schema     string    `json:"schema"`
	Model      string    `json:"model"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChunkRecord is one chunk request outcome.
type ChunkRecord struct {
	Type       string `json:"type"`
	CustomID   string `json:"custom_id"`
	ChunkIndex int    `json:"chunk_index"`
	OutputText string `json:"output_text,omitempty"`
	Error      string `json:"error,omitempty"`
	// ErrorKind is the classified failure kind, used by repair to decide
	// whether a chunk may be re-queued without force.
	ErrorKind string       `json:"error_kind,omitempty"`
	Usage     *model.Usage `json:"usage,omitempty"`
	Model     string       `json:"model,omitempty"`
	Attempts  int          `json:"attempts,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// BatchRecord tracks a submitted batch until it is terminally processed.
type BatchRecord struct {
	Type        string    `json:"type"`
	BatchID     string    `json:"batch_id"`
	Provider    string    `json:"provider"`
	SubmittedAt time.Time `json:"submitted_at"`
	ChunkCount  int       `json:"chunk_count"`
	Status      string    `json:"status"`
	SourceFile  string    `json:"source_file"`
	// CustomIDs lists the submitted requests in submission order. Providers
	// whose batch API drops custom IDs are re-keyed from this list.
	CustomIDs []string `json:"custom_ids,omitempty"`
	// Downloaded marks that results for this batch were ingested.
	Downloaded bool `json:"downloaded,omitempty"`
}

// Path returns the journal path for a source file under the output directory.
func Path(outputDir, sourcePath string) string {
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	return filepath.Join(outputDir, stem+Suffix)
}

// Journal appends records to one file. Writes are serialized and flushed per
// record so a crash loses at most the record being written.
type Journal struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Create starts a fresh journal with the given header, truncating any
// previous one.
func Create(path string, meta Meta) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating journal: %w", err)
	}

	j := &Journal{f: f, path: path}
	meta.Type = TypeMeta
	if err := j.append(meta); err != nil {
		f.Close()
		return nil, err
	}

	return j, nil
}

// Open appends to an existing journal (resume and repair paths).
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return &Journal{f: f, path: path}, nil
}

func (j *Journal) Path() string {
	return j.path
}

// AppendChunk records one chunk outcome.
func (j *Journal) AppendChunk(rec ChunkRecord) error {
	rec.Type = TypeChunk
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	return j.append(rec)
}

// AppendBatch records a batch-tracking event.
func (j *Journal) AppendBatch(rec BatchRecord) error {
	rec.Type = TypeBatch
	return j.append(rec)
}

func (j *Journal) append(v any) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if _, err := j.f.Write(data); err != nil {
		return fmt.Errorf("appending journal record: %w", err)
	}

	return j.f.Sync()
}

func (j *Journal) Close() error {
	return j.f.Close()
}

// Contents is the parsed state of a journal file.
type Contents struct {
	Meta Meta
	// Chunks holds the last record per custom_id (duplicates are legal,
	// last occurrence wins).
	Chunks map[string]ChunkRecord
	// Batches holds the last tracking record per batch_id.
	Batches map[string]BatchRecord
}

// Read parses a journal file. Records of unknown type are skipped.
func Read(path string) (*Contents, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	contents := &Contents{
		Chunks:  map[string]ChunkRecord{},
		Batches: map[string]BatchRecord{},
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var header struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(line, &header); err != nil {
			return nil, fmt.Errorf("parsing journal line: %w", err)
		}

		switch header.Type {
		case TypeMeta:
			if err := json.Unmarshal(line, &contents.Meta); err != nil {
				return nil, err
			}
		case TypeChunk:
			var rec ChunkRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return nil, err
			}
			contents.Chunks[rec.CustomID] = rec
		case TypeBatch:
			var rec BatchRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return nil, err
			}
			contents.Batches[rec.BatchID] = rec
		}

		if first && header.Type != TypeMeta {
			return nil, errors.New("journal does not start with a meta record")
		}
		first = false
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return contents, nil
}

// Exists reports whether a journal file is present for the source file.
func Exists(outputDir, sourcePath string) bool {
	_, err := os.Stat(Path(outputDir, sourcePath))
	return err == nil
}
