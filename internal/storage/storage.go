package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/catalog-crawler/internal/models"
)

const (
	ProcessedFile = "processed_ids.json"
	MetadataFile  = "metadata.json"
	SkippedFile   = "skipped.json"

	// RunKeyLayout names a run inside the merged JSON files.
	RunKeyLayout = "20060102_150405"

	mirrorTimeout = 2 * time.Minute
)

var ErrNotFound = errors.New("not found")

// Mirror receives the records of a persisted run. Mirror failures never
// fail Persist.
type Mirror interface {
	MirrorRecords(ctx context.Context, meta models.RunMetadata, records []*models.ItemRecord) error
}

// RunEntry is one run inside the structured output file.
type RunEntry struct {
	Metadata models.RunMetadata   `json:"metadata"`
	Data     []*models.ItemRecord `json:"data"`
}

// RunStore keeps the crawl state on disk under one output directory.
type RunStore struct {
	mu     sync.RWMutex
	dir    string
	name   string
	mirror Mirror
	logger *slog.Logger
}

func NewRunStore(dir, name string, logger *slog.Logger) (*RunStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if name == "" {
		return nil, fmt.Errorf("output name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &RunStore{
		dir:    dir,
		name:   name,
		logger: logger.With("component", "storage"),
	}, nil
}

// SetMirror attaches a secondary sink for extracted records.
func (s *RunStore) SetMirror(m Mirror) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = m
}

func (s *RunStore) Dir() string {
	return s.dir
}

func (s *RunStore) path(file string) string {
	return filepath.Join(s.dir, file)
}

func (s *RunStore) csvPath() string {
	return s.path(s.name + ".csv")
}

func (s *RunStore) jsonPath() string {
	return s.path(s.name + ".json")
}

// LoadProcessed returns every id persisted by earlier runs: the processed
// id file together with the ID column of the flat output.
func (s *RunStore) LoadProcessed() (models.IDSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadProcessed()
}

func (s *RunStore) loadProcessed() (models.IDSet, error) {
	processed := models.NewIDSet()

	var ids []string
	if err := readJSON(s.path(ProcessedFile), &ids); err != nil {
		return nil, err
	}
	for _, id := range ids {
		processed.Add(id)
	}

	table, err := readTable(s.csvPath())
	if err != nil {
		return nil, err
	}
	for _, row := range table.rows {
		processed.Add(row[ColID])
	}

	return processed, nil
}

// Persist writes every part of the snapshot. Each part is attempted even
// if an earlier one fails; the failures are joined.
func (s *RunStore) Persist(snapshot *models.RunSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := snapshot.Metadata.StartedAt.Format(RunKeyLayout)

	var errs []error
	if err := s.saveProcessed(snapshot); err != nil {
		errs = append(errs, fmt.Errorf("processed ids: %w", err))
	}
	if err := s.saveTable(snapshot.Records); err != nil {
		errs = append(errs, fmt.Errorf("csv output: %w", err))
	}
	if err := s.saveRuns(key, snapshot); err != nil {
		errs = append(errs, fmt.Errorf("json output: %w", err))
	}
	if err := s.saveMetadata(key, snapshot.Metadata); err != nil {
		errs = append(errs, fmt.Errorf("metadata: %w", err))
	}
	if err := s.saveSkipped(snapshot.Skipped); err != nil {
		errs = append(errs, fmt.Errorf("skipped: %w", err))
	}

	s.logger.Info("run state saved",
		"dir", s.dir,
		"records", len(snapshot.Records),
		"skipped", len(snapshot.Skipped),
		"processed", len(snapshot.Processed),
		"failures", len(errs))

	if s.mirror != nil && len(snapshot.Records) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := s.mirror.MirrorRecords(ctx, snapshot.Metadata, snapshot.Records); err != nil {
			s.logger.Error("failed to mirror records", "records", len(snapshot.Records), "error", err)
		}
	}

	return errors.Join(errs...)
}

func (s *RunStore) saveProcessed(snapshot *models.RunSnapshot) error {
	processed, err := s.loadProcessed()
	if err != nil {
		// A corrupt file must not stop the new ids from being saved.
		s.logger.Warn("rebuilding processed ids", "error", err)
		processed = models.NewIDSet()
	}
	for _, id := range snapshot.Processed {
		processed.Add(id)
	}
	for _, r := range snapshot.Records {
		processed.Add(r.ID)
	}
	return writeJSON(s.path(ProcessedFile), processed.Sorted())
}

func (s *RunStore) saveTable(records []*models.ItemRecord) error {
	table, err := readTable(s.csvPath())
	if err != nil {
		return err
	}
	if len(records) == 0 && table.empty() {
		return nil
	}
	for _, r := range records {
		table.put(recordRow(r))
	}
	return table.write(s.csvPath())
}

func (s *RunStore) saveRuns(key string, snapshot *models.RunSnapshot) error {
	runs := make(map[string]RunEntry)
	if err := readJSON(s.jsonPath(), &runs); err != nil {
		return err
	}
	data := snapshot.Records
	if data == nil {
		data = []*models.ItemRecord{}
	}
	runs[uniqueKey(key, func(k string) bool { _, ok := runs[k]; return ok })] = RunEntry{
		Metadata: snapshot.Metadata,
		Data:     data,
	}
	return writeJSON(s.jsonPath(), runs)
}

func (s *RunStore) saveMetadata(key string, meta models.RunMetadata) error {
	all := make(map[string]models.RunMetadata)
	if err := readJSON(s.path(MetadataFile), &all); err != nil {
		return err
	}
	all[uniqueKey(key, func(k string) bool { _, ok := all[k]; return ok })] = meta
	return writeJSON(s.path(MetadataFile), all)
}

func (s *RunStore) saveSkipped(skipped map[string]models.SkipReason) error {
	if skipped == nil {
		skipped = map[string]models.SkipReason{}
	}
	return writeJSON(s.path(SkippedFile), skipped)
}

// Truncate removes previous output, keeping log files.
func (s *RunStore) Truncate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read output directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		if err := os.Remove(s.path(e.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
		removed++
	}

	s.logger.Info("output truncated", "dir", s.dir, "removed", removed)
	return nil
}

func uniqueKey(key string, taken func(string) bool) string {
	if !taken(key) {
		return key
	}
	for i := 2; ; i++ {
		k := fmt.Sprintf("%s_%d", key, i)
		if !taken(k) {
			return k
		}
	}
}

// readJSON decodes path into v. A missing file leaves v untouched.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	// Write to temp file first for atomicity
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpFile, path)
}
