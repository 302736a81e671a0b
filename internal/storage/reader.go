package storage

import (
	"fmt"
	"sort"

	"github.com/maltedev/catalog-crawler/internal/models"
)

// Runs returns the merged run metadata keyed by run timestamp.
func (s *RunStore) Runs() (map[string]models.RunMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make(map[string]models.RunMetadata)
	if err := readJSON(s.path(MetadataFile), &all); err != nil {
		return nil, err
	}
	return all, nil
}

// Records returns the latest record per item id across all runs.
func (s *RunStore) Records() (map[string]*models.ItemRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make(map[string]RunEntry)
	if err := readJSON(s.jsonPath(), &runs); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(runs))
	for k := range runs {
		keys = append(keys, k)
	}
	// Run keys sort chronologically; later runs overwrite earlier ones.
	sort.Strings(keys)

	records := make(map[string]*models.ItemRecord)
	for _, k := range keys {
		for _, r := range runs[k].Data {
			if r != nil && r.ID != "" {
				records[r.ID] = r
			}
		}
	}
	return records, nil
}

// ItemIDs lists the ids present in the structured output, sorted.
func (s *RunStore) ItemIDs() ([]string, error) {
	records, err := s.Records()
	if err != nil {
		return nil, err
	}
	ids := make(models.IDSet, len(records))
	for id := range records {
		ids.Add(id)
	}
	return ids.Sorted(), nil
}

// Item returns the latest record for id.
func (s *RunStore) Item(id string) (*models.ItemRecord, error) {
	records, err := s.Records()
	if err != nil {
		return nil, err
	}
	r, ok := records[id]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return r, nil
}

// Skipped returns the skip record of the last run.
func (s *RunStore) Skipped() (map[string]models.SkipReason, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	skipped := make(map[string]models.SkipReason)
	if err := readJSON(s.path(SkippedFile), &skipped); err != nil {
		return nil, err
	}
	return skipped, nil
}

// RetryCandidates lists the ids the last run skipped after a transient
// timeout, sorted.
func (s *RunStore) RetryCandidates() ([]string, error) {
	skipped, err := s.Skipped()
	if err != nil {
		return nil, err
	}
	ids := models.NewIDSet()
	for id, reason := range skipped {
		if reason == models.SkipTransientTimeout {
			ids.Add(id)
		}
	}
	return ids.Sorted(), nil
}

// Processed returns every processed id, sorted.
func (s *RunStore) Processed() ([]string, error) {
	processed, err := s.LoadProcessed()
	if err != nil {
		return nil, err
	}
	return processed.Sorted(), nil
}
