package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/CanDIG/htsget-app/internal/domain"
)

// CreateSample records a sample name seen in a variantfile. The insert is
// idempotent on (sample_id, variantfile_id).
func (s *Store) CreateSample(ctx context.Context, sampleID, variantfileID string) (*domain.Sample, error) {
	if _, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO sample (sample_id, variantfile_id)
		VALUES (?, ?) ON CONFLICT (sample_id, variantfile_id) DO NOTHING`),
		sampleID, variantfileID); err != nil {
		return nil, fmt.Errorf("creating sample %s: %w", sampleID, err)
	}
	sample := &domain.Sample{SampleID: sampleID, VariantFileID: variantfileID}
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id FROM sample WHERE sample_id = ? AND variantfile_id = ?`),
		sampleID, variantfileID).Scan(&sample.ID)
	if err != nil {
		return nil, fmt.Errorf("fetching sample %s: %w", sampleID, err)
	}
	return sample, nil
}

// GetSample fetches the first sample with the given name.
func (s *Store) GetSample(ctx context.Context, sampleID string) (*domain.Sample, error) {
	sample := &domain.Sample{}
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, sample_id, variantfile_id FROM sample WHERE sample_id = ? ORDER BY id LIMIT 1`),
		sampleID).Scan(&sample.ID, &sample.SampleID, &sample.VariantFileID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sample %s: %w", sampleID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting sample %s: %w", sampleID, err)
	}
	return sample, nil
}

// GetSamplesInDrsObjects returns the distinct sample names indexed in any of
// the given variantfiles.
func (s *Store) GetSamplesInDrsObjects(ctx context.Context, drsObjectIDs []string) ([]string, error) {
	if len(drsObjectIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(drsObjectIDs)), ", ")
	args := make([]any, len(drsObjectIDs))
	for i, id := range drsObjectIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT DISTINCT sample_id FROM sample WHERE variantfile_id IN (`+placeholders+`) ORDER BY sample_id`),
		args...)
	if err != nil {
		return nil, fmt.Errorf("getting samples in drs objects: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning sample id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteSample removes one sample row by its surrogate id.
func (s *Store) DeleteSample(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM sample WHERE id = ?`), id); err != nil {
		return fmt.Errorf("deleting sample %d: %w", id, err)
	}
	return nil
}

// ListSamples returns all sample rows.
func (s *Store) ListSamples(ctx context.Context) ([]domain.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, sample_id, variantfile_id FROM sample ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing samples: %w", err)
	}
	defer rows.Close()
	var out []domain.Sample
	for rows.Next() {
		var smp domain.Sample
		if err := rows.Scan(&smp.ID, &smp.SampleID, &smp.VariantFileID); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}
