package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/CanDIG/htsget-app/internal/domain"
)

// GetVariantFile fetches a variantfile row with its sample names, retrying
// on transient store errors.
func (s *Store) GetVariantFile(ctx context.Context, id string) (*domain.VariantFile, error) {
	var vf *domain.VariantFile
	err := s.withRetry(ctx, "get_variantfile", func() error {
		var ferr error
		vf, ferr = s.fetchVariantFile(ctx, id)
		if errors.Is(ferr, domain.ErrNotFound) {
			vf = nil
			return nil
		}
		return ferr
	})
	if err != nil {
		return nil, err
	}
	if vf == nil {
		return nil, fmt.Errorf("variantfile %s: %w", id, domain.ErrNotFound)
	}
	return vf, nil
}

func (s *Store) fetchVariantFile(ctx context.Context, id string) (*domain.VariantFile, error) {
	vf := &domain.VariantFile{Samples: []string{}}
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, drs_object_id, indexed, chr_prefix, reference_genome
		FROM variantfile WHERE id = ?`), id).
		Scan(&vf.ID, &vf.DrsObjectID, &vf.Indexed, &vf.ChrPrefix, &vf.ReferenceGenome)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("variantfile %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting variantfile %s: %w", id, err)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT sample_id FROM sample WHERE variantfile_id = ? ORDER BY id`), id)
	if err != nil {
		return nil, fmt.Errorf("getting samples for %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var sampleID string
		if err := rows.Scan(&sampleID); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		vf.Samples = append(vf.Samples, sampleID)
	}
	return vf, rows.Err()
}

// CreateVariantFile upserts the variantfile row for a GenomicDrsObject. The
// DRS object must already exist.
func (s *Store) CreateVariantFile(ctx context.Context, id, referenceGenome string) (*domain.VariantFile, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM drs_object WHERE id = ?`), id).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cannot create variantfile %s: no corresponding DRS object", id)
	}
	if err != nil {
		return nil, fmt.Errorf("checking drs object %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO variantfile (id, drs_object_id, indexed, chr_prefix, reference_genome)
		VALUES (?, ?, 0, '', ?)
		ON CONFLICT (id) DO UPDATE SET reference_genome = excluded.reference_genome`),
		id, id, referenceGenome)
	if err != nil {
		return nil, fmt.Errorf("upserting variantfile %s: %w", id, err)
	}
	return s.fetchVariantFile(ctx, id)
}

// MarkVariantFileIndexed flips the indexed bit on.
func (s *Store) MarkVariantFileIndexed(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE variantfile SET indexed = 1 WHERE id = ?`), id); err != nil {
		return fmt.Errorf("marking variantfile %s indexed: %w", id, err)
	}
	return nil
}

// MarkVariantFileNotIndexed clears the indexed bit, forcing a re-index.
func (s *Store) MarkVariantFileNotIndexed(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE variantfile SET indexed = 0 WHERE id = ?`), id); err != nil {
		return fmt.Errorf("marking variantfile %s not indexed: %w", id, err)
	}
	return nil
}

// SetVariantFilePrefix records how the underlying file spells chromosomes.
func (s *Store) SetVariantFilePrefix(ctx context.Context, id, prefix string) (*domain.VariantFile, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE variantfile SET chr_prefix = ? WHERE id = ?`), prefix, id)
	if err != nil {
		return nil, fmt.Errorf("setting prefix for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("variantfile %s: %w", id, domain.ErrNotFound)
	}
	return s.fetchVariantFile(ctx, id)
}

// DeleteVariantFile removes a variantfile and, via cascade, its samples,
// header links, contig links, and position-bucket associations.
func (s *Store) DeleteVariantFile(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM variantfile WHERE id = ?`), id); err != nil {
		return fmt.Errorf("deleting variantfile %s: %w", id, err)
	}
	return nil
}

// ListVariantFiles returns all variantfiles.
func (s *Store) ListVariantFiles(ctx context.Context) ([]*domain.VariantFile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM variantfile ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing variantfiles: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning variantfile id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*domain.VariantFile, 0, len(ids))
	for _, id := range ids {
		vf, err := s.fetchVariantFile(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, vf)
	}
	return out, nil
}
