package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// NormalizeContig maps any contig spelling to its canonical name, or ""
// when the spelling is unknown. Results are cached; the contig and alias
// tables only change by migration.
func (s *Store) NormalizeContig(ctx context.Context, contigID string) (string, error) {
	if contigID == "" {
		return "", nil
	}
	if cached, ok := s.contigs.Get(contigID); ok {
		return cached, nil
	}
	var canonical string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id FROM contig WHERE id = ?`), contigID).Scan(&canonical)
	if err == sql.ErrNoRows {
		err = s.db.QueryRowContext(ctx, s.rebind(`SELECT contig_id FROM alias WHERE id = ?`), contigID).Scan(&canonical)
	}
	if err == sql.ErrNoRows {
		s.contigs.Add(contigID, "")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("normalizing contig %s: %w", contigID, err)
	}
	s.contigs.Add(contigID, canonical)
	return canonical, nil
}

// GetContigPrefix returns the spelling prefix of a contig name relative to
// its canonical form, e.g. "chr" for "chr21" and "" for "21".
func (s *Store) GetContigPrefix(ctx context.Context, contigID string) (string, error) {
	normalized, err := s.NormalizeContig(ctx, contigID)
	if err != nil {
		return "", err
	}
	if normalized == "" {
		return "", fmt.Errorf("contig %s does not normalize", contigID)
	}
	suffix := strings.Replace(normalized, "chr", "", 1)
	return strings.Replace(contigID, suffix, "", 1), nil
}

// GetContigNameInVariantFile translates a caller-normalized contig name into
// the spelling used inside the given variantfile.
func (s *Store) GetContigNameInVariantFile(ctx context.Context, refname, variantfileID string) (string, error) {
	normalized, err := s.NormalizeContig(ctx, refname)
	if err != nil {
		return "", err
	}
	if normalized == "" {
		return "", fmt.Errorf("contig %s is not known", refname)
	}
	vf, err := s.GetVariantFile(ctx, variantfileID)
	if err != nil {
		return "", err
	}
	return vf.ChrPrefix + normalized, nil
}
