package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// AddHeadersForVariantFile persists header lines and links them to the
// variantfile. Headers are deduplicated across files by exact text; blank
// lines and the #CHROM column line are skipped.
func (s *Store) AddHeadersForVariantFile(ctx context.Context, variantfileID string, texts []string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT 1 FROM variantfile WHERE id = ?`), variantfileID).Scan(&exists)
	if err == sql.ErrNoRows {
		return fmt.Errorf("adding headers: variantfile %s does not exist", variantfileID)
	}
	if err != nil {
		return fmt.Errorf("adding headers: %w", err)
	}
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" || strings.HasPrefix(text, "#CHROM") {
			continue
		}
		if _, err := s.db.ExecContext(ctx, s.rebind(
			`INSERT INTO header (text) VALUES (?) ON CONFLICT (text) DO NOTHING`), text); err != nil {
			return fmt.Errorf("inserting header: %w", err)
		}
		var headerID int64
		if err := s.db.QueryRowContext(ctx, s.rebind(
			`SELECT id FROM header WHERE text = ?`), text).Scan(&headerID); err != nil {
			return fmt.Errorf("fetching header id: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO header_variantfile_association (header_id, variantfile_id)
			VALUES (?, ?) ON CONFLICT DO NOTHING`), headerID, variantfileID); err != nil {
			return fmt.Errorf("linking header to %s: %w", variantfileID, err)
		}
	}
	return nil
}

// GetHeaders returns the header texts linked to a variantfile, in insertion
// order.
func (s *Store) GetHeaders(ctx context.Context, variantfileID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT h.text FROM header h
		JOIN header_variantfile_association ha ON ha.header_id = h.id
		WHERE ha.variantfile_id = ?
		ORDER BY h.id`), variantfileID)
	if err != nil {
		return nil, fmt.Errorf("getting headers for %s: %w", variantfileID, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scanning header: %w", err)
		}
		out = append(out, text)
	}
	return out, rows.Err()
}

// DeleteHeader removes a header row and its variantfile links.
func (s *Store) DeleteHeader(ctx context.Context, text string) error {
	var headerID int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id FROM header WHERE text = ?`), text).Scan(&headerID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("finding header: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM header_variantfile_association WHERE header_id = ?`), headerID); err != nil {
		return fmt.Errorf("unlinking header: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM header WHERE id = ?`), headerID); err != nil {
		return fmt.Errorf("deleting header: %w", err)
	}
	return nil
}
