package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/CanDIG/htsget-app/internal/domain"
)

// SearchRefseqs prefix-searches the refseq table on gene or transcript name.
// Results are ordered by the searched name, then reference genome, for
// deterministic tie-breaks.
func (s *Store) SearchRefseqs(ctx context.Context, query, field string) ([]domain.RefSeq, error) {
	col := "gene_name"
	if field == "transcript_name" {
		col = "transcript_name"
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, reference_genome, gene_name, transcript_name, contig, start, endpos
		FROM ncbirefseq
		WHERE `+col+` LIKE ?
		ORDER BY `+col+`, reference_genome`), query+"%")
	if err != nil {
		return nil, fmt.Errorf("searching refseqs for %s: %w", query, err)
	}
	defer rows.Close()
	return scanRefseqs(rows)
}

// ListRefseqs returns all named-gene rows for a reference genome.
func (s *Store) ListRefseqs(ctx context.Context, referenceGenome string) ([]domain.RefSeq, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, reference_genome, gene_name, transcript_name, contig, start, endpos
		FROM ncbirefseq
		WHERE reference_genome = ? AND gene_name != ''
		ORDER BY gene_name, transcript_name`), referenceGenome)
	if err != nil {
		return nil, fmt.Errorf("listing refseqs: %w", err)
	}
	defer rows.Close()
	return scanRefseqs(rows)
}

func scanRefseqs(rows *sql.Rows) ([]domain.RefSeq, error) {
	var out []domain.RefSeq
	for rows.Next() {
		var r domain.RefSeq
		if err := rows.Scan(&r.ID, &r.ReferenceGenome, &r.GeneName, &r.TranscriptName,
			&r.Contig, &r.Start, &r.End); err != nil {
			return nil, fmt.Errorf("scanning refseq: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRefseqForChromosome returns the accession naming a whole chromosome in
// the given reference genome, e.g. NC_000021.9 for chr21 in hg38.
func (s *Store) GetRefseqForChromosome(ctx context.Context, referenceGenome, contig string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT transcript_name FROM ncbirefseq
		WHERE reference_genome = ? AND contig = ? AND gene_name = '' AND start = 0
		LIMIT 1`), referenceGenome, contig).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting refseq for %s/%s: %w", referenceGenome, contig, err)
	}
	return name, nil
}

// GetChromosomeForRefseq maps a chromosome accession back to its contig.
func (s *Store) GetChromosomeForRefseq(ctx context.Context, refseq string) (string, error) {
	var contig string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT contig FROM ncbirefseq
		WHERE transcript_name = ? AND start = 0
		LIMIT 1`), refseq).Scan(&contig)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting chromosome for %s: %w", refseq, err)
	}
	return contig, nil
}

// CreateRefseq inserts one refseq row; used by gene-table loaders and tests.
func (s *Store) CreateRefseq(ctx context.Context, r domain.RefSeq) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO ncbirefseq (reference_genome, gene_name, transcript_name, contig, start, endpos)
		VALUES (?, ?, ?, ?, ?, ?)`),
		r.ReferenceGenome, r.GeneName, r.TranscriptName, r.Contig, r.Start, r.End); err != nil {
		return fmt.Errorf("creating refseq %s: %w", r.GeneName, err)
	}
	return nil
}
