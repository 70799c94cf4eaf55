// Package hgvs parses genomic HGVS short forms (SEQID:g.POS<change>) into
// VCF-style locations.
package hgvs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Short-form patterns. The leading accession and position are shared; the
// change suffix selects the variant type.
var (
	shortFormPattern    = regexp.MustCompile(`(.+):[gc]\.(\d+)(.+)`)
	substitutionPattern = regexp.MustCompile(`^([A-Z]+)[>=]([A-Z]*)`)
	deletionPattern     = regexp.MustCompile(`^_(\d+)del$`)
	insertionPattern    = regexp.MustCompile(`^_(\d+)ins([A-Z]+)`)
	duplicationPattern  = regexp.MustCompile(`^_(\d+)dup`)
	inversionPattern    = regexp.MustCompile(`^_(\d+)inv`)
	delinsPattern       = regexp.MustCompile(`^_(\d+)delins([A-Z]+)`)
	repeatPattern       = regexp.MustCompile(`^([A-Z]+)\[(\d+)\]`)
)

// VariantType tags the parsed change kind.
type VariantType string

const (
	Substitution VariantType = "SUB"
	Deletion     VariantType = "DEL"
	Insertion    VariantType = "INS"
	Duplication  VariantType = "DUP"
	Inversion    VariantType = "INV"
	Delins       VariantType = "DELINS"
	Repeat       VariantType = "REP"
)

// ShortForm is a decomposed HGVS short form before sequence resolution.
type ShortForm struct {
	SeqID  string
	Pos    int64
	Change string
}

// Location is a change resolved to VCF-style coordinates. Deleted and
// inserted reference context the notation cannot name is padded with N.
type Location struct {
	Start int64
	End   int64
	Ref   string
	Alt   string
	Type  VariantType
}

// Parse splits an HGVS short form into its accession, position, and change.
func Parse(hgvsid string) (*ShortForm, error) {
	m := shortFormPattern.FindStringSubmatch(strings.TrimSpace(hgvsid))
	if m == nil {
		return nil, fmt.Errorf("unrecognized HGVS short form: %s", hgvsid)
	}
	pos, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing position in %s: %w", hgvsid, err)
	}
	return &ShortForm{SeqID: m[1], Pos: pos, Change: m[3]}, nil
}

// Resolve applies the change suffix to a start coordinate (the short form's
// position, possibly offset by a gene start) and yields the location.
func (s *ShortForm) Resolve(start int64) (*Location, error) {
	if m := substitutionPattern.FindStringSubmatch(s.Change); m != nil {
		return &Location{
			Start: start,
			End:   start + int64(len(m[1])),
			Ref:   m[1],
			Alt:   m[2],
			Type:  Substitution,
		}, nil
	}

	if m := deletionPattern.FindStringSubmatch(s.Change); m != nil {
		// VCF spells deletions from the base before, with the ref holding
		// the deleted bases.
		end, _ := strconv.ParseInt(m[1], 10, 64)
		start--
		return &Location{
			Start: start,
			End:   end,
			Ref:   strings.Repeat("N", int(end-start)),
			Alt:   "N",
			Type:  Deletion,
		}, nil
	}

	if m := insertionPattern.FindStringSubmatch(s.Change); m != nil {
		// VCF spells insertions from the base before, with the alt holding
		// the leading ref base plus the inserted sequence.
		start--
		alt := "N" + m[2]
		return &Location{
			Start: start,
			End:   start + int64(len(alt)) + 1,
			Ref:   "N" + m[2][:1],
			Alt:   alt,
			Type:  Insertion,
		}, nil
	}

	if m := duplicationPattern.FindStringSubmatch(s.Change); m != nil {
		end, _ := strconv.ParseInt(m[1], 10, 64)
		return &Location{
			Start: start,
			End:   end*2 - start,
			Type:  Duplication,
		}, nil
	}

	if m := inversionPattern.FindStringSubmatch(s.Change); m != nil {
		end, _ := strconv.ParseInt(m[1], 10, 64)
		return &Location{
			Start: start,
			End:   end,
			Type:  Inversion,
		}, nil
	}

	if m := delinsPattern.FindStringSubmatch(s.Change); m != nil {
		end, _ := strconv.ParseInt(m[1], 10, 64)
		return &Location{
			Start: start,
			End:   end,
			Ref:   strings.Repeat("N", int(end-start)),
			Alt:   m[2],
			Type:  Delins,
		}, nil
	}

	if m := repeatPattern.FindStringSubmatch(s.Change); m != nil {
		count, _ := strconv.Atoi(m[2])
		return &Location{
			Start: start,
			End:   start + int64(len(m[1])),
			Ref:   m[1],
			Alt:   strings.Repeat(m[1], count),
			Type:  Repeat,
		}, nil
	}

	return nil, fmt.Errorf("unrecognized HGVS change: %s", s.Change)
}
