package beacon

import (
	"regexp"
	"strings"
)

// recordRe splits one VCF data line into its eight fixed columns plus the
// FORMAT-and-samples tail.
var recordRe = regexp.MustCompile(`(.+?)\t(.+?)\t(.+?)\t(.+?)\t(.+?)\t(.+?)\t(.+?)\t(.+?)\t(.+)`)

// metaRe splits a ##key=value header line.
var metaRe = regexp.MustCompile(`##(.+?)=(.+)`)

// csqFormatRe pulls the field list out of a VEP CSQ INFO description.
var csqFormatRe = regexp.MustCompile(`.+Format: (.+)`)

// Info is one typed INFO annotation on a record.
type Info struct {
	Type        string              `json:"type"`
	Number      string              `json:"number"`
	Description string              `json:"description"`
	Values      []string            `json:"value,omitempty"`
	Keyed       map[string][]map[string]string `json:"keyed,omitempty"`
}

// VariantRecord is one parsed VCF data line.
type VariantRecord struct {
	Chrom   string
	Pos     string
	ID      string
	Ref     string
	Alt     []string
	Qual    string
	Filter  string
	Info    map[string]*Info
	Samples map[string]map[string]string
}

// reservedInfoHeaders are the INFO keys defined by the VCF spec itself;
// files may use them without declaring them.
var reservedInfoHeaders = [][4]string{
	{"AA", "1", "String", "Ancestral allele"},
	{"AC", "A", "Integer", "Allele count in genotypes, for each ALT allele, in the same order as listed"},
	{"AD", "R", "Integer", "Total read depth for each allele"},
	{"ADF", "R", "Integer", "Read depth for each allele on the forward strand"},
	{"ADR", "R", "Integer", "Read depth for each allele on the reverse strand"},
	{"AF", "A", "Float", "Allele frequency for each ALT allele in the same order as listed (estimated from primary data, not called genotypes)"},
	{"AN", "1", "Integer", "Total number of alleles in called genotypes"},
	{"BQ", "1", "Float", "RMS base quality"},
	{"CIGAR", "A", "String", "Cigar string describing how to align an alternate allele to the reference allele"},
	{"DB", "0", "Flag", "dbSNP membership"},
	{"DP", "1", "Integer", "Combined depth across samples"},
	{"END", "1", "Integer", "End position on CHROM (used with symbolic alleles; see below)"},
	{"H2", "0", "Flag", "HapMap2 membership"},
	{"H3", "0", "Flag", "HapMap3 membership"},
	{"MQ", "1", "Float", "RMS mapping quality"},
	{"MQ0", "1", "Integer", "Number of MAPQ == 0 reads"},
	{"NS", "1", "Integer", "Number of samples with data"},
	{"SB", "4", "Integer", "Strand bias"},
	{"SOMATIC", "0", "Flag", "Somatic mutation (for cancer genomics)"},
	{"VALIDATED", "0", "Flag", "Validated by follow-up experiment"},
	{"1000G", "0", "Flag", "1000 Genomes membership"},
}

// ParseVariantRecord splits one VCF line into a record, assigning sample
// columns to the given canonical sample names in order. Lines that do not
// carry the full column set yield nil.
func ParseVariantRecord(record string, samples []string, infoHeaders []map[string]string) *VariantRecord {
	m := recordRe.FindStringSubmatch(record)
	if m == nil {
		return nil
	}
	variant := &VariantRecord{
		Chrom:   m[1],
		Pos:     m[2],
		ID:      m[3],
		Ref:     m[4],
		Alt:     strings.Split(m[5], ","),
		Qual:    m[6],
		Filter:  m[7],
		Samples: map[string]map[string]string{},
	}
	if m[9] != "" {
		sampleParse := strings.Split(m[9], "\t")
		format := strings.Split(sampleParse[0], ":")
		sampleParse = sampleParse[1:]
		for _, s := range samples {
			if len(sampleParse) == 0 {
				break
			}
			variant.Samples[s] = map[string]string{}
			parts := strings.Split(sampleParse[0], ":")
			sampleParse = sampleParse[1:]
			for i, f := range format {
				if i < len(parts) {
					variant.Samples[s][f] = parts[i]
				}
			}
		}
	}
	variant.Info = processInfoFields(m[8], infoHeaders)
	return variant
}

// HeaderEntry is one parsed ## header line value: either a bare string or
// a structured <k=v,...> map with lowercased keys.
type HeaderEntry struct {
	Structured bool
	Value      string
	Fields     map[string]string
}

// ParseHeaders groups ## header lines by their key, decomposing structured
// values.
func ParseHeaders(headers []string) map[string][]HeaderEntry {
	out := map[string][]HeaderEntry{}
	for _, line := range headers {
		m := metaRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out[m[1]] = append(out[m[1]], parseHeaderValue(m[2]))
	}
	return out
}

// parseHeaderValue decomposes one header value, honoring quoted field
// values that may contain commas and escaped quotes.
func parseHeaderValue(text string) HeaderEntry {
	if !strings.HasPrefix(text, "<") {
		return HeaderEntry{Structured: false, Value: text}
	}
	body := strings.TrimSuffix(strings.TrimPrefix(text, "<"), ">")
	entry := HeaderEntry{Structured: true, Fields: map[string]string{}}
	rest := body
	for rest != "" {
		var field string
		eq := strings.Index(rest, "=")
		if eq < 0 {
			break
		}
		key := rest[:eq]
		rest = rest[eq+1:]
		if strings.HasPrefix(rest, `"`) {
			rest = rest[1:]
			var b strings.Builder
			for rest != "" {
				if strings.HasPrefix(rest, `"`) && !strings.HasSuffix(b.String(), `\`) {
					rest = strings.TrimPrefix(rest[1:], ",")
					break
				}
				b.WriteByte(rest[0])
				rest = rest[1:]
			}
			entry.Fields[strings.ToLower(key)] = b.String()
			continue
		}
		comma := strings.Index(rest, ",")
		if comma < 0 {
			field = rest
			rest = ""
		} else {
			field = rest[:comma]
			rest = rest[comma+1:]
		}
		entry.Fields[strings.ToLower(key)] = field
	}
	return entry
}

// processInfoFields types a record's raw INFO column against the file's
// declared INFO headers plus the reserved set, expanding CSQ allele-wise.
func processInfoFields(text string, infoHeaderList []map[string]string) map[string]*Info {
	infoHeaders := map[string]map[string]string{}
	for _, h := range infoHeaderList {
		if id, ok := h["id"]; ok {
			infoHeaders[id] = h
		}
	}
	for _, r := range reservedInfoHeaders {
		infoHeaders[r[0]] = map[string]string{
			"number":      r[1],
			"type":        r[2],
			"description": r[3],
		}
	}

	infoObj := map[string]*Info{}
	for _, piece := range strings.Split(text, ";") {
		kv := strings.SplitN(piece, "=", 2)
		header, ok := infoHeaders[kv[0]]
		if !ok {
			continue
		}
		info := &Info{
			Type:        header["type"],
			Number:      header["number"],
			Description: header["description"],
		}
		if len(kv) > 1 {
			if info.Number == "1" {
				info.Values = []string{kv[1]}
			} else {
				info.Values = strings.Split(kv[1], ",")
			}
		}
		infoObj[kv[0]] = info
	}

	// CSQ gets keyed by allele using the Format list in its description.
	if csq, ok := infoObj["CSQ"]; ok {
		if header, ok := infoHeaders["CSQ"]; ok {
			if keyed := parseVepAnnotation(csq.Values, header["description"]); keyed != nil {
				csq.Description = "Consequence annotations from Ensembl VEP."
				csq.Keyed = keyed
				csq.Values = nil
				csq.Number = "K"
			}
		}
	}
	return infoObj
}

// parseVepAnnotation expands CSQ values into per-allele annotation maps.
func parseVepAnnotation(values []string, csqHeader string) map[string][]map[string]string {
	m := csqFormatRe.FindStringSubmatch(csqHeader)
	if m == nil {
		return nil
	}
	csqParts := strings.Split(m[1], "|")
	result := map[string][]map[string]string{}
	for _, value := range values {
		thisInfo := map[string]string{}
		pieces := strings.Split(value, "|")
		if len(pieces) <= len(csqParts) {
			for j, piece := range pieces {
				if piece != "" {
					thisInfo[csqParts[j]] = piece
				}
			}
		}
		allele := thisInfo["Allele"]
		result[allele] = append(result[allele], thisInfo)
	}
	return result
}

// iupacExpansions maps each ambiguity code to its concrete bases.
var iupacExpansions = map[byte]string{
	'R': "AG", 'Y': "CT", 'S': "GC", 'W': "AT", 'K': "GT", 'M': "AC",
	'B': "AGT", 'D': "CGT", 'H': "ACT", 'V': "ACG", 'N': "ACGT",
}

// ExpandIUPAC expands every ambiguity code in a base string into the set of
// concrete sequences it denotes.
func ExpandIUPAC(baseStr string) []string {
	for i := 0; i < len(baseStr); i++ {
		expansion, ok := iupacExpansions[baseStr[i]]
		if !ok {
			continue
		}
		var final []string
		for j := 0; j < len(expansion); j++ {
			expanded := baseStr[:i] + string(expansion[j]) + baseStr[i+1:]
			final = append(final, ExpandIUPAC(expanded)...)
		}
		return final
	}
	return []string{baseStr}
}

// SeqMatch reports whether two base strings can denote the same concrete
// sequence once IUPAC ambiguity is expanded.
func SeqMatch(a, b string) bool {
	setA := map[string]bool{}
	for _, s := range ExpandIUPAC(a) {
		setA[s] = true
	}
	for _, s := range ExpandIUPAC(b) {
		if setA[s] {
			return true
		}
	}
	return false
}

// GenotypeIndex computes the VCF genotype ordering index for allele pair
// (a, b): with a <= b, the index of "a/b" is b(b+1)/2 + a.
func GenotypeIndex(a, b int) int {
	if a > b {
		a, b = b, a
	}
	return (b*(b+1))/2 + a
}
