// Package beacon implements the Beacon v2 genomic-variant search over the
// catalog's position-bucket index and the variant readers.
package beacon

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/CanDIG/htsget-app/internal/authz"
	"github.com/CanDIG/htsget-app/internal/catalog"
	"github.com/CanDIG/htsget-app/internal/domain"
	"github.com/CanDIG/htsget-app/internal/htsget"
	"github.com/CanDIG/htsget-app/internal/storage"
	"github.com/CanDIG/htsget-app/pkg/hgvs"
)

const (
	apiVersion = "1.0.0"
	beaconID   = "org.candig.htsget.beacon"
)

var beaconSchema = []map[string]any{{
	"entityType": "genomicVariant",
	"schema":     "ga4gh-beacon-variant-v2.0.0",
}}

// Service answers Beacon v2 genomic-variant queries.
type Service struct {
	Store        *catalog.Store
	Materializer *storage.Materializer
	Gate         *authz.Gate
	Htsget       *htsget.Service
	Log          *logrus.Logger
}

// RequestParameters is the Beacon v2 request-parameter block. Start and end
// are arrays per the protocol; only index 0 is consulted. Clients spell the
// keys both snake_case and camelCase in the wild, so both are accepted.
type RequestParameters struct {
	AssemblyID       string  `json:"assembly_id,omitempty"`
	AssemblyIDAlt    string  `json:"assemblyId,omitempty"`
	ReferenceName    string  `json:"reference_name,omitempty"`
	ReferenceNameAlt string  `json:"referenceName,omitempty"`
	Start            []int64 `json:"start,omitempty"`
	End              []int64 `json:"end,omitempty"`
	GeneID           string  `json:"gene_id,omitempty"`
	Allele           string  `json:"genomic_allele_short_form,omitempty"`
	ReferenceBases   string  `json:"reference_bases,omitempty"`
	AlternateBases   string  `json:"alternate_bases,omitempty"`
	VariantMinLength *int64  `json:"variant_min_length,omitempty"`
	VariantMaxLength *int64  `json:"variant_max_length,omitempty"`
}

// assembly returns the requested assembly, preferring the snake_case key.
func (p RequestParameters) assembly() string {
	if p.AssemblyID != "" {
		return p.AssemblyID
	}
	return p.AssemblyIDAlt
}

// referenceName returns the requested contig, preferring the snake_case key.
func (p RequestParameters) referenceName() string {
	if p.ReferenceName != "" {
		return p.ReferenceName
	}
	return p.ReferenceNameAlt
}

// Query is the Beacon v2 query block.
type Query struct {
	RequestParameters RequestParameters `json:"requestParameters"`
	Filters           []any             `json:"filters,omitempty"`
}

// Request is a Beacon v2 POST body.
type Request struct {
	Query                     Query          `json:"query"`
	Pagination                map[string]any `json:"pagination,omitempty"`
	RequestedGranularity      string         `json:"requestedGranularity,omitempty"`
	IncludeResultsetResponses any            `json:"includeResultsetResponses,omitempty"`
}

// alleleLocation is a resolved HGVS short form with sequence context.
type alleleLocation struct {
	ReferenceName   string
	ReferenceGenome string
	Start           int64
	End             int64
	Ref             string
	Alt             string
	Type            hgvs.VariantType
}

// convertHgvsToLocation resolves an HGVS short form against the refseq
// table. Gene-anchored accessions offset the position by the gene start;
// chromosome accessions carry their own reference genome.
func (s *Service) convertHgvsToLocation(ctx context.Context, hgvsid, referenceGenome string) *alleleLocation {
	form, err := hgvs.Parse(hgvsid)
	if err != nil {
		return nil
	}
	genes, err := s.Store.SearchRefseqs(ctx, form.SeqID, "transcript_name")
	if err != nil || len(genes) == 0 {
		return nil
	}
	result := &alleleLocation{}
	if len(genes) > 1 {
		for _, gene := range genes {
			if gene.ReferenceGenome != referenceGenome {
				continue
			}
			normalized, _ := s.Store.NormalizeContig(ctx, gene.Contig)
			result.ReferenceName = normalized
			result.Start = gene.Start + form.Pos
			break
		}
	} else {
		// a chromosome accession belongs to exactly one reference genome
		normalized, _ := s.Store.NormalizeContig(ctx, genes[0].Contig)
		result.ReferenceName = normalized
		result.ReferenceGenome = genes[0].ReferenceGenome
		result.Start = form.Pos
	}
	if result.ReferenceName == "" {
		return nil
	}
	loc, err := form.Resolve(result.Start)
	if err != nil {
		return nil
	}
	result.Start = loc.Start
	result.End = loc.End
	result.Ref = loc.Ref
	result.Alt = loc.Alt
	result.Type = loc.Type
	return result
}

// errorEnvelope is the Beacon-shaped 404: the HTTP status stays 200 and the
// error code travels inside the v2 envelope.
func errorEnvelope(meta map[string]any, message string) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"errorMessage": message,
			"errorCode":    404,
		},
		"meta": meta,
	}
}

// Search runs one Beacon v2 genomic-variant query.
func (s *Service) Search(ctx context.Context, r *http.Request, req *Request) map[string]any {
	params := req.Query.RequestParameters

	rawParams := map[string]any{}
	if b, err := json.Marshal(params); err == nil {
		json.Unmarshal(b, &rawParams)
	}
	meta := map[string]any{
		"apiVersion": apiVersion,
		"beaconId":   beaconID,
		"receivedRequestSummary": map[string]any{
			"apiVersion":        apiVersion,
			"requestedSchemas":  beaconSchema,
			"requestParameters": rawParams,
		},
		"returnedSchemas": beaconSchema,
	}
	received := meta["receivedRequestSummary"].(map[string]any)
	if req.Pagination != nil {
		received["pagination"] = req.Pagination
	}
	if req.RequestedGranularity != "" {
		received["requestedGranularity"] = req.RequestedGranularity
		meta["returnedGranularity"] = req.RequestedGranularity
	}
	response := map[string]any{
		"meta": meta,
		"responseSummary": map[string]any{
			"exists":          false,
			"numTotalResults": 0,
		},
	}

	referenceGenome := "hg38"
	if params.assembly() != "" {
		referenceGenome = params.assembly()
	}
	rawParams["reference_genome"] = referenceGenome

	referenceName := params.referenceName()
	var start, end int64
	haveStart, haveEnd := false, false
	if len(params.Start) > 0 {
		start = params.Start[0]
		haveStart = true
	}
	if len(params.End) > 0 {
		end = params.End[0]
		haveEnd = true
	}

	if params.GeneID != "" {
		genes, err := s.Store.SearchRefseqs(ctx, strings.ToUpper(params.GeneID), "gene_name")
		if err != nil || len(genes) == 0 {
			return errorEnvelope(meta, "no region was found for geneId "+params.GeneID)
		}
		for _, gene := range genes {
			if gene.ReferenceGenome != referenceGenome {
				continue
			}
			normalized, _ := s.Store.NormalizeContig(ctx, gene.Contig)
			referenceName = normalized
			start, end = gene.Start, gene.End
			haveStart, haveEnd = true, true
			break
		}
	}

	var ref, alt string
	if params.Allele != "" {
		if loc := s.convertHgvsToLocation(ctx, params.Allele, referenceGenome); loc != nil {
			referenceName = loc.ReferenceName
			start, end = loc.Start, loc.End
			haveStart, haveEnd = true, true
			if loc.ReferenceGenome != "" {
				referenceGenome = loc.ReferenceGenome
				rawParams["reference_genome"] = referenceGenome
			}
			ref, alt = loc.Ref, loc.Alt
		}
	}
	if params.ReferenceBases != "" {
		ref = params.ReferenceBases
	}
	if params.AlternateBases != "" {
		alt = params.AlternateBases
	}

	if referenceName == "" {
		return errorEnvelope(meta, "no referenceName was provided")
	}
	// with no end specified, assume the end is the same as the start
	if !haveEnd && haveStart {
		end = start
	}

	variantsByFile, err := s.FindVariantsInRegion(ctx, referenceName, start, end)
	if err != nil {
		s.Log.WithError(err).Warn("Beacon region scan failed")
		return errorEnvelope(meta, err.Error())
	}
	authorized := map[string]bool{}
	for drsObj := range variantsByFile {
		authorized[drsObj] = s.Gate.IsAuthed(ctx, drsObj, r) == 200
	}

	resultset := s.compileResultset(ctx, variantsByFile, referenceGenome, authorized)
	exact := haveStart && start == end
	resultset = filterResultset(resultset, exact, start, end, ref, alt, params.VariantMinLength, params.VariantMaxLength)

	if len(resultset) > 0 {
		response["responseSummary"].(map[string]any)["numTotalResults"] = len(resultset)
		response["responseSummary"].(map[string]any)["exists"] = true
	}

	// the handovers double as the record-granularity authorization check
	handovers := []map[string]any{}
	for drsObj := range variantsByFile {
		if !authorized[drsObj] {
			continue
		}
		ticket, terr := s.Htsget.Ticket(ctx, domain.RoleVariant, drsObj, referenceName, &start, &end, "")
		if terr != nil {
			continue
		}
		handovers = append(handovers, map[string]any{
			"htsget":       ticket.Htsget,
			"handoverType": map[string]any{"id": "CUSTOM", "label": "HTSGET"},
		})
	}
	if len(handovers) > 0 {
		response["beaconHandovers"] = handovers
		response["response"] = resultset
	} else {
		meta["returnedGranularity"] = "count"
	}
	return response
}

// filterResultset applies the post-assembly request filters: exact-position
// for point queries, ref and alt base matching with IUPAC expansion, and
// variant length bounds.
func filterResultset(resultset []*resultEntry, exact bool, start, end int64, ref, alt string, minLen, maxLen *int64) []*resultEntry {
	entrySeq := func(entry *resultEntry) string {
		state, _ := entry.Variation["state"].(map[string]any)
		seq, _ := state["sequence"].(string)
		return seq
	}
	entryInterval := func(entry *resultEntry) (int64, int64) {
		location, _ := entry.Variation["location"].(map[string]any)
		interval, _ := location["interval"].(map[string]any)
		readVal := func(key string) int64 {
			point, _ := interval[key].(map[string]any)
			switch v := point["value"].(type) {
			case int64:
				return v
			case float64:
				return int64(v)
			}
			return -1
		}
		return readVal("start"), readVal("end")
	}
	isRef := func(entry *resultEntry) bool {
		return strings.HasSuffix(entry.VariantInternalID, "=")
	}

	if exact {
		var filtered []*resultEntry
		for _, entry := range resultset {
			s0, e0 := entryInterval(entry)
			if s0 == start-1 && e0 == end {
				filtered = append(filtered, entry)
			}
		}
		resultset = filtered
	}
	if alt != "" {
		var filtered []*resultEntry
		for _, entry := range resultset {
			// ref alleles always survive the alt filter
			if isRef(entry) || SeqMatch(entrySeq(entry), alt) {
				filtered = append(filtered, entry)
			}
		}
		resultset = filtered
	}
	if ref != "" {
		var filtered []*resultEntry
		for _, entry := range resultset {
			if !isRef(entry) || SeqMatch(entrySeq(entry), ref) {
				filtered = append(filtered, entry)
			}
		}
		resultset = filtered
	}
	if minLen != nil || maxLen != nil {
		var filtered []*resultEntry
		for _, entry := range resultset {
			if isRef(entry) {
				filtered = append(filtered, entry)
				continue
			}
			length := int64(len(entrySeq(entry)))
			if minLen != nil && length < *minLen {
				continue
			}
			if maxLen != nil && length > *maxLen {
				continue
			}
			filtered = append(filtered, entry)
		}
		resultset = filtered
	}
	return resultset
}
