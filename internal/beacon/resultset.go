package beacon

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

var cnRe = regexp.MustCompile(`<CN(\d+)>`)

// variation is one VRS allele before it lands in a resultset entry.
type variation struct {
	HgvsID   string
	Location map[string]any
	State    map[string]any
	Type     string
	Info     map[string]*Info
}

// resultEntry is one assembled g_variant in the Beacon response.
type resultEntry struct {
	VariantInternalID   string           `json:"variantInternalId"`
	Variation           map[string]any   `json:"variation"`
	Identifiers         map[string]any   `json:"identifiers"`
	MolecularAttributes map[string]any   `json:"molecularAttributes,omitempty"`
	CaseLevelData       []map[string]any `json:"caseLevelData,omitempty"`
}

// compileVariationsFromRecord expands one record's ref and alt alleles into
// VRS allele variations with their genomic HGVS ids. The first variation is
// always the reference allele.
func (s *Service) compileVariationsFromRecord(ctx context.Context, ref string, alts []string, chrom, pos, referenceGenome string) []*variation {
	start, _ := strconv.ParseInt(pos, 10, 64)
	end := start

	newLocation := func(seqID string) map[string]any {
		return map[string]any{
			"interval": map[string]any{
				// interbase count, so start is from 0
				"start": map[string]any{"value": start - 1, "type": "Number"},
				"end":   map[string]any{"value": end, "type": "Number"},
				"type":  "SequenceInterval",
			},
			"type":        "SequenceLocation",
			"sequence_id": seqID,
		}
	}

	normalized, _ := s.Store.NormalizeContig(ctx, chrom)
	seqID, _ := s.Store.GetRefseqForChromosome(ctx, referenceGenome, normalized)
	seqRef := ""
	hgvsBase := ""
	if seqID != "" {
		seqRef = "refseq:" + seqID
		hgvsBase = seqID + ":g." + pos
	}

	variations := []*variation{{
		Type:     "Allele",
		Location: newLocation(seqRef),
		State:    map[string]any{"type": "LiteralSequenceExpression", "sequence": ref},
		HgvsID:   hgvsBase + "=",
	}}

	for _, a := range alts {
		alt := &variation{
			Type:     "Allele",
			Location: newLocation(seqRef),
			State:    map[string]any{"type": "LiteralSequenceExpression", "sequence": a},
		}
		variations = append(variations, alt)
		if len(ref) == 1 && len(a) == 1 { // snp
			alt.HgvsID = hgvsBase + ref + ">" + a
			continue
		}
		if m := cnRe.FindStringSubmatch(a); m != nil {
			// copy number variation: the sequence is the ref repeated
			copynum, _ := strconv.Atoi(m[1])
			alt.State["sequence"] = strings.Repeat(ref, copynum)
			alt.HgvsID = hgvsBase + ref + "[" + m[1] + "]"
			continue
		}
		// everything else is notated like delins
		alt.HgvsID = hgvsBase + "_" + strconv.FormatInt(start+int64(len(ref)), 10) + "delins" + a
	}
	return variations
}

// assignInfoToVariations distributes per-allele INFO annotations (Number R,
// A, or allele-keyed CSQ) onto the matching variations.
func assignInfoToVariations(info map[string]*Info, variations []*variation) {
	for k, v := range info {
		switch v.Number {
		case "R", "A":
			offset := 0
			if v.Number == "A" {
				offset = 1
			}
			for i, val := range v.Values {
				target := i + offset
				if target >= len(variations) {
					break
				}
				if variations[target].Info == nil {
					variations[target].Info = map[string]*Info{}
				}
				variations[target].Info[k] = &Info{
					Description: v.Description,
					Values:      []string{val},
				}
			}
			delete(info, k)
		case "K":
			alleleSeqs := make([]string, len(variations))
			for i, vr := range variations {
				alleleSeqs[i], _ = vr.State["sequence"].(string)
			}
			for allele, entries := range v.Keyed {
				index := -1
				switch {
				case allele == "-":
					// vep doesn't label alleles for deletions: it's the alt
					index = 1
				default:
					// vep labels insertions as the allele without the ref
					withRef := alleleSeqs[0] + allele
					for i, seq := range alleleSeqs {
						if seq == withRef {
							index = i
							break
						}
					}
					if index < 0 {
						for i, seq := range alleleSeqs {
							if seq == allele {
								index = i
								break
							}
						}
					}
				}
				if index < 0 || index >= len(variations) {
					continue
				}
				if variations[index].Info == nil {
					variations[index].Info = map[string]*Info{}
				}
				variations[index].Info[k] = &Info{
					Description: v.Description,
					Keyed:       map[string][]map[string]string{allele: entries},
				}
			}
			delete(info, k)
		}
	}
}

// vepConsequences maps VEP Consequence values to sequence-ontology terms.
var vepConsequences = map[string]string{
	"transcript_ablation":                "SO:0001893",
	"splice_acceptor_variant":            "SO:0001574",
	"splice_donor_variant":               "SO:0001575",
	"stop_gained":                        "SO:0001587",
	"frameshift_variant":                 "SO:0001589",
	"stop_lost":                          "SO:0001578",
	"start_lost":                         "SO:0002012",
	"transcript_amplification":           "SO:0001889",
	"inframe_insertion":                  "SO:0001821",
	"inframe_deletion":                   "SO:0001822",
	"missense_variant":                   "SO:0001583",
	"protein_altering_variant":           "SO:0001818",
	"splice_region_variant":              "SO:0001630",
	"incomplete_terminal_codon_variant":  "SO:0001626",
	"start_retained_variant":             "SO:0002019",
	"stop_retained_variant":              "SO:0001567",
	"synonymous_variant":                 "SO:0001819",
	"coding_sequence_variant":            "SO:0001580",
	"mature_miRNA_variant":               "SO:0001620",
	"5_prime_UTR_variant":                "SO:0001623",
	"3_prime_UTR_variant":                "SO:0001624",
	"non_coding_transcript_exon_variant": "SO:0001792",
	"intron_variant":                     "SO:0001627",
	"NMD_transcript_variant":             "SO:0001621",
	"non_coding_transcript_variant":      "SO:0001619",
	"upstream_gene_variant":              "SO:0001631",
	"downstream_gene_variant":            "SO:0001632",
	"TFBS_ablation":                      "SO:0001895",
	"TFBS_amplification":                 "SO:0001892",
	"TF_binding_site_variant":            "SO:0001782",
	"regulatory_region_ablation":         "SO:0001894",
	"regulatory_region_amplification":    "SO:0001891",
	"feature_elongation":                 "SO:0001907",
	"regulatory_region_variant":          "SO:0001566",
	"feature_truncation":                 "SO:0001906",
	"intergenic_variant":                 "SO:0001628",
}

// molEffectFromConsequence maps one VEP consequence to its ontology entry.
func molEffectFromConsequence(consequence string) map[string]any {
	if id, ok := vepConsequences[consequence]; ok {
		return map[string]any{"id": id, "label": consequence}
	}
	return nil
}

// compileMolecularAttributesFromCSQ condenses an allele's CSQ annotations
// into the entry's molecularAttributes.
func compileMolecularAttributesFromCSQ(entry *resultEntry, csq *Info) {
	geneIDs := map[string]bool{}
	molEffects := map[string]bool{}
	for _, entries := range csq.Keyed {
		for _, ann := range entries {
			if v, ok := ann["HGNC_ID"]; ok {
				geneIDs[v] = true
			}
			if v, ok := ann["SYMBOL"]; ok {
				geneIDs[v] = true
			}
			if v, ok := ann["Gene"]; ok {
				geneIDs[v] = true
			}
			if v, ok := ann["Consequence"]; ok {
				for _, c := range strings.Split(v, "&") {
					molEffects[c] = true
				}
			}
		}
	}
	attrs := map[string]any{}
	if len(geneIDs) > 0 {
		ids := make([]string, 0, len(geneIDs))
		for id := range geneIDs {
			ids = append(ids, id)
		}
		attrs["geneIds"] = ids
	}
	if len(molEffects) > 0 {
		var effects []map[string]any
		for c := range molEffects {
			if eff := molEffectFromConsequence(c); eff != nil {
				effects = append(effects, eff)
			}
		}
		attrs["molecularEffects"] = effects
	}
	entry.MolecularAttributes = attrs
}

// compileResultset assembles the VRS-style allele resultset across every
// candidate variantfile. Case-level genotype data is attached for every
// file; the analysisId and biosampleId identifiers are added only for files
// the request is authorized to read. Variations no sample carries are
// pruned.
func (s *Service) compileResultset(ctx context.Context, variantsByFile map[string]*FileVariants, referenceGenome string, authorized map[string]bool) []*resultEntry {
	entries := map[string]*resultEntry{}
	var order []string

	for drsObj, fileVariants := range variantsByFile {
		vf, err := s.Store.GetVariantFile(ctx, drsObj)
		if err != nil || vf.ReferenceGenome != referenceGenome {
			continue
		}
		isAuthed := authorized[drsObj]
		for _, record := range fileVariants.Variants {
			variations := s.compileVariationsFromRecord(ctx, record.Ref, record.Alt, record.Chrom, record.Pos, referenceGenome)
			assignInfoToVariations(record.Info, variations)

			// allele index -> hgvsid, for genotype resolution below
			alleleIDs := make([]string, len(variations))
			for i, v := range variations {
				alleleIDs[i] = v.HgvsID
				if _, ok := entries[v.HgvsID]; !ok {
					entries[v.HgvsID] = &resultEntry{
						Variation: map[string]any{
							"location": v.Location,
							"state":    v.State,
							"type":     v.Type,
						},
						Identifiers: map[string]any{"genomicHGVSId": v.HgvsID},
					}
					order = append(order, v.HgvsID)
				}
				if csq, ok := v.Info["CSQ"]; ok && entries[v.HgvsID].MolecularAttributes == nil {
					compileMolecularAttributesFromCSQ(entries[v.HgvsID], csq)
				}
			}

			for sampleName, sample := range record.Samples {
				gt, ok := sample["GT"]
				if !ok {
					continue
				}
				alleles := strings.Split(gt, "/")
				if len(alleles) < 2 {
					alleles = strings.Split(gt, "|")
				}
				if len(alleles) < 2 {
					continue
				}
				a0, err0 := strconv.Atoi(alleles[0])
				a1, err1 := strconv.Atoi(alleles[1])
				if err0 != nil || err1 != nil || a0 >= len(alleleIDs) || a1 >= len(alleleIDs) {
					continue
				}
				cld := map[string]any{
					"genotype": map[string]any{
						"value":              gt,
						"secondaryAlleleIds": []string{alleleIDs[a0], alleleIDs[a1]},
					},
				}
				if isAuthed {
					cld["analysisId"] = drsObj
					cld["biosampleId"] = sampleName
				}
				if a0 == a1 {
					genotype := cld["genotype"].(map[string]any)
					genotype["zygosity"] = map[string]any{
						"id":    "GENO:0000136",
						"label": "homozygous",
					}
					delete(genotype, "secondaryAlleleIds")
					appendCLD(entries[alleleIDs[a0]], cld)
					continue
				}
				zygosity := map[string]any{
					"id":    "GENO:0000402",
					"label": "compound heterozygous",
				}
				if a0 == 0 || a1 == 0 {
					zygosity = map[string]any{
						"id":    "GENO:0000458",
						"label": "simple heterozygous",
					}
				}
				cld["genotype"].(map[string]any)["zygosity"] = zygosity
				// one record per allele; the other allele stays listed as
				// its secondary
				for _, a := range []int{a0, a1} {
					second := copyCLD(cld)
					ids := second["genotype"].(map[string]any)["secondaryAlleleIds"].([]string)
					second["genotype"].(map[string]any)["secondaryAlleleIds"] = removeString(ids, alleleIDs[a])
					appendCLD(entries[alleleIDs[a]], second)
				}
			}
		}
	}

	// only variants actually seen in the data survive
	final := []*resultEntry{}
	for _, hgvsid := range order {
		entry := entries[hgvsid]
		if len(entry.CaseLevelData) > 0 {
			entry.VariantInternalID = hgvsid
			final = append(final, entry)
		}
	}
	return final
}

func appendCLD(entry *resultEntry, cld map[string]any) {
	if entry == nil {
		return
	}
	entry.CaseLevelData = append(entry.CaseLevelData, cld)
}

func copyCLD(cld map[string]any) map[string]any {
	genotype := cld["genotype"].(map[string]any)
	newGenotype := map[string]any{}
	for k, v := range genotype {
		if ids, ok := v.([]string); ok {
			newGenotype[k] = append([]string{}, ids...)
			continue
		}
		newGenotype[k] = v
	}
	out := map[string]any{"genotype": newGenotype}
	for k, v := range cld {
		if k != "genotype" {
			out[k] = v
		}
	}
	return out
}

func removeString(list []string, s string) []string {
	out := make([]string, 0, len(list))
	removed := false
	for _, v := range list {
		if !removed && v == s {
			removed = true
			continue
		}
		out = append(out, v)
	}
	return out
}
