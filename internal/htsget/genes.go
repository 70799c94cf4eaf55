package htsget

import (
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

// geneListLimit caps distinct names returned by a prefix search.
const geneListLimit = 5

// listRefseqNames lists distinct gene or transcript names across hg38.
func (s *Service) listRefseqNames(c *gin.Context, field string) {
	genes, err := s.Store.ListRefseqs(c.Request.Context(), "hg38")
	if err != nil {
		c.JSON(500, gin.H{"message": err.Error()})
		return
	}
	seen := map[string]bool{}
	for _, g := range genes {
		name := g.GeneName
		if field == "transcript_name" {
			name = g.TranscriptName
		}
		if name != "" {
			seen[name] = true
		}
	}
	results := make([]string, 0, len(seen))
	for name := range seen {
		results = append(results, name)
	}
	sort.Strings(results)
	c.JSON(200, gin.H{"results": results})
}

// ListGenes serves GET /genes.
func (s *Service) ListGenes(c *gin.Context) {
	s.listRefseqNames(c, "gene_name")
}

// ListTranscripts serves GET /transcripts.
func (s *Service) ListTranscripts(c *gin.Context) {
	s.listRefseqNames(c, "transcript_name")
}

// matchRefseqs prefix-searches genes or transcripts, returning at most
// geneListLimit distinct names with the regions whose contigs are known.
func (s *Service) matchRefseqs(c *gin.Context, field string) {
	query := strings.ToUpper(c.Param("id"))
	genes, err := s.Store.SearchRefseqs(c.Request.Context(), query, field)
	if err != nil {
		c.JSON(500, gin.H{"message": err.Error()})
		return
	}
	results := []gin.H{}
	count := 0
	currGene := ""
	var res gin.H
	for _, gene := range genes {
		name := gene.GeneName
		if field == "transcript_name" {
			name = gene.TranscriptName
		}
		if name != currGene {
			currGene = name
			count++
			if count > geneListLimit {
				break
			}
			res = gin.H{
				"gene_name":       gene.GeneName,
				"transcript_name": gene.TranscriptName,
				"regions":         []gin.H{},
			}
			results = append(results, res)
		}
		normalized, err := s.Store.NormalizeContig(c.Request.Context(), gene.Contig)
		if err == nil && normalized != "" {
			res["regions"] = append(res["regions"].([]gin.H), gin.H{
				"reference_genome": gene.ReferenceGenome,
				"region": gin.H{
					"referenceName": gene.Contig,
					"start":         gene.Start,
					"end":           gene.End,
				},
			})
		}
	}
	c.JSON(200, gin.H{"results": results})
}

// GetMatchingGenes serves GET /genes/{id}.
func (s *Service) GetMatchingGenes(c *gin.Context) {
	s.matchRefseqs(c, "gene_name")
}

// GetMatchingTranscripts serves GET /transcripts/{id}.
func (s *Service) GetMatchingTranscripts(c *gin.Context) {
	s.matchRefseqs(c, "transcript_name")
}
