package htsget

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CanDIG/htsget-app/internal/domain"
)

// sampleSummary aggregates one SampleDrsObject's linked genomic objects.
type sampleSummary struct {
	SampleID        string   `json:"sample_id"`
	Cohort          string   `json:"cohort,omitempty"`
	Genomes         []string `json:"genomes"`
	Transcriptomes  []string `json:"transcriptomes"`
	Variants        []string `json:"variants"`
	Reads           []string `json:"reads"`
}

// getSampleSummary walks a SampleDrsObject's contents into its genomic
// objects, classifying each by description and linked file type.
func (s *Service) getSampleSummary(ctx context.Context, id string) (*sampleSummary, error) {
	result := &sampleSummary{
		SampleID:       id,
		Genomes:        []string{},
		Transcriptomes: []string{},
		Variants:       []string{},
		Reads:          []string{},
	}
	sampleDrsObj, err := s.Store.GetDrsObject(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sampleDrsObj.IsSample() || len(sampleDrsObj.Contents) == 0 {
		return nil, domain.NewStatusError(404, "object %s is not a sample", id)
	}
	result.Cohort = sampleDrsObj.Cohort
	for _, contentsObj := range sampleDrsObj.Contents {
		drsObj, err := s.Store.GetDrsObject(ctx, contentsObj.ID)
		if err != nil {
			continue
		}
		switch drsObj.Description {
		case domain.RoleWGS:
			result.Genomes = append(result.Genomes, drsObj.ID)
		case domain.RoleWTS:
			result.Transcriptomes = append(result.Transcriptomes, drsObj.ID)
		}
		for _, content := range drsObj.Contents {
			switch content.ID {
			case domain.RoleVariant:
				result.Variants = append(result.Variants, drsObj.ID)
			case domain.RoleRead:
				result.Reads = append(result.Reads, drsObj.ID)
			}
		}
	}
	return result, nil
}

// GetSample serves GET /htsget/v1/samples/{id}.
func (s *Service) GetSample(c *gin.Context) {
	id := c.Param("id")
	result, err := s.getSampleSummary(c.Request.Context(), id)
	if err != nil || s.Gate.IsAuthed(c.Request.Context(), id, c.Request) != 200 {
		c.JSON(404, gin.H{"message": "Could not find sample " + id})
		return
	}
	c.JSON(200, result)
}

// GetMultipleSamples serves POST /htsget/v1/samples.
func (s *Service) GetMultipleSamples(c *gin.Context) {
	var req struct {
		Samples []string `json:"samples"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"message": err.Error()})
		return
	}
	c.JSON(200, s.collectSamples(c, req.Samples))
}

// GetCohortSamples serves GET /htsget/v1/cohorts/{id}/samples.
func (s *Service) GetCohortSamples(c *gin.Context) {
	cohort := c.Param("id")
	objs, err := s.Store.ListDrsObjects(c.Request.Context(), cohort)
	if err != nil {
		c.JSON(500, gin.H{"message": err.Error()})
		return
	}
	var samples []string
	for _, obj := range objs {
		if obj.IsSample() {
			samples = append(samples, obj.ID)
		}
	}
	c.JSON(200, s.collectSamples(c, samples))
}

// collectSamples resolves sample summaries and filters them down to the
// cohorts the request may read.
func (s *Service) collectSamples(c *gin.Context, samples []string) []*sampleSummary {
	ctx := c.Request.Context()
	byCohort := map[string][]*sampleSummary{}
	for _, sample := range samples {
		res, err := s.getSampleSummary(ctx, sample)
		if err != nil {
			continue
		}
		byCohort[res.Cohort] = append(byCohort[res.Cohort], res)
	}
	result := []*sampleSummary{}
	if s.Gate.IsTesting(c.Request) || s.requestIsFromQueryService(c.Request) {
		for _, group := range byCohort {
			result = append(result, group...)
		}
		return result
	}
	authorized := s.Gate.GetAuthorizedCohorts(ctx, c.Request)
	for cohort, group := range byCohort {
		if authorized[cohort] {
			result = append(result, group...)
		}
	}
	return result
}

// requestIsFromQueryService reports whether the federated query service is
// calling with its service token.
func (s *Service) requestIsFromQueryService(r *http.Request) bool {
	token := r.Header.Get("X-Service-Token")
	return token != "" && s.Gate.VerifyServiceToken("query", token)
}
