package drs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/CanDIG/htsget-app/internal/domain"
)

// ListCohorts serves GET /ga4gh/drs/v1/cohorts, filtered to cohorts the
// caller may read.
func (s *Service) ListCohorts(c *gin.Context) {
	ctx := c.Request.Context()
	ids, err := s.Store.ListCohorts(ctx)
	if err != nil {
		c.JSON(500, gin.H{"message": err.Error()})
		return
	}
	if s.Gate.IsTesting(c.Request) || s.Gate.IsSiteAdmin(ctx, c.Request) {
		c.JSON(200, ids)
		return
	}
	authorized := s.Gate.GetAuthorizedCohorts(ctx, c.Request)
	filtered := []string{}
	for _, id := range ids {
		if authorized[id] {
			filtered = append(filtered, id)
		}
	}
	c.JSON(200, filtered)
}

// PostCohort serves POST /ga4gh/drs/v1/cohorts. Site admins only.
func (s *Service) PostCohort(c *gin.Context) {
	if !s.Gate.IsSiteAdmin(c.Request.Context(), c.Request) {
		c.JSON(403, gin.H{"message": "User is not authorized to create cohorts"})
		return
	}
	var cohort domain.Cohort
	if err := c.ShouldBindJSON(&cohort); err != nil {
		c.JSON(400, gin.H{"message": err.Error()})
		return
	}
	if cohort.ID == "" {
		c.JSON(400, gin.H{"message": "id is required"})
		return
	}
	created, err := s.Store.CreateCohort(c.Request.Context(), &cohort)
	if err != nil {
		c.JSON(500, gin.H{"message": err.Error()})
		return
	}
	c.JSON(200, created)
}

// GetCohort serves GET /ga4gh/drs/v1/cohorts/{id}.
func (s *Service) GetCohort(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	if !s.Gate.IsCohortAuthorized(ctx, c.Request, id) {
		c.Status(403)
		return
	}
	cohort, err := s.Store.GetCohort(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(404, gin.H{"message": "No matching cohort found"})
			return
		}
		c.JSON(500, gin.H{"message": err.Error()})
		return
	}
	c.JSON(200, cohort)
}

// DeleteCohort serves DELETE /ga4gh/drs/v1/cohorts/{id}. Site admins only;
// deletion cascades to the cohort's DRS objects.
func (s *Service) DeleteCohort(c *gin.Context) {
	if !s.Gate.IsSiteAdmin(c.Request.Context(), c.Request) {
		c.JSON(403, gin.H{"message": "User is not authorized to delete cohorts"})
		return
	}
	id := c.Param("id")
	deleted, err := s.Store.DeleteCohort(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(404, gin.H{"message": "No matching cohort found"})
			return
		}
		c.JSON(500, gin.H{"message": err.Error()})
		return
	}
	c.JSON(200, deleted)
}

// GetCohortStatus serves GET /ga4gh/drs/v1/cohorts/{id}/status, combining
// the variantfile indexed flags with any error lines the indexing worker
// left in its queue files.
func (s *Service) GetCohortStatus(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	if !s.Gate.IsCohortAuthorized(ctx, c.Request, id) {
		c.Status(403)
		return
	}
	objs, err := s.Store.ListDrsObjects(ctx, id)
	if err != nil {
		c.JSON(500, gin.H{"message": err.Error()})
		return
	}
	status := domain.CohortStatus{
		IndexComplete:   []string{},
		IndexInProgress: []string{},
		IndexErrored:    []map[string]any{},
	}
	for _, obj := range objs {
		if obj.Indexed == nil {
			continue
		}
		if *obj.Indexed == 1 {
			status.IndexComplete = append(status.IndexComplete, obj.ID)
			continue
		}
		queueFile := filepath.Join(s.IndexingPath, id+"~"+obj.ID)
		content, err := os.ReadFile(queueFile)
		if err == nil && len(content) > 0 {
			status.IndexErrored = append(status.IndexErrored, map[string]any{
				"id":     obj.ID,
				"errors": strings.Split(strings.TrimSpace(string(content)), "\n"),
			})
			continue
		}
		status.IndexInProgress = append(status.IndexInProgress, obj.ID)
	}
	c.JSON(200, status)
}
