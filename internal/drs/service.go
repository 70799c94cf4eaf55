// Package drs serves the GA4GH DRS object surface with cohort-scoped
// authorization on every traversal.
package drs

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/CanDIG/htsget-app/internal/authz"
	"github.com/CanDIG/htsget-app/internal/catalog"
	"github.com/CanDIG/htsget-app/internal/domain"
	"github.com/CanDIG/htsget-app/internal/storage"
)

// Service serves DRS objects and cohorts.
type Service struct {
	Store        *catalog.Store
	Resolver     *storage.Resolver
	Gate         *authz.Gate
	IndexingPath string
	Log          *logrus.Logger
}

// GetObject serves GET /ga4gh/drs/v1/objects/{id}. Object ids may contain
// slashes; an id tail of the form <obj>/access_url/<access_id> dispatches
// to access-url resolution.
func (s *Service) GetObject(c *gin.Context) {
	id := strings.TrimPrefix(c.Param("id"), "/")
	if parts := strings.SplitN(id, "/access_url/", 2); len(parts) == 2 {
		s.getAccessURL(c, parts[0], parts[1])
		return
	}
	if code := s.Gate.IsAuthed(c.Request.Context(), id, c.Request); code != 200 {
		c.Status(code)
		return
	}
	obj, err := s.Store.GetDrsObject(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(404, gin.H{"message": "No matching object found"})
			return
		}
		c.JSON(500, gin.H{"message": err.Error()})
		return
	}
	c.JSON(200, obj)
}

// getAccessURL authorizes against the owning object, then resolves the
// access id into a presigned or public URL.
func (s *Service) getAccessURL(c *gin.Context, objectID, accessID string) {
	if code := s.Gate.IsAuthed(c.Request.Context(), objectID, c.Request); code != 200 {
		c.Status(code)
		return
	}
	resolved, err := s.Resolver.ResolveAccessID(c.Request.Context(), accessID)
	if err != nil {
		c.JSON(domain.StatusOf(err), gin.H{"message": err.Error()})
		return
	}
	c.JSON(200, resolved)
}

// ListObjects serves GET /ga4gh/drs/v1/objects, filtered to cohorts the
// caller may read.
func (s *Service) ListObjects(c *gin.Context) {
	ctx := c.Request.Context()
	objs, err := s.Store.ListDrsObjects(ctx, c.Query("cohort_id"))
	if err != nil {
		c.JSON(500, gin.H{"message": err.Error()})
		return
	}
	if s.Gate.IsTesting(c.Request) || s.Gate.IsSiteAdmin(ctx, c.Request) {
		c.JSON(200, objs)
		return
	}
	authorized := s.Gate.GetAuthorizedCohorts(ctx, c.Request)
	filtered := []*domain.DrsObject{}
	for _, obj := range objs {
		if obj.Cohort != "" && authorized[obj.Cohort] {
			filtered = append(filtered, obj)
		}
	}
	c.JSON(200, filtered)
}

// PostObject serves POST /ga4gh/drs/v1/objects: an idempotent
// create-or-update restricted to admins of the object's cohort.
func (s *Service) PostObject(c *gin.Context) {
	var obj domain.DrsObject
	if err := c.ShouldBindJSON(&obj); err != nil {
		c.JSON(400, gin.H{"message": err.Error()})
		return
	}
	if obj.ID == "" {
		c.JSON(400, gin.H{"message": "id is required"})
		return
	}
	ctx := c.Request.Context()
	if !s.Gate.IsCohortAuthorized(ctx, c.Request, obj.Cohort) && !s.Gate.IsSiteAdmin(ctx, c.Request) {
		c.JSON(403, gin.H{"message": "User is not authorized to create objects in cohort " + obj.Cohort})
		return
	}
	created, err := s.Store.CreateDrsObject(ctx, &obj)
	if err != nil {
		c.JSON(500, gin.H{"message": err.Error()})
		return
	}
	c.JSON(200, created)
}

// DeleteObject serves DELETE /ga4gh/drs/v1/objects/{id}.
func (s *Service) DeleteObject(c *gin.Context) {
	id := strings.TrimPrefix(c.Param("id"), "/")
	ctx := c.Request.Context()
	obj, err := s.Store.GetDrsObject(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(404, gin.H{"message": "No matching object found"})
			return
		}
		c.JSON(500, gin.H{"message": err.Error()})
		return
	}
	if !s.Gate.IsCohortAuthorized(ctx, c.Request, obj.Cohort) && !s.Gate.IsSiteAdmin(ctx, c.Request) {
		c.JSON(403, gin.H{"message": "User is not authorized to delete objects in cohort " + obj.Cohort})
		return
	}
	deleted, err := s.Store.DeleteDrsObject(ctx, id)
	if err != nil {
		c.JSON(500, gin.H{"message": err.Error()})
		return
	}
	c.JSON(200, deleted)
}
