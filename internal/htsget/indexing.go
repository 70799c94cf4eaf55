package htsget

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/CanDIG/htsget-app/internal/domain"
)

// touchQueueFile enqueues an indexing request by touching a file named
// <cohort>~<id> in the queue directory.
func (s *Service) touchQueueFile(cohort, id string) error {
	if err := os.MkdirAll(s.IndexingPath, 0o755); err != nil {
		return fmt.Errorf("creating indexing queue: %w", err)
	}
	path := filepath.Join(s.IndexingPath, cohort+"~"+id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("touching queue file %s: %w", path, err)
	}
	return f.Close()
}

// IndexVariants serves GET /htsget/v1/variants/{id}/index. Site admins
// only. The request creates the variantfile row and queues the object for
// the background indexer; an already-indexed file is a no-op unless force
// is set.
func (s *Service) IndexVariants(c *gin.Context) {
	if !s.Gate.IsSiteAdmin(c.Request.Context(), c.Request) {
		c.JSON(403, gin.H{"message": "User is not authorized to index variants"})
		return
	}
	id := c.Param("id")
	if id == "" {
		c.Status(404)
		return
	}
	drsObj, err := s.Store.GetDrsObject(c.Request.Context(), id)
	if err != nil {
		c.JSON(404, gin.H{"message": fmt.Sprintf("No DRS object exists with ID %s", id)})
		return
	}
	force := c.Query("force") == "true"
	doNotIndex := c.Query("do_not_index") == "true"
	genome := c.DefaultQuery("genome", "hg38")

	varfile, err := s.Store.CreateVariantFile(c.Request.Context(), id, genome)
	if err != nil {
		c.JSON(500, gin.H{"message": err.Error()})
		return
	}
	if !doNotIndex {
		if varfile.Indexed == 1 && !force {
			c.JSON(200, varfile)
			return
		}
		if err := s.Store.MarkVariantFileNotIndexed(c.Request.Context(), id); err != nil {
			c.JSON(500, gin.H{"message": err.Error()})
			return
		}
		if err := s.touchQueueFile(drsObj.Cohort, id); err != nil {
			c.JSON(500, gin.H{"message": err.Error()})
			return
		}
	}
	c.Status(200)
}

// IndexReads serves GET /htsget/v1/reads/{id}/index. Reads get stats only;
// the queue item still flows through the same worker.
func (s *Service) IndexReads(c *gin.Context) {
	if !s.Gate.IsSiteAdmin(c.Request.Context(), c.Request) {
		c.JSON(403, gin.H{"message": "User is not authorized to index reads"})
		return
	}
	id := c.Param("id")
	if id == "" {
		c.Status(404)
		return
	}
	drsObj, err := s.Store.GetDrsObject(c.Request.Context(), id)
	if err != nil {
		c.JSON(404, gin.H{"message": fmt.Sprintf("No DRS object exists with ID %s", id)})
		return
	}
	if err := s.touchQueueFile(drsObj.Cohort, id); err != nil {
		c.JSON(500, gin.H{"message": err.Error()})
		return
	}
	c.Status(200)
}

// VerifyVariants serves GET /htsget/v1/variants/{id}/verify.
func (s *Service) VerifyVariants(c *gin.Context) {
	id := c.Param("id")
	if code := s.Gate.IsAuthed(c.Request.Context(), id, c.Request); code != 200 {
		c.JSON(403, gin.H{"message": "User is not authorized to verify variants"})
		return
	}
	if err := s.verifyGenomicDrsObject(c, id); err != nil {
		c.JSON(200, gin.H{"result": false, "message": err.Error()})
		return
	}
	c.JSON(200, gin.H{"result": true})
}

// VerifyReads serves GET /htsget/v1/reads/{id}/verify.
func (s *Service) VerifyReads(c *gin.Context) {
	id := c.Param("id")
	if err := s.verifyGenomicDrsObject(c, id); err != nil {
		c.JSON(200, gin.H{"result": false, "message": err.Error()})
		return
	}
	c.JSON(200, gin.H{"result": true})
}

// verifyGenomicDrsObject checks that a GenomicDrsObject's declared sample
// contents agree with the linked genomic file.
func (s *Service) verifyGenomicDrsObject(c *gin.Context, id string) error {
	ctx := c.Request.Context()
	genDrsObj, err := s.Store.GetDrsObject(ctx, id)
	if err != nil {
		return fmt.Errorf("could not find object %s", id)
	}
	if len(genDrsObj.Contents) == 0 || genDrsObj.ReferenceGenome == "" && !genDrsObj.IsGenomic() {
		return fmt.Errorf("object %s is not a GenomicDrsObject", id)
	}
	drsSamples := map[string]bool{}
	fileType := ""
	for _, content := range genDrsObj.Contents {
		switch content.ID {
		case domain.RoleVariant, domain.RoleRead:
			fileType = content.ID
		case domain.RoleIndex:
		default:
			drsSamples[content.ID] = true
		}
	}
	if fileType == "" {
		return fmt.Errorf("object %s should be a GenomicDrsObject, but does not link to a variant or read file", id)
	}

	genObj, gerr := s.Materializer.GetGenomicObject(ctx, id)
	if gerr != nil {
		return errors.New(gerr.Error())
	}
	defer genObj.File.Close()
	if fileType == domain.RoleVariant {
		fileSamples := map[string]bool{}
		for _, smp := range genObj.File.Header().Samples {
			fileSamples[smp] = true
		}
		var missing []string
		for smp := range drsSamples {
			if !fileSamples[smp] {
				missing = append(missing, smp)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("GenomicDrsObject %s lists samples %v that are not in the linked genomic file", id, missing)
		}
		return nil
	}
	if len(genObj.File.Header().Contigs) == 0 {
		return fmt.Errorf("GenomicDrsObject %s links to a read file with no reference sequences", id)
	}
	if len(drsSamples) > 1 {
		return fmt.Errorf("GenomicDrsObject %s lists multiple samples, but only one can be in the read file", id)
	}
	return nil
}
