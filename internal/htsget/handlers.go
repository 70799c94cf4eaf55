package htsget

import (
	"github.com/gin-gonic/gin"

	"github.com/CanDIG/htsget-app/internal/domain"
)

// serviceInfo is the shared shape of both htsget service-info documents.
func serviceInfo(datatype string, formats []string) gin.H {
	return gin.H{
		"id":   "org.candig.htsget",
		"name": "CanDIG htsget service",
		"type": gin.H{
			"group":    "org.ga4gh",
			"artifact": "htsget",
			"version":  "v1.3.0",
		},
		"description": "An htsget-compliant server for CanDIG genomic data",
		"organization": gin.H{
			"name": "CanDIG",
			"url":  "https://www.distributedgenomics.ca",
		},
		"version": "1.0.0",
		"htsget": gin.H{
			"datatype":                 datatype,
			"formats":                  formats,
			"fieldsParameterEffective": false,
			"tagsParametersEffective":  false,
		},
	}
}

// GetReadServiceInfo serves GET /htsget/v1/reads/service-info.
func (s *Service) GetReadServiceInfo(c *gin.Context) {
	c.JSON(200, serviceInfo("reads", []string{"BAM", "CRAM", "SAM"}))
}

// GetVariantServiceInfo serves GET /htsget/v1/variants/service-info.
func (s *Service) GetVariantServiceInfo(c *gin.Context) {
	c.JSON(200, serviceInfo("variants", []string{"VCF", "BCF"}))
}

// ticketHandler authorizes and serves one ticket request.
func (s *Service) ticketHandler(c *gin.Context, fileType string) {
	id := c.Param("id")
	if id == "" {
		c.Status(404)
		return
	}
	if code := s.Gate.IsAuthed(c.Request.Context(), id, c.Request); code != 200 {
		c.Status(code)
		return
	}
	referenceName := c.Query("referenceName")
	if referenceName == "None" {
		referenceName = ""
	}
	start, err := queryInt(c, "start")
	if err != nil {
		c.JSON(400, gin.H{"message": err.Error()})
		return
	}
	end, err := queryInt(c, "end")
	if err != nil {
		c.JSON(400, gin.H{"message": err.Error()})
		return
	}
	ticket, serr := s.Ticket(c.Request.Context(), fileType, id, referenceName, start, end, c.Query("class"))
	if serr != nil {
		c.JSON(serr.Code, gin.H{"message": serr.Message})
		return
	}
	c.JSON(200, ticket)
}

// GetVariants serves GET /htsget/v1/variants/{id}.
func (s *Service) GetVariants(c *gin.Context) {
	s.ticketHandler(c, domain.RoleVariant)
}

// GetReads serves GET /htsget/v1/reads/{id}.
func (s *Service) GetReads(c *gin.Context) {
	s.ticketHandler(c, domain.RoleRead)
}

// dataHandler authorizes and serves one data-slice request.
func (s *Service) dataHandler(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Status(404)
		return
	}
	if code := s.Gate.IsAuthed(c.Request.Context(), id, c.Request); code != 200 {
		c.Status(code)
		return
	}
	s.Data(c, id)
}

// GetVariantsData serves GET /htsget/v1/variants/data/{id}.
func (s *Service) GetVariantsData(c *gin.Context) {
	s.dataHandler(c)
}

// GetReadsData serves GET /htsget/v1/reads/data/{id}.
func (s *Service) GetReadsData(c *gin.Context) {
	s.dataHandler(c)
}
