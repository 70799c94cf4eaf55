package beacon

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetServiceInfo serves GET /beacon/v2/service-info.
func (s *Service) GetServiceInfo(c *gin.Context) {
	c.JSON(200, gin.H{
		"id":   beaconID,
		"name": "CanDIG Beacon v2 genomic variants service",
		"type": gin.H{
			"group":    "org.ga4gh",
			"artifact": "beacon",
			"version":  "v2.0.0",
		},
		"description": "A Beacon v2 server for CanDIG genomic data",
		"organization": gin.H{
			"name": "CanDIG",
			"url":  "https://www.distributedgenomics.ca",
		},
		"version": apiVersion,
	})
}

// GetSearch serves GET /beacon/v2/g_variants, translating the flat query
// parameters into the POST request shape.
func (s *Service) GetSearch(c *gin.Context) {
	params := RequestParameters{
		AssemblyID:     c.Query("assemblyId"),
		ReferenceName:  c.Query("referenceName"),
		GeneID:         c.Query("gene_id"),
		Allele:         c.Query("allele"),
		ReferenceBases: c.Query("referenceBases"),
		AlternateBases: c.Query("alternateBases"),
	}
	if v, err := strconv.ParseInt(c.Query("start"), 10, 64); err == nil {
		params.Start = []int64{v}
	}
	if v, err := strconv.ParseInt(c.Query("end"), 10, 64); err == nil {
		params.End = []int64{v}
	}
	if v, err := strconv.ParseInt(c.Query("variant_min_length"), 10, 64); err == nil {
		params.VariantMinLength = &v
	}
	if v, err := strconv.ParseInt(c.Query("variant_max_length"), 10, 64); err == nil {
		params.VariantMaxLength = &v
	}
	req := &Request{
		Query:                Query{RequestParameters: params},
		RequestedGranularity: "record",
	}
	c.JSON(200, s.Search(c.Request.Context(), c.Request, req))
}

// PostSearch serves POST /beacon/v2/g_variants.
func (s *Service) PostSearch(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"message": err.Error()})
		return
	}
	if req.RequestedGranularity == "" {
		req.RequestedGranularity = "record"
	}
	c.JSON(200, s.Search(c.Request.Context(), c.Request, &req))
}
