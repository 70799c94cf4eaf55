// Package api wires the DRS, htsget, and Beacon services into one HTTP
// surface.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/CanDIG/htsget-app/internal/beacon"
	"github.com/CanDIG/htsget-app/internal/domain"
	"github.com/CanDIG/htsget-app/internal/drs"
	"github.com/CanDIG/htsget-app/internal/htsget"
)

// Server is the HTTP front of the service.
type Server struct {
	cfg    domain.ServerConfig
	log    *logrus.Logger
	router *gin.Engine
	server *http.Server
}

// NewServer builds the router over the three service surfaces.
func NewServer(cfg *domain.Config, log *logrus.Logger, drsSvc *drs.Service, htsgetSvc *htsget.Service, beaconSvc *beacon.Service) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestIDMiddleware())

	s := &Server{
		cfg:    cfg.Server,
		log:    log,
		router: router,
	}
	s.setupRoutes(drsSvc, htsgetSvc, beaconSvc)
	return s
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.log.WithField("addr", addr).Info("HTTP server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes(drsSvc *drs.Service, htsgetSvc *htsget.Service, beaconSvc *beacon.Service) {
	s.router.GET("/health", s.handleHealth)

	drsGroup := s.router.Group("/ga4gh/drs/v1")
	{
		drsGroup.GET("/objects", drsSvc.ListObjects)
		drsGroup.POST("/objects", drsSvc.PostObject)
		drsGroup.GET("/objects/*id", drsSvc.GetObject)
		drsGroup.DELETE("/objects/*id", drsSvc.DeleteObject)
		drsGroup.GET("/cohorts", drsSvc.ListCohorts)
		drsGroup.POST("/cohorts", drsSvc.PostCohort)
		drsGroup.GET("/cohorts/:id", drsSvc.GetCohort)
		drsGroup.DELETE("/cohorts/:id", drsSvc.DeleteCohort)
		drsGroup.GET("/cohorts/:id/status", drsSvc.GetCohortStatus)
	}

	htsgetGroup := s.router.Group("/htsget/v1")
	{
		htsgetGroup.GET("/reads/service-info", htsgetSvc.GetReadServiceInfo)
		htsgetGroup.GET("/reads/data/:id", htsgetSvc.GetReadsData)
		htsgetGroup.GET("/reads/:id", htsgetSvc.GetReads)
		htsgetGroup.GET("/reads/:id/index", htsgetSvc.IndexReads)
		htsgetGroup.GET("/reads/:id/verify", htsgetSvc.VerifyReads)
		htsgetGroup.GET("/variants/service-info", htsgetSvc.GetVariantServiceInfo)
		htsgetGroup.GET("/variants/data/:id", htsgetSvc.GetVariantsData)
		htsgetGroup.GET("/variants/:id", htsgetSvc.GetVariants)
		htsgetGroup.GET("/variants/:id/index", htsgetSvc.IndexVariants)
		htsgetGroup.GET("/variants/:id/verify", htsgetSvc.VerifyVariants)
		htsgetGroup.GET("/samples/:id", htsgetSvc.GetSample)
		htsgetGroup.POST("/samples", htsgetSvc.GetMultipleSamples)
		htsgetGroup.GET("/cohorts/:id/samples", htsgetSvc.GetCohortSamples)
	}

	beaconGroup := s.router.Group("/beacon/v2")
	{
		beaconGroup.GET("/service-info", beaconSvc.GetServiceInfo)
		beaconGroup.GET("/g_variants", beaconSvc.GetSearch)
		beaconGroup.POST("/g_variants", beaconSvc.PostSearch)
	}

	s.router.GET("/genes", htsgetSvc.ListGenes)
	s.router.GET("/genes/:id", htsgetSvc.GetMatchingGenes)
	s.router.GET("/transcripts", htsgetSvc.ListTranscripts)
	s.router.GET("/transcripts/:id", htsgetSvc.GetMatchingTranscripts)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   "1.0.0",
	})
}

// corsMiddleware adds CORS headers to responses.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Service-Token, Test_Key")
		c.Header("Access-Control-Expose-Headers", "Content-Length, x-filename")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestIDMiddleware adds a unique request ID to each request.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}
