// Package api exposes the verification and country risk HTTP surface
package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	limiter "github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	memory "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/complyon/amlguard/internal/countryrisk"
	"github.com/complyon/amlguard/internal/verification"
)

// Verifier is the orchestration entry point consumed by the API
type Verifier interface {
	Verify(ctx context.Context, customer verification.Entity, directors, ubos []verification.Entity) (verification.VerificationResult, error)
}

// RiskReader serves the consolidated country risk map to dashboard consumers
type RiskReader interface {
	GetCountryRisk(ctx context.Context, isoCode string) (countryrisk.CountryRisk, bool)
	GetAllCountriesRisk(ctx context.Context) *countryrisk.RiskMap
}

// Server hosts the HTTP API
type Server struct {
	router   *gin.Engine
	logger   *zap.Logger
	verifier Verifier
	risk     RiskReader
}

// NewServer creates the API server with injected collaborators
func NewServer(logger *zap.Logger, verifier Verifier, risk RiskReader, rateLimit string) *Server {
	server := &Server{
		logger:   logger,
		verifier: verifier,
		risk:     risk,
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware("amlguard-api"))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	if rateLimit == "" {
		rateLimit = "100-M"
	}
	store := memory.NewStore()
	rate, _ := limiter.NewRateFromFormatted(rateLimit)
	router.Use(ginlimiter.NewMiddleware(limiter.New(store, rate)))

	server.router = router
	server.registerRoutes()
	return server
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Handler returns the router as an http.Handler for embedding in http.Server
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/verifications", s.createVerification)
		v1.GET("/countries/risk", s.getAllCountriesRisk)
		v1.GET("/countries/:code/risk", s.getCountryRisk)
	}
}

func (s *Server) health(c *gin.Context) {
	status := "ok"
	httpStatus := http.StatusOK
	if m := s.risk.GetAllCountriesRisk(c.Request.Context()); m == nil {
		status = "initializing"
		httpStatus = http.StatusServiceUnavailable
	} else if m.Metadata.ValidationStatus != countryrisk.ValidationStatusOK {
		status = "degraded"
	}
	c.JSON(httpStatus, gin.H{"status": status, "time": time.Now().UTC()})
}

// verificationRequest is the POST /verifications payload
type verificationRequest struct {
	Customer  verification.Entity   `json:"customer"`
	Directors []verification.Entity `json:"directors"`
	UBOs      []verification.Entity `json:"ubos"`
}

func (s *Server) createVerification(c *gin.Context) {
	var req verificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := s.verifier.Verify(c.Request.Context(), req.Customer, req.Directors, req.UBOs)
	if err != nil {
		if errors.Is(err, verification.ErrInvalidInput) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("verification failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) getCountryRisk(c *gin.Context) {
	code := strings.ToUpper(c.Param("code"))
	if len(code) != 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "country code must be ISO 3166-1 alpha-2"})
		return
	}

	risk, ok := s.risk.GetCountryRisk(c.Request.Context(), code)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "country not found in risk map"})
		return
	}
	c.JSON(http.StatusOK, risk)
}

// getAllCountriesRisk returns the heatmap payload, countries sorted by code
func (s *Server) getAllCountriesRisk(c *gin.Context) {
	m := s.risk.GetAllCountriesRisk(c.Request.Context())
	if m == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "risk map not yet built"})
		return
	}

	countries := make([]countryrisk.CountryRisk, 0, len(m.Countries))
	for _, cr := range m.Countries {
		countries = append(countries, cr)
	}
	sort.Slice(countries, func(i, j int) bool { return countries[i].ISOCode < countries[j].ISOCode })

	c.JSON(http.StatusOK, gin.H{
		"countries": countries,
		"metadata":  m.Metadata,
	})
}
