// Package health exposes the liveness endpoint. The bot itself speaks only
// long polling; this is the one inbound HTTP surface, used by deploy
// probes.
package health

import (
	"log"
	"net/http"

	"refgate-bot/internal/ledger"
	"refgate-bot/internal/registry"

	"github.com/gin-gonic/gin"
)

type Server struct {
	engine   *gin.Engine
	ledger   *ledger.Ledger
	registry *registry.Registry
	storage  string
}

func NewServer(l *ledger.Ledger, reg *registry.Registry, storageDriver string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:   engine,
		ledger:   l,
		registry: reg,
		storage:  storageDriver,
	}

	engine.GET("/", s.handleRoot)
	engine.GET("/health", s.handleHealth)
	return s
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run blocks serving HTTP; call from a goroutine.
func (s *Server) Run(port string) {
	log.Printf("Health server listening on :%s", port)
	if err := s.engine.Run(":" + port); err != nil {
		log.Printf("Health server stopped: %v", err)
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	stats := s.ledger.Stats()
	c.String(http.StatusOK, "Referral bot is running\nstorage: %s\nusers: %d\nchannels: %d\n",
		s.storage, stats.Users, s.registry.Len())
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.ledger.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"storage":  s.storage,
		"users":    stats.Users,
		"channels": s.registry.Len(),
	})
}
