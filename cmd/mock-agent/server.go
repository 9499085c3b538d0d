package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cloud-on-prem/goose/internal/agent/client"
	"github.com/cloud-on-prem/goose/internal/common/httpmw"
	"github.com/cloud-on-prem/goose/internal/common/logger"
)

// server keeps sessions in memory for the lifetime of the process.
type server struct {
	secret string
	logger *logger.Logger

	mu         sync.Mutex
	sessions   map[string]*client.SessionHistory
	modified   map[string]time.Time
	extensions []string
	provider   string
	confirmed  map[string]bool
}

func newServer(secret string, log *logger.Logger) *server {
	return &server{
		secret:    secret,
		logger:    log.WithFields(zap.String("component", "mock-agent")),
		sessions:  make(map[string]*client.SessionHistory),
		modified:  make(map[string]time.Time),
		confirmed: make(map[string]bool),
	}
}

// Router returns the HTTP routes of the agent API.
func (s *server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpmw.RequestLogger(s.logger, "mock-agent"), s.requireSecret())

	r.GET("/status", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/agent/versions", s.versions)
	r.GET("/agent/providers", s.providers)
	r.POST("/agent", s.createAgent)
	r.POST("/extensions/add", s.addExtension)
	r.GET("/sessions", s.listSessions)
	r.GET("/sessions/:id", s.getSession)
	r.POST("/reply", s.reply)
	r.POST("/reply/ask", s.ask)
	r.POST("/reply/confirm", s.confirm)
	return r
}

// requireSecret rejects requests without the shared secret. An empty secret
// disables the check.
func (s *server) requireSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.secret != "" && c.GetHeader(client.SecretHeader) != s.secret {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid secret key"})
			return
		}
		c.Next()
	}
}

func (s *server) versions(c *gin.Context) {
	c.JSON(http.StatusOK, client.VersionsResponse{
		AvailableVersions: []string{"truncate", "summarize"},
		DefaultVersion:    "truncate",
	})
}

func (s *server) providers(c *gin.Context) {
	c.JSON(http.StatusOK, []client.ProviderInfo{{
		Name:         "mock",
		IsConfigured: true,
		Metadata:     json.RawMessage(`{"display_name":"Mock","known_models":["mock-default","mock-slow"]}`),
	}})
}

func (s *server) createAgent(c *gin.Context) {
	var req client.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Provider == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider is required"})
		return
	}
	s.mu.Lock()
	s.provider = req.Provider
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"version": req.Version, "provider": req.Provider, "model": req.Model})
}

func (s *server) addExtension(c *gin.Context) {
	var req client.ExtensionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if req.Type != client.ExtensionTypeBuiltin {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only builtin extensions are supported"})
		return
	}
	s.mu.Lock()
	s.extensions = append(s.extensions, req.Name)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"error": false})
}

func (s *server) listSessions(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]client.SessionInfo, 0, len(s.sessions))
	for id, h := range s.sessions {
		list = append(list, client.SessionInfo{
			ID:       id,
			Modified: s.modified[id].UTC().Format("2006-01-02 15:04:05 UTC"),
			Metadata: h.Metadata,
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (s *server) getSession(c *gin.Context) {
	s.mu.Lock()
	h, ok := s.sessions[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *server) ask(c *gin.Context) {
	var req client.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}
	c.JSON(http.StatusOK, client.AskResponse{Text: echoText(req.Prompt)})
}

func (s *server) confirm(c *gin.Context) {
	var req client.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	s.mu.Lock()
	s.confirmed[req.ID] = req.Confirmed
	s.mu.Unlock()
	s.logger.Info("tool call confirmed",
		zap.String("id", req.ID),
		zap.Bool("confirmed", req.Confirmed),
		zap.String("permission", string(req.Permission)))
	c.JSON(http.StatusOK, gin.H{"id": req.ID})
}

// record stores the conversation of a reply under its session id.
func (s *server) record(sessionID, workingDir string, msgs []client.WireMessage) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = &client.SessionHistory{
		SessionID: sessionID,
		Metadata: client.SessionMetadata{
			WorkingDir:   workingDir,
			Description:  describe(msgs),
			MessageCount: len(msgs),
		},
		Messages: msgs,
	}
	s.modified[sessionID] = time.Now()
}
