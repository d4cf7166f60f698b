// Package handlers exposes the HTTP surface: REST endpoints for execution
// management plus the websocket streaming endpoint.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cloudrun-ide/internal/engine"
	"cloudrun-ide/internal/language"
	"cloudrun-ide/internal/logging"
)

const version = "0.2.0"

// Pinger reports container-runtime reachability for the status endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler wires the engine and registry into gin routes.
type Handler struct {
	engine   *engine.Engine
	registry *language.Registry
	runtime  Pinger
	origins  []string
	log      *zap.Logger
}

// New creates the handler set.
func New(eng *engine.Engine, registry *language.Registry, runtime Pinger, origins []string) *Handler {
	return &Handler{
		engine:   eng,
		registry: registry,
		runtime:  runtime,
		origins:  origins,
		log:      logging.L(),
	}
}

// Register attaches all routes. rateLimit guards the execution surface;
// health stays unthrottled for load balancers.
func (h *Handler) Register(r gin.IRouter, rateLimit gin.HandlerFunc) {
	r.GET("/health", h.Health)
	r.GET("/ws/execute", rateLimit, h.ExecuteWS)

	api := r.Group("/api", rateLimit)
	api.GET("/status", h.Status)
	api.GET("/languages", h.Languages)
	api.GET("/templates", h.Templates)
	api.GET("/templates/:language", h.Template)
	api.POST("/execute", h.Execute)
	api.POST("/execute/stop/:id", h.StopExecution)
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version})
}

// Status handles GET /api/status
func (h *Handler) Status(c *gin.Context) {
	dockerStatus, dockerInfo := "ok", "connected"
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := h.runtime.Ping(ctx); err != nil {
		dockerStatus = "error"
		dockerInfo = "error: " + err.Error()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "running",
		"version": version,
		"services": gin.H{
			"docker": gin.H{"status": dockerStatus, "info": dockerInfo},
		},
		"languages":         h.registry.Tags(),
		"active_executions": h.engine.ActiveCount(),
	})
}

// Languages handles GET /api/languages
func (h *Handler) Languages(c *gin.Context) {
	tags := h.registry.Tags()
	c.JSON(http.StatusOK, gin.H{"languages": tags, "count": len(tags)})
}

// Templates handles GET /api/templates
func (h *Handler) Templates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": h.registry.Templates()})
}

// Template handles GET /api/templates/:language
func (h *Handler) Template(c *gin.Context) {
	tag := language.Tag(c.Param("language"))
	spec, err := h.registry.Lookup(tag)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Template not found for language: " + string(tag)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"language": tag, "template": spec.StarterTemplate})
}

// ExecuteResponse is the aggregate result of a REST execution.
type ExecuteResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	ExitCode    int    `json:"exit_code"`
}

// Execute handles POST /api/execute: a one-shot, non-streaming execution
// that consumes the event stream internally.
func (h *Handler) Execute(c *gin.Context) {
	var sub engine.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	id, events := h.engine.Execute(c.Request.Context(), sub)
	resp := aggregate(id, events)
	c.JSON(http.StatusOK, resp)
}

// aggregate folds the event stream into a single response.
func aggregate(id string, events <-chan engine.Event) ExecuteResponse {
	resp := ExecuteResponse{ExecutionID: id, Status: "completed"}
	var stdout strings.Builder

	for ev := range events {
		switch ev.Type {
		case engine.EventStdout, engine.EventInstallComplete, engine.EventInstallError, engine.EventHTMLPreview:
			stdout.WriteString(ev.Content)
		case engine.EventError:
			resp.Status = "error"
			resp.Stderr = ev.Content
			resp.ExitCode = 1
		case engine.EventComplete:
			switch {
			case ev.Content == "Execution timed out":
				resp.Status = "timeout"
			case strings.HasPrefix(ev.Content, "Execution failed with exit code"):
				resp.Status = "error"
				resp.ExitCode = parseExitCode(ev.Content)
			case resp.Status != "timeout" && resp.Status != "error":
				resp.Status = "completed"
			}
		}
	}

	resp.Stdout = stdout.String()
	return resp
}

func parseExitCode(content string) int {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return 1
	}
	last := fields[len(fields)-1]
	code := 0
	for _, r := range last {
		if r < '0' || r > '9' {
			return 1
		}
		code = code*10 + int(r-'0')
	}
	if code == 0 {
		return 1
	}
	return code
}

// StopExecution handles POST /api/execute/stop/:id
func (h *Handler) StopExecution(c *gin.Context) {
	id := c.Param("id")
	if !h.engine.Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Execution " + id + " not found or already completed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"execution_id": id,
		"status":       "stopped",
		"message":      "Execution stopped successfully",
	})
}
