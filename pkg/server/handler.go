package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikeboe/sales-research/pkg/research"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Allow all for dev, same as CORS
}

// MCPSession represents an MCP session
type MCPSession struct {
	ID      string
	Created int64
}

// MCPRequest represents an MCP JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an MCP JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents an MCP error
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type Handler struct {
	Service *Service

	mcpMu       sync.RWMutex
	mcpSessions map[string]*MCPSession
}

func NewHandler(s *Service) *Handler {
	return &Handler{
		Service:     s,
		mcpSessions: make(map[string]*MCPSession),
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/mcp", h.MCPHandler)

	api := r.Group("/api/research")
	{
		api.POST("/sessions", h.startSession)
		api.GET("/sessions/:id", h.getProgress)
		api.POST("/sessions/:id/complete", h.completeSession)
		api.POST("/sessions/:id/error", h.failSession)
		api.DELETE("/sessions/:id", h.cleanupSession)
		api.GET("/sessions/:id/events", h.streamEvents)
		api.GET("/sessions/:id/ws", h.streamWebSocket)
		api.GET("/sessions/:id/logs", h.getSessionLogs)

		api.GET("/companies/:id/intelligence", h.getCompanyIntelligence)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"database":  h.Service.DB != nil,
	})
}

func (h *Handler) startSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_id is required"})
		return
	}

	c.JSON(http.StatusAccepted, h.Service.StartSession(req))
}

func (h *Handler) getProgress(c *gin.Context) {
	snap, ok := h.Service.Sessions.Progress(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) completeSession(c *gin.Context) {
	var req struct {
		Results research.FieldSet `json:"results"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	if !h.Service.Sessions.Complete(id, req.Results) {
		h.terminalConflict(c, id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Research session completed"})
}

func (h *Handler) failSession(c *gin.Context) {
	var req struct {
		ErrorMessage string `json:"error_message"`
	}
	// An empty body is allowed
	_ = c.ShouldBindJSON(&req)
	if req.ErrorMessage == "" {
		req.ErrorMessage = "Unknown error occurred"
	}

	id := c.Param("id")
	if !h.Service.Sessions.Fail(id, req.ErrorMessage) {
		h.terminalConflict(c, id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Research session marked as failed"})
}

// terminalConflict answers a rejected terminal transition.
func (h *Handler) terminalConflict(c *gin.Context, id string) {
	if _, ok := h.Service.Sessions.Progress(id); ok {
		c.JSON(http.StatusConflict, gin.H{"error": "session already finished"})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
}

func (h *Handler) cleanupSession(c *gin.Context) {
	h.Service.Sessions.Cleanup(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Research session cleaned up"})
}

func (h *Handler) streamEvents(c *gin.Context) {
	id := c.Param("id")
	sub, ok := h.Service.Sessions.Subscribe(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	defer h.Service.Sessions.Unsubscribe(id, sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return
			}
			_, _ = c.Writer.Write([]byte("event: " + string(ev.Kind) + "\n"))
			_, _ = c.Writer.Write([]byte("data: "))
			_, _ = c.Writer.Write(data)
			_, _ = c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

func (h *Handler) streamWebSocket(c *gin.Context) {
	id := c.Param("id")
	sub, ok := h.Service.Sessions.Subscribe(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	defer h.Service.Sessions.Unsubscribe(id, sub)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied to the client
		return
	}
	defer conn.Close()

	// Drain client frames so close and ping frames are processed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func (h *Handler) getSessionLogs(c *gin.Context) {
	logs, err := h.Service.GetSessionLogs(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrStorageUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if logs == nil {
		logs = []LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handler) getCompanyIntelligence(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	intel, err := h.Service.GetCompanyIntelligence(c.Request.Context(), id)
	switch {
	case errors.Is(err, ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, research.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "company not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, intel)
	}
}

// MCPHandler handles MCP protocol requests
func (h *Handler) MCPHandler(c *gin.Context) {
	sessionID := c.GetHeader("Mcp-Session-Id")

	var req MCPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      nil,
			Error: &MCPError{
				Code:    -32700,
				Message: "Parse error",
			},
		})
		return
	}

	// Handle initialize request
	if req.Method == "initialize" {
		if sessionID == "" {
			sessionID = uuid.New().String()
			c.Header("Mcp-Session-Id", sessionID)

			h.mcpMu.Lock()
			h.mcpSessions[sessionID] = &MCPSession{
				ID:      sessionID,
				Created: time.Now().Unix(),
			}
			h.mcpMu.Unlock()
		}

		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"serverInfo": map[string]interface{}{
					"name":    "sales-research-mcp",
					"version": "1.0.0",
				},
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
			},
		})
		return
	}

	h.mcpMu.RLock()
	_, exists := h.mcpSessions[sessionID]
	h.mcpMu.RUnlock()

	if sessionID == "" || !exists {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32000,
				Message: "Bad Request: No valid session ID provided",
			},
		})
		return
	}

	switch req.Method {
	case "tools/list":
		h.handleToolsList(c, req)
	case "tools/call":
		h.handleToolsCall(c, req)
	case "ping":
		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		})
	default:
		h.sendError(c, req.ID, -32601, "Method not found")
	}
}

func (h *Handler) handleToolsList(c *gin.Context, req MCPRequest) {
	c.JSON(http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": []map[string]interface{}{
				{
					"name":        "start_research",
					"description": "Start researching the company of a person. Returns a session id to poll.",
					"inputSchema": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"target_id": map[string]interface{}{
								"type":        "string",
								"description": "The id of the person to research.",
							},
							"target_name": map[string]interface{}{
								"type":        "string",
								"description": "Display name of the person.",
							},
						},
						"required": []string{"target_id"},
					},
				},
				{
					"name":        "get_research_progress",
					"description": "Get the current progress and partial results of a research session.",
					"inputSchema": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"session_id": map[string]interface{}{
								"type":        "string",
								"description": "The session id returned by start_research.",
							},
						},
						"required": []string{"session_id"},
					},
				},
			},
		},
	})
}

func (h *Handler) handleToolsCall(c *gin.Context, req MCPRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		h.sendError(c, req.ID, -32602, "Invalid params")
		return
	}

	switch params.Name {
	case "start_research":
		var args StartSessionRequest
		if err := json.Unmarshal(params.Arguments, &args); err != nil || args.TargetID == "" {
			h.sendError(c, req.ID, -32602, "Invalid arguments")
			return
		}
		h.sendResult(c, req.ID, h.Service.StartSession(args))

	case "get_research_progress":
		var args struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			h.sendError(c, req.ID, -32602, "Invalid arguments")
			return
		}
		snap, ok := h.Service.Sessions.Progress(args.SessionID)
		if !ok {
			h.sendError(c, req.ID, -32603, "session not found")
			return
		}
		h.sendResult(c, req.ID, snap)

	default:
		h.sendError(c, req.ID, -32601, fmt.Sprintf("Tool not found: %s", params.Name))
	}
}

func (h *Handler) sendError(c *gin.Context, id interface{}, code int, msg string) {
	c.JSON(http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: msg,
		},
	})
}

func (h *Handler) sendResult(c *gin.Context, id interface{}, result interface{}) {
	text, err := json.Marshal(result)
	if err != nil {
		h.sendError(c, id, -32603, err.Error())
		return
	}

	c.JSON(http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": string(text),
				},
			},
		},
	})
}
