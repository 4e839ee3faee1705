// Package mcp is a thin Model Context Protocol bridge: it exposes one
// text-to-text capability model over both a JSON-RPC-over-WebSocket
// transport and a plain HTTP/SSE fallback, so MCP-speaking tools can call
// into the same pool-backed model the OpenAI-compatible routes use.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bhangun/wayang-inference/internal/capability/texttotext"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const protocolVersion = "2024-11-05"

// Server bridges the MCP wire protocol to one text-to-text Model.
type Server struct {
	model    *texttotext.Model
	logger   *logrus.Entry
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

// NewServer builds an MCP bridge for model.
func NewServer(model *texttotext.Model, logger *logrus.Logger) *Server {
	return &Server{
		model:  model,
		logger: logger.WithField("component", "mcp-server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// Register mounts the bridge's routes under /mcp.
func (s *Server) Register(router *gin.Engine) {
	g := router.Group("/mcp")
	g.GET("/ws", s.handleWebSocket)
	g.POST("/inference", s.handleHTTPInference)
	g.GET("/capabilities", s.handleCapabilities)
	g.GET("/models", s.handleModels)
	g.GET("/info", s.handleServerInfo)
}

type message struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Method  string      `json:"method,omitempty"`
	Params  interface{} `json:"params,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type inferenceRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float32  `json:"temperature,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type inferenceResponse struct {
	Model        string `json:"model"`
	Response     string `json:"response"`
	FinishReason string `json:"finish_reason,omitempty"`
}

func (s *Server) handleHTTPInference(c *gin.Context) {
	var req inferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	st := s.model.Prompt(req.Prompt, texttotext.Params{
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		Stream:      req.Stream,
	})

	if req.Stream {
		s.streamHTTP(c, st)
		return
	}

	text, finish, err := drainCompletion(c.Request.Context(), st)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, inferenceResponse{Model: s.model.Descriptor.Name, Response: text, FinishReason: finish})
}

func (s *Server) streamHTTP(c *gin.Context, st *texttotext.ChunkStream) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()
	for {
		chunk, ok := st.Next(ctx)
		if !ok {
			return
		}
		switch chunk.Kind {
		case texttotext.KindError:
			return
		case texttotext.KindComplete:
			data, _ := json.Marshal(gin.H{"model": s.model.Descriptor.Name, "chunk": "", "streaming": true, "done": true})
			c.SSEvent("data", string(data))
			c.Writer.Flush()
			return
		case texttotext.KindFragment:
			data, _ := json.Marshal(gin.H{"model": s.model.Descriptor.Name, "chunk": chunk.Fragment, "streaming": true, "done": false})
			c.SSEvent("data", string(data))
			c.Writer.Flush()
		}
	}
}

// drainCompletion assumes a single completion sample: inferenceRequest has
// no N field, so the bridge never asks for more than one.
func drainCompletion(ctx context.Context, st *texttotext.ChunkStream) (text, finish string, err error) {
	for {
		chunk, ok := st.Next(ctx)
		if !ok {
			return text, finish, nil
		}
		switch chunk.Kind {
		case texttotext.KindError:
			return "", "", chunk.Err
		case texttotext.KindFragment:
			text += chunk.Fragment
		case texttotext.KindComplete:
			finish = string(chunk.FinishReason)
		}
	}
}

func (s *Server) handleCapabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"protocol_version": protocolVersion,
		"server_info":      gin.H{"name": "wayang-inference", "version": "1.0.0"},
		"capabilities": gin.H{
			"inference": gin.H{"supports_streaming": true, "supports_tools": false},
		},
	})
}

func (s *Server) handleModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": []gin.H{
		{"id": s.model.Descriptor.RegistryKey, "name": s.model.Descriptor.Name, "type": "text-generation"},
	}})
}

func (s *Server) handleServerInfo(c *gin.Context) {
	s.mu.Lock()
	connected := len(s.clients)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{
		"server": gin.H{"name": "wayang-inference", "version": "1.0.0", "status": "running"},
		"mcp":    gin.H{"protocol_version": protocolVersion, "connected_clients": connected},
	})
}

// client is one connected MCP WebSocket peer.
type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Error("failed to upgrade websocket connection")
		return
	}

	cl := &client{id: fmt.Sprintf("client-%d", time.Now().UnixNano()), conn: conn, send: make(chan []byte, 256), server: s}
	s.mu.Lock()
	s.clients[cl.id] = cl
	s.mu.Unlock()
	s.logger.WithField("client_id", cl.id).Info("mcp client connected")

	go cl.writePump()
	go cl.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.server.mu.Lock()
		delete(c.server.clients, c.id)
		c.server.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(raw)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) handleMessage(raw []byte) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendError(-32700, "parse error", nil, nil)
		return
	}

	switch msg.Method {
	case "initialize":
		c.sendMessage(&message{JSONRPC: "2.0", ID: msg.ID, Result: gin.H{
			"protocol_version": protocolVersion,
			"capabilities":     gin.H{"inference": gin.H{"supports_streaming": true}},
		}})
	case "inference/generate":
		c.handleGenerate(&msg)
	case "ping":
		c.sendMessage(&message{JSONRPC: "2.0", ID: msg.ID, Result: "pong"})
	default:
		c.sendError(-32601, "method not found", nil, msg.ID)
	}
}

func (c *client) handleGenerate(msg *message) {
	paramsBytes, err := json.Marshal(msg.Params)
	if err != nil {
		c.sendError(-32602, "invalid params", nil, msg.ID)
		return
	}
	var req inferenceRequest
	if err := json.Unmarshal(paramsBytes, &req); err != nil {
		c.sendError(-32602, "invalid inference request", nil, msg.ID)
		return
	}

	st := c.server.model.Prompt(req.Prompt, texttotext.Params{
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		Stream:      req.Stream,
	})

	if !req.Stream {
		go func() {
			ctx := context.Background()
			var text, finish string
			for {
				chunk, ok := st.Next(ctx)
				if !ok {
					break
				}
				if chunk.Kind == texttotext.KindError {
					c.sendError(-32603, chunk.Err.Error(), nil, msg.ID)
					return
				}
				if chunk.Kind == texttotext.KindFragment {
					text += chunk.Fragment
				}
				if chunk.Kind == texttotext.KindComplete {
					finish = string(chunk.FinishReason)
				}
			}
			c.sendMessage(&message{JSONRPC: "2.0", ID: msg.ID, Result: inferenceResponse{
				Model: c.server.model.Descriptor.Name, Response: text, FinishReason: finish,
			}})
		}()
		return
	}

	go func() {
		ctx := context.Background()
		for {
			chunk, ok := st.Next(ctx)
			if !ok {
				return
			}
			if chunk.Kind == texttotext.KindError {
				c.sendError(-32603, chunk.Err.Error(), nil, msg.ID)
				return
			}
			done := chunk.Kind == texttotext.KindComplete
			c.sendMessage(&message{JSONRPC: "2.0", ID: msg.ID, Result: gin.H{
				"chunk": chunk.Fragment, "streaming": true, "done": done,
			}})
			if done {
				return
			}
		}
	}()
}

func (c *client) sendMessage(msg *message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.server.logger.WithError(err).Error("failed to marshal mcp message")
		return
	}
	select {
	case c.send <- data:
	default:
		close(c.send)
	}
}

func (c *client) sendError(code int, msgText string, data interface{}, id interface{}) {
	c.sendMessage(&message{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msgText, Data: data}})
}
