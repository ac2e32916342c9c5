// Package rpcserver implements the single JSON-RPC 2.0 endpoint of §6:
// initialize, tools/list, tools/call, notifications/initialized, dispatched
// over gin-gonic/gin the way cklxx-elephant.ai wires its own HTTP surface,
// in place of the stdio framing emergent-company-specmcp's internal/mcp
// package uses for the same method set.
package rpcserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/browsecore/browseserver/internal/apperr"
	"github.com/browsecore/browseserver/internal/registry"
	"github.com/browsecore/browseserver/internal/router"
)

const protocolVersion = "2024-11-05"

// Server wires the Tool Registry catalog and the Invocation Router behind
// one POST handler.
type Server struct {
	catalog *registry.Catalog
	router  *router.Router
	info    ServerInfo
}

// NewServer constructs a Server. info identifies this process in the
// initialize handshake response.
func NewServer(catalog *registry.Catalog, r *router.Router, info ServerInfo) *Server {
	return &Server{catalog: catalog, router: r, info: info}
}

// Register mounts the JSON-RPC endpoint on engine.
func (s *Server) Register(engine *gin.Engine) {
	engine.POST("/v1", s.handle)
}

func (s *Server) handle(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, Response{JSONRPC: "2.0", Error: &RPCError{Code: errCodeInvalidParams, Message: "malformed JSON-RPC request", Data: err.Error()}})
		return
	}

	// notifications/initialized and any other request with no id are
	// notifications: no response body per JSON-RPC 2.0.
	if req.ID == nil {
		if req.Method == "notifications/initialized" {
			slog.Info("client initialized")
		}
		c.Status(http.StatusNoContent)
		return
	}

	result, rpcErr := s.dispatch(c.Request.Context(), req)
	resp := Response{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		slog.Warn("tool call failed", "method", req.Method, "code", rpcErr.Code, "message", rpcErr.Message)
		resp.Error = rpcErr
	} else {
		slog.Info("request handled", "method", req.Method)
		resp.Result = result
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) dispatch(ctx context.Context, req Request) (any, *RPCError) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req.Params)
	case "tools/list":
		return s.handleToolsList()
	case "tools/call":
		return s.handleToolsCall(ctx, req.Params)
	default:
		return nil, &RPCError{Code: errCodeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

func (s *Server) handleInitialize(params json.RawMessage) (any, *RPCError) {
	if len(params) > 0 {
		var p initializeParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &RPCError{Code: errCodeInvalidParams, Message: "invalid initialize params", Data: err.Error()}
		}
	}
	return initializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      s.info,
		Capabilities:    serverCapability{Tools: toolsCapability{}},
	}, nil
}

func (s *Server) handleToolsList() (any, *RPCError) {
	entries := s.catalog.List()
	tools := make([]toolDefinition, 0, len(entries))
	for _, e := range entries {
		tools = append(tools, toolDefinition{Name: e.Name, Description: e.Description, InputSchema: e.InputSchema})
	}
	return toolsListResult{Tools: tools}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (any, *RPCError) {
	var p toolsCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: errCodeInvalidParams, Message: "invalid tools/call params", Data: err.Error()}
	}

	result, handle, err := s.router.Route(ctx, p.Name, p.Arguments)
	if err != nil {
		kind := apperr.KindOf(err)
		slog.Warn("tool invocation failed", "tool", p.Name, "kind", kind)
		return nil, &RPCError{Code: apperr.JSONRPCCode(kind), Message: err.Error(), Data: map[string]string{"kind": string(kind)}}
	}

	if handle != nil {
		slog.Info("task queued", "tool", p.Name, "task_id", handle.TaskID)
		return taskQueuedResult{
			TaskID:              handle.TaskID,
			Status:              "QUEUED",
			ProgressURL:         handle.ProgressChannelURI,
			EstimatedDurationMS: handle.EstimatedDurationMS,
		}, nil
	}

	content := []contentBlock{{Type: "text", Text: result.Output}}
	return toolsCallResult{Content: content, IsError: result.Error != ""}, nil
}
