// Package mcpserver exposes personas and sessions as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/comigor/shapeschat/internal/llm"
	"github.com/comigor/shapeschat/internal/logger"
	"github.com/comigor/shapeschat/internal/persona"
	"github.com/comigor/shapeschat/internal/session"
)

const (
	serverName    = "shapeschat"
	serverVersion = "0.1.0"
)

// Tools binds MCP tool calls to the persona registry and session hub.
type Tools struct {
	personas *persona.Registry
	sessions *session.Hub
}

func NewTools(personas *persona.Registry, sessions *session.Hub) *Tools {
	return &Tools{personas: personas, sessions: sessions}
}

// NewServer builds an MCP server with every tool registered.
func NewServer(t *Tools) *server.MCPServer {
	s := server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("list_personas",
		mcp.WithDescription("List the registered personas in display order"),
	), t.ListPersonas)

	s.AddTool(mcp.NewTool("register_persona",
		mcp.WithDescription("Register a persona from its vanity URL"),
		mcp.WithString("url", mcp.Required(), mcp.Description("Vanity URL, e.g. https://shapes.inc/bella-donna")),
		mcp.WithString("name", mcp.Description("Display name; derived from the id when omitted")),
	), t.RegisterPersona)

	s.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a message to a persona in a channel and return its reply"),
		mcp.WithString("persona", mcp.Required(), mcp.Description("Persona id")),
		mcp.WithString("channel", mcp.Required(), mcp.Description("Channel id")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Message text")),
	), t.SendMessage)

	s.AddTool(mcp.NewTool("clear_conversation",
		mcp.WithDescription("Reset a channel to its welcome messages"),
		mcp.WithString("persona", mcp.Required(), mcp.Description("Persona id")),
		mcp.WithString("channel", mcp.Required(), mcp.Description("Channel id")),
	), t.ClearConversation)

	return s
}

// Serve runs the server on stdin/stdout until the input closes.
func Serve(t *Tools) error {
	logger.L.Info("serving MCP over stdio", "server", serverName)
	return server.ServeStdio(NewServer(t))
}

func (t *Tools) ListPersonas(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := json.Marshal(t.personas.List())
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (t *Tools) RegisterPersona(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := request.GetString("url", "")
	p, err := t.personas.Register(ctx, raw, request.GetString("name", ""), "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (t *Tools) SendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := t.session(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	reply, err := sess.Send(ctx, request.GetString("content", ""))
	if err != nil {
		var ce *llm.CompletionError
		if errors.As(err, &ce) {
			return mcp.NewToolResultError(ce.UserMessage()), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(reply.Content), nil
}

func (t *Tools) ClearConversation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := t.session(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess.Clear()
	return mcp.NewToolResultText(fmt.Sprintf("#%s reset to %d welcome messages", request.GetString("channel", ""), len(sess.Messages()))), nil
}

func (t *Tools) session(request mcp.CallToolRequest) (*session.Session, error) {
	p := request.GetString("persona", "")
	c := request.GetString("channel", "")
	if p == "" || c == "" {
		return nil, errors.New("persona and channel are required")
	}
	return t.sessions.Session(p, c), nil
}
