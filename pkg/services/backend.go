// Package services hosts the five MCP backend servers the gateway fronts:
// event-manager, rsvp, guild-manager, photo-vibe-check, and vibe-canvas.
// Each registers its tool surface on an official-SDK server and persists
// through pkg/guilddata. The coordinator runs them in-process, one HTTP
// listener per service, but they are independently addressable.
package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
	"github.com/davidmiura/tlt-sub000/pkg/guilddata"
	"github.com/davidmiura/tlt-sub000/pkg/version"
)

// objectSchema accepts any argument object. Tools validate fields
// themselves so missing arguments come back as semantic errors.
var objectSchema = json.RawMessage(`{"type":"object"}`)

// toolFunc is the service-level handler shape: decoded arguments in, a
// JSON-encodable result out. Returned errors become MCP error results with
// the error text, not protocol failures.
type toolFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// toolDef couples a tool name to its handler.
type toolDef struct {
	name    string
	desc    string
	handler toolFunc
}

// Backend is one running MCP service.
type Backend struct {
	name   string
	server *mcpsdk.Server
	logger *slog.Logger
}

// newBackend builds the MCP server and registers every tool.
func newBackend(name string, tools []toolDef) *Backend {
	b := &Backend{
		name: name,
		server: mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    version.AppName + "-" + name,
			Version: version.Version,
		}, nil),
		logger: slog.Default().With("service", name),
	}
	for _, def := range tools {
		def := def
		b.server.AddTool(&mcpsdk.Tool{
			Name:        def.name,
			Description: def.desc,
			InputSchema: objectSchema,
		}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			args, err := decodeToolArgs(req)
			if err != nil {
				return errorResult("invalid arguments: " + err.Error()), nil
			}
			result, err := def.handler(ctx, args)
			if err != nil {
				b.logger.Warn("Tool failed", "tool", def.name, "error", err)
				return errorResult(err.Error()), nil
			}
			return jsonResult(result), nil
		})
	}
	return b
}

// Name returns the service name as registered with the gateway.
func (b *Backend) Name() string { return b.name }

// Server exposes the MCP server for in-memory test transports.
func (b *Backend) Server() *mcpsdk.Server { return b.server }

// Handler serves the backend over streaming HTTP.
func (b *Backend) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return b.server
	}, nil)
}

func decodeToolArgs(req *mcpsdk.CallToolRequest) (map[string]any, error) {
	if req == nil || len(req.Params.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return nil, err
	}
	return args, nil
}

func jsonResult(payload map[string]any) *mcpsdk.CallToolResult {
	data, err := json.Marshal(payload)
	if err != nil {
		return errorResult("encode result: " + err.Error())
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}
}

func errorResult(msg string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}},
	}
}

// stringArg returns a string argument, tolerating JSON numbers for the
// snowflake-style identifiers chat platforms hand over.
func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case float64:
		return json.Number(jsonNumber(v)).String()
	default:
		return ""
	}
}

func jsonNumber(v float64) string {
	data, _ := json.Marshal(v)
	return string(data)
}

// requireArgs validates that every named string argument is present.
func requireArgs(args map[string]any, keys ...string) error {
	for _, key := range keys {
		if stringArg(args, key) == "" {
			return errs.Validation(key, "is required")
		}
	}
	return nil
}

// mapArg returns a nested object argument, or an empty map.
func mapArg(args map[string]any, key string) map[string]any {
	m, _ := args[key].(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}

// sliceArg returns a string-slice argument regardless of whether it arrived
// as a JSON array or a single string.
func sliceArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, el := range v {
			if s, ok := el.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// listEventDirs returns the event ids present under a guild's data
// directory. A missing guild directory means no events.
func listEventDirs(store *guilddata.Store, guildID string) ([]string, error) {
	entries, err := os.ReadDir(store.GuildDir(guildID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.IO("read guild directory", err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}
