package gateway

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
	"github.com/davidmiura/tlt-sub000/pkg/version"
)

// Client is the executor-facing MCP client for the gateway. Every call
// returns the uniform envelope; transport failures are classified, never
// raw.
type Client struct {
	session *mcpsdk.ClientSession
}

// Connect dials the gateway's streaming HTTP endpoint.
func Connect(ctx context.Context, url string) (*Client, error) {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName + "-executor",
		Version: version.Version,
	}, nil)
	session, err := client.Connect(ctx, &mcpsdk.StreamableClientTransport{Endpoint: url}, nil)
	if err != nil {
		return nil, errs.ServiceUnavailable("connect to gateway", err)
	}
	return &Client{session: session}, nil
}

// NewClientFromSession wraps an existing session, typically an in-memory
// transport in tests.
func NewClientFromSession(session *mcpsdk.ClientSession) *Client {
	return &Client{session: session}
}

// Call invokes a gateway tool and parses the result envelope.
func (c *Client) Call(ctx context.Context, tool string, args map[string]any) (*Envelope, error) {
	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return nil, errs.ServiceUnavailable("call gateway tool "+tool, err)
	}
	return ParseEnvelope(result)
}

// Ping probes gateway liveness through the management ping tool.
func (c *Client) Ping(ctx context.Context) error {
	env, err := c.Call(ctx, "ping", nil)
	if err != nil {
		return err
	}
	if !env.Success {
		return errs.ServiceUnavailable("gateway ping failed: "+env.Error, nil)
	}
	return nil
}

// Close shuts the session down.
func (c *Client) Close() error {
	if c.session == nil {
		return nil
	}
	return c.session.Close()
}
