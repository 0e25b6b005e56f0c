package gateway

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
	"github.com/davidmiura/tlt-sub000/pkg/version"
)

// Timeouts for pool operations.
const (
	initTimeout     = 5 * time.Second
	retryBackoffMin = 100 * time.Millisecond
	retryBackoffMax = 400 * time.Millisecond
)

// BackendPool manages one MCP client session per backend service. Sessions
// are created lazily, recreated once on call failure, and shared across
// goroutines.
type BackendPool struct {
	urls        map[string]string // service → MCP endpoint
	callTimeout time.Duration

	mu            sync.RWMutex
	sessions      map[string]*mcpsdk.ClientSession
	failedServers map[string]string

	// Per-service mutex so concurrent callers don't race session creation.
	initMu sync.Map // service → *sync.Mutex

	// Test seam: when set, dial replaces the HTTP transport connection.
	dial func(ctx context.Context, service string) (*mcpsdk.ClientSession, error)
}

// NewBackendPool creates a pool over the configured service URLs.
func NewBackendPool(urls map[string]string, callTimeout time.Duration) *BackendPool {
	if callTimeout <= 0 {
		callTimeout = 4 * time.Second
	}
	return &BackendPool{
		urls:          urls,
		callTimeout:   callTimeout,
		sessions:      make(map[string]*mcpsdk.ClientSession),
		failedServers: make(map[string]string),
	}
}

// NewTestBackendPool creates a pool whose connections come from dial,
// typically in-memory MCP transports.
func NewTestBackendPool(dial func(ctx context.Context, service string) (*mcpsdk.ClientSession, error)) *BackendPool {
	pool := NewBackendPool(map[string]string{}, 4*time.Second)
	pool.dial = dial
	return pool
}

// session returns the live session for a service, connecting when needed.
func (p *BackendPool) session(ctx context.Context, service string) (*mcpsdk.ClientSession, error) {
	p.mu.RLock()
	session, ok := p.sessions[service]
	p.mu.RUnlock()
	if ok {
		return session, nil
	}

	muI, _ := p.initMu.LoadOrStore(service, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	// Re-check under the per-service lock.
	p.mu.RLock()
	session, ok = p.sessions[service]
	p.mu.RUnlock()
	if ok {
		return session, nil
	}

	session, err := p.connect(ctx, service)
	if err != nil {
		p.mu.Lock()
		p.failedServers[service] = err.Error()
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	p.sessions[service] = session
	delete(p.failedServers, service)
	p.mu.Unlock()
	return session, nil
}

func (p *BackendPool) connect(ctx context.Context, service string) (*mcpsdk.ClientSession, error) {
	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	if p.dial != nil {
		return p.dial(initCtx, service)
	}

	url, ok := p.urls[service]
	if !ok {
		return nil, errs.NotFound("no backend URL configured for service " + service)
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.Version,
	}, nil)
	session, err := client.Connect(initCtx, &mcpsdk.StreamableClientTransport{Endpoint: url}, nil)
	if err != nil {
		return nil, errs.ServiceUnavailable("connect to "+service, err)
	}
	return session, nil
}

// CallTool invokes a backend tool. One retry with a fresh session covers
// transient transport failures; persistent failures come back classified as
// service-unavailable within the pool's call timeout.
func (p *BackendPool) CallTool(ctx context.Context, service, tool string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	result, err := p.callOnce(ctx, service, tool, args)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, errs.UpstreamTimeout("call "+service+"."+tool, ctx.Err())
	}

	// Jittered backoff, then drop the session and retry once.
	backoff := retryBackoffMin + time.Duration(rand.Int64N(int64(retryBackoffMax-retryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, errs.UpstreamTimeout("call "+service+"."+tool, ctx.Err())
	}

	p.dropSession(service)
	result, err = p.callOnce(ctx, service, tool, args)
	if err != nil {
		return nil, errs.ServiceUnavailable("call "+service+"."+tool, err)
	}
	return result, nil
}

func (p *BackendPool) callOnce(ctx context.Context, service, tool string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	session, err := p.session(ctx, service)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	return session.CallTool(callCtx, &mcpsdk.CallToolParams{Name: tool, Arguments: args})
}

// Ping checks a backend by listing its tools.
func (p *BackendPool) Ping(ctx context.Context, service string) error {
	session, err := p.session(ctx, service)
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	if _, err := session.ListTools(pingCtx, nil); err != nil {
		return errs.ServiceUnavailable("ping "+service, err)
	}
	return nil
}

// FailedServers returns a copy of the services that failed to connect.
func (p *BackendPool) FailedServers() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.failedServers))
	for k, v := range p.failedServers {
		out[k] = v
	}
	return out
}

func (p *BackendPool) dropSession(service string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if session, ok := p.sessions[service]; ok {
		_ = session.Close()
		delete(p.sessions, service)
	}
}

// Close shuts every session down.
func (p *BackendPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for service, session := range p.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = errs.IO("close session for "+service, err)
		}
	}
	p.sessions = make(map[string]*mcpsdk.ClientSession)
	return firstErr
}
