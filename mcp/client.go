package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/okanta/relay"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets a structured logger for protocol activity.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithPrefix namespaces registered tool names ("prefix.tool") so multiple
// servers can share a registry without name collisions.
func WithPrefix(prefix string) ClientOption {
	return func(c *Client) { c.prefix = prefix }
}

// Client talks to one MCP server over newline-delimited JSON-RPC 2.0.
// Requests may be issued concurrently; responses are matched to callers
// by request ID.
type Client struct {
	logger *slog.Logger
	prefix string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeMu sync.Mutex

	closeOnce sync.Once

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan *response
	closed  bool // no more responses will arrive
	readErr error
}

// Connect launches an MCP server subprocess and performs the initialize
// handshake. The returned client owns the subprocess; Close terminates it.
func Connect(ctx context.Context, command string, args []string, opts ...ClientOption) (*Client, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp: start %s: %w", command, err)
	}

	c := newClient(stdin, stdout, opts...)
	c.cmd = cmd

	if err := c.initialize(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// newClient wires a client over arbitrary pipes. Split out from Connect so
// tests can run a fake server without a subprocess.
func newClient(stdin io.WriteCloser, stdout io.ReadCloser, opts ...ClientOption) *Client {
	c := &Client{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		stdin:   stdin,
		stdout:  stdout,
		pending: make(map[int64]chan *response),
	}
	for _, o := range opts {
		o(c)
	}
	go c.readLoop()
	return c
}

// initialize performs the MCP handshake: initialize request followed by
// the initialized notification.
func (c *Client) initialize(ctx context.Context) error {
	var result initializeResult
	err := c.call(ctx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    struct{}{},
		ClientInfo:      clientInfo{Name: "relay", Version: "1.0"},
	}, &result)
	if err != nil {
		return fmt.Errorf("mcp: initialize: %w", err)
	}
	if err := c.notify("notifications/initialized", nil); err != nil {
		return fmt.Errorf("mcp: initialized notification: %w", err)
	}
	c.logger.Info("mcp server connected",
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion)
	return nil
}

// ListTools returns the tools the server advertises.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	var result toolsListResult
	if err := c.call(ctx, "tools/list", struct{}{}, &result); err != nil {
		return nil, fmt.Errorf("mcp: tools/list: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a remote tool and returns its text output. A result
// flagged IsError by the server is surfaced as a plain error so the
// registry wraps it like any local tool failure.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	var result toolCallResult
	err := c.call(ctx, "tools/call", toolCallParams{Name: name, Arguments: args}, &result)
	if err != nil {
		return "", fmt.Errorf("mcp: tools/call %s: %w", name, err)
	}
	if result.IsError {
		return "", errors.New(result.text())
	}
	return result.text(), nil
}

// RegisterAll discovers the server's tools and registers each one in the
// registry with its advertised schema. Remote tools are then
// indistinguishable from local ones at the call site.
func (c *Client) RegisterAll(ctx context.Context, reg *relay.Registry) error {
	tools, err := c.ListTools(ctx)
	if err != nil {
		return err
	}
	for _, t := range tools {
		remote := t.Name
		name := remote
		if c.prefix != "" {
			name = c.prefix + "." + remote
		}
		err := reg.RegisterSchema(name, t.Description, t.InputSchema,
			func(ctx context.Context, args map[string]any) (any, error) {
				return c.CallTool(ctx, remote, args)
			})
		if err != nil {
			return err
		}
		c.logger.Debug("mcp tool registered", "name", name)
	}
	return nil
}

// Close shuts down the connection and, when the client owns a subprocess,
// waits for it to exit. The connection may already be dead because the
// server exited first; the subprocess still needs reaping, so the shutdown
// work is gated on its own once, not on the closed flag.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	var err error
	c.closeOnce.Do(func() {
		err = c.stdin.Close()
		if c.cmd != nil {
			if werr := c.cmd.Wait(); werr != nil && err == nil {
				err = werr
			}
		}
	})
	return err
}

// call sends a request and blocks until its response arrives or ctx ends.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	if c.closed {
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = errors.New("client closed")
		}
		return err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(request{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		return err
	}

	select {
	case resp := <-ch:
		if resp == nil {
			c.mu.Lock()
			err := c.readErr
			c.mu.Unlock()
			if err == nil {
				err = errors.New("connection closed")
			}
			return err
		}
		if resp.Error != nil {
			return fmt.Errorf("server error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notify sends a request with no ID and expects no response.
func (c *Client) notify(method string, params any) error {
	return c.send(request{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Client) send(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// readLoop delivers responses to waiting callers. On EOF or a read error
// every pending call is woken with a nil response.
func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, 0, 10<<20), 10<<20) // 10MB max message

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("mcp: discarding unparseable message", "error", err)
			continue
		}
		if resp.ID == nil {
			// Server-initiated notification; nothing waits on it.
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		c.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}

	c.mu.Lock()
	if err := scanner.Err(); err != nil {
		c.readErr = err
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
}
