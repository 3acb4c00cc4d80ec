// Package daemonclient implements the unprivileged client side of the
// hyperfand IPC protocol: a pooled connection, a soft client-side rate
// limiter, and response-shape verification against the request that
// produced it (grounded on original_source/hf-core/src/daemon_client.rs).
package daemonclient

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/hyperfan-project/hyperfand/internal/protocol"
	"github.com/hyperfan-project/hyperfand/internal/ratelimit"
)

// DefaultTimeout bounds connect/read/write, matching the daemon's own
// ipcserver.DefaultIOTimeout.
const DefaultTimeout = 5 * time.Second

// DefaultClientRateLimit is deliberately generous: the daemon's own limit
// is authoritative, this one only avoids wasted round trips against a
// daemon that's already going to reject them.
const DefaultClientRateLimit = 1500

// Client holds one pooled connection to the daemon, reused across calls
// and transparently reconnected on I/O failure.
type Client struct {
	SocketPath string
	Timeout    time.Duration

	mu      sync.Mutex
	conn    net.Conn
	fr      *protocol.FrameReader
	limiter *ratelimit.Limiter
}

// New constructs a Client. The connection is established lazily on first
// Request.
func New(socketPath string) *Client {
	return &Client{
		SocketPath: socketPath,
		Timeout:    DefaultTimeout,
		limiter:    ratelimit.New(DefaultClientRateLimit, ratelimit.DefaultWindow),
	}
}

// SetRateLimit adjusts the soft client-side limiter at runtime.
func (c *Client) SetRateLimit(quota uint32) { c.limiter.SetQuota(quota) }

// IsAvailable reports whether the daemon's socket file exists, without
// connecting.
func IsAvailable(socketPath string) bool {
	_, err := os.Stat(socketPath)
	return err == nil
}

func (c *Client) connectLocked() error {
	conn, err := net.DialTimeout("unix", c.SocketPath, c.Timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon at %s: %w", c.SocketPath, err)
	}
	c.conn = conn
	c.fr = protocol.NewFrameReader(conn)
	return nil
}

// Close releases the pooled connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.fr = nil, nil
	return err
}

// Request sends req and returns the daemon's response, retrying once on a
// transient I/O error by reconnecting (spec §4.6 client contract; original
// "try to reconnect and retry once").
func (c *Client) Request(req protocol.Request) (protocol.Response, error) {
	if err := c.limiter.Check(); err != nil {
		return protocol.Response{}, err
	}
	if err := req.Validate(); err != nil {
		return protocol.Response{}, fmt.Errorf("request validation failed: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	resp, err := c.doRequest(req, true)
	if err != nil {
		return protocol.Response{}, err
	}
	if err := verifyResponseType(req, resp); err != nil {
		return protocol.Response{}, err
	}
	return resp, nil
}

func (c *Client) doRequest(req protocol.Request, allowRetry bool) (protocol.Response, error) {
	if c.conn == nil {
		if err := c.connectLocked(); err != nil {
			return protocol.Response{}, err
		}
	}

	id := protocol.NextRequestID()
	env := protocol.RequestEnvelope{ID: id, Request: req}
	data, err := protocol.EncodeFrame(env)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("failed to serialize request: %w", err)
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.Timeout))
	if _, err := c.conn.Write(data); err != nil {
		if allowRetry {
			c.discardLocked()
			if rerr := c.connectLocked(); rerr != nil {
				return protocol.Response{}, fmt.Errorf("failed to reconnect after send error: %w", rerr)
			}
			return c.doRequest(req, false)
		}
		return protocol.Response{}, fmt.Errorf("failed to send request: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.Timeout))
	frame, err := c.fr.ReadFrame()
	if err != nil {
		if allowRetry {
			c.discardLocked()
			if rerr := c.connectLocked(); rerr != nil {
				return protocol.Response{}, fmt.Errorf("failed to reconnect after read error: %w", rerr)
			}
			return c.doRequest(req, false)
		}
		return protocol.Response{}, fmt.Errorf("failed to read response: %w", err)
	}

	respEnv, err := protocol.DecodeResponseEnvelope(frame)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if respEnv.ID != id {
		return protocol.Response{}, fmt.Errorf("response id mismatch: expected %d, got %d", id, respEnv.ID)
	}
	return respEnv.Response, nil
}

func (c *Client) discardLocked() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn, c.fr = nil, nil
}

// verifyResponseType checks that a successful response carries the field
// its request kind requires, catching protocol drift between client and
// daemon before a nil-field panic does (original's verify_response_type).
func verifyResponseType(req protocol.Request, resp protocol.Response) error {
	if !resp.Ok {
		return nil
	}
	field := protocol.RequiredField(req.Kind)
	if field == "" || resp.Data == nil {
		return nil
	}
	present := false
	switch field {
	case "value":
		present = resp.Data.Value != nil
	case "hardware":
		present = resp.Data.Hardware != nil
	case "all_data":
		present = resp.Data.AllData != nil
	case "celsius":
		present = resp.Data.Celsius != nil
	case "rpm":
		present = resp.Data.Rpm != nil
	case "pwm":
		present = resp.Data.Pwm != nil
	case "gpus":
		present = resp.Data.Gpus != nil
	case "fan_mappings":
		present = resp.Data.FanMappings != nil
	case "manual_pairings":
		present = resp.Data.ManualPairings != nil
	case "ec_chips":
		present = resp.Data.EcChips != nil
	case "ec_register":
		present = resp.Data.EcRegister != nil
	case "ec_registers":
		present = resp.Data.EcRegisters != nil
	default:
		present = true
	}
	if !present {
		return fmt.Errorf("IpcProtocol: response missing %q for request kind %q", field, req.Kind)
	}
	return nil
}
