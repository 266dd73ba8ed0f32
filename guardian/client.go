package guardian

import (
	"bufio"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nyxkernel/corekernel/kerr"
)

// Client talks to a running Guardian daemon over its Unix-domain
// socket, connecting lazily on first use.
type Client struct {
	socketPath string

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

func NewClient(socketPath string) *Client {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	return &Client{socketPath: socketPath}
}

func (c *Client) ensureConnected() error {
	if c.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("unix", c.socketPath, 5*time.Second)
	if err != nil {
		return kerr.New(kerr.Unavailable, "connect to guardian at %s: %v", c.socketPath, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

func (c *Client) sendRequest(req WireRequest) (WireResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return WireResponse{}, err
	}

	line, err := json.Marshal(req)
	if err != nil {
		return WireResponse{}, kerr.New(kerr.InvalidArgument, "marshal guardian request: %v", err)
	}
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		c.conn = nil
		return WireResponse{}, kerr.New(kerr.Unavailable, "write to guardian: %v", err)
	}

	respLine, err := c.reader.ReadBytes('\n')
	if err != nil {
		c.conn = nil
		return WireResponse{}, kerr.New(kerr.Unavailable, "read from guardian: %v", err)
	}

	var resp WireResponse
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return WireResponse{}, kerr.New(kerr.InvalidArgument, "decode guardian response: %v", err)
	}
	return resp, nil
}

// CheckCapability asks the daemon whether req should be allowed, and
// returns the resulting SecurityDecision in wire form.
func (c *Client) CheckCapability(req CapabilityRequest) (FinalDecision, string, error) {
	resp, err := c.sendRequest(WireRequest{Type: ReqCheckCapability, RequestID: uuid.New(), Request: &req})
	if err != nil {
		return "", "", err
	}
	switch resp.Type {
	case RespDecision:
		return classifyDecisionString(resp.Decision), resp.Reason, nil
	case RespPromptRequired:
		return FinalPrompt, resp.Message, nil
	case RespError:
		return "", "", kerr.New(kerr.PermissionDenied, "guardian: %s", resp.Message)
	default:
		return "", "", kerr.New(kerr.InvalidArgument, "unexpected guardian response type %q", resp.Type)
	}
}

func classifyDecisionString(s string) FinalDecision {
	switch {
	case s == "allow":
		return FinalAllow
	case s == "deny":
		return FinalDeny
	case strings.HasPrefix(s, "sandbox"):
		return FinalSandbox
	case s == "prompt":
		return FinalPrompt
	default:
		return FinalDeny
	}
}

// Status queries the daemon's own health counters.
func (c *Client) Status() (WireResponse, error) {
	return c.sendRequest(WireRequest{Type: ReqStatus})
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
