package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"edgecloud/internal/dto"
	"edgecloud/internal/logger"
)

var (
	// ErrRequestInProgress is returned by Send while a response is still pending.
	ErrRequestInProgress = errors.New("request in progress")
	// ErrNotConnected is returned by Send while the client is reconnecting.
	ErrNotConnected = errors.New("not connected")
	// ErrConnectionLost is the error of the response delivered for a request
	// whose connection dropped before it was answered.
	ErrConnectionLost = errors.New("connection lost")
	// ErrClosed is returned once the client is closed.
	ErrClosed = errors.New("client closed")
)

const (
	writeTimeout     = 5 * time.Second
	handshakeTimeout = 10 * time.Second

	minRedialDelay = 100 * time.Millisecond
	maxRedialDelay = 5 * time.Second
)

// Client is the requesting side of the transport. It allows one outstanding
// request at a time: Send marks the client busy and the Poll that returns the
// response clears it.
//
// A lost connection is redialed in the background with exponential backoff.
// Until it is back, Send fails with ErrNotConnected, and a request that was
// pending when the connection dropped is answered with ErrConnectionLost.
type Client struct {
	endpoint Endpoint
	identity string
	dialer   websocket.Dialer
	logger   *logger.Logger

	responses  chan dto.DetectionResponse
	inProgress atomic.Bool
	pending    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	conn    *websocket.Conn
	dialing bool

	writeMu sync.Mutex
}

// NewClient creates a client for a tcp:// or ipc:// address without
// connecting it.
func NewClient(address, identity string, logger *logger.Logger) (*Client, error) {
	endpoint, err := ParseEndpoint(address)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		endpoint: endpoint,
		identity: identity,
		dialer: websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return endpoint.dial(ctx)
			},
		},
		logger:    logger,
		responses: make(chan dto.DetectionResponse, 1),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Dial connects to a server with a fresh identity.
func Dial(ctx context.Context, address string, logger *logger.Logger) (*Client, error) {
	return DialWithIdentity(ctx, address, uuid.NewString(), logger)
}

// DialWithIdentity connects to a server using the given identity. It fails
// when the first connection attempt fails.
func DialWithIdentity(ctx context.Context, address, identity string, logger *logger.Logger) (*Client, error) {
	c, err := NewClient(address, identity, logger)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Connect makes the first connection attempt. When it fails the client keeps
// redialing in the background and the error is returned.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		c.redial()
		return err
	}
	if !c.attach(conn) {
		return ErrClosed
	}
	return nil
}

// Identity returns the identity the client registers with.
func (c *Client) Identity() string {
	return c.identity
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// InProgress reports whether a request is waiting for its response.
func (c *Client) InProgress() bool {
	return c.inProgress.Load()
}

// Send writes a request. It refuses while a previous request is unanswered.
func (c *Client) Send(req dto.DetectionRequest) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.redial()
		return errors.Wrapf(ErrNotConnected, "send frame %d to %s", req.FrameID, c.endpoint)
	}

	if !c.inProgress.CompareAndSwap(false, true) {
		return ErrRequestInProgress
	}
	c.pending.Store(req.FrameID)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(req); err != nil {
		c.inProgress.Store(false)
		// The read loop notices the closed connection and redials.
		conn.Close()
		return errors.Wrapf(err, "send frame %d", req.FrameID)
	}
	return nil
}

// Poll waits up to timeout for the pending response. A zero timeout checks
// without blocking.
func (c *Client) Poll(timeout time.Duration) (dto.DetectionResponse, bool) {
	if timeout <= 0 {
		select {
		case resp := <-c.responses:
			c.inProgress.Store(false)
			return resp, true
		default:
			return dto.DetectionResponse{}, false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-c.responses:
		c.inProgress.Store(false)
		return resp, true
	case <-timer.C:
		return dto.DetectionResponse{}, false
	case <-c.ctx.Done():
		return dto.DetectionResponse{}, false
	}
}

// Close sends a close frame, tears the connection down and stops redialing.
func (c *Client) Close() error {
	c.mu.Lock()
	c.cancel()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
	}

	c.wg.Wait()
	return err
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set(IdentityHeader, c.identity)

	conn, _, err := c.dialer.DialContext(ctx, c.endpoint.URL(), header)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", c.endpoint)
	}
	return conn, nil
}

// attach makes conn the current connection and starts reading from it.
func (c *Client) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return false
	}
	if c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		return true
	}
	c.conn = conn
	c.wg.Add(1)
	c.mu.Unlock()

	go c.readLoop(conn)

	c.logger.Info("Connected to %s as %s", c.endpoint, c.identity)
	return true
}

// redial starts the background reconnection unless it is running or a
// connection is open.
func (c *Client) redial() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dialing || c.conn != nil || c.ctx.Err() != nil {
		return
	}
	c.dialing = true
	c.wg.Add(1)
	go c.redialLoop()
}

func (c *Client) redialLoop() {
	defer c.wg.Done()

	delay := minRedialDelay
	for {
		timer := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			c.mu.Lock()
			c.dialing = false
			c.mu.Unlock()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(c.ctx, handshakeTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.mu.Lock()
			c.dialing = false
			c.mu.Unlock()
			c.attach(conn)
			return
		}

		delay = min(2*delay, maxRedialDelay)
		c.logger.Debug("Reconnecting to %s failed, next attempt in %v: %v", c.endpoint, delay, err)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		var resp dto.DetectionResponse
		if err := conn.ReadJSON(&resp); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("Server closed connection for %s", c.identity)
			} else if !errors.Is(err, net.ErrClosed) {
				c.logger.Warning("Read from %s failed: %v", c.endpoint, err)
			}
			c.lost(conn)
			return
		}

		if !c.inProgress.Load() || resp.FrameID != c.pending.Load() {
			c.logger.Debug("Dropping unexpected response for frame %d", resp.FrameID)
			continue
		}
		c.deliver(resp)
	}
}

// deliver hands a response to Poll. A newer response replaces one nobody
// polled.
func (c *Client) deliver(resp dto.DetectionResponse) {
	select {
	case c.responses <- resp:
	default:
		select {
		case <-c.responses:
		default:
		}
		c.responses <- resp
	}
}

// lost forgets conn and, unless the client is closing, answers the pending
// request with ErrConnectionLost and starts redialing.
func (c *Client) lost(conn *websocket.Conn) {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()

	if !current || c.ctx.Err() != nil {
		return
	}

	if c.inProgress.Load() {
		// An answer that already arrived wins.
		select {
		case c.responses <- dto.DetectionResponse{FrameID: c.pending.Load(), Error: ErrConnectionLost.Error()}:
		default:
		}
	}
	c.redial()
}
