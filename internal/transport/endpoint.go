// Package transport carries detection requests between the edge device and
// the edge server over websockets.
//
// Every client has a stable identity sent with the handshake. The server
// routes each response back to the connection registered under the identity
// that sent the request, and handles the requests of one identity in order.
package transport

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	// IdentityHeader carries the client identity on the websocket handshake.
	IdentityHeader = "X-Client-Identity"
	// DetectPath is the websocket endpoint detection requests are sent to.
	DetectPath = "/detect"

	schemeTCP = "tcp://"
	schemeIPC = "ipc://"
)

// ErrInvalidEndpoint is returned for addresses that are neither tcp:// nor ipc://.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Endpoint is a parsed transport address.
type Endpoint struct {
	// Network is "tcp" or "unix".
	Network string
	// Address is host:port for tcp and a socket path for unix.
	Address string
}

// ParseEndpoint parses tcp://host:port and ipc:///path/to/socket addresses.
func ParseEndpoint(raw string) (Endpoint, error) {
	switch {
	case strings.HasPrefix(raw, schemeTCP):
		addr := strings.TrimPrefix(raw, schemeTCP)
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return Endpoint{}, errors.Wrapf(ErrInvalidEndpoint, "%s: %v", raw, err)
		}
		return Endpoint{Network: "tcp", Address: addr}, nil
	case strings.HasPrefix(raw, schemeIPC):
		path := strings.TrimPrefix(raw, schemeIPC)
		if path == "" {
			return Endpoint{}, errors.Wrapf(ErrInvalidEndpoint, "%s: empty socket path", raw)
		}
		return Endpoint{Network: "unix", Address: path}, nil
	default:
		return Endpoint{}, errors.Wrapf(ErrInvalidEndpoint, "%s: unknown scheme", raw)
	}
}

// String formats the endpoint back into its address form.
func (e Endpoint) String() string {
	if e.Network == "unix" {
		return schemeIPC + e.Address
	}
	return schemeTCP + e.Address
}

// URL is the websocket URL to dial. Unix sockets use a placeholder host; the
// dialer connects to the socket path regardless of it.
func (e Endpoint) URL() string {
	if e.Network == "unix" {
		return "ws://edge-server" + DetectPath
	}
	return "ws://" + e.Address + DetectPath
}

// Listen opens a listener on the endpoint. A stale unix socket is removed
// first and its directory created.
func (e Endpoint) Listen(ctx context.Context) (net.Listener, error) {
	if e.Network == "unix" {
		if err := os.MkdirAll(filepath.Dir(e.Address), 0755); err != nil {
			return nil, errors.Wrap(err, "create socket directory")
		}
		if err := os.Remove(e.Address); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "remove stale socket")
		}
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, e.Network, e.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", e)
	}
	return listener, nil
}

func (e Endpoint) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, e.Network, e.Address)
}
