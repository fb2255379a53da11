package rpcwire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
)

// maxMessageSize bounds a single Envelope's encoded length, guarding against a
// corrupt or hostile peer sending a length prefix that would exhaust memory.
const maxMessageSize = 64 << 20

// Conn wraps a Unix domain socket connection with the length-framed JSON protocol.
// One request/response pair per connection is the expected usage, mirroring
// original_source's RpcClient.connect ("we only send a single request/response on
// each connection because it makes things simpler").
type Conn struct {
	rw io.ReadWriter
}

// NewConn wraps an already-established connection (typically a *net.UnixConn).
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw}
}

// Dial connects to the Unix socket at path, the wrapper-provided value of
// SocketEnvVar.
func Dial(path string) (*Conn, error) {
	c, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("rpcwire: dial %s: %w", path, err)
	}
	return NewConn(c), nil
}

// WriteMessage encodes env as one line of JSON (terminated by a newline that is
// counted in the frame) and writes it framed by a 4-byte big-endian length prefix.
func (c *Conn) WriteMessage(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("rpcwire: marshal %s: %w", env.Type, err)
	}
	data = append(data, '\n')
	if len(data) > maxMessageSize {
		return fmt.Errorf("rpcwire: message too large (%d bytes)", len(data))
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := c.write(prefix[:]); err != nil {
		return fmt.Errorf("rpcwire: write length prefix: %w", err)
	}
	if _, err := c.write(data); err != nil {
		return fmt.Errorf("rpcwire: write body: %w", err)
	}
	return nil
}

// ReadMessage reads one length-framed envelope from the connection.
func (c *Conn) ReadMessage() (Envelope, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(c.rw, prefix[:]); err != nil {
		return Envelope{}, fmt.Errorf("rpcwire: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessageSize {
		return Envelope{}, fmt.Errorf("rpcwire: message too large (%d bytes)", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(c.rw, body); err != nil {
		return Envelope{}, fmt.Errorf("rpcwire: read body: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("rpcwire: invalid message %q: %w", body, err)
	}
	return env, nil
}

func (c *Conn) write(b []byte) (int, error) {
	return c.rw.Write(b)
}

// Close closes the underlying connection, if it supports it.
func (c *Conn) Close() error {
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
