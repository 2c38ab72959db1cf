package queue

import (
	"context"
)

// Message is one frame delivered by a broker.
type Message struct {
	ID          string
	Destination string
	Body        []byte
	Headers     map[string]string
	Redelivered bool

	// Handle is the backend's own frame, needed to acknowledge it.
	Handle any
}

// Header returns a header value or "".
func (m *Message) Header(name string) string {
	return m.Headers[name]
}

// Conn is a session with one broker server. Backends must offer queue
// and topic destinations, at-least-once delivery with a redelivery mark,
// and optionally transactional acknowledgement.
type Conn interface {
	Send(ctx context.Context, destination string, body []byte, headers map[string]string) error

	// Subscribe starts delivery from destination. With ack set, frames must
	// be acknowledged or they are redelivered. The channel closes when the
	// connection is lost or closed.
	Subscribe(destination string, ack bool) (<-chan *Message, error)

	Ack(msg *Message) error
	Begin() (Tx, error)
	Close() error
}

// Tx groups acknowledgements so they take effect together on Commit.
type Tx interface {
	Ack(msg *Message) error
	Commit() error
	Abort() error
}

// Dialer opens a connection to one server address.
type Dialer interface {
	Dial(ctx context.Context, server string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, server string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, server string) (Conn, error) {
	return f(ctx, server)
}
