package broadcast

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/wfunc/geoguess/logger"
)

const (
	subjectPrefix = "geoguess.room."
	originHeader  = "Geoguess-Origin"
)

// NATSRelay fans room frames out to every server instance on the same NATS
// cluster. Frames published by this instance are ignored on the way back.
type NATSRelay struct {
	conn   *nats.Conn
	origin string
	owned  bool

	mu  sync.Mutex
	sub *nats.Subscription
}

// ConnectNATS dials url, with token auth when token is set.
func ConnectNATS(url, token string) (*NATSRelay, error) {
	opts := []nats.Option{
		nats.Name("geoguess relay"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Log.Warnw("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Log.Infow("nats reconnected", "url", c.ConnectedUrl())
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	r := NewNATSRelay(conn)
	r.owned = true
	return r, nil
}

// NewNATSRelay wraps an existing connection. The caller keeps ownership of conn.
func NewNATSRelay(conn *nats.Conn) *NATSRelay {
	return &NATSRelay{conn: conn, origin: uuid.NewString()}
}

func (r *NATSRelay) Publish(roomID string, frame []byte) error {
	msg := nats.NewMsg(subjectPrefix + roomID)
	msg.Header.Set(originHeader, r.origin)
	msg.Data = frame
	return r.conn.PublishMsg(msg)
}

func (r *NATSRelay) Subscribe(deliver func(roomID string, frame []byte)) error {
	sub, err := r.conn.Subscribe(subjectPrefix+">", func(m *nats.Msg) {
		if m.Header.Get(originHeader) == r.origin {
			return
		}
		deliver(strings.TrimPrefix(m.Subject, subjectPrefix), m.Data)
	})
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()
	return nil
}

func (r *NATSRelay) Close() error {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	if r.owned {
		r.conn.Close()
	}
	return nil
}
