package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/intern-cubit/trackerApp-sub002/internal/metrics"
)

const (
	sendQueueSize = 16
	writeDeadline = 5 * time.Second
)

var errSendQueueFull = errors.New("session send queue full")

// wsTransport pumps queued messages onto a gorilla websocket connection from
// a single writer goroutine.
type wsTransport struct {
	conn      *websocket.Conn
	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebSocketTransport wraps conn in a Transport with a buffered write pump.
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	t := &wsTransport{
		conn:   conn,
		sendCh: make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *wsTransport) run() {
	for {
		select {
		case msg, ok := <-t.sendCh:
			if !ok {
				return
			}
			t.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-t.done:
			return
		}
	}
}

func (t *wsTransport) Send(data []byte) error {
	select {
	case <-t.done:
		return errors.New("transport closed")
	default:
	}
	select {
	case t.sendCh <- data:
		return nil
	default:
		// A full queue means the consumer stopped draining. Closing here
		// ends the read pump, and the server unbinds the session.
		metrics.RegistryEvictionsTotal.Inc()
		t.Close()
		return errSendQueueFull
	}
}

func (t *wsTransport) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.conn.Close()
	})
}
