// ABOUTME: One push channel on the authority
// ABOUTME: Emits on open, on every tick and on request; the ticker dies with the channel
package authority

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/timesync-go/timesync/internal/protocol"
)

var errClosed = errors.New("push channel closed")

type pushConn struct {
	id     string
	server *Server
	ws     *websocket.Conn
	remote string
	secure bool

	requests chan struct{}
	notices  chan protocol.Notice
	ticker   *clock.Ticker

	done      chan struct{}
	closeOnce sync.Once
}

func newPushConn(s *Server, ws *websocket.Conn, r *http.Request) *pushConn {
	return &pushConn{
		id:       uuid.New().String(),
		server:   s,
		ws:       ws,
		remote:   r.RemoteAddr,
		secure:   r.TLS != nil,
		requests: make(chan struct{}, 8),
		notices:  make(chan protocol.Notice, 1),
		ticker:   s.clock.Ticker(s.config.PushInterval),
		done:     make(chan struct{}),
	}
}

// serve runs the writer and reads commands until the channel closes
func (pc *pushConn) serve() {
	pc.server.wg.Add(1)
	go func() {
		defer pc.server.wg.Done()
		pc.writeLoop()
	}()

	for {
		_, data, err := pc.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				pc.server.log.Warnf("Push channel %s error: %v", pc.id, err)
			}
			break
		}
		pc.handleFrame(data)
	}

	pc.close()
}

func (pc *pushConn) handleFrame(data []byte) {
	cmd, err := protocol.ParseCommand(data)
	if err != nil {
		pc.server.metrics.MalformedFrames.Inc()
		pc.server.log.Warnf("Ignoring malformed frame from %s: %v", pc.id, err)
		return
	}

	switch cmd.Command {
	case protocol.CommandGetTime:
		pc.server.metrics.TimeRequests.WithLabelValues("push").Inc()
		select {
		case pc.requests <- struct{}{}:
		default:
			// a reply is already pending
		}
	default:
		pc.server.log.Debugf("Ignoring unknown command %q from %s", cmd.Command, pc.id)
	}
}

func (pc *pushConn) writeLoop() {
	defer pc.close()

	ping := pc.server.clock.Ticker(pc.server.config.PingInterval)
	defer ping.Stop()

	if err := pc.sendTime(); err != nil {
		return
	}

	for {
		select {
		case <-pc.done:
			return

		case <-pc.ticker.C:
			if err := pc.sendTime(); err != nil {
				return
			}
			pc.server.metrics.PushEmits.Inc()

		case <-pc.requests:
			if err := pc.sendTime(); err != nil {
				return
			}

		case notice := <-pc.notices:
			if err := pc.write(notice); err != nil {
				return
			}
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, notice.Type)
			pc.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
			return

		case <-ping.C:
			if pc.isClosed() {
				return
			}
			if err := pc.ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (pc *pushConn) sendTime() error {
	return pc.write(protocol.TimeMessage{ServerTime: pc.server.now(), Secure: pc.secure})
}

func (pc *pushConn) write(v interface{}) error {
	if pc.isClosed() {
		return errClosed
	}
	pc.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := pc.ws.WriteJSON(v); err != nil {
		pc.server.log.Debugf("Push channel %s write failed: %v", pc.id, err)
		return err
	}
	return nil
}

func (pc *pushConn) notify(n protocol.Notice) {
	select {
	case pc.notices <- n:
	default:
	}
}

// close stops the ticker before anything else so no tick outlives the channel
func (pc *pushConn) close() {
	pc.closeOnce.Do(func() {
		pc.ticker.Stop()
		close(pc.done)
		pc.ws.Close()
	})
}

func (pc *pushConn) isClosed() bool {
	select {
	case <-pc.done:
		return true
	default:
		return false
	}
}
