package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/dshills/rundeck/internal/logging"
	"github.com/dshills/rundeck/internal/output"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

// clearScreen erases the client terminal when the output epoch advances.
var clearScreen = []byte("\x1b[2J\x1b[H")

// stream is one WebSocket client following one process.
type stream struct {
	id   string
	conn *websocket.Conn
	log  *logging.Logger

	send chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	epoch   uint64
	seq     uint64
	ready   bool
	backlog []output.Flush
}

// handleStream upgrades the request and streams output for the process
// until the client goes away.
func (s *Server) handleStream(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.deps.Catalog.Get(id); err != nil {
		return err
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "id", id, "error", err)
		return nil
	}

	st := &stream{
		id:   id,
		conn: conn,
		log:  s.log.With("id", id),
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	// Subscribe before taking the frame so no flush falls in between.
	sub := s.deps.Output.Subscribe(st.onFlush)
	defer sub.Unsubscribe()

	st.begin(s.deps.Output.View(id))

	go st.writePump()
	st.readPump(s.deps.Terminal)
	st.close()
	return nil
}

// begin queues the scrollback followed by any flush that arrived while it
// was being taken and is not already part of it.
func (st *stream) begin(fr output.Frame) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.epoch = fr.Epoch
	st.seq = fr.Seq
	if len(fr.Data) > 0 {
		st.queue(fr.Data)
	}
	for _, f := range st.backlog {
		st.forward(f)
	}
	st.backlog = nil
	st.ready = true
}

func (st *stream) onFlush(f output.Flush) {
	if f.ID != st.id {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.ready {
		st.backlog = append(st.backlog, f)
		return
	}
	st.forward(f)
}

// forward queues f unless it is already sent or belongs to an older
// epoch. Caller holds mu.
func (st *stream) forward(f output.Flush) {
	if f.Seq <= st.seq || f.Epoch < st.epoch {
		return
	}
	st.seq = f.Seq
	if f.Epoch > st.epoch {
		st.epoch = f.Epoch
		st.queue(clearScreen)
	}
	if len(f.Data) > 0 {
		st.queue(f.Data)
	}
}

// queue hands data to the writer. A client that cannot keep up is
// disconnected rather than allowed to stall output delivery.
func (st *stream) queue(data []byte) {
	select {
	case <-st.done:
	case st.send <- data:
	default:
		st.log.Warn("websocket client too slow, disconnecting")
		st.close()
	}
}

func (st *stream) close() {
	st.once.Do(func() {
		close(st.done)
		_ = st.conn.Close()
	})
}

// readPump forwards client messages to the process as input.
func (st *stream) readPump(term Terminal) {
	st.conn.SetReadLimit(maxMessageSize)
	_ = st.conn.SetReadDeadline(time.Now().Add(pongWait))
	st.conn.SetPongHandler(func(string) error {
		return st.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := st.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				st.log.Debug("websocket read failed", "error", err)
			}
			return
		}
		if len(msg) == 0 {
			continue
		}
		if err := term.Write(st.id, msg); err != nil {
			st.log.Debug("input dropped", "error", err)
		}
	}
}

// writePump sends queued output and keeps the connection alive.
func (st *stream) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		st.close()
	}()

	for {
		select {
		case <-st.done:
			return
		case data := <-st.send:
			_ = st.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := st.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				st.log.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = st.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := st.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
