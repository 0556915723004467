package daemon

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"forge/internal/api"
	"forge/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxClientFrame = 4 << 10
)

// Access is gated by the bearer token, not the Origin header.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsSink writes broadcast events to one websocket connection.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(event string, payload any) error {
	frame, err := api.EncodeStreamMessage(event, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *wsSink) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *wsSink) close(code int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	_ = s.conn.Close()
}

// handleStream upgrades to a websocket and relays the job's events: a state
// snapshot, the stored log tail, then live events until the job finishes or
// the client goes away.
func (s *apiServer) handleStream(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	sink := &wsSink{conn: conn}

	// Hijacked connections outlive request cancellation; the read pump
	// reports client disconnects and closing reports shutdown.
	sub, err := s.daemon.orch.SubscribeToUpdates(r.Context(), job.ID, sink)
	if err != nil {
		s.logger.Warn("job subscription failed",
			logging.Job(job.ID),
			logging.Error(err),
		)
		sink.close(websocket.CloseInternalServerErr, "subscription failed")
		return
	}
	defer sub.Close()

	s.logger.Debug("job stream attached",
		logging.Job(job.ID),
		logging.String(logging.FieldEventType, "stream_attached"),
	)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(maxClientFrame)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
					s.logger.Debug("job stream read error",
						logging.Job(job.ID),
						logging.Error(err),
					)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-sub.Done():
			sink.close(websocket.CloseNormalClosure, "job finished")
			<-readDone
			return
		case <-readDone:
			_ = conn.Close()
			return
		case <-s.closing:
			sink.close(websocket.CloseGoingAway, "server shutting down")
			<-readDone
			return
		case <-ticker.C:
			if err := sink.ping(); err != nil {
				_ = conn.Close()
				<-readDone
				return
			}
		}
	}
}
