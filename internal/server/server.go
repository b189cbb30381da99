// Package server exposes the pipeline over websockets.
//
// Clients submit trade records and subscribe to the committed aggregate
// diff stream. Each frame is one JSON object; submits are answered with an
// ack carrying per-record rejections, subscriptions replay the recent diff
// buffer and then stream live batches.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xtxerr/highwater/config"
	"github.com/xtxerr/highwater/internal/errors"
	"github.com/xtxerr/highwater/internal/logging"
	"github.com/xtxerr/highwater/internal/pipeline"
	"github.com/xtxerr/highwater/internal/types"
)

var log = logging.Component("server")

// =============================================================================
// Client
// =============================================================================

// client is one websocket connection. The connection has exactly one
// writer: the write pump draining send. The read loop and the broadcast
// path only enqueue frames, never write the connection themselves.
type client struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan any
	done chan struct{}
	once sync.Once

	// Subscription state, guarded by the server mutex. afterTime is the
	// highest logical time covered by the replay; live frames at or
	// below it are already delivered and are skipped.
	subscribed bool
	afterTime  int64
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// =============================================================================
// Server
// =============================================================================

// Server accepts websocket clients and bridges them to the pipeline.
type Server struct {
	mu sync.RWMutex

	cfg      config.ServerConfig
	pipeline *pipeline.Service
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
	clients    map[uuid.UUID]*client

	wg sync.WaitGroup
}

// New creates a server over the given pipeline.
func New(cfg config.ServerConfig, p *pipeline.Service) *Server {
	return &Server{
		cfg:      cfg,
		pipeline: p,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		clients: make(map[uuid.UUID]*client),
	}
}

// Start begins listening. It returns once the listener is bound; serving
// happens on a background goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("serve failed", "error", err)
		}
	}()

	log.Info("server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Listen
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, closing all client connections.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, cl := range s.clients {
		cl.close()
	}
	s.clients = make(map[uuid.UUID]*client)
	s.mu.Unlock()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

// =============================================================================
// Broadcast (sink side)
// =============================================================================

// Consume broadcasts one committed batch to every subscribed client. It
// implements the diff sink interface, so the server attaches directly to
// the pipeline's fan-out. The pipeline pushes each batch into the replay
// ring before delivering it here; a subscription therefore always finds a
// batch either in its replay or in a later broadcast, and the afterTime
// filter keeps the two from overlapping.
func (s *Server) Consume(_ context.Context, diffs []types.OutputDiff) error {
	if len(diffs) == 0 {
		return nil
	}
	frame := DiffsFrame{Type: FrameDiffs, Diffs: toWireDiffs(diffs)}
	logicalTime := diffs[0].LogicalTime

	s.mu.RLock()
	subs := make([]*client, 0, len(s.clients))
	for _, cl := range s.clients {
		if cl.subscribed && logicalTime > cl.afterTime {
			subs = append(subs, cl)
		}
	}
	s.mu.RUnlock()

	for _, cl := range subs {
		select {
		case cl.send <- frame:
		case <-time.After(s.cfg.SendTimeout):
			log.Warn("dropping slow subscriber", "id", cl.id)
			s.removeClient(cl)
		case <-cl.done:
		}
	}
	return nil
}

// Close implements the sink interface.
func (s *Server) Close() error { return nil }

func (s *Server) addClient(cl *client) {
	s.mu.Lock()
	s.clients[cl.id] = cl
	s.mu.Unlock()
}

func (s *Server) removeClient(cl *client) {
	s.mu.Lock()
	delete(s.clients, cl.id)
	s.mu.Unlock()
	cl.close()
}

// Subscribers returns the number of clients with an active subscription.
func (s *Server) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, cl := range s.clients {
		if cl.subscribed {
			n++
		}
	}
	return n
}

// =============================================================================
// Connection handling
// =============================================================================

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer conn.Close()

	cl := &client{
		id:   uuid.New(),
		conn: conn,
		send: make(chan any, s.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	s.addClient(cl)
	defer s.removeClient(cl)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writePump(cl)
	}()

	log.Debug("client connected", "id", cl.id, "remote", conn.RemoteAddr().String())
	defer log.Debug("client disconnected", "id", cl.id)

	for {
		var frame ClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("read failed", "id", cl.id, "error", err)
			}
			return
		}

		switch frame.Type {
		case FrameSubmit:
			s.handleSubmit(r.Context(), cl, frame)

		case FrameSubscribe:
			if cl.subscribed {
				s.enqueue(cl, newErrorFrame(errors.New("already subscribed")))
				continue
			}
			s.subscribe(cl, frame)

		default:
			s.enqueue(cl, newErrorFrame(errors.Wrapf(errors.ErrInternal, "unknown frame type %q", frame.Type)))
		}
	}
}

// handleSubmit stages the frame's records and commits them as one batch.
// Malformed records are rejected individually; the rest of the batch still
// commits.
func (s *Server) handleSubmit(ctx context.Context, cl *client, frame ClientFrame) {
	deltas := make([]types.Delta, 0, len(frame.Records))
	rejections := make([]WireRejection, 0)
	indexMap := make([]int, 0, len(frame.Records))

	for i, r := range frame.Records {
		d, err := r.toDelta()
		if err != nil {
			rejections = append(rejections, WireRejection{
				Index: i,
				Error: err.Error(),
				Code:  errors.ErrorToCode(err),
			})
			continue
		}
		deltas = append(deltas, d)
		indexMap = append(indexMap, i)
	}

	committed, rejected, err := s.pipeline.Submit(ctx, deltas)
	if err != nil {
		s.enqueue(cl, newErrorFrame(err))
		return
	}

	for _, rerr := range rejected {
		var rej *errors.RecordRejection
		idx := -1
		if errors.As(rerr, &rej) && rej.Index < len(indexMap) {
			idx = indexMap[rej.Index]
		}
		rejections = append(rejections, WireRejection{
			Index: idx,
			Error: rerr.Error(),
			Code:  errors.ErrorToCode(rerr),
		})
	}

	s.enqueue(cl, AckFrame{
		Type:        FrameAck,
		Accepted:    committed,
		Rejected:    rejections,
		LogicalTime: s.pipeline.Session().CommittedTime(),
	})
}

// subscribe registers the client for the diff stream. The replay read and
// the registration happen under one critical section against the
// broadcast path, so no batch falls between the replayed tail and the
// first live frame.
func (s *Server) subscribe(cl *client, frame ClientFrame) {
	since := int64(-1)
	if frame.Since != nil {
		since = *frame.Since
	}

	s.mu.Lock()
	replay := s.pipeline.Ring().Since(since)
	cl.afterTime = since
	if len(replay) > 0 {
		cl.afterTime = replay[len(replay)-1].LogicalTime
		select {
		case cl.send <- DiffsFrame{Type: FrameDiffs, Diffs: toWireDiffs(replay)}:
		default:
			s.mu.Unlock()
			s.enqueue(cl, newErrorFrame(errors.ErrSlowConsumer))
			return
		}
	}
	cl.subscribed = true
	s.mu.Unlock()
}

// writePump is the connection's only writer. It drains the send queue
// until the client goes away.
func (s *Server) writePump(cl *client) {
	for {
		select {
		case v := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(s.cfg.SendTimeout + time.Second))
			if err := cl.conn.WriteJSON(v); err != nil {
				log.Warn("write failed", "id", cl.id, "error", err)
				s.removeClient(cl)
				return
			}
		case <-cl.done:
			return
		}
	}
}

// enqueue queues one frame for the write pump. It blocks until the pump
// takes it or the client is gone; a wedged connection resolves through the
// pump's write deadline.
func (s *Server) enqueue(cl *client, v any) {
	select {
	case cl.send <- v:
	case <-cl.done:
	}
}
