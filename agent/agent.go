package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/conix/hybridlauncher/lifecycle"
	"github.com/conix/hybridlauncher/session"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// SceneSource is the view of the lifecycle manager exposed over the admin API.
type SceneSource interface {
	Scenes() ([]session.Snapshot, []string)
	Subscribe() (<-chan lifecycle.Transition, func())
}

// Server is the launcher's admin HTTP API. It reports liveness and the current scene table,
// and streams lifecycle transitions over a WebSocket.
type Server struct {
	logger *zap.SugaredLogger
	source SceneSource

	listenAddr string
	httpServer *http.Server

	mu            sync.Mutex
	stopped       bool
	started       chan struct{}
	listener      net.Listener
	heartbeatMut  sync.Mutex
	lastHeartbeat time.Time
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l.Named("admin_server").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(s *Server) {
		s.logger = s.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// NewServer constructs an admin server for source.
func NewServer(source SceneSource, opts ...Option) *Server {
	s := &Server{
		logger:     zap.NewNop().Sugar(),
		source:     source,
		listenAddr: "127.0.0.1:8080",
		started:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ScenesResponse is the body of GET /scenes.
type ScenesResponse struct {
	Scenes  []session.Snapshot
	Pending []string
}

type HeartbeatResponse struct {
	LastHeartbeat string
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/heartbeat", s.heartbeat)
	router.GET("/scenes", s.scenes)
	router.GET("/events", s.events)
	return router
}

// Run serves the admin API and returns once the server has stopped.
func (s *Server) Run() error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}

	server := &http.Server{Handler: s.Handler()}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return listener.Close()
	}
	if s.httpServer != nil {
		s.mu.Unlock()
		listener.Close()
		return errors.New("server is already running")
	}
	s.httpServer = server
	s.listener = listener
	close(s.started)
	s.mu.Unlock()
	s.logger.Debugw("serving admin API", "Addr", listener.Addr().String())

	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr blocks until Run has started listening and returns the bound address.
func (s *Server) Addr(ctx context.Context) (string, error) {
	select {
	case <-s.started:
		return s.listener.Addr().String(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stop shuts the server down, waiting for in-flight requests until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	server := s.httpServer
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.heartbeatMut.Lock()
	lastHeartbeat := s.lastHeartbeat
	s.lastHeartbeat = time.Now()
	s.heartbeatMut.Unlock()

	s.writeJSON(w, HeartbeatResponse{LastHeartbeat: lastHeartbeat.UTC().Format(time.RFC3339)})
}

func (s *Server) scenes(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	scenes, pending := s.source.Scenes()
	if scenes == nil {
		scenes = []session.Snapshot{}
	}
	if pending == nil {
		pending = []string{}
	}
	s.writeJSON(w, ScenesResponse{Scenes: scenes, Pending: pending})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Debugf("error marshaling response: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

// events streams every lifecycle transition to a WebSocket client until either side goes away.
func (s *Server) events(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.logger.Debugf("events WebSocket accept error: %s", err)
		return
	}
	s.logger.Debug("accepted events WebSocket conn")

	transitions, unsubscribe := s.source.Subscribe()
	defer unsubscribe()

	// the client never sends anything, CloseRead cancels ctx once it closes the conn
	ctx := wsConn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			s.logger.Debugf("events conn done: %s", ctx.Err())
			wsConn.Close(websocket.StatusNormalClosure, "")
			return
		case t := <-transitions:
			err := wsjson.Write(ctx, wsConn, t)
			if err != nil {
				s.logger.Debugf("error writing transition: %s", err)
				wsConn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}
