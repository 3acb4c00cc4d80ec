// Package ipcserver implements the daemon's Unix domain socket IPC server
// (C6): accept loop, bounded worker pool, peer authentication, rate
// limiting, and per-request dispatch.
package ipcserver

import (
	"context"
	"net"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyperfan-project/hyperfand/internal/protocol"
	"github.com/hyperfan-project/hyperfand/internal/ratelimit"
)

// DefaultSocketPath is the well-known path clients connect to.
const DefaultSocketPath = "/var/run/hyperfand.sock"

// DefaultIOTimeout bounds a single read/write on a connection (spec §4.6
// "read/write timeouts").
const DefaultIOTimeout = 5 * time.Second

// Handler dispatches one validated request to the daemon's subsystems.
type Handler interface {
	Handle(ctx context.Context, req protocol.Request, creds PeerCreds) protocol.Response
}

// Server owns the listener, worker pool, and per-connection lifecycle.
type Server struct {
	SocketPath string
	Handler    Handler
	Auth       *Authenticator
	RateLimit  *ratelimit.Registry
	Log        *zap.Logger
	IOTimeout  time.Duration
	MaxWorkers int

	listener net.Listener
	sem      chan struct{}
}

// New constructs a Server with the spec-default IO timeout and a worker
// pool bounded by maxWorkers (0 means unbounded -- one goroutine per
// connection, matching spec §4.6 "a bounded worker pool... one handler per
// connection").
func New(socketPath string, handler Handler, auth *Authenticator, rl *ratelimit.Registry, log *zap.Logger, maxWorkers int) *Server {
	s := &Server{
		SocketPath: socketPath, Handler: handler, Auth: auth, RateLimit: rl, Log: log,
		IOTimeout: DefaultIOTimeout, MaxWorkers: maxWorkers,
	}
	if maxWorkers > 0 {
		s.sem = make(chan struct{}, maxWorkers)
	}
	return s
}

// Listen binds the Unix domain socket at SocketPath with world-writable
// permissions under a directory with restricted write (spec §4.6
// "Transport"). Any pre-existing stale socket file is removed first.
func (s *Server) Listen() error {
	_ = os.Remove(s.SocketPath)
	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.SocketPath, 0666); err != nil {
		ln.Close()
		return err
	}
	s.listener = ln
	return nil
}

// Serve runs the accept loop until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		uconn, ok := conn.(*net.UnixConn)
		if !ok {
			conn.Close()
			continue
		}
		if s.sem != nil {
			s.sem <- struct{}{}
			go func() {
				defer func() { <-s.sem }()
				s.handleConn(ctx, uconn)
			}()
		} else {
			go s.handleConn(ctx, uconn)
		}
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConn(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()

	creds, err := peerCredsFromConn(conn)
	if err != nil {
		s.Log.Warn("ipcserver: failed to read peer credentials", zap.Error(err))
		return
	}

	fr := protocol.NewFrameReader(conn)
	peerKey := creds.peerKey()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(s.IOTimeout))
		frame, err := fr.ReadFrame()
		if err != nil {
			if err == protocol.ErrMessageTooLarge {
				s.writeBestEffort(conn, protocol.ResponseEnvelope{
					Response: protocol.ErrResponse("MessageTooLarge: frame exceeds maximum message size"),
				})
			}
			return
		}
		if len(frame) == 0 {
			continue
		}

		env, err := protocol.DecodeRequestEnvelope(frame)
		if err != nil {
			s.writeBestEffort(conn, protocol.ResponseEnvelope{Response: protocol.ErrResponse(err.Error())})
			continue
		}

		resp := s.process(ctx, env.Request, creds, peerKey)
		out := protocol.ResponseEnvelope{ID: env.ID, Response: resp}
		data, err := protocol.EncodeFrame(out)
		if err != nil {
			s.writeBestEffort(conn, protocol.ResponseEnvelope{ID: env.ID, Response: protocol.ErrResponse("MessageTooLarge: response exceeds maximum message size")})
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(s.IOTimeout))
		if _, err := conn.Write(data); err != nil {
			return
		}
	}
}

func (s *Server) process(ctx context.Context, req protocol.Request, creds PeerCreds, peerKey string) protocol.Response {
	if err := s.RateLimit.Check(peerKey); err != nil {
		return protocol.ErrResponse(err.Error())
	}
	if req.RequiresPrivilege() {
		if err := s.Auth.Authorize(creds); err != nil {
			return protocol.ErrResponse(err.Error())
		}
	}
	if err := req.Validate(); err != nil {
		return protocol.ErrResponse(err.Error())
	}
	return s.Handler.Handle(ctx, req, creds)
}

func (s *Server) writeBestEffort(conn *net.UnixConn, env protocol.ResponseEnvelope) {
	data, err := protocol.EncodeFrame(env)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(s.IOTimeout))
	_, _ = conn.Write(data)
}

func (c PeerCreds) peerKey() string {
	return "uid:" + strconv.FormatUint(uint64(c.UID), 10)
}
