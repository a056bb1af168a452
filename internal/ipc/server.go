package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"github.com/pozicube/logdy-runner/internal/logging"
	"github.com/pozicube/logdy-runner/internal/model"
	"github.com/pozicube/logdy-runner/internal/runner"
)

// Backend is what the server exposes. The daemon implements it on top of a
// *runner.Runner.
type Backend interface {
	Start(ctx context.Context, req runner.StartRequest) (*runner.StartResult, error)
	Stop(ctx context.Context, dir string) (model.InstanceInfo, error)
	List() []model.InstanceInfo
	Lookup(dir string) (model.InstanceInfo, bool)
	PortUsage(ctx context.Context) (model.PortRange, []runner.PortUse)
	Status() StatusResponse

	// Shutdown asks the host to exit. It must not block on the RPC that
	// requested it.
	Shutdown()
}

// Server exposes a Backend via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer listens on the socket at path, replacing a stale socket file.
// Calls run with a context derived from ctx.
func NewServer(ctx context.Context, path string, backend Backend, logger *slog.Logger) (*Server, error) {
	if backend == nil {
		return nil, errors.New("ipc server requires a backend")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, &service{backend: backend, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		_ = listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// Serve accepts connections in the background until Close is called.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed", logging.Event("ipc_accept_failed"), logging.Error(err))
				continue
			}
			s.track(conn, true)
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.track(c, false)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

// Close stops accepting, drops open connections and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	_ = s.listener.Close()

	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.Event("ipc_socket_cleanup_failed"),
			logging.String("socket", s.path),
			logging.Error(err),
		)
	}
}

// service holds the exported RPC methods. net/rpc requires the
// func (T) Name(args, *reply) error shape.
type service struct {
	backend Backend
	logger  *slog.Logger
	ctx     context.Context
}

func (s *service) Start(req StartRequest, resp *StartResponse) error {
	result, err := s.backend.Start(s.ctx, runner.StartRequest{Dir: req.Dir, File: req.File, Replace: req.Replace})
	if err != nil {
		s.logger.Debug("start failed", logging.String(logging.FieldKey, req.Dir), logging.Error(err))
		resp.Error = NewErrorInfo(err)
		return nil
	}
	resp.Result = result
	return nil
}

func (s *service) Stop(req StopRequest, resp *StopResponse) error {
	info, err := s.backend.Stop(s.ctx, req.Dir)
	resp.Instance = info
	resp.Error = NewErrorInfo(err)
	return nil
}

func (s *service) List(_ ListRequest, resp *ListResponse) error {
	resp.Instances = s.backend.List()
	return nil
}

func (s *service) Lookup(req LookupRequest, resp *LookupResponse) error {
	resp.Instance, resp.Found = s.backend.Lookup(req.Dir)
	return nil
}

func (s *service) Ports(_ PortsRequest, resp *PortsResponse) error {
	resp.Range, resp.Used = s.backend.PortUsage(s.ctx)
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.backend.Status()
	return nil
}

func (s *service) Shutdown(_ ShutdownRequest, resp *ShutdownResponse) error {
	s.logger.Info("shutdown requested over IPC", logging.Event("ipc_shutdown"))
	s.backend.Shutdown()
	resp.Accepted = true
	return nil
}
