package obsidian

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/logging"
	"github.com/dpup/obsidian/saga"
	"github.com/dpup/obsidian/storage"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Server hosts the authorization endpoints and the saga bus behind them.
//
// Usage:
//
//	s, err := obsidian.New(obsidian.WithPort(8000))
//	if err != nil {
//		log.Fatal(err)
//	}
//	log.Fatal(s.Start())
type Server struct {
	baseContext     context.Context
	host            string
	port            int
	certFile        string
	keyFile         string
	shutdownTimeout time.Duration

	handler http.Handler
	plugins *Registry
	bus     *saga.Bus
	store   storage.Store

	mu           sync.Mutex
	httpServer   *http.Server
	addr         net.Addr
	stopSweeper  context.CancelFunc
	shutdownOnce sync.Once
	shutdownErr  error
}

// Bus returns the saga bus. Management commands can be dispatched on it
// before the server is started.
func (s *Server) Bus() *saga.Bus {
	return s.bus
}

// Store returns the store backing repositories and tokens.
func (s *Server) Store() storage.Store {
	return s.store
}

// Handler returns the root HTTP handler, including logging and security
// middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the address the server is listening on, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Init initializes plugins without serving traffic.
func (s *Server) Init() error {
	return s.plugins.Init(s.baseContext)
}

// Start serving requests. Blocks until Shutdown is called or the process
// receives SIGINT or SIGTERM.
func (s *Server) Start() error {
	if err := s.Init(); err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(s.baseContext)
	go s.bus.Run(runCtx)

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		stop()
		return errors.WrapPrefix(err, "obsidian: failed to listen", 0)
	}
	defer ln.Close()

	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return s.baseContext
		},
	}
	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr()
	s.stopSweeper = stop
	s.mu.Unlock()

	sigCtx, stopSignals := signal.NotifyContext(s.baseContext, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	served := make(chan error, 1)
	go func() {
		if s.certFile != "" {
			srv.Handler = s.handler
			srv.TLSConfig = safeTLSConfig()
			logging.Infof(s.baseContext, "🚀  Listening for traffic on https://%s", ln.Addr())
			served <- srv.ServeTLS(ln, s.certFile, s.keyFile)
		} else {
			srv.Handler = h2c.NewHandler(s.handler, &http2.Server{})
			logging.Infof(s.baseContext, "🚀  Listening for traffic on http://%s", ln.Addr())
			served <- srv.Serve(ln)
		}
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		_ = s.Shutdown()
		return err
	case <-sigCtx.Done():
		logging.Info(s.baseContext, "👋 Graceful shutdown triggered...")
		return s.Shutdown()
	}
}

// Shutdown drains connections, stops the saga sweeper and shuts down plugins
// in reverse initialization order. Later calls return the first result.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		srv, stop := s.httpServer, s.stopSweeper
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.baseContext), s.shutdownTimeout)
		defer cancel()

		var errs []error
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			} else {
				logging.Info(s.baseContext, "👍 Connections drained")
			}
		}
		if stop != nil {
			stop()
		}
		if err := s.plugins.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		s.shutdownErr = errors.Join(errs...)
	})
	return s.shutdownErr
}

func safeTLSConfig() *tls.Config {
	return &tls.Config{
		NextProtos: []string{"h2", "http/1.1"},
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
	}
}
