package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"
)

// gatewayService runs the daemon's HTTP surface (websocket endpoint plus
// status handlers) as a runtime service.
type gatewayService struct {
	listenAddr string
	httpSrv    *http.Server
	errs       chan error

	mu       sync.Mutex
	listener net.Listener
}

func newGatewayService(addr string, handler http.Handler) *gatewayService {
	return &gatewayService{
		listenAddr: addr,
		httpSrv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		errs: make(chan error, 1),
	}
}

func (s *gatewayService) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case s.errs <- err:
			default:
			}
		}
	}()

	return nil
}

func (s *gatewayService) Shutdown(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *gatewayService) Errors() <-chan error {
	return s.errs
}

// Addr reports the bound address, which differs from the configured one when
// the daemon was asked to listen on port 0.
func (s *gatewayService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.listenAddr
}
