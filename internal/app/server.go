package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/thejerf/suture/v4"

	intrnl "roomchat/internal"
	"roomchat/internal/chat"
	"roomchat/internal/logging"
	"roomchat/internal/relay"
	"roomchat/internal/storage"
)

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Stop cancels the supervisor tree and waits for it to wind down, or for ctx
// to expire.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.cancel == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	h.cancel()
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens and migrates the SQLite store, wires the chat service,
// relay hub and HTTP API, and runs them under a supervisor in the background.
// Cancelling ctx or calling Stop shuts everything down.
func RunServer(ctx context.Context, cfg Config) (*ServerHandle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	sc := cfg.Server

	if err := os.MkdirAll(sc.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(sc.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	store, err := storage.NewStore(sc.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	secret := cfg.Auth.TokenSecret
	if secret == "" {
		secret = randomSecret()
		logging.Warn().Msg("auth.token_secret is not set; issued tokens will not survive a restart")
	}
	tokens, err := intrnl.NewTokenManager(secret, cfg.Auth.TokenTTL)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	svc := chat.NewService(store, chat.Options{LogBound: cfg.Chat.LogBound})
	hubOpts := relay.Options{
		SendBuffer: cfg.Relay.SendBuffer,
		RoomQueue:  cfg.Relay.RoomQueue,
		SendRate:   cfg.Relay.SendRate,
		SendBurst:  cfg.Relay.SendBurst,
	}
	if cfg.Relay.UnifiedSend {
		hubOpts.Appender = svc
	}
	hub := relay.NewHub(hubOpts)

	server, err := intrnl.NewServer(intrnl.ServerOptions{
		Store:        store,
		Chat:         svc,
		Hub:          hub,
		Tokens:       tokens,
		UploadDir:    sc.UploadDir,
		MaxFileSize:  sc.MaxFileSize,
		CORSOrigins:  sc.CORSOrigins,
		AuthRequests: cfg.Auth.RateRequests,
		AuthWindow:   cfg.Auth.RateWindow,
		LivePath:     cfg.Relay.Path,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	listener, err := net.Listen("tcp", sc.Addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}
	httpSvc := &httpService{
		server: &http.Server{
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener:        listener,
		addr:            listener.Addr().String(),
		shutdownTimeout: sc.ShutdownTimeout,
	}

	root := suture.New("roomchat", suture.Spec{
		EventHook: logSupervisorEvent,
		Timeout:   sc.ShutdownTimeout,
	})
	root.Add(hub)
	root.Add(httpSvc)
	root.Add(&sessionSweeper{store: store, interval: cfg.Auth.SessionSweep})

	runCtx, cancel := context.WithCancel(ctx)
	handle := &ServerHandle{
		addr:   httpSvc.addr,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	errCh := root.ServeBackground(runCtx)
	go func() {
		defer close(handle.done)
		err := <-errCh
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
		if closeErr := store.Close(); closeErr != nil {
			logging.Err(closeErr).Msg("store close")
		}
		handle.err = err
		logging.Info().Msg("server stopped")
	}()

	logging.Info().
		Str("addr", handle.addr).
		Str("live_path", cfg.Relay.Path).
		Str("db", sc.DBPath).
		Bool("unified_send", cfg.Relay.UnifiedSend).
		Msg("roomchat server listening")
	return handle, nil
}

// httpService runs the HTTP server as a supervised service. After a failure
// the supervisor restarts it on the same address.
type httpService struct {
	server          *http.Server
	listener        net.Listener
	addr            string
	shutdownTimeout time.Duration
}

func (s *httpService) Serve(ctx context.Context) error {
	ln := s.listener
	s.listener = nil
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", s.addr); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *httpService) String() string { return "http-server" }

// sessionSweeper deletes expired login sessions on an interval.
type sessionSweeper struct {
	store    *storage.Store
	interval time.Duration
}

func (s *sessionSweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			n, err := s.store.PurgeExpiredSessions(ctx, now.UTC())
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				return fmt.Errorf("purge sessions: %w", err)
			}
			if n > 0 {
				logging.Debug().Int64("sessions", n).Msg("purged expired sessions")
			}
		}
	}
}

func (s *sessionSweeper) String() string { return "session-sweeper" }

func logSupervisorEvent(e suture.Event) {
	switch e.Type() {
	case suture.EventTypeServicePanic, suture.EventTypeStopTimeout:
		logging.Error().Fields(e.Map()).Msg(e.String())
	case suture.EventTypeServiceTerminate, suture.EventTypeBackoff:
		logging.Warn().Fields(e.Map()).Msg(e.String())
	default:
		logging.Info().Fields(e.Map()).Msg(e.String())
	}
}

func randomSecret() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
