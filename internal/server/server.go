package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	shutdownTimeout    = 5 * time.Second
	defaultReadTimeout = 10 * time.Second
)

type Server struct {
	server *http.Server
	logger *zap.Logger
}

type Option func(*http.Server)

func WithReadTimeout(d time.Duration) Option {
	return func(s *http.Server) {
		s.ReadTimeout = d
	}
}

// WithWriteTimeout ограничивает запись ответа целиком. Для потоковой
// отдачи архивов по умолчанию он выключен.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *http.Server) {
		s.WriteTimeout = d
	}
}

func New(port string, handler http.Handler, logger *zap.Logger, opts ...Option) *Server {
	srv := &http.Server{
		Addr:              "localhost:" + port,
		Handler:           handler,
		ReadTimeout:       defaultReadTimeout,
		ReadHeaderTimeout: defaultReadTimeout,
	}
	for _, opt := range opts {
		opt(srv)
	}

	return &Server{
		server: srv,
		logger: logger,
	}
}

// Start блокируется до сигнала завершения, отмены ctx или ошибки сервера.
func (s *Server) Start(ctx context.Context) error {
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(done)

	serverErr := make(chan error, 1)

	go func() {
		s.logger.Info("Запуск HTTP сервера", zap.String("address", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("ошибка HTTP сервера: %w", err)
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case sig := <-done:
		s.logger.Info("Получен сигнал завершения", zap.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменен", zap.Error(ctx.Err()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при завершении сервера: %w", err)
	}

	s.logger.Info("HTTP сервер успешно остановлен")
	return nil
}
