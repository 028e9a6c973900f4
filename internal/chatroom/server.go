// Package chatroom serves the group chat and a read-only view of the ledger
// and action log over HTTP.
package chatroom

import (
	"context"
	"crypto/subtle"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"guardian-trader/internal/actionlog"
	"guardian-trader/internal/audit"
	"guardian-trader/internal/bus"
	"guardian-trader/internal/errors"
	"guardian-trader/internal/ledger"
	"guardian-trader/internal/logging"
	"guardian-trader/internal/metrics"
	"guardian-trader/internal/models"
)

// Config holds chatroom server configuration.
type Config struct {
	Host            string
	Port            int
	ResetPassword   string
	LogTail         int
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            7070,
		ResetPassword:   "1234",
		LogTail:         20,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Deps are the stores the server exposes. Ledger, Log, Gatherer, Metrics
// and Audit are optional; their endpoints answer 503 when unset.
type Deps struct {
	Bus      bus.MessageBus
	Ledger   ledger.Ledger
	Log      actionlog.Log
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Recorder
	Audit    *audit.Logger
	Logger   zerolog.Logger
}

// Server is the chatroom HTTP server.
type Server struct {
	cfg      Config
	deps     Deps
	echo     *echo.Echo
	validate *validator.Validate
	log      zerolog.Logger
}

// New creates a server and registers its routes.
func New(cfg Config, deps Deps) *Server {
	def := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.LogTail <= 0 {
		cfg.LogTail = def.LogTail
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		echo:     e,
		validate: validator.New(),
		log:      logging.WithComponent(deps.Logger, "chatroom"),
	}

	e.Use(recoverer(s.log))
	e.Use(requestLogger(s.log))
	s.RegisterRoutes(e)
	return s
}

// RegisterRoutes mounts the API on e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/messages", s.listMessages)
	g.POST("/messages", s.postMessage)
	g.GET("/portfolio", s.portfolio)
	g.GET("/logs", s.logs)
	g.POST("/reset", s.reset)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	gatherer := s.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.Addr()).Msg("Chatroom listening")
		errCh <- s.echo.Start(s.Addr())
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "chatroom server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "chatroom shutdown")
	}
	<-errCh
	s.log.Info().Msg("Chatroom stopped")
	return nil
}

var errNotResettable = stderrors.New("message bus cannot be reset")

type postRequest struct {
	User   string            `json:"user" validate:"max=64"`
	Text   string            `json:"text" validate:"required,max=4000"`
	Sender models.SenderKind `json:"sender" validate:"omitempty,oneof=human oversight system"`
}

type resetRequest struct {
	Password string `json:"password" validate:"required"`
}

func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}

func (s *Server) listMessages(c echo.Context) error {
	msgs, err := s.deps.Bus.Messages(c.Request().Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read messages")
		return fail(c, http.StatusServiceUnavailable, "message store unavailable")
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":  true,
		"messages": msgs,
		"count":    len(msgs),
	})
}

func (s *Server) postMessage(c echo.Context) error {
	req := &postRequest{}
	if err := c.Bind(req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid JSON body")
	}
	if err := s.validate.StructCtx(c.Request().Context(), req); err != nil {
		return fail(c, http.StatusBadRequest, "missing or invalid user, text or sender field")
	}

	msg, err := s.deps.Bus.Post(c.Request().Context(), models.Message{
		User:   req.User,
		Text:   req.Text,
		Sender: req.Sender,
	})
	switch {
	case errors.Is(err, errors.ErrEmptyMessage), errors.Is(err, errors.ErrUnknownSender):
		return fail(c, http.StatusBadRequest, err.Error())
	case err != nil:
		s.log.Warn().Err(err).Msg("Failed to store message")
		return fail(c, http.StatusServiceUnavailable, "message store unavailable")
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": msg,
	})
}

func (s *Server) portfolio(c echo.Context) error {
	if s.deps.Ledger == nil {
		return fail(c, http.StatusServiceUnavailable, "ledger not configured")
	}
	v, err := s.deps.Ledger.Valuation(c.Request().Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to value portfolio")
		return fail(c, http.StatusServiceUnavailable, "ledger unavailable")
	}
	balance, _ := v.Balance.Float64()
	s.deps.Metrics.SetBalance(balance)
	return c.JSON(http.StatusOK, v)
}

func (s *Server) logs(c echo.Context) error {
	if s.deps.Log == nil {
		return fail(c, http.StatusServiceUnavailable, "action log not configured")
	}
	entries, err := s.deps.Log.Entries(c.Request().Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read action log")
		return fail(c, http.StatusServiceUnavailable, "action log unavailable")
	}
	tail := actionlog.Tail(entries, s.cfg.LogTail)
	if tail == nil {
		tail = []models.ActionLogEntry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"logs":    tail,
	})
}

func (s *Server) reset(c echo.Context) error {
	req := &resetRequest{}
	if err := c.Bind(req); err != nil || s.validate.Struct(req) != nil {
		return fail(c, http.StatusBadRequest, "password required")
	}

	err := s.Reset(c.Request().Context(), req.Password)
	switch {
	case errors.Is(err, errors.ErrResetForbidden):
		s.log.Warn().Str("remote", c.RealIP()).Msg("Rejected chat reset")
		return fail(c, http.StatusForbidden, "incorrect password")
	case errors.Is(err, errNotResettable):
		return fail(c, http.StatusNotImplemented, err.Error())
	case err != nil:
		s.log.Warn().Err(err).Msg("Failed to clear chat history")
		return fail(c, http.StatusServiceUnavailable, "message store unavailable")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Chat history cleared",
	})
}

// Reset clears the chat history if password matches.
func (s *Server) Reset(ctx context.Context, password string) error {
	if s.cfg.ResetPassword == "" ||
		subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.ResetPassword)) != 1 {
		return errors.ErrResetForbidden
	}
	r, ok := s.deps.Bus.(bus.Resetter)
	if !ok {
		return errors.Wrapf(errNotResettable, "%T", s.deps.Bus)
	}
	err := r.Reset(ctx)
	if auditErr := s.deps.Audit.LogReset(ctx, audit.EventChatReset, err); auditErr != nil {
		s.log.Debug().Err(auditErr).Msg("Failed to write audit event")
	}
	if err != nil {
		return err
	}
	s.log.Info().Msg("Chat history cleared")
	return nil
}
