package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webdelegate/internal/domain/session"
	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/tracing"
)

// maxMessageSize bounds one inbound client message. Input events are tiny.
const maxMessageSize = 64 << 10

// Config tunes the handler.
type Config struct {
	Defaults     session.ParamDefaults
	WriteTimeout time.Duration
}

// Handler upgrades renderer connections and runs their read loops.
type Handler struct {
	manager  *session.Manager
	cfg      Config
	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// NewHandler creates a new WebSocket handler
func NewHandler(manager *session.Manager, cfg Config, logger *zap.Logger) *Handler {
	return &Handler{
		manager: manager,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 << 10,
			WriteBufferSize: 64 << 10,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// WithMetrics adds metrics tracking to the handler
func (h *Handler) WithMetrics(metrics *monitoring.Metrics) *Handler {
	h.metrics = metrics
	return h
}

// HandleConnection validates the connect parameters, upgrades, opens a
// session and feeds it client messages until the socket closes. Invalid
// parameters are rejected before upgrading so no browser is launched.
func (h *Handler) HandleConnection(c *gin.Context) {
	params, err := session.ParseConnectParams(c.Request.URL.Query(), h.cfg.Defaults)
	if err != nil {
		h.logger.Info("rejecting connection", zap.Error(err), zap.String("client_ip", c.ClientIP()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written an HTTP error
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(maxMessageSize)

	conn := NewConn(ws, h.cfg.WriteTimeout, h.metrics)
	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	s, err := h.manager.Open(c.Request.Context(), conn, params)
	if err != nil {
		h.logger.Warn("open session failed", zap.Error(err))
		_ = conn.Close()
		return
	}

	logger := logging.ForSession(h.logger, s.ID().String()).With(
		zap.String("trace_id", string(tracing.GetTraceID(c.Request.Context()))),
	)
	h.readLoop(ws, s, logger)

	if err := s.Close(); err != nil {
		logger.Debug("close session", zap.Error(err))
	}
}

// readLoop is the only reader of ws, which keeps input for one session in
// receive order.
func (h *Handler) readLoop(ws *websocket.Conn, s *session.Session, logger *zap.Logger) {
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.metrics.RecordWSMessage("in", "text")

		if err := s.HandleMessage(data); err != nil {
			if errors.Is(err, session.ErrNotActive) {
				continue
			}
			logger.Debug("message ignored", zap.Error(err))
		}
	}
}
