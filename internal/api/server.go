// Package api serves the REST history API, health, metrics and the websocket endpoint.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
	"github.com/fathima-sithara/messaging-service/internal/auth"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"github.com/fathima-sithara/messaging-service/internal/ws"
)

// Realtime runs one websocket session.
type Realtime interface {
	Serve(conn ws.Conn, token string)
}

type Options struct {
	Verifier    auth.Verifier
	Handler     *MessageHandler
	Realtime    Realtime
	Limiter     *UserRateLimiter
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Health      func(ctx context.Context) error
	BodyLimitMB int
	Log         *zap.Logger
}

type Server struct {
	app *fiber.App
	log *zap.Logger
}

func NewServer(o Options) *Server {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.BodyLimitMB <= 0 {
		o.BodyLimitMB = 110
	}
	app := fiber.New(fiber.Config{
		AppName:               "messaging-service",
		BodyLimit:             o.BodyLimitMB * 1024 * 1024,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(fiber.Map{"status": "error", "code": "http_error", "message": fe.Message})
			}
			o.Log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
			return JSONError(c, apperr.Internal(err))
		},
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(cors.New())
	app.Use(RequestLogger(o.Log))
	if o.Metrics != nil {
		app.Use(CountRequests(o.Metrics))
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if o.Health != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := o.Health(ctx); err != nil {
				return JSONError(c, apperr.Upstream("store unreachable", err))
			}
		}
		return JSONSuccess(c, fiber.StatusOK, fiber.Map{"healthy": true})
	})
	if o.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(o.Gatherer)))
	}

	if o.Realtime != nil {
		app.Use("/ws", wsUpgrade)
		app.Get("/ws", websocket.New(func(c *websocket.Conn) {
			token, _ := c.Locals("token").(string)
			o.Realtime.Serve(c, token)
		}))
	}

	h := o.Handler
	g := app.Group("/api/v1/messages", RequireAuth(o.Verifier))
	if o.Limiter != nil {
		g.Use(o.Limiter.Handler())
	}
	g.Get("/conversation/:userId", h.Conversation)
	g.Post("/send", h.Send)
	g.Post("/upload/:kind", h.Upload)
	g.Put("/edit/:messageId", h.Edit)
	g.Delete("/delete/:messageId", h.Delete)
	g.Post("/react/:messageId", h.AddReaction)
	g.Delete("/react/:messageId", h.RemoveReaction)
	g.Put("/seen/:userId", h.MarkSeen)
	g.Get("/unread/count", h.UnreadCount)
	g.Get("/conversations/recent", h.Recent)
	g.Get("/search", h.Search)
	g.Post("/forward/:messageId", h.Forward)
	g.Get("/status/:messageId", h.Status)
	g.Get("/message/:messageId", h.Message)
	g.Get("/presence", h.ContactsPresence)
	g.Get("/presence/:userId", h.Presence)

	return &Server{app: app, log: o.Log}
}

// wsUpgrade only lets websocket upgrades through and carries the token,
// taken from ?token= or the Authorization header, into the session.
func wsUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	token := c.Query("token")
	if token == "" {
		token, _ = auth.ParseBearerToken(c.Get(fiber.HeaderAuthorization))
	}
	c.Locals("token", token)
	return c.Next()
}

func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.log.Info("listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}
