// Package server exposes the engine over HTTP. Lifecycle events and answer
// text travel as distinct SSE event names on one connection: "state" carries
// typed events, "message" carries the final answer.
package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scout/internal/logging"
	"scout/internal/orchestrator"
)

// Options configures the HTTP server.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	Logger       logging.Logger
}

// Server wraps the engine with a gin router.
type Server struct {
	engine *orchestrator.Engine
	opts   Options
	logger logging.Logger
	router *gin.Engine
	http   *http.Server
}

// New builds the server and its routes.
func New(engine *orchestrator.Engine, opts Options) *Server {
	logger := logging.OrNop(opts.Logger)
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(opts.CORSOrigins) == 0 || (len(opts.CORSOrigins) == 1 && opts.CORSOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = opts.CORSOrigins
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	s := &Server{engine: engine, opts: opts, logger: logger, router: router}
	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/v1/runs", s.createRun)
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.http = &http.Server{
		Addr:        s.opts.Addr,
		Handler:     s.router,
		ReadTimeout: s.opts.ReadTimeout,
		// WriteTimeout stays at the configured value; zero means no limit,
		// which long SSE runs need.
		WriteTimeout: s.opts.WriteTimeout,
	}
	s.logger.Info("http server listening on %s", s.opts.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type runRequest struct {
	ThreadID    string `json:"thread_id"`
	Query       string `json:"query" binding:"required"`
	UserContext string `json:"user_context"`
	Stream      *bool  `json:"stream"`
}

type runResponse struct {
	ThreadID  string `json:"thread_id"`
	Response  string `json:"response"`
	Recovered bool   `json:"recovered"`
	Iteration int    `json:"iterations"`
	Goal      string `json:"goal,omitempty"`
}

// eventBuffer bounds the listener queue; a slow consumer drops events rather
// than stalling the engine.
const eventBuffer = 256

func (s *Server) createRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stream := req.Stream == nil || *req.Stream

	if !stream {
		result := s.engine.Run(c.Request.Context(), orchestrator.Request{
			ThreadID:    req.ThreadID,
			Query:       req.Query,
			UserContext: req.UserContext,
		})
		c.JSON(http.StatusOK, toRunResponse(result))
		return
	}

	events := make(chan orchestrator.Event, eventBuffer)
	done := make(chan *orchestrator.RunResult, 1)
	dropped := 0
	go func() {
		result := s.engine.Run(c.Request.Context(), orchestrator.Request{
			ThreadID:    req.ThreadID,
			Query:       req.Query,
			UserContext: req.UserContext,
			Listener: func(e orchestrator.Event) {
				select {
				case events <- e:
				default:
					dropped++
				}
			},
		})
		close(events)
		done <- result
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		event, ok := <-events
		if !ok {
			result := <-done
			if dropped > 0 {
				s.logger.Warn("run %s: dropped %d events for slow consumer", result.State.ThreadID, dropped)
			}
			c.SSEvent("message", toRunResponse(result))
			return false
		}
		c.SSEvent("state", event)
		return true
	})
}

func toRunResponse(result *orchestrator.RunResult) runResponse {
	return runResponse{
		ThreadID:  result.State.ThreadID,
		Response:  result.Response,
		Recovered: result.Recovered,
		Iteration: result.State.Iteration,
		Goal:      result.State.Goal,
	}
}
