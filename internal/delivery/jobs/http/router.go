// Package http exposes the job runner over the blocking JSON job protocol.
package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"taskbench/internal/app/jobs"
	"taskbench/internal/sandbox"
	"taskbench/internal/shared/logging"
)

// RouterDeps are the collaborators the handlers call into.
type RouterDeps struct {
	Runner  *jobs.Runner
	Sandbox sandbox.Executor
	Catalog jobs.Catalog
	// Metrics serves the Prometheus exposition; nil leaves the route out.
	Metrics http.Handler
	Logger  logging.Logger
}

// RouterConfig tunes the router.
type RouterConfig struct {
	Environment    string
	AllowedOrigins []string
	MetricsPath    string
}

// NewRouter builds the gin engine serving the job protocol.
func NewRouter(deps RouterDeps, cfg RouterConfig) *gin.Engine {
	logger := deps.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("HTTP")
	}
	if !isDevelopment(cfg.Environment) && gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(LoggingMiddleware(logger))
	engine.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	h := &handler{
		runner:  deps.Runner,
		sandbox: deps.Sandbox,
		catalog: deps.Catalog,
		logger:  logger,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}

	runtime := engine.Group("/runtime")
	{
		runtime.POST("/reset", h.runtimeReset)
		runtime.POST("/execute", h.runtimeExecute)
	}

	task := engine.Group("/task")
	{
		task.POST("/reset", h.submit(jobs.KindReset))
		task.POST("/eval", h.submit(jobs.KindEval))
		task.POST("/cleanup", h.submit(jobs.KindCleanup))
		task.POST("/confirm", h.confirm)
		task.GET("/state", h.state)
		task.GET("/watch", h.watch)
	}

	engine.GET("/plugins", h.plugins)
	engine.GET("/health", h.health)
	if deps.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		engine.GET(path, gin.WrapH(deps.Metrics))
	}
	return engine
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-Id"}
	c.AllowWebSockets = true
	return c
}

func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.TrimRight(origin, "/")]
		return ok
	}
}

func isDevelopment(env string) bool {
	env = strings.TrimSpace(env)
	return strings.EqualFold(env, "development") || strings.EqualFold(env, "dev")
}
