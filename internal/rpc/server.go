package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"syncservice/internal/broker"
	"syncservice/internal/engine"
)

// ShutdownTimeout bounds how long Serve waits for in-flight requests.
const ShutdownTimeout = 5 * time.Second

// apiRequest is the body of a web API call. Every scalar is a string and
// parsed by the method that needs it.
type apiRequest struct {
	User           string   `json:"user"`
	RequestID      string   `json:"request_id"`
	ItemID         string   `json:"item_id"`
	IncludeList    string   `json:"include_list"`
	IncludeDeleted string   `json:"include_deleted"`
	IncludeChunks  string   `json:"include_chunks"`
	Version        string   `json:"version"`
	Name           string   `json:"name"`
	ParentID       string   `json:"parent_id"`
	Overwrite      string   `json:"overwrite"`
	Checksum       string   `json:"checksum"`
	Size           string   `json:"size"`
	Mimetype       string   `json:"mimetype"`
	Chunks         []string `json:"chunks"`
}

// NewAPIRouter routes POST /rpc/:method to the web API.
func NewAPIRouter(api *API, logger engine.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	router.POST("/rpc/:method", func(c *gin.Context) { api.serve(c) })
	return router
}

func (a *API) serve(c *gin.Context) {
	var req apiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, &APIResponse{ErrorCode: http.StatusBadRequest, Description: "Malformed request."})
		return
	}
	if req.User == "" {
		c.JSON(http.StatusBadRequest, &APIResponse{ErrorCode: http.StatusBadRequest, Description: "User is required."})
		return
	}

	ctx := c.Request.Context()
	var resp *APIResponse
	switch c.Param("method") {
	case MethodGetMetadata:
		resp = a.GetMetadata(ctx, req.User, req.ItemID, req.IncludeList, req.IncludeDeleted, req.IncludeChunks, req.Version)
	case MethodGetVersions:
		resp = a.GetVersions(ctx, req.User, req.RequestID, req.ItemID)
	case MethodPutMetadataFile:
		resp = a.PutMetadataFile(ctx, req.User, req.RequestID, req.Name, req.ParentID, req.Overwrite,
			req.Checksum, req.Size, req.Mimetype, req.Chunks)
	case MethodDeleteMetadataFile:
		resp = a.DeleteMetadataFile(ctx, req.User, req.RequestID, req.ItemID)
	case MethodPutMetadataFolder:
		resp = a.PutMetadataFolder(ctx, req.User, req.RequestID, req.Name, req.ParentID)
	case MethodRestoreFile:
		resp = a.RestoreFile(ctx, req.User, req.RequestID, req.ItemID, req.Version)
	default:
		c.JSON(http.StatusNotFound, &APIResponse{ErrorCode: http.StatusNotFound, Description: "Unknown method."})
		return
	}

	status := http.StatusOK
	if resp.ErrorCode == http.StatusInternalServerError {
		status = http.StatusInternalServerError
	}
	c.JSON(status, resp)
}

// NewRPCRouter serves websocket sessions for the object RPC on GET /ws.
func NewRPCRouter(service *Service, b *broker.Broker, settings *broker.SessionSettings, ids engine.IDGenerator, logger engine.Logger) *gin.Engine {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Desktop clients do not send an Origin.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "remote", c.ClientIP(), "error", err)
			return
		}
		session := broker.NewSession(ids.New(), conn, b, settings, logger)
		logger.Debug("session started", "session", session.ID(), "remote", c.ClientIP())
		session.Run(c.Request.Context(), service.HandleFrame)
	})
	return router
}

func requestLogger(logger engine.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "duration", time.Since(start))
	}
}

// Server runs one HTTP listener until its context ends.
type Server struct {
	name    string
	addr    string
	handler http.Handler
	logger  engine.Logger
}

func NewServer(name, addr string, handler http.Handler, logger engine.Logger) *Server {
	return &Server{name: name, addr: addr, handler: handler, logger: logger}
}

// Serve listens on the server's address and blocks until ctx is cancelled,
// then shuts down gracefully. Request contexts derive from ctx, so open
// websocket sessions end with it.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%s listener: %w", s.name, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:     s.handler,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "server", s.name, "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", s.name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s server forced to shutdown: %w", s.name, err)
	}
	s.logger.Info("stopped", "server", s.name)
	return nil
}
