package viewer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// previewInterval paces MJPEG streaming independently of capture rate.
const previewInterval = 50 * time.Millisecond

// Config configures the preview server.
type Config struct {
	Listen       string
	PreviewWidth int // 0 = native resolution
	ClipDir      string
}

// Server exposes the MJPEG previews, the clip recorder and the health
// endpoint over HTTP.
type Server struct {
	cfg      Config
	feeds    map[string]Feed
	order    []string
	recorder *Recorder
	status   func() map[string]any
	srv      *http.Server

	started atomic.Bool
	stopped atomic.Bool
}

// NewServer creates the viewer. statusFn backs /healthz and may be nil.
func NewServer(cfg Config, statusFn func() map[string]any) *Server {
	if cfg.Listen == "" {
		cfg.Listen = ":5000"
	}
	return &Server{
		cfg:      cfg,
		feeds:    make(map[string]Feed),
		recorder: NewRecorder(cfg.ClipDir),
		status:   statusFn,
	}
}

// AddFeed registers a stream under the given id. Must be called before
// Start; registration order fixes the index page order.
func (s *Server) AddFeed(id string, feed Feed) {
	if _, ok := s.feeds[id]; !ok {
		s.order = append(s.order, id)
	}
	s.feeds[id] = feed
}

// Start begins serving. The listener failing later is logged, not fatal:
// the pipeline keeps running headless.
func (s *Server) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("viewer: server already started")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/", s.handleIndex)
	engine.GET("/stream/:id", s.handleStream)
	engine.GET("/frame/:id", s.handleFrame)
	engine.POST("/record/start", func(c *gin.Context) { s.handleRecordStart(ctx, c) })
	engine.GET("/record/status", s.handleRecordStatus)
	engine.GET("/healthz", s.handleHealth)

	s.srv = &http.Server{Addr: s.cfg.Listen, Handler: engine}
	go func() {
		slog.Info("viewer: server listening", "addr", s.cfg.Listen)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("viewer: server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the listener down and aborts active recordings. Idempotent.
func (s *Server) Stop(ctx context.Context) error {
	if !s.started.Load() || !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	s.recorder.Stop()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("viewer: server shutdown: %w", err)
	}
	slog.Info("viewer: server stopped")
	return nil
}

func (s *Server) handleIndex(c *gin.Context) {
	var b bytes.Buffer
	b.WriteString("<!DOCTYPE html><html><head><title>darkview</title>")
	b.WriteString("<style>body{background:#111;color:#ddd;font-family:sans-serif}")
	b.WriteString("img{max-width:45%;margin:4px;border:1px solid #333}</style></head><body>")
	for _, id := range s.order {
		fmt.Fprintf(&b, "<div><h3>%s</h3><img src=\"/stream/%s\"></div>", id, id)
	}
	b.WriteString("</body></html>")
	c.Data(http.StatusOK, "text/html; charset=utf-8", b.Bytes())
}

// handleStream serves multipart MJPEG until the client disconnects. The
// optional ?frame= query selects which buffer of the record to render.
func (s *Server) handleStream(c *gin.Context) {
	feed, ok := s.feeds[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown stream"})
		return
	}
	frameType := c.Query("frame")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	ticker := time.NewTicker(previewInterval)
	defer ticker.Stop()

	var buf bytes.Buffer
	lastTS := -1.0
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}

		// Skip re-encoding when no new frame arrived since the last tick.
		ts, ok := feed.Timestamp()
		if !ok || ts == lastTS {
			continue
		}
		img, ok := feed.Render(frameType)
		if !ok {
			continue
		}
		buf.Reset()
		if err := encodeJPEG(&buf, img, s.cfg.PreviewWidth); err != nil {
			slog.Error("viewer: JPEG encode failed", "stream", c.Param("id"), "error", err)
			return
		}
		lastTS = ts

		if _, err := fmt.Fprintf(c.Writer,
			"--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", buf.Len()); err != nil {
			return
		}
		if _, err := c.Writer.Write(buf.Bytes()); err != nil {
			return
		}
		if _, err := c.Writer.Write([]byte("\r\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleFrame serves a single JPEG snapshot of a stream.
func (s *Server) handleFrame(c *gin.Context) {
	feed, ok := s.feeds[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown stream"})
		return
	}
	img, ok := feed.Render(c.Query("frame"))
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no frame yet"})
		return
	}
	var buf bytes.Buffer
	if err := encodeJPEG(&buf, img, s.cfg.PreviewWidth); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
}

type recordRequest struct {
	Stream    string  `json:"stream" binding:"required"`
	FrameType string  `json:"frame_type"`
	DurationS float64 `json:"duration_s"`
	FPS       float64 `json:"fps"`
}

func (s *Server) handleRecordStart(ctx context.Context, c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	feed, ok := s.feeds[req.Stream]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown stream"})
		return
	}
	path, err := s.recorder.Start(ctx, req.Stream, feed, ClipOptions{
		FrameType: req.FrameType,
		Duration:  time.Duration(req.DurationS * float64(time.Second)),
		FPS:       req.FPS,
	})
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stream": req.Stream, "path": path})
}

func (s *Server) handleRecordStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.recorder.Status())
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	c.JSON(http.StatusOK, s.status())
}
