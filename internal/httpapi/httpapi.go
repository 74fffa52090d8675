// Package httpapi is the thin outer HTTP layer: it maps the four public
// routes (plus a /health probe) onto Coordinator calls and serializes the
// resulting envelope. It holds no business logic of its own.
package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"tunecache/internal/coordinator"
	"tunecache/internal/coreerr"
	"tunecache/internal/library"
)

// Server wires the Coordinator and Local Library Adapter onto a gin router.
type Server struct {
	coord    *coordinator.Coordinator
	lib      *library.Adapter
	cacheDir string
}

// New builds the router. cacheDir is where /cache/<basename> is served from.
func New(coord *coordinator.Coordinator, lib *library.Adapter, cacheDir string) *gin.Engine {
	s := &Server{coord: coord, lib: lib, cacheDir: cacheDir}

	r := gin.New()
	r.Use(gin.Recovery())
	r.SetTrustedProxies(nil)

	r.GET("/url/:source/:songId/:quality", s.handleURL)
	r.GET("/lyric/:source/:songId", s.handleLyric)
	r.GET("/:method/:source/:songId", s.handleOther)
	r.GET("/:method/:source/:songId/:quality", s.handleOther)
	r.GET("/cache/:basename", s.handleCache)
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	return r
}

func (s *Server) handleURL(c *gin.Context) {
	env := s.coord.URL(
		c.Request.Context(),
		c.Param("source"),
		c.Param("songId"),
		c.Param("quality"),
		c.Query("info"),
		c.Query("lyric"),
	)
	writeEnvelope(c, env)
}

func (s *Server) handleLyric(c *gin.Context) {
	env := s.coord.Lyric(c.Request.Context(), c.Param("source"), c.Param("songId"))
	writeEnvelope(c, env)
}

// handleOther dispatches every other `/<method>/<source>/<songId>` shape:
// search goes to the Coordinator's Search, every other method (info
// included) through its generic Other path. An optional trailing quality
// segment is accepted and ignored.
func (s *Server) handleOther(c *gin.Context) {
	method := c.Param("method")
	source := c.Param("source")
	songID := c.Param("songId")

	if method == "search" {
		// The generic route binds the query text into the songId segment;
		// search has no songId of its own.
		env := s.coord.Search(c.Request.Context(), source, songID)
		writeEnvelope(c, env)
		return
	}
	env := s.coord.Other(c.Request.Context(), method, source, songID)
	writeEnvelope(c, env)
}

// handleCache serves a materialized artifact straight off disk, falling
// back to the Local Library Adapter when the cache directory has no file
// of that name.
func (s *Server) handleCache(c *gin.Context) {
	basename := c.Param("basename")
	full := filepath.Join(s.cacheDir, filepath.Base(basename))
	if fileExists(full) {
		c.File(full)
		return
	}
	if path, ok := s.lib.Path(basename); ok {
		c.File(path)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

// writeEnvelope serializes env as pretty-printed UTF-8 JSON, preserving
// non-ASCII characters rather than \u-escaping them, and maps its code to
// an HTTP status per the code table.
func writeEnvelope(c *gin.Context, env coordinator.Envelope) {
	c.Status(statusForCode(env.Code))
	c.Header("Content-Type", "application/json; charset=utf-8")

	buf, err := marshalIndentNoEscape(env)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode failure"})
		return
	}
	_, _ = c.Writer.Write(buf)
}

func marshalIndentNoEscape(v any) ([]byte, error) {
	var raw []byte
	enc := json.NewEncoder(&byteSliceWriter{&raw})
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return raw, nil
}

type byteSliceWriter struct{ buf *[]byte }

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

// statusForCode maps an envelope code to its HTTP status. A resolution
// failure (code 2) is still a 200: the failure is carried in the body, not
// the transport layer.
func statusForCode(code int) int {
	switch code {
	case coreerr.CodeOK, coreerr.CodeResolutionError:
		return http.StatusOK
	case coreerr.CodeUnknown, coreerr.CodeNotFound:
		return http.StatusNotFound
	case coreerr.CodeServerError:
		return http.StatusInternalServerError
	case coreerr.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusOK
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
