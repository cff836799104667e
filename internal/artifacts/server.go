package artifacts

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/snapbooth/photobooth-agent/internal/logging"
)

var contentTypes = map[string]string{
	".jpg": "image/jpeg",
	".png": "image/png",
	".mp4": "video/mp4",
}

// Server streams stored artifacts.
type Server struct {
	store  *Store
	logger *slog.Logger
}

func NewServer(store *Store, logger *slog.Logger) *Server {
	return &Server{store: store, logger: logging.WithComponent(logging.OrDiscard(logger), "artifacts")}
}

// Serve writes the named artifact, honouring a Range header.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, sessionID, name string) error {
	p, err := s.store.Path(sessionID, name)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}
	file, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}
	size := stat.Size()

	ext := filepath.Ext(name)
	contentType := contentTypes[ext]
	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")

	span, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case err == ErrUnsatisfiable:
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case err != nil:
		// Malformed ranges are ignored and the whole file is sent.
		span = nil
	}

	if span == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			io.Copy(w, file)
		}
		return nil
	}

	if _, err := file.Seek(span.First, io.SeekStart); err != nil {
		return fmt.Errorf("seek artifact: %w", err)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(span.Length(), 10))
	w.Header().Set("Content-Range", span.Header(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method != http.MethodHead {
		io.CopyN(w, file, span.Length())
	}
	s.logger.Debug("served artifact range", "session_id", sessionID, "name", name, "range", span.Header(size))
	return nil
}
