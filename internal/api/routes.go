package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"github.com/snapbooth/photobooth-agent/internal/booth"
	"github.com/snapbooth/photobooth-agent/internal/cloud"
	"github.com/snapbooth/photobooth-agent/internal/history"
	"github.com/snapbooth/photobooth-agent/internal/logging"
	"github.com/snapbooth/photobooth-agent/internal/signal"
)

const (
	qrSize       = 512
	maxBodyBytes = 8 << 20
)

// NewRouter builds the controller routes without a background previewer.
func NewRouter(cfg ServerConfig) *chi.Mux {
	cfg.Logger = logging.OrDiscard(cfg.Logger)
	return newRouter(cfg, newPreviewer(cfg.Strip, cfg.PreviewDebounce, cfg.Logger))
}

func newRouter(cfg ServerConfig, preview *previewer) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist(cfg.AllowedOrigins...))

	r.Get("/health", healthHandler(cfg))
	r.Get("/frames", framesHandler(cfg))

	if cfg.Hub != nil {
		r.Handle("/ws", signal.ServeWS(cfg.Hub, signal.ServerOptions{
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         cfg.Logger,
		}))
	}

	r.Route("/session", func(r chi.Router) {
		r.Get("/", sessionHandler(cfg))
		r.Post("/frame", selectFrameHandler(cfg))
		r.Post("/capture", startCaptureHandler(cfg))
		r.Post("/capture/trigger", triggerCaptureHandler(cfg))
		r.Post("/selection/{index}", toggleSelectionHandler(cfg))
		r.Post("/confirm", confirmHandler(cfg))
		r.Put("/filter", filterHandler(cfg))
		r.Put("/message", messageHandler(cfg))
		r.Post("/signature", signatureHandler(cfg))
		r.Post("/signing", signingHandler(cfg))
		r.Post("/finalize", finalizeHandler(cfg))
		r.Post("/reset", resetHandler(cfg))
		r.Get("/preview", previewHandler(cfg, preview))
		r.Get("/qr.png", qrHandler(cfg))
	})

	r.Get("/artifacts/{sessionID}/{name}", artifactHandler(cfg))
	r.Head("/artifacts/{sessionID}/{name}", artifactHandler(cfg))
	r.Get("/history", historyHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())
		r.Get("/admin/sessions", adminSessionsHandler(cfg))
		r.Get("/admin/stats", adminStatsHandler(cfg))
	})

	return r
}

// writeBoothError maps machine errors onto HTTP statuses.
func writeBoothError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booth.ErrWrongStep),
		errors.Is(err, booth.ErrProcessing),
		errors.Is(err, booth.ErrCapturePending),
		errors.Is(err, booth.ErrCapturesComplete),
		errors.Is(err, booth.ErrSessionChanged),
		errors.Is(err, booth.ErrStaleCapture):
		WriteError(w, http.StatusConflict, err.Error(), "WRONG_STEP")
	case errors.Is(err, booth.ErrInvalidArgument),
		errors.Is(err, booth.ErrInvalidIndex),
		errors.Is(err, booth.ErrSelectionIncomplete):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
	return false
}

func writeSession(w http.ResponseWriter, cfg ServerConfig) {
	WriteJSON(w, http.StatusOK, SessionToResponse(cfg.Machine.Snapshot(), cfg.Machine.Layout()))
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		peers := 0
		if cfg.Hub != nil {
			peers = len(cfg.Hub.Stats().Peers)
		}
		resp := HealthResponse{
			Status:   "ok",
			Version:  cfg.Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
			BoothID:  cfg.BoothID,
			Peers:    peers,
		}
		if cfg.Doctor != nil {
			resp.Toolchain = cfg.Doctor.Peek()
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func framesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		frames := cfg.Machine.Registry().Frames()
		resp := FramesResponse{Frames: make([]FrameResponse, len(frames))}
		for i, f := range frames {
			resp.Frames[i] = FrameToResponse(f)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func sessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeSession(w, cfg)
	}
}

func selectFrameHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectFrameRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.FrameID == "" {
			WriteError(w, http.StatusBadRequest, "frame_id is required", "BAD_REQUEST")
			return
		}
		if _, ok := cfg.Machine.Registry().Lookup(req.FrameID); !ok {
			WriteError(w, http.StatusNotFound, "unknown frame "+req.FrameID, "NOT_FOUND")
			return
		}
		if err := cfg.Machine.SelectFrame(r.Context(), req.FrameID); err != nil {
			writeBoothError(w, err)
			return
		}
		writeSession(w, cfg)
	}
}

func startCaptureHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartCaptureRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := cfg.Machine.StartCapture(req.TimerSeconds); err != nil {
			writeBoothError(w, err)
			return
		}
		writeSession(w, cfg)
	}
}

func triggerCaptureHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := cfg.Machine.RequestCapture()
		if err != nil {
			writeBoothError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, CaptureResponse{RequestID: id})
	}
}

func toggleSelectionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "index must be an integer", "BAD_REQUEST")
			return
		}
		if err := cfg.Machine.ToggleSelection(index); err != nil {
			writeBoothError(w, err)
			return
		}
		writeSession(w, cfg)
	}
}

func confirmHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Machine.ConfirmSelection(); err != nil {
			writeBoothError(w, err)
			return
		}
		writeSession(w, cfg)
	}
}

func filterHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FilterRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := cfg.Machine.SetFilter(req.Filter); err != nil {
			writeBoothError(w, err)
			return
		}
		writeSession(w, cfg)
	}
}

func messageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MessageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := cfg.Machine.SetMessage(req.Message); err != nil {
			writeBoothError(w, err)
			return
		}
		writeSession(w, cfg)
	}
}

func signatureHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignatureRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := cfg.Machine.SetSignature(req.DataURL); err != nil {
			writeBoothError(w, err)
			return
		}
		writeSession(w, cfg)
	}
}

func signingHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Machine.EnterSigning(); err != nil {
			writeBoothError(w, err)
			return
		}
		writeSession(w, cfg)
	}
}

func finalizeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Machine.Finalize(r.Context()); err != nil {
			writeBoothError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, SessionToResponse(cfg.Machine.Snapshot(), cfg.Machine.Layout()))
	}
}

func resetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Machine.Reset()
		writeSession(w, cfg)
	}
}

func previewHandler(cfg ServerConfig, preview *previewer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := cfg.Machine.Snapshot()
		if !previewable(s) {
			WriteError(w, http.StatusConflict, "no selected photos to preview", "WRONG_STEP")
			return
		}
		res, err := preview.get(r.Context(), s)
		if err != nil {
			cfg.Logger.Error("preview failed", "session_id", s.SessionID, "error", err)
			WriteError(w, http.StatusInternalServerError, "preview failed", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, PreviewResponse{PreviewURL: res.PreviewURL, Width: res.Width, Height: res.Height})
	}
}

// shareTarget is what the QR code points at: the remote share page when
// there is one, else the locally served strip.
func shareTarget(r *http.Request, res *booth.Result) string {
	if res == nil {
		return ""
	}
	if res.ShareURL != "" {
		return res.ShareURL
	}
	if res.LocalStrip == "" {
		return ""
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + res.LocalStrip
}

func qrHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := cfg.Machine.Snapshot()
		if s.Step != booth.StepCompleted || s.IsProcessing {
			WriteError(w, http.StatusConflict, "session is not finished", "WRONG_STEP")
			return
		}
		target := shareTarget(r, s.Result)
		if target == "" {
			WriteError(w, http.StatusNotFound, "nothing to share", "NOT_FOUND")
			return
		}
		png, err := qrcode.Encode(target, qrcode.Medium, qrSize)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(png)
	}
}

func artifactHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Artifacts == nil {
			WriteError(w, http.StatusNotFound, "artifacts not available", "NOT_FOUND")
			return
		}
		sessionID := chi.URLParam(r, "sessionID")
		name := chi.URLParam(r, "name")
		if err := cfg.Artifacts.Serve(w, r, sessionID, name); err != nil {
			cfg.Logger.Debug("artifact not served", "session_id", sessionID, "name", name, "error", err)
		}
	}
}

func historyHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.History == nil {
			WriteJSON(w, http.StatusOK, HistoryResponse{Entries: []*history.Entry{}})
			return
		}
		limit := cfg.HistoryLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer", "BAD_REQUEST")
				return
			}
			if limit <= 0 || n < limit {
				limit = n
			}
		}

		entries, err := cfg.History.List(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list history", "INTERNAL_ERROR")
			return
		}
		total, err := cfg.History.Count(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to count history", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, HistoryResponse{Entries: entries, Total: total})
	}
}

func writeCloudError(w http.ResponseWriter, err error) {
	var apiErr *cloud.APIError
	switch {
	case errors.Is(err, cloud.ErrCloudDisabled):
		WriteError(w, http.StatusServiceUnavailable, err.Error(), "CLOUD_DISABLED")
	case errors.As(err, &apiErr):
		WriteError(w, http.StatusBadGateway, apiErr.Error(), "UPSTREAM_ERROR")
	default:
		WriteError(w, http.StatusBadGateway, err.Error(), "UPSTREAM_ERROR")
	}
}

func adminSessionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 20
		}
		if cfg.Cloud == nil {
			writeCloudError(w, cloud.ErrCloudDisabled)
			return
		}
		p, err := cfg.Cloud.ListSessions(r.Context(), page, limit)
		if err != nil {
			writeCloudError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, p)
	}
}

func adminStatsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Cloud == nil {
			writeCloudError(w, cloud.ErrCloudDisabled)
			return
		}
		s, err := cfg.Cloud.Stats(r.Context())
		if err != nil {
			writeCloudError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, s)
	}
}
