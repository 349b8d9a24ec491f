package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/purestory/whisper-service/internal/config"
	"github.com/purestory/whisper-service/internal/export"
	"github.com/purestory/whisper-service/internal/media"
	"github.com/purestory/whisper-service/internal/storage/sqlite"
	"github.com/purestory/whisper-service/internal/transcription"
	"github.com/purestory/whisper-service/internal/websocket"
	"github.com/purestory/whisper-service/internal/whisper"
	"github.com/purestory/whisper-service/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	manager   *whisper.Manager
	service   *transcription.Service
	store     *media.Store
	prober    *media.Prober
	storage   *sqlite.Storage
	wsServer  *websocket.Server
	config    *config.Config
	logger    *logger.Logger
	startedAt time.Time
}

// NewHandler creates a new API handler
func NewHandler(manager *whisper.Manager, service *transcription.Service, store *media.Store, prober *media.Prober, storage *sqlite.Storage, wsServer *websocket.Server, cfg *config.Config, log *logger.Logger) *Handler {
	return &Handler{
		manager:   manager,
		service:   service,
		store:     store,
		prober:    prober,
		storage:   storage,
		wsServer:  wsServer,
		config:    cfg,
		logger:    log.Named("api-handler"),
		startedAt: time.Now(),
	}
}

// GetStatus returns server health and the active model snapshot. It never
// waits on the model slot: a long load or transcription in progress leaves
// this endpoint responsive, reporting the last published state.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.manager.Status()

	response := map[string]any{
		"status":         "running",
		"model_loaded":   snap.Loaded,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	}
	if snap.Loaded {
		response["current_model"] = snap.ModelID
		response["device"] = string(snap.Device)
	}
	if h.storage != nil {
		if saved, err := h.storage.LastModel(); err == nil && saved != "" {
			response["saved_model"] = saved
		}
	}

	WriteJSON(w, http.StatusOK, response)
}

// GetModels returns the selectable model identifiers
func (h *Handler) GetModels(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"models":  whisper.ModelIDs(),
		"current": h.manager.ActiveModel(),
	})
}

// Transcribe accepts a multipart upload and returns the transcription result
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(h.config.Upload.MaxFileSizeMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(w, whisper.WrapError(whisper.KindInvalidInput, err,
			"invalid upload (is the file larger than %d MB?)", h.config.Upload.MaxFileSizeMB))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, whisper.NewError(whisper.KindInvalidInput, "missing file field"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "audio/") && !strings.HasPrefix(contentType, "video/") {
		h.writeError(w, whisper.NewError(whisper.KindInvalidInput,
			"uploaded file is not an audio or video file (got %q)", contentType))
		return
	}
	if header.Filename == "" {
		h.writeError(w, whisper.NewError(whisper.KindInvalidInput, "uploaded file has no filename"))
		return
	}

	req, err := parseTranscribeParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	artifact, err := h.store.Save(file, header.Filename)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if _, err := h.prober.Probe(r.Context(), artifact.Path); err != nil {
		artifact.Remove()
		h.writeError(w, err)
		return
	}

	// The service owns the artifact from here and removes it on all paths.
	result, err := h.service.Transcribe(r.Context(), artifact, req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// ChangeModel activates a different model
func (h *Handler) ChangeModel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ModelSize string `json:"model_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, whisper.NewError(whisper.KindInvalidInput, "invalid request body"))
		return
	}
	if body.ModelSize == "" {
		h.writeError(w, whisper.NewError(whisper.KindInvalidInput, "missing model_size"))
		return
	}

	if err := h.service.ChangeModel(r.Context(), body.ModelSize); err != nil {
		h.writeError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"message":       "Model changed to " + body.ModelSize,
		"current_model": body.ModelSize,
	})
}

// downloadRequest is the body of POST /download
type downloadRequest struct {
	Segments             []export.Segment `json:"segments"`
	FullText             string           `json:"full_text"`
	FileFormat           string           `json:"file_format"`
	TXTIncludeTimestamps bool             `json:"txt_include_timestamps"`
	OriginalFilename     string           `json:"original_filename"`
}

// Download formats a previously returned result into a file. No model
// involvement: this is safe while a transcription or swap is in progress.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	var body downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, whisper.NewError(whisper.KindInvalidInput, "invalid request body"))
		return
	}

	file, err := export.Build(export.Request{
		Segments:             body.Segments,
		FullText:             body.FullText,
		Format:               export.Format(strings.ToLower(body.FileFormat)),
		TXTIncludeTimestamps: body.TXTIncludeTimestamps,
		BaseFilename:         body.OriginalFilename,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Debug("Serving export",
		logger.String("format", body.FileFormat),
		logger.String("filename", file.Filename),
		logger.Int("bytes", len(file.Content)))

	w.Header().Set("Content-Type", file.MediaType)
	w.Header().Set("Content-Disposition", export.ContentDisposition(file.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Content)))
	w.WriteHeader(http.StatusOK)
	w.Write(file.Content)
}

// GetUsage returns recent transcription metrics, newest first
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	var records []*sqlite.UsageRow
	if h.storage != nil {
		var err error
		records, err = h.storage.GetRecentUsage(limit)
		if err != nil {
			h.logger.Error("Failed to retrieve usage records", logger.Error(err))
			http.Error(w, "Failed to retrieve usage records", http.StatusInternalServerError)
			return
		}
	}
	if records == nil {
		records = []*sqlite.UsageRow{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now().UTC(),
		"count":     len(records),
		"usage":     records,
	})
}

// HandleWebSocket upgrades the request to the event stream
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsServer.HandleConnection(w, r)
}

// parseTranscribeParams reads the decode options from the multipart form
func parseTranscribeParams(r *http.Request) (transcription.Request, error) {
	req := transcription.Request{
		ModelSize: r.FormValue("model_size"),
		Language:  r.FormValue("language"),
		BeamSize:  transcription.DefaultBeamSize,
		VADFilter: true,
	}

	if v := r.FormValue("beam_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, whisper.NewError(whisper.KindInvalidInput, "invalid beam_size %q", v)
		}
		req.BeamSize = n
	}
	if v := r.FormValue("word_timestamps"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, whisper.NewError(whisper.KindInvalidInput, "invalid word_timestamps %q", v)
		}
		req.WordTimestamps = b
	}
	if v := r.FormValue("vad_filter"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, whisper.NewError(whisper.KindInvalidInput, "invalid vad_filter %q", v)
		}
		req.VADFilter = b
	}

	return req, nil
}

// writeError maps a classified error to an HTTP status and JSON body
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := whisper.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case whisper.KindInvalidInput:
		status = http.StatusBadRequest
	case whisper.KindNotFound:
		status = http.StatusNotFound
	case whisper.KindResourceExhausted:
		status = http.StatusServiceUnavailable
	case whisper.KindTimeout:
		status = http.StatusGatewayTimeout
	}

	if status >= 500 {
		h.logger.Error("Request failed", logger.String("kind", string(kind)), logger.Error(err))
	} else {
		h.logger.Debug("Request rejected", logger.String("kind", string(kind)), logger.Error(err))
	}

	WriteJSON(w, status, map[string]any{
		"error":  string(kind),
		"detail": whisper.DetailOf(err),
	})
}

// WriteJSON writes data as a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
