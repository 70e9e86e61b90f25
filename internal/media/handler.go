package media

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

const maxUploadBytes = 16 << 20

var allowedTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"application/pdf": true,
}

// Handler lets staff upload reminder attachments.
type Handler struct {
	resolver *Resolver
	logger   *logging.Logger
}

func NewHandler(resolver *Resolver, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{resolver: resolver, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/media", h.upload)
}

// upload accepts a multipart "file" field and returns its media reference.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := strings.TrimSpace(strings.Split(header.Header.Get("Content-Type"), ";")[0])
	if !allowedTypes[contentType] {
		http.Error(w, "unsupported content type", http.StatusUnsupportedMediaType)
		return
	}
	body, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "invalid file", http.StatusBadRequest)
		return
	}
	ref, err := h.resolver.Upload(r.Context(), header.Filename, contentType, body)
	if err != nil {
		h.logger.Error("media upload failed", "error", err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"media_ref": ref})
}
