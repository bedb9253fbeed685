// Package httphandler is the HTTP driving adapter that receives screenshots
// from the running test process.
package httphandler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
)

// DefaultMaxBodyBytes caps a single submission.
const DefaultMaxBodyBytes int64 = 50 << 20

// ScreenshotSink accepts validated submissions. It is implemented by
// application.IntakeService.
type ScreenshotSink interface {
	Submit(ctx context.Context, sub model.ScreenshotSubmission) (model.Screenshot, int, error)
	ActiveBuild() string
}

// Handler serves the intake API.
type Handler struct {
	sink         ScreenshotSink
	maxBodyBytes int64
	logger       *slog.Logger
	metrics      *metrics
}

// NewHandler creates a Handler. A non-positive maxBodyBytes selects DefaultMaxBodyBytes.
func NewHandler(sink ScreenshotSink, maxBodyBytes int64, logger *slog.Logger) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{
		sink:         sink,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
		metrics:      newMetrics(),
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging, metrics and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /screenshot", h.SubmitScreenshot)
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.metrics.registry, promhttp.HandlerOpts{}))

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = metricsMiddleware(h.metrics, wrapped)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// SubmitScreenshot accepts one screenshot, either as a JSON document with a
// base64 image or as a raw PNG body with the name in the query string.
func (h *Handler) SubmitScreenshot(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	sub, err := h.decodeSubmission(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.metrics.screenshotsRejected.WithLabelValues("too_large").Inc()
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return
		}
		h.metrics.screenshotsRejected.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	shot, count, err := h.sink.Submit(r.Context(), sub)
	if err != nil {
		status, reason := statusForError(err)
		h.metrics.screenshotsRejected.WithLabelValues(reason).Inc()
		if status >= http.StatusInternalServerError {
			h.logger.Error("screenshot submission failed", "name", sub.Name, "error", err)
		}
		writeError(w, status, err.Error())
		return
	}

	h.metrics.screenshotsAccepted.Inc()
	h.metrics.screenshotBytes.Observe(float64(len(sub.Image)))

	buildID := sub.BuildID
	if buildID == "" {
		buildID = h.sink.ActiveBuild()
	}
	writeJSON(w, http.StatusOK, toScreenshotResponse(shot, buildID, count))
}

// Health reports that the intake server is accepting requests.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toHealthResponse(h.sink.ActiveBuild()))
}

func (h *Handler) decodeSubmission(r *http.Request) (model.ScreenshotSubmission, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "image/png", "application/octet-stream":
		return decodeRawSubmission(r)
	default:
		return decodeJSONSubmission(r)
	}
}

func decodeJSONSubmission(r *http.Request) (model.ScreenshotSubmission, error) {
	var req ScreenshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return model.ScreenshotSubmission{}, err
		}
		return model.ScreenshotSubmission{}, errors.New("invalid request body")
	}

	image, err := decodeImage(req.Image)
	if err != nil {
		return model.ScreenshotSubmission{}, err
	}

	return model.ScreenshotSubmission{
		BuildID:    req.BuildID,
		Name:       req.Name,
		Image:      image,
		Properties: toProperties(req.Properties),
	}, nil
}

func decodeRawSubmission(r *http.Request) (model.ScreenshotSubmission, error) {
	image, err := io.ReadAll(r.Body)
	if err != nil {
		return model.ScreenshotSubmission{}, err
	}

	q := r.URL.Query()
	props := model.ScreenshotProperties{Browser: q.Get("browser")}
	if v := q.Get("width"); v != "" {
		if props.ViewportWidth, err = strconv.Atoi(v); err != nil {
			return model.ScreenshotSubmission{}, errors.New("width must be an integer")
		}
	}
	if v := q.Get("height"); v != "" {
		if props.ViewportHeight, err = strconv.Atoi(v); err != nil {
			return model.ScreenshotSubmission{}, errors.New("height must be an integer")
		}
	}

	return model.ScreenshotSubmission{
		BuildID:    q.Get("buildId"),
		Name:       q.Get("name"),
		Image:      image,
		Properties: props,
	}, nil
}

// decodeImage accepts plain base64 or a data URL such as "data:image/png;base64,...".
func decodeImage(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	if strings.HasPrefix(encoded, "data:") {
		_, payload, ok := strings.Cut(encoded, ",")
		if !ok {
			return nil, errors.New("image data URL has no payload")
		}
		encoded = payload
	}

	image, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.New("image must be base64 encoded")
	}
	return image, nil
}

// statusForError maps domain errors to an HTTP status and a metrics reason.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidScreenshot):
		return http.StatusBadRequest, "invalid"
	case errors.Is(err, model.ErrBuildNotFound):
		return http.StatusNotFound, "build_not_found"
	case errors.Is(err, model.ErrBuildClosed):
		return http.StatusConflict, "build_closed"
	case errors.Is(err, model.ErrNoActiveBuild):
		return http.StatusServiceUnavailable, "no_active_build"
	case errors.Is(err, model.ErrUploadFailed):
		return http.StatusBadGateway, "upload_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
