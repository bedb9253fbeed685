package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ScreenshotRequest is the JSON body posted by the test process for each capture.
type ScreenshotRequest struct {
	BuildID    string            `json:"buildId,omitempty"`
	Name       string            `json:"name"`
	Image      string            `json:"image"` // Base64, optionally as a data URL.
	Properties PropertiesRequest `json:"properties"`
}

// PropertiesRequest carries capture-time properties.
type PropertiesRequest struct {
	Browser  string            `json:"browser,omitempty"`
	Viewport ViewportRequest   `json:"viewport"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// ViewportRequest is the browser viewport size at capture time.
type ViewportRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ScreenshotResponse acknowledges an attached screenshot.
type ScreenshotResponse struct {
	Success  bool   `json:"success"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	BuildID  string `json:"buildId"`
	Count    int    `json:"count"`
	RemoteID string `json:"remoteId,omitempty"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	BuildID string `json:"buildId,omitempty"`
	Time    string `json:"time"`
}

// toProperties converts the request properties to the domain representation.
func toProperties(p PropertiesRequest) model.ScreenshotProperties {
	return model.ScreenshotProperties{
		Browser:        p.Browser,
		ViewportWidth:  p.Viewport.Width,
		ViewportHeight: p.Viewport.Height,
		Tags:           p.Tags,
	}
}

// toScreenshotResponse converts an attached screenshot to its acknowledgement.
func toScreenshotResponse(s model.Screenshot, buildID string, count int) ScreenshotResponse {
	return ScreenshotResponse{
		Success:  true,
		ID:       s.ID,
		Name:     s.Name,
		BuildID:  buildID,
		Count:    count,
		RemoteID: s.RemoteID,
	}
}

func toHealthResponse(buildID string) HealthResponse {
	return HealthResponse{
		Status:  "ok",
		BuildID: buildID,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
}
