package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"iotmon/internal/models"
	"iotmon/internal/pipeline"
	"iotmon/internal/store"
)

// timestampFormats lists the formats accepted on the HTTP surface.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ReadingInput is the JSON input for one reading.
type ReadingInput struct {
	DeviceID  int      `json:"deviceId"`
	SensorID  int      `json:"sensorId"`
	Value     *float64 `json:"value"`
	Timestamp string   `json:"timestamp,omitempty"`
	Status    string   `json:"status,omitempty"`
	Quality   string   `json:"quality,omitempty"`
}

// BatchRequest is the JSON input for the batch path.
type BatchRequest struct {
	Readings []ReadingInput `json:"readings"`
}

// ReadingsHandler exposes the pipeline's ingestion operations over
// HTTP.
type ReadingsHandler struct {
	pipe        *pipeline.Service
	maxBodySize int64
}

// NewReadingsHandler creates a handler around the pipeline.
func NewReadingsHandler(pipe *pipeline.Service, maxBodySize int64) *ReadingsHandler {
	if maxBodySize <= 0 {
		maxBodySize = 10 * 1024 * 1024
	}
	return &ReadingsHandler{pipe: pipe, maxBodySize: maxBodySize}
}

// IngestSingle handles POST /api/readings.
func (h *ReadingsHandler) IngestSingle(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var input ReadingInput
	if err := json.Unmarshal(body, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	candidate, err := convertInput(input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reading, err := h.pipe.IngestOne(r.Context(), candidate)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, reading)
}

// IngestBatch handles POST /api/readings/batch. The batch is an
// ordered sequence; producers are trusted to reference existing
// devices and sensors.
func (h *ReadingsHandler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	inputs, err := parseBatchBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(inputs) == 0 {
		writeError(w, http.StatusBadRequest, "no readings provided")
		return
	}

	candidates := make([]*models.CandidateReading, 0, len(inputs))
	for i, input := range inputs {
		candidate, err := convertInput(input)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("reading %d: %v", i, err))
			return
		}
		candidates = append(candidates, candidate)
	}

	readings, err := h.pipe.IngestBatch(r.Context(), candidates)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"accepted": len(readings),
		"readings": readings,
	})
}

func (h *ReadingsHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return nil, false
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return nil, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}

	return body, true
}

// parseBatchBody accepts either {"readings": [...]} or a bare array.
func parseBatchBody(body []byte) ([]ReadingInput, error) {
	var req BatchRequest
	if err := json.Unmarshal(body, &req); err == nil && len(req.Readings) > 0 {
		return req.Readings, nil
	}

	var inputs []ReadingInput
	if err := json.Unmarshal(body, &inputs); err == nil {
		return inputs, nil
	}

	return nil, errors.New("invalid JSON format: expected readings object or array")
}

func convertInput(input ReadingInput) (*models.CandidateReading, error) {
	if input.Value == nil {
		return nil, errors.New("value is required")
	}

	var ts time.Time
	if input.Timestamp != "" {
		parsed, err := parseTimestamp(input.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("timestamp: %w", err)
		}
		ts = parsed
	}

	return &models.CandidateReading{
		DeviceID:  input.DeviceID,
		SensorID:  input.SensorID,
		Value:     *input.Value,
		Timestamp: ts,
		Status:    input.Status,
		Quality:   input.Quality,
	}, nil
}

func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unrecognized timestamp format")
}

func writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrDeviceNotFound),
		errors.Is(err, store.ErrSensorNotFound),
		errors.Is(err, store.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrMissingDeviceID),
		errors.Is(err, models.ErrMissingSensorID),
		errors.Is(err, models.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
