package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"diabetesapi/logger"
	"diabetesapi/ml"
	"diabetesapi/serving"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Predictor 预测服务接口
type Predictor interface {
	Predict(ctx context.Context, f ml.Features) (*serving.Prediction, error)
	Health() serving.HealthReport
	Metadata() (json.RawMessage, error)
	PredictionCount() int64
	Stats() serving.StatsReport
}

// PredictionResponse 预测响应
type PredictionResponse struct {
	Diabetic     bool    `json:"diabetic"`
	Probability  float64 `json:"probability"`
	ModelVersion string  `json:"model_version"`
	Timestamp    string  `json:"timestamp"`
}

type modelInfoResponse struct {
	ModelMetadata   json.RawMessage `json:"model_metadata"`
	PredictionCount int64           `json:"prediction_count"`
}

type bannerResponse struct {
	Message   string            `json:"message"`
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

type handlers struct {
	service  Predictor
	validate *validator.Validate
}

func newHandlers(service Predictor) *handlers {
	return &handlers{service: service, validate: newValidator()}
}

func (h *handlers) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, bannerResponse{
		Message: "Diabetes Prediction MLOps API",
		Status:  "active",
		Version: serving.APIVersion,
		Endpoints: map[string]string{
			"predict":    "/predict",
			"health":     "/health",
			"model_info": "/model-info",
			"stats":      "/stats",
			"metrics":    "/metrics",
			"stream":     "/ws/predictions",
		},
	})
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, h.service.Health())
}

func (h *handlers) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	document, err := h.service.Metadata()
	if err != nil {
		writeDetail(w, http.StatusServiceUnavailable, "Model metadata not available")
		return
	}
	respondJSON(w, r, http.StatusOK, modelInfoResponse{
		ModelMetadata:   document,
		PredictionCount: h.service.PredictionCount(),
	})
}

func (h *handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	req, details := decodePredictRequest(r.Body, h.validate)
	if details != nil {
		logger.FromContext(r.Context()).Debug("Rejected prediction request", zap.Any("detail", details))
		writeDetail(w, http.StatusUnprocessableEntity, details)
		return
	}

	prediction, err := h.service.Predict(r.Context(), req.features())
	if err != nil {
		h.writePredictError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, PredictionResponse{
		Diabetic:     prediction.Diabetic,
		Probability:  prediction.Probability,
		ModelVersion: prediction.ModelVersion,
		Timestamp:    prediction.Timestamp.Format(time.RFC3339Nano),
	})
}

// statusClientClosedRequest is logged when the caller hung up before the
// prediction ran. Nobody reads the response, so it carries no body.
const statusClientClosedRequest = 499

func (h *handlers) writePredictError(w http.ResponseWriter, r *http.Request, err error) {
	var predErr *serving.PredictionError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.FromContext(r.Context()).Debug("Prediction abandoned by client", zap.Error(err))
		w.WriteHeader(statusClientClosedRequest)
	case errors.Is(err, serving.ErrModelNotLoaded):
		writeDetail(w, http.StatusServiceUnavailable, "Model not loaded")
	case errors.Is(err, serving.ErrInvalidFeatures):
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &predErr):
		writeDetail(w, http.StatusInternalServerError, "Prediction error: "+predErr.Err.Error())
	default:
		logger.FromContext(r.Context()).Error("Unexpected prediction failure", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "Prediction error: "+err.Error())
	}
}

func (h *handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, h.service.Stats())
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeDetail(w, http.StatusNotFound, "Not Found")
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
}
