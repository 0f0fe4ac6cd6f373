package http

import (
	"encoding/json"
	"net/http"

	"diabetesapi/logger"
	"go.uber.org/zap"
)

// respondJSON 统一JSON响应
func respondJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(r.Context()).Warn("Failed to encode JSON", zap.Error(err))
	}
}

// writeDetail 错误响应 {"detail": ...}
func writeDetail(w http.ResponseWriter, status int, detail interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"detail": detail})
}
