package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"diabetesapi/ml"
	"diabetesapi/monitoring"
	"diabetesapi/serving"
	"github.com/gorilla/websocket"
)

type fakeModel struct {
	label      int
	confidence float64
	err        error
}

func (f *fakeModel) Predict(features []float64) (int, float64, error) {
	return f.label, f.confidence, f.err
}

func (f *fakeModel) PredictProba(features []float64) ([]float64, error) {
	return []float64{1 - f.confidence, f.confidence}, f.err
}

func (f *fakeModel) FeatureNames() []string {
	return ml.FeatureNames()
}

var fixedNow = time.Date(2024, 5, 1, 12, 30, 0, 123000000, time.UTC)

// newService builds a real serving.Service around model; a nil model
// simulates a missing artifact.
func newService(t *testing.T, model ml.Classifier, metadata string) *serving.Service {
	t.Helper()
	dir := t.TempDir()
	metadataPath := filepath.Join(dir, "model_metadata.json")
	if metadata != "" {
		if err := os.WriteFile(metadataPath, []byte(metadata), 0644); err != nil {
			t.Fatal(err)
		}
	}
	svc, err := serving.New(serving.Options{
		ModelPath:    filepath.Join(dir, "diabetes_model.json"),
		MetadataPath: metadataPath,
		Now:          func() time.Time { return fixedNow },
		LoadModel: func(string) (ml.Classifier, error) {
			if model == nil {
				return nil, os.ErrNotExist
			}
			return model, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	_ = svc.Load(context.Background())
	return svc
}

func newTestRouter(svc Predictor) http.Handler {
	return NewRouter(DefaultServerConfig(), Dependencies{Service: svc})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json %q: %v", rr.Body.String(), err)
	}
	return payload
}

const validBody = `{"Pregnancies":2,"Glucose":130,"BloodPressure":80,"BMI":28,"Age":45}`

func TestRootBanner(t *testing.T) {
	rr := do(t, newTestRouter(newService(t, &fakeModel{}, "")), http.MethodGet, "/", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decode(t, rr)
	if payload["status"] != "active" || payload["version"] != "1.0.0" {
		t.Errorf("unexpected banner: %v", payload)
	}
	endpoints := payload["endpoints"].(map[string]interface{})
	if endpoints["predict"] != "/predict" || endpoints["health"] != "/health" {
		t.Errorf("unexpected endpoints: %v", endpoints)
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		model  ml.Classifier
		status string
		loaded bool
	}{
		{"model loaded", &fakeModel{confidence: 0.9}, "healthy", true},
		{"model missing", nil, "unhealthy", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, newTestRouter(newService(t, tt.model, "")), http.MethodGet, "/health", "")
			if rr.Code != http.StatusOK {
				t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
			}
			payload := decode(t, rr)
			if payload["status"] != tt.status || payload["model_loaded"] != tt.loaded {
				t.Errorf("unexpected health: %v", payload)
			}
			if payload["prediction_count"].(float64) != 0 {
				t.Errorf("unexpected count: %v", payload["prediction_count"])
			}
			if payload["timestamp"] != "2024-05-01T12:30:00.123Z" {
				t.Errorf("unexpected timestamp: %v", payload["timestamp"])
			}
		})
	}
}

func TestHandlePredict(t *testing.T) {
	svc := newService(t, &fakeModel{label: 1, confidence: 0.73456}, `{"version":"2.0","model_type":"RandomForestClassifier"}`)
	router := newTestRouter(svc)

	rr := do(t, router, http.MethodPost, "/predict", validBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}

	var resp PredictionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	want := PredictionResponse{Diabetic: true, Probability: 0.735, ModelVersion: "2.0", Timestamp: "2024-05-01T12:30:00.123Z"}
	if resp != want {
		t.Errorf("got %+v, want %+v", resp, want)
	}
	if svc.PredictionCount() != 1 {
		t.Errorf("expected counter 1, got %d", svc.PredictionCount())
	}

	// Same input again: identical answer, independent increment.
	rr = do(t, router, http.MethodPost, "/predict", validBody)
	var again PredictionResponse
	json.Unmarshal(rr.Body.Bytes(), &again)
	if again.Diabetic != resp.Diabetic || again.Probability != resp.Probability {
		t.Errorf("repeated prediction differs: %+v vs %+v", again, resp)
	}
	if svc.PredictionCount() != 2 {
		t.Errorf("expected counter 2, got %d", svc.PredictionCount())
	}
}

func TestHandlePredictAcceptsWholeFloats(t *testing.T) {
	svc := newService(t, &fakeModel{label: 0, confidence: 0.6}, "")
	body := `{"Pregnancies":2.0,"Glucose":130.5,"BloodPressure":80,"BMI":28.3,"Age":45.0}`
	rr := do(t, newTestRouter(svc), http.MethodPost, "/predict", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if decode(t, rr)["model_version"] != "1.0" {
		t.Error("expected default model version")
	}
}

func TestHandlePredictValidation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantLoc  []interface{}
		wantType string
	}{
		{"age too high", `{"Pregnancies":2,"Glucose":130,"BloodPressure":80,"BMI":28,"Age":200}`,
			[]interface{}{"body", "Age"}, "less_than_equal"},
		{"glucose too low", `{"Pregnancies":2,"Glucose":10,"BloodPressure":80,"BMI":28,"Age":45}`,
			[]interface{}{"body", "Glucose"}, "greater_than_equal"},
		{"negative pregnancies", `{"Pregnancies":-1,"Glucose":130,"BloodPressure":80,"BMI":28,"Age":45}`,
			[]interface{}{"body", "Pregnancies"}, "greater_than_equal"},
		{"fractional age", `{"Pregnancies":2,"Glucose":130,"BloodPressure":80,"BMI":28,"Age":45.5}`,
			[]interface{}{"body", "Age"}, "int_from_float"},
		{"missing bmi", `{"Pregnancies":2,"Glucose":130,"BloodPressure":80,"Age":45}`,
			[]interface{}{"body", "BMI"}, "missing"},
		{"string value", `{"Pregnancies":2,"Glucose":"high","BloodPressure":80,"BMI":28,"Age":45}`,
			[]interface{}{"body", "Glucose"}, "float_parsing"},
		{"malformed json", `{"Pregnancies":2,`, []interface{}{"body"}, "json_invalid"},
		{"empty body", "", []interface{}{"body"}, "missing"},
		{"array body", `[1,2,3]`, []interface{}{"body"}, "model_attributes_type"},
		{"lowercase keys", `{"pregnancies":2,"glucose":130,"bloodpressure":80,"bmi":28,"age":45}`,
			[]interface{}{"body", "Pregnancies"}, "missing"},
		{"trailing garbage", `{"Pregnancies":2,"Glucose":130,"BloodPressure":80,"BMI":28,"Age":45} trailing-garbage`,
			[]interface{}{"body"}, "json_invalid"},
		{"second object", `{"Pregnancies":2,"Glucose":130,"BloodPressure":80,"BMI":28,"Age":45}{}`,
			[]interface{}{"body"}, "json_invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(t, &fakeModel{label: 1, confidence: 0.9}, "")
			rr := do(t, newTestRouter(svc), http.MethodPost, "/predict", tt.body)
			if rr.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
			}

			var payload struct {
				Detail []FieldError `json:"detail"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
				t.Fatal(err)
			}
			if len(payload.Detail) == 0 {
				t.Fatal("expected field detail")
			}
			first := payload.Detail[0]
			if first.Type != tt.wantType {
				t.Errorf("expected type %s, got %s (%s)", tt.wantType, first.Type, first.Msg)
			}
			if len(first.Loc) != len(tt.wantLoc) {
				t.Fatalf("expected loc %v, got %v", tt.wantLoc, first.Loc)
			}
			for i := range tt.wantLoc {
				if first.Loc[i] != tt.wantLoc[i] {
					t.Errorf("expected loc %v, got %v", tt.wantLoc, first.Loc)
				}
			}
			if svc.PredictionCount() != 0 {
				t.Errorf("rejected request moved the counter to %d", svc.PredictionCount())
			}
		})
	}
}

func TestHandlePredictWrongCaseKeysAreMissing(t *testing.T) {
	svc := newService(t, &fakeModel{label: 1, confidence: 0.9}, "")
	rr := do(t, newTestRouter(svc), http.MethodPost, "/predict",
		`{"pregnancies":2,"GLUCOSE":130,"BloodPressure":80,"BMI":28,"Age":45}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}

	var payload struct {
		Detail []FieldError `json:"detail"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Detail) != 2 {
		t.Fatalf("expected 2 errors, got %+v", payload.Detail)
	}
	for i, name := range []string{"Pregnancies", "Glucose"} {
		if payload.Detail[i].Type != "missing" || payload.Detail[i].Loc[1] != name {
			t.Errorf("expected missing %s, got %+v", name, payload.Detail[i])
		}
	}
}

func TestHandlePredictAllowsTrailingWhitespace(t *testing.T) {
	svc := newService(t, &fakeModel{label: 1, confidence: 0.9}, "")
	rr := do(t, newTestRouter(svc), http.MethodPost, "/predict",
		"{\"Pregnancies\":2,\"Glucose\":130,\"BloodPressure\":80,\"BMI\":28,\"Age\":45}\n\t ")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandlePredictClientGone(t *testing.T) {
	svc := newService(t, &fakeModel{label: 1, confidence: 0.9}, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/predict",
		strings.NewReader(`{"Pregnancies":2,"Glucose":130,"BloodPressure":80,"BMI":28,"Age":45}`)).WithContext(ctx)
	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr, req)

	if rr.Code != statusClientClosedRequest {
		t.Fatalf("expected %d, got %d", statusClientClosedRequest, rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("expected no body, got %s", rr.Body.String())
	}
	if svc.PredictionCount() != 0 {
		t.Errorf("abandoned request moved the counter to %d", svc.PredictionCount())
	}
}

func TestHandlePredictReportsEveryInvalidField(t *testing.T) {
	svc := newService(t, &fakeModel{}, "")
	rr := do(t, newTestRouter(svc), http.MethodPost, "/predict", `{"Pregnancies":30,"Glucose":130,"BloodPressure":10,"BMI":28}`)

	var payload struct {
		Detail []FieldError `json:"detail"`
	}
	json.Unmarshal(rr.Body.Bytes(), &payload)
	if len(payload.Detail) != 3 {
		t.Fatalf("expected 3 errors, got %+v", payload.Detail)
	}
	if payload.Detail[0].Msg != "Input should be less than or equal to 20" {
		t.Errorf("unexpected message: %s", payload.Detail[0].Msg)
	}
	if payload.Detail[0].Input != float64(30) {
		t.Errorf("expected input 30, got %v", payload.Detail[0].Input)
	}
}

func TestHandlePredictModelNotLoaded(t *testing.T) {
	svc := newService(t, nil, "")
	router := newTestRouter(svc)

	rr := do(t, router, http.MethodPost, "/predict", validBody)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if decode(t, rr)["detail"] != "Model not loaded" {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}

	// Validation still runs first.
	rr = do(t, router, http.MethodPost, "/predict", `{"Age":500}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for invalid body, got %d", rr.Code)
	}
}

func TestHandlePredictError(t *testing.T) {
	svc := newService(t, &fakeModel{err: errors.New("feature shape mismatch")}, "")
	rr := do(t, newTestRouter(svc), http.MethodPost, "/predict", validBody)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if decode(t, rr)["detail"] != "Prediction error: feature shape mismatch" {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
	if svc.PredictionCount() != 0 {
		t.Errorf("failed prediction moved the counter")
	}
}

func TestModelInfo(t *testing.T) {
	raw := `{"model_type":"RandomForestClassifier","version":"1.4","accuracy":0.82}`
	svc := newService(t, &fakeModel{confidence: 0.9}, raw)
	router := newTestRouter(svc)
	do(t, router, http.MethodPost, "/predict", validBody)

	rr := do(t, router, http.MethodGet, "/model-info", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decode(t, rr)
	meta := payload["model_metadata"].(map[string]interface{})
	if meta["version"] != "1.4" || meta["accuracy"] != 0.82 {
		t.Errorf("metadata not returned verbatim: %v", meta)
	}
	if payload["prediction_count"].(float64) != 1 {
		t.Errorf("unexpected count: %v", payload["prediction_count"])
	}

	rr = do(t, newTestRouter(newService(t, nil, "")), http.MethodGet, "/model-info", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if decode(t, rr)["detail"] != "Model metadata not available" {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}

func TestStats(t *testing.T) {
	svc := newService(t, &fakeModel{confidence: 0.9}, `{"version":"1.0","model_type":"RandomForestClassifier"}`)
	router := newTestRouter(svc)
	do(t, router, http.MethodPost, "/predict", validBody)
	do(t, router, http.MethodPost, "/predict", validBody)

	payload := decode(t, do(t, router, http.MethodGet, "/stats", ""))
	if payload["total_predictions"].(float64) != 2 || payload["api_version"] != "1.0.0" {
		t.Errorf("unexpected stats: %v", payload)
	}
	if info := payload["model_info"].(map[string]interface{}); info["model_type"] != "RandomForestClassifier" {
		t.Errorf("unexpected model_info: %v", info)
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	router := newTestRouter(newService(t, &fakeModel{}, ""))

	rr := do(t, router, http.MethodGet, "/docs", "")
	if rr.Code != http.StatusNotFound || decode(t, rr)["detail"] != "Not Found" {
		t.Errorf("unexpected 404 response: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, router, http.MethodGet, "/predict", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(newService(t, &fakeModel{}, ""))

	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("unexpected allow-origin %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
	if rr.Header().Get("Access-Control-Allow-Headers") != "content-type" {
		t.Errorf("unexpected allow-headers %q", rr.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestCORSRestrictedOrigins(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.AllowedOrigins = []string{"https://clinic.example"}
	router := NewRouter(cfg, Dependencies{Service: newService(t, &fakeModel{}, "")})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin should not be echoed")
	}

	req.Header.Set("Origin", "https://clinic.example")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://clinic.example" {
		t.Errorf("allowed origin not echoed: %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

type panickingPredictor struct{ Predictor }

func (panickingPredictor) Health() serving.HealthReport { panic("boom") }

func TestRecoveryMiddleware(t *testing.T) {
	router := newTestRouter(panickingPredictor{})
	rr := do(t, router, http.MethodGet, "/health", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if decode(t, rr)["detail"] != "Internal Server Error" {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}

func TestRequestSizeLimit(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MaxBodyBytes = 16
	svc := newService(t, &fakeModel{}, "")
	router := NewRouter(cfg, Dependencies{Service: svc})

	rr := do(t, router, http.MethodPost, "/predict", validBody)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if svc.PredictionCount() != 0 {
		t.Error("oversized request reached the model")
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})
	router := NewRouter(DefaultServerConfig(), Dependencies{Service: newService(t, &fakeModel{}, ""), Metrics: metrics})

	rr := do(t, router, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "# metrics" {
		t.Errorf("unexpected metrics response: %d %q", rr.Code, rr.Body.String())
	}
}

func TestPredictionStream(t *testing.T) {
	svc := newService(t, &fakeModel{label: 1, confidence: 0.8}, "")
	hub := monitoring.NewHub(nil, []string{"*"})
	svc.AddObserver(hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(NewRouter(DefaultServerConfig(), Dependencies{Service: svc, Hub: hub}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws/predictions", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Post(server.URL+"/predict", "application/json", bytes.NewBufferString(validBody))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg monitoring.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var data monitoring.PredictionData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatal(err)
	}
	if msg.Type != monitoring.PredictionMessage || !data.Diabetic || data.PredictionCount != 1 {
		t.Errorf("unexpected event: %+v %+v", msg, data)
	}
}
