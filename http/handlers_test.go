package http

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"buildenergy/db"
	"buildenergy/inference"
	"buildenergy/ml"
	"buildenergy/monitoring"
)

const referenceBody = `{"X1":0.5,"X2":10,"X3":10,"X4":10,"X5":3,"X6":2,"X7":0.25,"X8":3}`

func fixture(name string) string {
	return filepath.Join("..", "ml", "testdata", name)
}

type testEnv struct {
	handler *Handler
	router  http.Handler
	metrics *monitoring.MetricsCollector
}

func newTestEnv(t *testing.T, heating, cooling string, config ServerConfig) *testEnv {
	t.Helper()
	store, err := ml.Load(fixture(heating), fixture(cooling))
	require.NoError(t, err)

	ledger, err := db.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	for _, info := range store.Info() {
		require.NoError(t, ledger.RecordModelLoad(context.Background(), db.ModelLoad{
			Target:        info.Target,
			Path:          info.Path,
			SHA256:        info.SHA256,
			ModelType:     string(info.ModelType),
			FormatVersion: info.FormatVersion,
			Trees:         info.Trees,
			Features:      info.FeatureNames,
		}))
	}

	return newStoreEnv(store, ledger, config)
}

// newStoreEnv wires a router around an already built store. ledger may be nil.
func newStoreEnv(store *ml.ModelStore, ledger ModelLedger, config ServerConfig) *testEnv {
	metrics := monitoring.NewMetricsCollector()
	svc := inference.NewService(store, inference.WithMetrics(metrics), inference.WithCache(16))
	handler := NewHandler(svc, ledger, metrics, zap.NewNop())
	return &testEnv{
		handler: handler,
		router:  NewRouter(config, handler, metrics, zap.NewNop()),
		metrics: metrics,
	}
}

func defaultEnv(t *testing.T) *testEnv {
	return newTestEnv(t, "heating_gbm.json", "cooling_forest.json", DefaultServerConfig())
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func TestHealthHandler(t *testing.T) {
	w := defaultEnv(t).do(http.MethodGet, "/api/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "{\"status\":\"ok\"}\n", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestSchemaHandler(t *testing.T) {
	w := defaultEnv(t).do(http.MethodGet, "/api/schema", "")
	require.Equal(t, http.StatusOK, w.Code)

	var payload struct {
		Fields   []ml.FieldSpec   `json:"fields"`
		Defaults ml.FeatureRecord `json:"defaults"`
	}
	decodeBody(t, w, &payload)
	require.Len(t, payload.Fields, 8)
	assert.Equal(t, "X1", payload.Fields[0].Name)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, payload.Fields[7].Choices)
	assert.Equal(t, ml.DefaultFeatureRecord(), payload.Defaults)
}

func TestPredictObject(t *testing.T) {
	w := defaultEnv(t).do(http.MethodPost, "/api/predict", referenceBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var payload predictionResponse
	decodeBody(t, w, &payload)
	assert.InDelta(t, 19.25, payload.HeatingLoad, 1e-9)
	assert.InDelta(t, 16.0, payload.CoolingLoad, 1e-9)
	assert.False(t, payload.HeatingAnomalous)
	assert.False(t, payload.CoolingAnomalous)
}

func TestPredictSplitFrame(t *testing.T) {
	body := `{"index":[0,1],"columns":["X1","X2","X3","X4","X5","X6","X7","X8"],` +
		`"data":[[0.5,10,10,10,3,2,0.25,3],[0.5,10,10,10,3,1,0.25,0]]}`
	w := defaultEnv(t).do(http.MethodPost, "/api/predict", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var payload struct {
		Predictions []predictionResponse `json:"predictions"`
	}
	decodeBody(t, w, &payload)
	require.Len(t, payload.Predictions, 2)
	assert.InDelta(t, 16.0, payload.Predictions[0].CoolingLoad, 1e-9)
	assert.InDelta(t, 15.25, payload.Predictions[1].CoolingLoad, 1e-9)
}

func TestPredictRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing field", `{"X1":0.5,"X2":10,"X3":10,"X5":3,"X6":2,"X7":0.25,"X8":3}`, "X4"},
		{"extra field", `{"X1":0.5,"X2":10,"X3":10,"X4":10,"X5":3,"X6":2,"X7":0.25,"X8":3,"X9":1}`, "X9"},
		{"fractional orientation", `{"X1":0.5,"X2":10,"X3":10,"X4":10,"X5":3,"X6":2.5,"X7":0.25,"X8":3}`, "X6"},
		{"string value", `{"X1":"0.5","X2":10,"X3":10,"X4":10,"X5":3,"X6":2,"X7":0.25,"X8":3}`, "X1"},
		{"out of domain", `{"X1":1.5,"X2":10,"X3":10,"X4":10,"X5":3,"X6":2,"X7":0.25,"X8":3}`, "X1"},
		{"reordered columns", `{"columns":["X2","X1","X3","X4","X5","X6","X7","X8"],"data":[[10,0.5,10,10,3,2,0.25,3]]}`, "X2"},
		{"bad row in batch", `{"columns":["X1","X2","X3","X4","X5","X6","X7","X8"],"data":[[0.5,10,10,10,3,2,0.25,3],[0.5,10,10,10,3,9,0.25,3]]}`, "X6"},
		{"invalid json", `{"X1":`, ""},
		{"array body", `[1,2,3]`, ""},
		{"split without data", `{"columns":["X1"]}`, ""},
	}

	env := defaultEnv(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/api/predict", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			var payload errorResponse
			decodeBody(t, w, &payload)
			assert.NotEmpty(t, payload.Error)
			assert.Equal(t, tt.field, payload.Field)
		})
	}
}

func TestPredictSingleTarget(t *testing.T) {
	env := defaultEnv(t)

	w := env.do(http.MethodPost, "/api/predict/heating", referenceBody)
	require.Equal(t, http.StatusOK, w.Code)
	var heating map[string]float64
	decodeBody(t, w, &heating)
	assert.InDelta(t, 19.25, heating["heating_load"], 1e-9)
	assert.NotContains(t, heating, "cooling_load")

	w = env.do(http.MethodPost, "/api/predict/cooling", referenceBody)
	require.Equal(t, http.StatusOK, w.Code)
	var cooling map[string]float64
	decodeBody(t, w, &cooling)
	assert.InDelta(t, 16.0, cooling["cooling_load"], 1e-9)

	w = env.do(http.MethodPost, "/api/predict/cooling", `{"X1":0.5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNegativeLoadsAreFlagged(t *testing.T) {
	env := newTestEnv(t, "linear_negative.json", "heating_gbm.json", DefaultServerConfig())
	w := env.do(http.MethodPost, "/api/predict", referenceBody)
	require.Equal(t, http.StatusOK, w.Code)

	var payload predictionResponse
	decodeBody(t, w, &payload)
	assert.InDelta(t, -1.5, payload.HeatingLoad, 1e-9)
	assert.True(t, payload.HeatingAnomalous)
	assert.False(t, payload.CoolingAnomalous)
}

func TestReorderedArtifactIsClientVisible(t *testing.T) {
	env := newTestEnv(t, "reordered_columns.json", "cooling_forest.json", DefaultServerConfig())
	w := env.do(http.MethodPost, "/api/predict", referenceBody)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The other target is unaffected.
	w = env.do(http.MethodPost, "/api/predict/cooling", referenceBody)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestModelsHandler(t *testing.T) {
	w := defaultEnv(t).do(http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, w.Code)

	var payload struct {
		Models  []ml.ArtifactInfo `json:"models"`
		History []db.ModelLoad    `json:"history"`
	}
	decodeBody(t, w, &payload)
	require.Len(t, payload.Models, 2)
	assert.Equal(t, ml.TargetHeating, payload.Models[0].Target)
	assert.Len(t, payload.Models[0].SHA256, 64)
	assert.Len(t, payload.History, 2)
}

func TestMetricsHandler(t *testing.T) {
	env := defaultEnv(t)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/predict", referenceBody).Code)

	w := env.do(http.MethodGet, "/api/metrics?format=prometheus", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, w.Body.String(), `predictions_total{outcome="ok",target="heating"} 1`)
	assert.Contains(t, w.Body.String(), `http_requests_total{method="POST",status="200"} 1`)

	w = env.do(http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	var report monitoring.Report
	decodeBody(t, w, &report)
	assert.NotEmpty(t, report.Series)
}

func TestRequestBodyLimit(t *testing.T) {
	config := DefaultServerConfig()
	config.MaxBodyBytes = 32
	env := newTestEnv(t, "heating_gbm.json", "cooling_forest.json", config)

	w := env.do(http.MethodPost, "/api/predict", referenceBody)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	w := defaultEnv(t).do(http.MethodGet, "/api/predict", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestFormPage(t *testing.T) {
	w := defaultEnv(t).do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Building Energy Efficiency Predictor")
	assert.Contains(t, body, `name="X1"`)
	assert.Contains(t, body, `value="0.5"`)
	assert.Contains(t, body, `<option value="1" selected>1</option>`)
	assert.NotContains(t, body, "Heating Load:")
}

func postForm(env *testEnv, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func referenceForm() url.Values {
	return url.Values{
		"X1": {"0.5"}, "X2": {"10"}, "X3": {"10"}, "X4": {"10"},
		"X5": {"3"}, "X6": {"2"}, "X7": {"0.25"}, "X8": {"3"},
	}
}

func TestFormSubmit(t *testing.T) {
	w := postForm(defaultEnv(t), referenceForm())
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Heating Load: 19.25 kWh/m²")
	assert.Contains(t, body, "Cooling Load: 16.00 kWh/m²")
	assert.Contains(t, body, `class="ok"`)
	assert.Contains(t, body, `<option value="2" selected>2</option>`)
}

func TestFormSubmitFlagsNegative(t *testing.T) {
	env := newTestEnv(t, "linear_negative.json", "cooling_forest.json", DefaultServerConfig())
	w := postForm(env, referenceForm())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `<h3 id="heating" class="anomalous">Heating Load: -1.50 kWh/m²</h3>`)
}

func TestFormSubmitInvalid(t *testing.T) {
	values := referenceForm()
	values.Set("X3", "lots")
	w := postForm(defaultEnv(t), values)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `role="alert"`)
	assert.Contains(t, body, `class="invalid"`)
	assert.NotContains(t, body, "Heating Load:")
}

func TestFormatLoadGroupsThousands(t *testing.T) {
	f := newFormRenderer()
	assert.Equal(t, "1,234.57", f.formatLoad(1234.567))
	assert.Equal(t, "0.10", f.formatLoad(0.1))
}

// constPredictor always returns the same value.
type constPredictor float64

func (p constPredictor) Predict(ml.Frame) (float64, error) { return float64(p), nil }

func (p constPredictor) FeatureNames() []string { return ml.FeatureNames() }

func infiniteEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := ml.NewModelStore(constPredictor(math.Inf(1)), constPredictor(4))
	require.NoError(t, err)
	return newStoreEnv(store, nil, DefaultServerConfig())
}

func TestNonFinitePredictionIsServerError(t *testing.T) {
	env := infiniteEnv(t)

	for _, target := range []string{"/api/predict", "/api/predict/heating"} {
		w := env.do(http.MethodPost, target, referenceBody)
		assert.Equal(t, http.StatusInternalServerError, w.Code, target)
		assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String(), target)
	}

	w := env.do(http.MethodPost, "/api/predict/cooling", referenceBody)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cooling_load":4}`, w.Body.String())
}

func TestRespondJSONEncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	respondJSON(w, map[string]float64{"heating_load": math.NaN()})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
}
