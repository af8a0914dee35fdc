package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"go.uber.org/zap"

	"buildenergy/db"
	"buildenergy/inference"
	"buildenergy/ml"
	"buildenergy/monitoring"
)

// ModelLedger 模型加载记录的只读视图
type ModelLedger interface {
	ListModelLoads(ctx context.Context, limit int) ([]db.ModelLoad, error)
}

// Handler 汇总所有路由依赖
type Handler struct {
	service *inference.Service
	ledger  ModelLedger
	metrics *monitoring.MetricsCollector
	logger  *zap.Logger
	form    *formRenderer
}

// NewHandler 创建处理器，ledger 可以为 nil
func NewHandler(service *inference.Service, ledger ModelLedger, metrics *monitoring.MetricsCollector, logger *zap.Logger) *Handler {
	if metrics == nil {
		metrics = monitoring.NewMetricsCollector()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service: service,
		ledger:  ledger,
		metrics: metrics,
		logger:  logger,
		form:    newFormRenderer(),
	}
}

// RegisterRoutes 注册所有路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/schema", h.handleSchema)
	mux.HandleFunc("POST /api/predict", h.handlePredict)
	mux.HandleFunc("POST /api/predict/heating", h.handlePredictHeating)
	mux.HandleFunc("POST /api/predict/cooling", h.handlePredictCooling)
	mux.HandleFunc("GET /api/models", h.handleModels)
	mux.HandleFunc("GET /api/metrics", h.handleMetrics)
	mux.HandleFunc("GET /api/ws/predict", h.handleStream)
	mux.HandleFunc("GET /{$}", h.handleFormPage)
	mux.HandleFunc("POST /{$}", h.handleFormSubmit)
}

// predictionResponse 预测结果，负值标记为异常
type predictionResponse struct {
	HeatingLoad      float64 `json:"heating_load"`
	CoolingLoad      float64 `json:"cooling_load"`
	HeatingAnomalous bool    `json:"heating_anomalous"`
	CoolingAnomalous bool    `json:"cooling_anomalous"`
}

func newPredictionResponse(result inference.PredictionResult) predictionResponse {
	return predictionResponse{
		HeatingLoad:      result.HeatingLoad,
		CoolingLoad:      result.CoolingLoad,
		HeatingAnomalous: result.HeatingLoad < 0,
		CoolingAnomalous: result.CoolingLoad < 0,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// requestError 请求体本身不合法（不是特征问题）
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{
		"fields":   ml.Schema(),
		"defaults": ml.DefaultFeatureRecord(),
	})
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	records, split, err := decodePredictRequest(r.Body)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if !split {
		result, err := h.service.Predict(r.Context(), records[0])
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		respondJSON(w, newPredictionResponse(result))
		return
	}

	results, err := h.service.PredictBatch(r.Context(), records)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	predictions := make([]predictionResponse, len(results))
	for i, result := range results {
		predictions[i] = newPredictionResponse(result)
	}
	respondJSON(w, map[string]interface{}{"predictions": predictions})
}

func (h *Handler) handlePredictHeating(w http.ResponseWriter, r *http.Request) {
	h.handleSingleTarget(w, r, "heating_load", h.service.PredictHeatingLoad)
}

func (h *Handler) handlePredictCooling(w http.ResponseWriter, r *http.Request) {
	h.handleSingleTarget(w, r, "cooling_load", h.service.PredictCoolingLoad)
}

func (h *Handler) handleSingleTarget(w http.ResponseWriter, r *http.Request, key string,
	predict func(context.Context, ml.FeatureRecord) (float64, error)) {
	fields, err := decodeObject(r.Body)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	rec, err := ml.DecodeRecord(fields)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	value, err := predict(r.Context(), rec)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, map[string]interface{}{key: value})
}

func (h *Handler) handleModels(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"models": h.service.Models(),
	}
	if h.ledger != nil {
		history, err := h.ledger.ListModelLoads(r.Context(), 20)
		if err != nil {
			h.logger.Warn("list model loads", zap.Error(err))
		} else {
			response["history"] = history
		}
	}
	respondJSON(w, response)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "prometheus" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		io.WriteString(w, h.metrics.ExportPrometheus())
		return
	}
	respondJSON(w, h.metrics.BuildReport())
}

// decodePredictRequest 支持单条对象和 split 格式 {"columns":[...],"data":[[...]]}
func decodePredictRequest(body io.Reader) ([]ml.FeatureRecord, bool, error) {
	fields, err := decodeObject(body)
	if err != nil {
		return nil, false, err
	}

	_, hasColumns := fields["columns"]
	_, hasData := fields["data"]
	if !hasColumns && !hasData {
		rec, err := ml.DecodeRecord(fields)
		if err != nil {
			return nil, false, err
		}
		return []ml.FeatureRecord{rec}, false, nil
	}

	columns, rows, err := splitFrame(fields)
	if err != nil {
		return nil, true, err
	}
	records, err := ml.DecodeFrame(columns, rows)
	if err != nil {
		return nil, true, err
	}
	return records, true, nil
}

func splitFrame(fields map[string]interface{}) ([]string, [][]interface{}, error) {
	extra := make([]string, 0)
	for key := range fields {
		if key != "columns" && key != "data" && key != "index" {
			extra = append(extra, key)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return nil, nil, &requestError{msg: fmt.Sprintf("unexpected key %q in split frame", extra[0])}
	}

	rawColumns, ok := fields["columns"].([]interface{})
	if !ok {
		return nil, nil, &requestError{msg: "columns must be an array of names"}
	}
	columns := make([]string, len(rawColumns))
	for i, c := range rawColumns {
		name, ok := c.(string)
		if !ok {
			return nil, nil, &requestError{msg: "columns must be an array of names"}
		}
		columns[i] = name
	}

	rawRows, ok := fields["data"].([]interface{})
	if !ok {
		return nil, nil, &requestError{msg: "data must be an array of rows"}
	}
	rows := make([][]interface{}, len(rawRows))
	for i, raw := range rawRows {
		row, ok := raw.([]interface{})
		if !ok {
			return nil, nil, &requestError{msg: fmt.Sprintf("data row %d is not an array", i)}
		}
		rows[i] = row
	}
	return columns, rows, nil
}

func decodeObject(body io.Reader) (map[string]interface{}, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, &requestError{msg: "invalid JSON body"}
	}
	if fields == nil {
		return nil, &requestError{msg: "request body must be a JSON object"}
	}
	if dec.More() {
		return nil, &requestError{msg: "request body must contain a single JSON object"}
	}
	return fields, nil
}

// respondError 按错误类型映射状态码
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var infErr *ml.InferenceError
	var reqErr *requestError
	var maxErr *http.MaxBytesError

	switch {
	case errors.As(err, &infErr):
		writeError(w, http.StatusBadRequest, err.Error(), infErr.Field)
	case errors.As(err, &reqErr):
		writeError(w, http.StatusBadRequest, reqErr.msg, "")
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request cancelled", "")
	default:
		h.logger.Error("prediction failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal server error", "")
	}
}

func writeError(w http.ResponseWriter, status int, msg, field string) {
	writeJSON(w, status, errorResponse{Error: msg, Field: field})
}

// respondJSON 统一JSON响应
func respondJSON(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, data)
}

// writeJSON 先编码到缓冲区，编码失败时返回 500，不会发出半截响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		buf.Reset()
		status = http.StatusInternalServerError
		buf.WriteString(`{"error":"internal server error"}` + "\n")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
