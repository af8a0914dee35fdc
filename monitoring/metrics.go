package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType 指标类型
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

const maxHistory = 1000

// Metric 指标
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Help      string            `json:"help,omitempty"`
	Count     int64             `json:"count,omitempty"`
	Sum       float64           `json:"sum,omitempty"`
}

// MetricsCollector 指标收集器
//
// history 按指标名保存最近的原始观测值，series 按名称+标签保存当前值。
// 计数器累加，仪表覆盖，直方图累计 count/sum。
type MetricsCollector struct {
	history     map[string][]*Metric
	series      map[string]*Metric
	metricsLock sync.RWMutex

	startTime time.Time
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history:   make(map[string][]*Metric),
		series:    make(map[string]*Metric),
		startTime: time.Now(),
	}
}

// RecordMetric 记录指标
func (mc *MetricsCollector) RecordMetric(metric *Metric) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	metric.Timestamp = time.Now()

	mc.history[metric.Name] = append(mc.history[metric.Name], metric)
	// 限制历史大小（保留最近1000个）
	if len(mc.history[metric.Name]) > maxHistory {
		mc.history[metric.Name] = mc.history[metric.Name][100:]
	}

	key := seriesKey(metric.Name, metric.Labels)
	current, ok := mc.series[key]
	if !ok {
		current = &Metric{
			Name:   metric.Name,
			Type:   metric.Type,
			Labels: copyLabels(metric.Labels),
			Help:   metric.Help,
		}
		mc.series[key] = current
	}
	current.Timestamp = metric.Timestamp
	if metric.Help != "" {
		current.Help = metric.Help
	}

	switch metric.Type {
	case MetricTypeCounter:
		current.Value += metric.Value
	case MetricTypeHistogram:
		current.Value = metric.Value
		current.Count++
		current.Sum += metric.Value
	default:
		current.Value = metric.Value
	}
}

// GetMetric 获取指标的历史观测
func (mc *MetricsCollector) GetMetric(name string) ([]*Metric, error) {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	metrics, ok := mc.history[name]
	if !ok {
		return nil, fmt.Errorf("metric %s not found", name)
	}

	result := make([]*Metric, len(metrics))
	for i, m := range metrics {
		metricCopy := *m
		metricCopy.Labels = copyLabels(m.Labels)
		result[i] = &metricCopy
	}
	return result, nil
}

// Value 返回某个序列的当前值
func (mc *MetricsCollector) Value(name string, labels map[string]string) float64 {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	if m, ok := mc.series[seriesKey(name, labels)]; ok {
		return m.Value
	}
	return 0
}

// Snapshot 返回所有序列的当前值，按名称和标签排序
func (mc *MetricsCollector) Snapshot() []Metric {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	out := make([]Metric, 0, len(mc.series))
	for _, current := range mc.series {
		m := *current
		m.Labels = copyLabels(m.Labels)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return formatLabels(out[i].Labels) < formatLabels(out[j].Labels)
	})
	return out
}

// GetMetricSummary 获取指标摘要
func (mc *MetricsCollector) GetMetricSummary(name string) (map[string]interface{}, error) {
	metrics, err := mc.GetMetric(name)
	if err != nil {
		return nil, err
	}

	if len(metrics) == 0 {
		return map[string]interface{}{"name": name, "count": 0}, nil
	}

	values := make([]float64, len(metrics))
	sum := 0.0
	for i, m := range metrics {
		values[i] = m.Value
		sum += m.Value
	}
	sort.Float64s(values)

	return map[string]interface{}{
		"name":      name,
		"count":     len(metrics),
		"latest":    metrics[len(metrics)-1].Value,
		"min":       values[0],
		"max":       values[len(values)-1],
		"average":   sum / float64(len(values)),
		"p50":       quantile(values, 0.50),
		"p95":       quantile(values, 0.95),
		"timestamp": metrics[len(metrics)-1].Timestamp,
	}, nil
}

// quantile 取已排序样本的分位数（最近秩）
func quantile(sorted []float64, q float64) float64 {
	idx := int(q*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// IncrCounter 增加计数器
func (mc *MetricsCollector) IncrCounter(name string, value float64, labels map[string]string) {
	mc.RecordMetric(&Metric{Name: name, Type: MetricTypeCounter, Value: value, Labels: labels})
}

// SetGauge 设置仪表
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.RecordMetric(&Metric{Name: name, Type: MetricTypeGauge, Value: value, Labels: labels})
}

// RecordHistogram 记录直方图观测值
func (mc *MetricsCollector) RecordHistogram(name string, value float64, labels map[string]string) {
	mc.RecordMetric(&Metric{Name: name, Type: MetricTypeHistogram, Value: value, Labels: labels})
}

// CollectSystemMetrics 定期收集系统指标，直到 ctx 结束
func (mc *MetricsCollector) CollectSystemMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	mc.collectRuntimeMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mc.collectRuntimeMetrics()
		}
	}
}

func (mc *MetricsCollector) collectRuntimeMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mc.RecordMetric(&Metric{
		Name:  "memory_heap_alloc_bytes",
		Type:  MetricTypeGauge,
		Value: float64(m.HeapAlloc),
		Help:  "Memory heap allocated in bytes",
	})
	mc.RecordMetric(&Metric{
		Name:  "memory_gc_count",
		Type:  MetricTypeGauge,
		Value: float64(m.NumGC),
		Help:  "Number of completed garbage collections",
	})
	mc.RecordMetric(&Metric{
		Name:  "system_goroutines",
		Type:  MetricTypeGauge,
		Value: float64(runtime.NumGoroutine()),
		Help:  "Number of goroutines",
	})
}

// ExportPrometheus 导出Prometheus文本格式
//
// 直方图只导出 _count 与 _sum，类型声明为 summary。
func (mc *MetricsCollector) ExportPrometheus() string {
	var b strings.Builder

	lastName := ""
	for _, m := range mc.Snapshot() {
		if m.Name != lastName {
			help := m.Help
			if help == "" {
				help = fmt.Sprintf("Metric %s", m.Name)
			}
			promType := string(m.Type)
			if m.Type == MetricTypeHistogram {
				promType = "summary"
			}
			fmt.Fprintf(&b, "# HELP %s %s\n", m.Name, help)
			fmt.Fprintf(&b, "# TYPE %s %s\n", m.Name, promType)
			lastName = m.Name
		}

		labels := formatLabels(m.Labels)
		if m.Type == MetricTypeHistogram {
			fmt.Fprintf(&b, "%s_count%s %d\n", m.Name, labels, m.Count)
			fmt.Fprintf(&b, "%s_sum%s %g\n", m.Name, labels, m.Sum)
			continue
		}
		fmt.Fprintf(&b, "%s%s %g\n", m.Name, labels, m.Value)
	}
	return b.String()
}

// Report 是 JSON 导出的结构
type Report struct {
	Uptime    string                   `json:"uptime"`
	Series    []Metric                 `json:"series"`
	Summaries []map[string]interface{} `json:"summaries,omitempty"`
	System    map[string]interface{}   `json:"system"`
}

// BuildReport 汇总当前序列、直方图摘要和运行时统计
func (mc *MetricsCollector) BuildReport() Report {
	series := mc.Snapshot()

	seen := make(map[string]bool)
	summaries := make([]map[string]interface{}, 0)
	for _, m := range series {
		if m.Type != MetricTypeHistogram || seen[m.Name] {
			continue
		}
		seen[m.Name] = true
		if summary, err := mc.GetMetricSummary(m.Name); err == nil {
			summaries = append(summaries, summary)
		}
	}

	return Report{
		Uptime:    mc.GetUptime().String(),
		Series:    series,
		Summaries: summaries,
		System:    mc.GetSystemStats(),
	}
}

// ExportJSON 导出JSON格式
func (mc *MetricsCollector) ExportJSON() (string, error) {
	data, err := json.MarshalIndent(mc.BuildReport(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GetUptime 获取运行时间
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}

// GetSystemStats 获取系统统计
func (mc *MetricsCollector) GetSystemStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"num_cpu":    runtime.NumCPU(),
		"memory": map[string]interface{}{
			"alloc":       m.Alloc,
			"sys":         m.Sys,
			"heap_alloc":  m.HeapAlloc,
			"heap_inuse":  m.HeapInuse,
			"gc_count":    m.NumGC,
			"gc_pause_ns": m.PauseTotalNs,
		},
	}
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	return name + formatLabels(labels)
}

// formatLabels 按键排序输出 {k="v",...}
func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
