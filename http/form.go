package http

import (
	"bytes"
	_ "embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"buildenergy/ml"
)

//go:embed templates/index.html
var indexTemplate string

// 表单分两栏，前四个字段在左侧
const leftColumnFields = 4

type formField struct {
	Name    string
	Label   string
	Min     string
	Max     string
	Step    string
	Value   string
	Options []formOption
	Invalid bool
}

type formOption struct {
	Value    int
	Selected bool
}

type formResult struct {
	Heating          string
	Cooling          string
	HeatingAnomalous bool
	CoolingAnomalous bool
}

type formPage struct {
	Parameters []formField
	Additional []formField
	Result     *formResult
	Error      string
}

// formRenderer 渲染输入表单和预测结果
type formRenderer struct {
	tmpl    *template.Template
	printer *message.Printer
}

func newFormRenderer() *formRenderer {
	return &formRenderer{
		tmpl:    template.Must(template.New("index").Parse(indexTemplate)),
		printer: message.NewPrinter(language.English),
	}
}

// formatLoad 保留两位小数，按区域格式分组
func (f *formRenderer) formatLoad(v float64) string {
	return f.printer.Sprintf("%.2f", v)
}

func (f *formRenderer) page(values url.Values, invalidField string) formPage {
	schema := ml.Schema()
	fields := make([]formField, len(schema))
	for i, spec := range schema {
		field := formField{
			Name:    spec.Name,
			Label:   spec.Label,
			Min:     formatInput(spec.Min),
			Max:     formatInput(spec.Max),
			Step:    formatInput(spec.Step),
			Value:   values.Get(spec.Name),
			Invalid: spec.Name == invalidField,
		}
		for _, choice := range spec.Choices {
			field.Options = append(field.Options, formOption{
				Value:    choice,
				Selected: strconv.Itoa(choice) == field.Value,
			})
		}
		fields[i] = field
	}
	return formPage{Parameters: fields[:leftColumnFields], Additional: fields[leftColumnFields:]}
}

func (f *formRenderer) render(w http.ResponseWriter, status int, page formPage) error {
	var buf bytes.Buffer
	if err := f.tmpl.Execute(&buf, page); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

func (h *Handler) handleFormPage(w http.ResponseWriter, r *http.Request) {
	page := h.form.page(recordValues(ml.DefaultFeatureRecord()), "")
	if err := h.form.render(w, http.StatusOK, page); err != nil {
		h.logger.Error("render form", zap.Error(err))
	}
}

func (h *Handler) handleFormSubmit(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	var page formPage

	if err := r.ParseForm(); err != nil {
		status = http.StatusBadRequest
		page = h.form.page(r.PostForm, "")
		page.Error = "invalid form submission"
	} else if rec, err := ml.ParseForm(r.PostForm); err != nil {
		status, page = h.formError(r.PostForm, err)
	} else if result, err := h.service.Predict(r.Context(), rec); err != nil {
		status, page = h.formError(r.PostForm, err)
	} else {
		page = h.form.page(r.PostForm, "")
		page.Result = &formResult{
			Heating:          h.form.formatLoad(result.HeatingLoad),
			Cooling:          h.form.formatLoad(result.CoolingLoad),
			HeatingAnomalous: result.HeatingLoad < 0,
			CoolingAnomalous: result.CoolingLoad < 0,
		}
	}

	if err := h.form.render(w, status, page); err != nil {
		h.logger.Error("render form", zap.Error(err))
	}
}

func (h *Handler) formError(values url.Values, err error) (int, formPage) {
	var infErr *ml.InferenceError
	if errors.As(err, &infErr) {
		page := h.form.page(values, infErr.Field)
		page.Error = err.Error()
		return http.StatusBadRequest, page
	}
	h.logger.Error("form prediction failed", zap.Error(err))
	page := h.form.page(values, "")
	page.Error = "prediction failed"
	return http.StatusInternalServerError, page
}

// recordValues 把记录转为表单值
func recordValues(rec ml.FeatureRecord) url.Values {
	values := url.Values{}
	for i, v := range rec.Vector() {
		values.Set(ml.FeatureNames()[i], formatInput(v))
	}
	return values
}

func formatInput(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
