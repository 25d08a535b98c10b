package handlers

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/art-injener/starpass/internal/report"
)

const (
	// Константы для шаблонов.
	templateGlob      = "*.html"
	templateEmbedGlob = "templates/*.html"
	passesTemplate    = "passes.html"

	pageTitle = "Upcoming passes - starpass"

	slogKeyError = "error"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

// DocumentSource источник документа с пролётами.
type DocumentSource interface {
	Document(ctx context.Context, q PassQuery) (*report.Document, error)
	DefaultQuery() PassQuery
}

// PageHandler обрабатывает рендеринг HTML страниц.
type PageHandler struct {
	templates *template.Template
	mu        sync.RWMutex
	devMode   bool
	tmplDir   string
	source    DocumentSource
	logger    *slog.Logger
}

// NewPageHandler создаёт новый обработчик страниц.
// Если devMode равен true, шаблоны перечитываются из tmplDir при каждом запросе,
// иначе используются встроенные.
func NewPageHandler(source DocumentSource, tmplDir string, devMode bool, logger *slog.Logger) (*PageHandler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &PageHandler{
		devMode: devMode && tmplDir != "",
		tmplDir: tmplDir,
		source:  source,
		logger:  logger,
	}

	if err := h.loadTemplates(); err != nil {
		return nil, err
	}

	return h, nil
}

// PageData содержит данные страницы пролётов.
type PageData struct {
	Title    string
	Document *report.Document
	Error    string
}

// Passes рендерит таблицу пролётов для наблюдателя по умолчанию.
func (h *PageHandler) Passes(c *gin.Context) {
	data := PageData{Title: pageTitle}

	doc, err := h.source.Document(c.Request.Context(), h.source.DefaultQuery())
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "failed to compute passes", slogKeyError, err)
		data.Error = "Pass prediction is not available right now."
	}
	data.Document = doc

	h.render(c.Writer, passesTemplate, data)
}

var templateFuncs = template.FuncMap{
	"inc":   func(i int) int { return i + 1 },
	"lower": strings.ToLower,
	// clock оставляет от локального времени только ЧЧ:ММ:СС.
	"clock": func(s string) string {
		if i := strings.IndexByte(s, 'T'); i >= 0 {
			return s[i+1:]
		}
		return s
	},
}

func (h *PageHandler) loadTemplates() error {
	tmpl := template.New("").Funcs(templateFuncs)

	var err error
	if h.devMode {
		tmpl, err = tmpl.ParseGlob(filepath.Join(h.tmplDir, templateGlob))
	} else {
		tmpl, err = tmpl.ParseFS(embeddedTemplates, templateEmbedGlob)
	}
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.templates = tmpl
	h.mu.Unlock()

	return nil
}

func (h *PageHandler) render(w http.ResponseWriter, name string, data any) {
	if h.devMode {
		if err := h.loadTemplates(); err != nil {
			h.logger.Error("failed to reload templates", slogKeyError, err)
			http.Error(w, "Template error", http.StatusInternalServerError)
			return
		}
	}

	h.mu.RLock()
	tmpl := h.templates
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, name, data); err != nil {
		h.logger.Error("failed to render template", "name", name, slogKeyError, err)
		http.Error(w, "Render error", http.StatusInternalServerError)
	}
}
