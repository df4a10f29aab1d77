package alertx

import (
	"bytes"
	"html/template"
	"sync"
)

// FailedJobTemplate is registered under this name by NewAlerter.
const FailedJobTemplate = "job_failed"

const defaultFailedJobTemplate = `<h2>Job {{.JobID}} failed</h2>
<p>Status: <strong>{{.Status}}</strong> after {{.RetryCount}} retries (priority {{.Priority}}).</p>
{{if .ErrorMessage}}<p>Error: <code>{{.ErrorMessage}}</code></p>{{end}}
<p>Failed at {{.FailedAt.Format "2006-01-02 15:04:05 MST"}}.</p>`

// TemplateRegistry stores and renders named html/templates.
type TemplateRegistry struct {
	templates map[string]*template.Template
	mu        sync.RWMutex
}

// NewTemplateRegistry creates an empty registry.
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{
		templates: make(map[string]*template.Template),
	}
}

// Register parses and stores a template by name.
func (r *TemplateRegistry) Register(name, tmplString string) error {
	t, err := template.New(name).Parse(tmplString)
	if err != nil {
		return alertxErrors.NewWithCause(ErrTemplateParse, err).WithDetail("template", name)
	}

	r.mu.Lock()
	r.templates[name] = t
	r.mu.Unlock()

	return nil
}

// Render executes a named template with data.
func (r *TemplateRegistry) Render(name string, data any) (string, error) {
	r.mu.RLock()
	t, ok := r.templates[name]
	r.mu.RUnlock()

	if !ok {
		return "", alertxErrors.New(ErrTemplateNotFound).WithDetail("template", name)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", alertxErrors.NewWithCause(ErrTemplateRender, err).WithDetail("template", name)
	}

	return buf.String(), nil
}
