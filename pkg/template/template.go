// Package template renders the text fields of action configs, such as message
// variables and email subjects, against an execution context.
package template

import (
	"fmt"
	"maps"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]*template.Template)
)

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"default": func(fallback, value any) any {
		if value == nil || value == "" {
			return fallback
		}

		return value
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// NeedsTemplating reports whether input contains a template action.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// RenderWithContext renders input against the execution context. Event data
// fields are top level; the run itself is under .execution.
func RenderWithContext(input string, executionCtx models.ExecutionContext) (string, error) {
	if !NeedsTemplating(input) {
		return input, nil
	}

	data := executionCtx.Env()
	data["execution"] = map[string]any{
		"id":         executionCtx.ExecutionID,
		"flow_id":    executionCtx.FlowID,
		"owner_id":   executionCtx.OwnerID,
		"contact_id": executionCtx.ContactID,
	}

	return Render(input, data)
}

// RenderMap renders every value of values. The input map is not modified.
func RenderMap(values map[string]string, executionCtx models.ExecutionContext) (map[string]string, error) {
	rendered := maps.Clone(values)

	for key, value := range values {
		out, err := RenderWithContext(value, executionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render %q: %w", key, err)
		}

		rendered[key] = out
	}

	return rendered, nil
}

// Render executes templateStr with data. Missing keys render as empty.
func Render(templateStr string, data any) (string, error) {
	tmpl, err := parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// Parse checks that templateStr is a valid template.
func Parse(templateStr string) error {
	_, err := parse(templateStr)

	return err
}

func parse(templateStr string) (*template.Template, error) {
	cacheMu.RLock()
	tmpl, ok := cache[templateStr]
	cacheMu.RUnlock()

	if ok {
		return tmpl, nil
	}

	tmpl, err := template.New("action").Funcs(funcs).Option("missingkey=default").Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	cacheMu.Lock()
	cache[templateStr] = tmpl
	cacheMu.Unlock()

	return tmpl, nil
}
