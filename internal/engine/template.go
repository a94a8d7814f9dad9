package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/shaiso/Cadence/internal/domain"
)

// TemplateData — данные для рендеринга сообщения.
//
// Доступны в шаблонах как:
//   - {{ .Contact.FirstName }}, {{ .Contact.Attributes.city }}
//   - {{ .Execution.ID }}, {{ .Execution.FlowID }}
//   - {{ .NodeID }}
type TemplateData struct {
	// Contact — получатель.
	Contact *domain.Contact

	// Execution — данные запуска.
	Execution ExecutionData

	// NodeID — узел, который отправляет сообщение.
	NodeID string
}

// ExecutionData — часть execution, доступная шаблонам.
type ExecutionData struct {
	ID     string
	FlowID string
}

// NewTemplateData собирает данные для рендеринга.
func NewTemplateData(contact *domain.Contact, exec *domain.Execution, nodeID string) *TemplateData {
	if contact.Attributes == nil {
		contact.Attributes = make(map[string]string)
	}
	return &TemplateData{
		Contact: contact,
		Execution: ExecutionData{
			ID:     exec.ID.String(),
			FlowID: exec.FlowID.String(),
		},
		NodeID: nodeID,
	}
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — возвращает значение по умолчанию, если первый аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	// join — объединяет слайс строк
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},

	// contains — проверяет, содержит ли строка подстроку
	"contains": strings.Contains,

	// truncate — обрезает строку до n рун (для SMS)
	"truncate": func(n int, s string) string {
		r := []rune(s)
		if len(r) <= n {
			return s
		}
		return string(r[:n])
	},

	// lower — приводит к нижнему регистру
	"lower": strings.ToLower,

	// upper — приводит к верхнему регистру
	"upper": strings.ToUpper,

	// trim — удаляет пробелы по краям
	"trim": strings.TrimSpace,

	// replace — заменяет подстроку
	"replace": strings.ReplaceAll,
}

// Render рендерит строковый шаблон.
//
// Строка без {{ возвращается как есть.
func Render(tmpl string, data any) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// RenderContent рендерит тему и тело шаблона сообщения.
func RenderContent(tpl *domain.Template, data *TemplateData) (domain.Content, error) {
	subject, err := Render(tpl.Subject, data)
	if err != nil {
		return domain.Content{}, fmt.Errorf("subject of %s: %w", tpl.Ref, err)
	}
	body, err := Render(tpl.Body, data)
	if err != nil {
		return domain.Content{}, fmt.Errorf("body of %s: %w", tpl.Ref, err)
	}
	return domain.Content{
		TemplateRef: tpl.Ref,
		Subject:     subject,
		Body:        body,
	}, nil
}
