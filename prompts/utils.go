package prompts

import (
	"bytes"
	"strings"
	"text/template"
)

// Render 渲染模板并去除首尾空白
func Render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
