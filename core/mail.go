package core

import (
	"bytes"
	"context"
	"fmt"
	htmltmpl "html/template"
	"io"
	"io/fs"
	"net/mail"
	"path"
	"strings"
	"sync"
	texttmpl "text/template"

	"github.com/pkg/errors"

	appfs "github.com/trezcool/gradebook/fs"
)

const emailTemplatesDir = "templates/email"

type (
	EmailMessage struct {
		To      []mail.Address
		Subject string
		BodyStr string // simple text/plain, non-templated content

		// templated contents
		TemplateName string // file name without extension
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	// ContextData is what templates execute against: {{.Data.X}} and {{.FrontendBaseURL}}.
	ContextData struct {
		FrontendBaseURL string
		Data            interface{}
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently and returns once every send finished or gave up.
		// A non-nil error is a *SendError.
		SendMessages(ctx context.Context, messages ...*EmailMessage) error
	}
)

// SendError counts the messages of one SendMessages call that were not sent.
type SendError struct {
	Failed int
	Total  int
	Err    error // first failure
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%d of %d email(s) not sent: %v", e.Failed, e.Total, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

type executor interface {
	Execute(w io.Writer, data interface{}) error
}

// emailTemplate holds the .txt and .gohtml variants of one email; either may be missing.
type emailTemplate struct {
	text *texttmpl.Template
	html *htmltmpl.Template
}

type emailTemplates struct {
	mu          sync.RWMutex
	byName      map[string]emailTemplate
	frontendURL string
}

var templates emailTemplates

func (ts *emailTemplates) lookup(name string) (emailTemplate, ContextData, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	tmpl, ok := ts.byName[name]
	return tmpl, ContextData{FrontendBaseURL: ts.frontendURL}, ok
}

func (ts *emailTemplates) set(byName map[string]emailTemplate, frontendURL string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.byName = byName
	ts.frontendURL = frontendURL
}

func execute(tmpl executor, data ContextData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Render fills TextContent and HTMLContent. BodyStr wins over the text template;
// an unknown template name renders nothing.
func (m *EmailMessage) Render() error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
	}
	if m.TemplateName == "" {
		return nil
	}
	tmpl, data, ok := templates.lookup(m.TemplateName)
	if !ok {
		return nil
	}
	data.Data = m.TemplateData

	var err error
	if tmpl.text != nil && m.BodyStr == "" {
		if m.TextContent, err = execute(tmpl.text, data); err != nil {
			return errors.Wrapf(err, "rendering %s.txt", m.TemplateName)
		}
	}
	if tmpl.html != nil {
		if m.HTMLContent, err = execute(tmpl.html, data); err != nil {
			return errors.Wrapf(err, "rendering %s.gohtml", m.TemplateName)
		}
	}
	return nil
}

func (m *EmailMessage) HasRecipients() bool { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool    { return (m.TextContent != "") || (m.HTMLContent != "") }

// ParseEmailTemplates loads the embedded email templates. Missing keys fail rendering in debug and test modes.
func ParseEmailTemplates(conf *Config, logger Logger) {
	byName, err := parseTemplates(appfs.FS, emailTemplatesDir, conf.Debug || conf.TestMode)
	if err != nil {
		logger.Error("parsing email templates", err)
	}
	templates.set(byName, conf.FrontendBaseURL)
}

// parseTemplates pairs every `<name>.txt` / `<name>.gohtml` with the `_base` layout of its kind.
// Files starting with "_" are layouts, not emails.
func parseTemplates(fsys fs.FS, dir string, strict bool) (map[string]emailTemplate, error) {
	byName := make(map[string]emailTemplate)

	fps, err := fs.Glob(fsys, path.Join(dir, "*"))
	if err != nil {
		return byName, errors.Wrap(err, "listing templates")
	}

	missingKey := "missingkey=default"
	if strict {
		missingKey = "missingkey=error"
	}
	for _, fp := range fps {
		fname := path.Base(fp)
		ext := path.Ext(fname)
		if strings.HasPrefix(fname, "_") {
			continue
		}
		name := strings.TrimSuffix(fname, ext)
		tmpl := byName[name]

		switch ext {
		case ".txt":
			t, err := texttmpl.ParseFS(fsys, path.Join(dir, "_base.txt"), fp)
			if err != nil {
				return byName, errors.Wrapf(err, "parsing %s", fname)
			}
			tmpl.text = t.Option(missingKey)
		case ".gohtml":
			t, err := htmltmpl.ParseFS(fsys, path.Join(dir, "_base.gohtml"), fp)
			if err != nil {
				return byName, errors.Wrapf(err, "parsing %s", fname)
			}
			tmpl.html = t.Option(missingKey)
		default:
			continue
		}
		byName[name] = tmpl
	}
	return byName, nil
}
