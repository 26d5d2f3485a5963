// Package handler turns HTTP requests into service calls and service results
// into HTML pages, redirects or JSON.
package handler

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"

	"github.com/sakif/user-registry/internal/model"
)

// Page names double as template file names under the template directory.
const (
	PageRegister = "register.html"
	PageLogin    = "login.html"
	PageHome     = "home.html"
)

const baseTemplate = "base.html"

// PageData is what every page template receives. Fields a page does not use
// stay zero.
type PageData struct {
	Title        string
	LoggedInAs   string // from the login cookie; empty when anonymous
	Username     string // prefilled into the login form
	ErrorMessage string
	Users        []model.UserWithProfile
}

// Renderer holds one parsed template set per page. Each set is base.html
// plus the page, which fills base's "content" block.
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer parses every page under templateDir once.
func NewRenderer(templateDir string) (*Renderer, error) {
	r := &Renderer{pages: make(map[string]*template.Template)}

	for _, page := range []string{PageRegister, PageLogin, PageHome} {
		tmpl, err := template.ParseFiles(
			filepath.Join(templateDir, baseTemplate),
			filepath.Join(templateDir, page),
		)
		if err != nil {
			return nil, fmt.Errorf("handler: parsing %s: %w", page, err)
		}
		r.pages[page] = tmpl
	}

	return r, nil
}

// Render executes page into a buffer and only then writes status and body,
// so a template error never leaves a half-written page behind.
func (r *Renderer) Render(w http.ResponseWriter, status int, page string, data PageData) error {
	tmpl, ok := r.pages[page]
	if !ok {
		return fmt.Errorf("handler: unknown page %q", page)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		return fmt.Errorf("handler: rendering %s: %w", page, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
