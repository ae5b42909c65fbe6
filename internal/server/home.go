package server

import (
	"encoding/json"
	"html/template"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/kartoza/funcatlas/internal/adapter"
	"github.com/kartoza/funcatlas/internal/forms"
	"github.com/kartoza/funcatlas/internal/params"
	"github.com/kartoza/funcatlas/internal/presets"
)

var templateFuncs = template.FuncMap{
	"join": strings.Join,
}

// fieldView is one form input as the template renders it
type fieldView struct {
	forms.Field
	Value  string
	Errors []string
}

// homePage is the template context of the home page
type homePage struct {
	Version        string
	Fields         []fieldView
	NonFieldErrors []string
	StimKwargs     template.JS
	Neurons        []string
	AppErrors      map[string]string
	RespMsg        string
	Plot           template.HTML
	PlotURL        string
	Query          string
	CodeSnippet    string
	Presets        []*presets.Preset
}

// formData builds the form input for a request. GET query values are merged
// over the field defaults so deep links only need the keys they change; an
// explicit None clears a default.
func formData(r *http.Request) (url.Values, bool, error) {
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			return nil, false, err
		}
		return r.PostForm, true, nil
	}

	query := r.URL.Query()
	if len(query) == 0 {
		return forms.Defaults(), false, nil
	}
	data := forms.Defaults()
	for key, values := range query {
		if len(values) == 1 && values[0] == params.None {
			delete(data, key)
			continue
		}
		if key == params.RespNeuIDs {
			data[key] = values
		} else {
			data.Set(key, values[0])
		}
	}
	return data, true, nil
}

// handleHome renders the parameter form and, for a valid submission, the plot
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	data, bound, err := formData(r)
	if err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	page := homePage{
		Version:    s.cfg.Version,
		StimKwargs: stimKwargsJS(),
	}
	if s.directory != nil {
		if page.Neurons, err = s.directory.Names(r.Context()); err != nil {
			log.Printf("Warning: could not list neurons: %v", err)
		}
	}
	if s.presetStore != nil {
		if page.Presets, err = s.presetStore.List(); err != nil {
			log.Printf("Warning: could not list presets: %v", err)
		}
	}

	form := forms.New(data)
	if !bound {
		page.Fields = fieldViews(form, nil)
		s.render(w, page)
		return
	}

	if s.directory == nil {
		page.Fields = fieldViews(form, nil)
		page.NonFieldErrors = []string{"The neuron directory is not available."}
		s.render(w, page)
		return
	}
	valid, err := form.Validate(r.Context(), s.directory)
	if err != nil {
		log.Printf("Warning: form validation failed: %v", err)
		http.Error(w, "Could not validate parameters", http.StatusInternalServerError)
		return
	}
	if !valid {
		page.Fields = fieldViews(form, form.Errors)
		page.NonFieldErrors = form.FieldErrors(forms.NonFieldErrors)
		s.render(w, page)
		return
	}

	out := s.adapter.PlotOutput(form.Cleaned)
	page.Fields = fieldViews(form, nil)
	page.AppErrors = out.Errors.Messages()
	page.RespMsg = out.RespMsg
	page.Plot = out.PlotHTML
	page.Query = out.QueryString
	page.CodeSnippet = out.CodeSnippet
	if out.QueryString != "" {
		page.PlotURL = baseURL(r) + "/?" + out.QueryString
	}
	s.render(w, page)
}

// handleSavePreset stores the submitted parameters and redirects to the short link
func (s *Server) handleSavePreset(w http.ResponseWriter, r *http.Request) {
	if s.presetStore == nil {
		http.Error(w, "Presets are not available", http.StatusServiceUnavailable)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}
	values, err := url.ParseQuery(r.PostForm.Get("query"))
	if err != nil {
		http.Error(w, "Invalid query", http.StatusBadRequest)
		return
	}
	filtered, errs := adapter.FilterToRequired(values)
	if len(errs) > 0 {
		http.Error(w, errs[adapter.InputParameterError].Error(), http.StatusBadRequest)
		return
	}

	out := s.adapter.PlotOutput(filtered)
	preset, err := s.presetStore.Create(r.PostForm.Get("title"), filtered, []byte(out.PlotHTML))
	if err != nil {
		log.Printf("Warning: could not save preset: %v", err)
		http.Error(w, "Could not save preset", http.StatusInternalServerError)
		return
	}
	log.Printf("Saved preset %s (%s)", preset.ID, preset.Title)
	http.Redirect(w, r, "/p/"+preset.ID, http.StatusSeeOther)
}

// handlePresetLink redirects a short link to the deep-linked home page
func (s *Server) handlePresetLink(w http.ResponseWriter, r *http.Request) {
	if s.presetStore == nil {
		http.NotFound(w, r)
		return
	}
	preset, err := s.presetStore.Get(mux.Vars(r)["id"])
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/?"+preset.Query, http.StatusFound)
}

func (s *Server) render(w http.ResponseWriter, page homePage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "home.html", page); err != nil {
		log.Printf("Error rendering home page: %v", err)
	}
}

func fieldViews(form *forms.ParamForm, errs map[string][]string) []fieldView {
	fields := forms.Fields()
	views := make([]fieldView, 0, len(fields))
	for _, f := range fields {
		views = append(views, fieldView{Field: f, Value: form.Value(f.Name), Errors: errs[f.Name]})
	}
	return views
}

func stimKwargsJS() template.JS {
	data, err := json.Marshal(forms.StimKwargFields())
	if err != nil {
		return "{}"
	}
	return template.JS(data)
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
