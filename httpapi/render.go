package httpapi

import (
	"bytes"
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"strings"

	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/logging"
	"github.com/dpup/obsidian/saga"
	oauth2errors "github.com/go-oauth2/oauth2/v4/errors"
	"google.golang.org/grpc/codes"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

type pages struct {
	templates *template.Template
}

func mustParsePages() *pages {
	t := template.New("").Funcs(template.FuncMap{
		"join": strings.Join,
	})
	return &pages{templates: template.Must(t.ParseFS(templateFS, "templates/*.tmpl"))}
}

// render executes the named template into a buffer, so a failed execution
// does not leave a partial page.
func (p *pages) render(w http.ResponseWriter, status int, name string, data any) error {
	var b bytes.Buffer
	if err := p.templates.ExecuteTemplate(&b, name, data); err != nil {
		return errors.WrapPrefix(err, "httpapi: rendering "+name, 0)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, err := w.Write(b.Bytes())
	return err
}

// pageHandler serves browser facing endpoints. Errors are written as plain
// text with the public message.
type pageHandler func(w http.ResponseWriter, r *http.Request) error

func (fn pageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := fn(w, r); err != nil {
		logging.TrackError(r.Context(), err)
		status, body := oauthError(err)
		http.Error(w, body.Error+": "+body.Description, status)
	}
}

// jsonHandler serves machine facing endpoints. The returned value is encoded
// as JSON, errors as an RFC 6749 error response.
type jsonHandler func(r *http.Request) (any, error)

func (fn jsonHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := fn(r)
	if err != nil {
		logging.TrackError(r.Context(), err)
		status, body := oauthError(err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "error encoding response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	w.Write(b)
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// Error codes defined by RFC 6749, in the order they are matched.
var standardErrors = []error{
	oauth2errors.ErrInvalidClient,
	oauth2errors.ErrInvalidGrant,
	oauth2errors.ErrInvalidScope,
	oauth2errors.ErrAccessDenied,
	oauth2errors.ErrUnsupportedGrantType,
	oauth2errors.ErrUnsupportedResponseType,
	oauth2errors.ErrUnauthorizedClient,
	oauth2errors.ErrInvalidRequest,
	oauth2errors.ErrServerError,
}

// oauthError maps err to a status and an error response. Unknown correlation
// ids and out of sequence steps are reported as client errors.
func oauthError(err error) (int, errorResponse) {
	status := errors.HTTPStatusCode(err)
	for _, std := range standardErrors {
		if errors.Is(err, std) {
			return status, errorResponse{Error: std.Error(), Description: oauth2errors.Descriptions[std]}
		}
	}
	switch {
	case errors.Is(err, saga.ErrSagaNotFound):
		return http.StatusBadRequest, errorResponse{Error: oauth2errors.ErrInvalidRequest.Error(), Description: "The authorization request is unknown or has expired."}
	case errors.Code(err) == codes.FailedPrecondition, errors.Code(err) == codes.InvalidArgument:
		return http.StatusBadRequest, errorResponse{Error: oauth2errors.ErrInvalidRequest.Error(), Description: errors.PublicMessage(err)}
	case errors.Code(err) == codes.Unauthenticated:
		return http.StatusUnauthorized, errorResponse{Error: oauth2errors.ErrInvalidClient.Error(), Description: errors.PublicMessage(err)}
	}
	return http.StatusInternalServerError, errorResponse{Error: oauth2errors.ErrServerError.Error(), Description: oauth2errors.Descriptions[oauth2errors.ErrServerError]}
}
