package obsidian

import (
	"fmt"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/logging"
	"google.golang.org/grpc/codes"
)

type XFramesOptions string

const (
	XFramesOptionsNone       XFramesOptions = ""
	XFramesOptionsDeny       XFramesOptions = "DENY"
	XFramesOptionsSameOrigin XFramesOptions = "SAMEORIGIN"
)

// HSTS requires a minimum expiration of 1 year for preload.
var ErrBadHSTSExpiration = errors.NewC("obsidian: HSTS preload requires expiration of at least 1 year", codes.FailedPrecondition)

// SecurityHeaders contains the security headers that should be set on HTTP
// responses. The sign in and consent pages are framed by nobody by default.
type SecurityHeaders struct {
	// X-Frame-Options controls whether the browser should allow the page to be
	// rendered in a frame or iframe.
	XFramesOptions XFramesOptions

	// Strict-Transport-Security (HSTS) tells the browser to always use HTTPS
	// when connecting to the site.
	HSTSExpiration        time.Duration
	HSTSIncludeSubdomains bool
	HSTSPreload           bool

	// Access-Control headers define which origins are allowed to access the
	// resource and what methods are allowed.
	CORSOrigins          []string
	CORSAllowMethods     []string
	CORSAllowHeaders     []string
	CORSExposeHeaders    []string
	CORSAllowCredentials bool
	CORSMaxAge           time.Duration

	// Precomputed fields.
	staticHeaders    map[string]string
	preflightHeaders map[string]string
	allowedOrigins   map[string]bool
	mu               sync.Mutex // Protects precomputed fields.
}

// Apply the security headers to the given response.
func (s *SecurityHeaders) Apply(w http.ResponseWriter, r *http.Request) error {
	if err := s.compute(); err != nil {
		return err
	}
	for k, v := range s.staticHeaders {
		w.Header().Set(k, v)
	}

	if len(s.CORSOrigins) > 0 && r != nil {
		origin := r.Header.Get("Origin")
		if s.allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			if s.CORSAllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			if r.Method == http.MethodOptions {
				for k, v := range s.preflightHeaders {
					w.Header().Set(k, v)
				}
			} else if len(s.CORSExposeHeaders) > 0 {
				w.Header().Set("Access-Control-Expose-Headers", strings.Join(s.CORSExposeHeaders, ", "))
			}
		}
	}

	return nil
}

func (s *SecurityHeaders) compute() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.normalizeHeaders(s.CORSAllowHeaders)
	s.normalizeHeaders(s.CORSExposeHeaders)

	if s.staticHeaders == nil {
		static := map[string]string{
			"X-Content-Type-Options": "nosniff",
			"Referrer-Policy":        "strict-origin-when-cross-origin",
		}
		if s.XFramesOptions != XFramesOptionsNone {
			static["X-Frame-Options"] = string(s.XFramesOptions)
		}

		if s.HSTSExpiration > 0 {
			h := fmt.Sprintf("max-age=%.0f", s.HSTSExpiration.Seconds())
			if s.HSTSIncludeSubdomains {
				h += "; includeSubDomains"
			}
			if s.HSTSPreload {
				if s.HSTSExpiration < time.Hour*24*365 {
					return errors.Mark(ErrBadHSTSExpiration, 0)
				}
				h += "; preload"
			}
			static["Strict-Transport-Security"] = h
		}

		if len(s.CORSOrigins) > 0 {
			static["Vary"] = "Origin"

			s.preflightHeaders = make(map[string]string)
			if len(s.CORSAllowMethods) > 0 {
				s.preflightHeaders["Access-Control-Allow-Methods"] = strings.Join(s.CORSAllowMethods, ", ")
			} else {
				s.preflightHeaders["Access-Control-Allow-Methods"] = "GET, POST, PUT, DELETE, PATCH"
			}
			if len(s.CORSAllowHeaders) > 0 {
				s.preflightHeaders["Access-Control-Allow-Headers"] = strings.Join(s.CORSAllowHeaders, ", ")
			}
			if s.CORSMaxAge > 0 {
				s.preflightHeaders["Access-Control-Max-Age"] = fmt.Sprintf("%.0f", s.CORSMaxAge.Seconds())
			}

			s.allowedOrigins = map[string]bool{}
			for _, origin := range s.CORSOrigins {
				s.allowedOrigins[origin] = true
			}
		}
		s.staticHeaders = static
	}
	return nil
}

// SecurityHeadersFromConfig reads the server.security.* keys.
func SecurityHeadersFromConfig() *SecurityHeaders {
	return &SecurityHeaders{
		XFramesOptions:        XFramesOptions(Config.String("server.security.xFramesOptions")),
		HSTSExpiration:        Config.Duration("server.security.hstsExpiration"),
		HSTSIncludeSubdomains: Config.Bool("server.security.hstsIncludeSubdomains"),
		HSTSPreload:           Config.Bool("server.security.hstsPreload"),
		CORSOrigins:           Config.Strings("server.security.corsOrigins"),
		CORSAllowMethods:      Config.Strings("server.security.corsAllowMethods"),
		CORSAllowHeaders:      Config.Strings("server.security.corsAllowHeaders"),
		CORSExposeHeaders:     Config.Strings("server.security.corsExposeHeaders"),
		CORSAllowCredentials:  Config.Bool("server.security.corsAllowCredentials"),
		CORSMaxAge:            Config.Duration("server.security.corsMaxAge"),
	}
}

// securityMiddleware applies the headers to every response and answers CORS
// preflight requests without calling h.
func securityMiddleware(h http.Handler, headers *SecurityHeaders) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := headers.Apply(w, r); err != nil {
			logging.TrackError(r.Context(), err)
			http.Error(w, errors.PublicMessage(err), errors.HTTPStatusCode(err))
			return
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func (s *SecurityHeaders) normalizeHeaders(h []string) {
	for i, v := range h {
		h[i] = textproto.CanonicalMIMEHeaderKey(v)
	}
}
