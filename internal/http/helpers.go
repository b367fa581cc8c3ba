package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"finstats/internal/core"
)

const (
	sessionCookie = "finstats_session"
	themeCookie   = "finstats_theme"
	maxTokenLen   = 4096
)

// isHTMX reports whether r was issued by htmx.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// redirect sends the browser to target. HTMX requests get HX-Redirect so
// the whole page navigates instead of swapping the target into a partial.
func redirect(w http.ResponseWriter, r *http.Request, target string) {
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// parsePage reads a 1-based page number; anything unparsable is page 1.
// Out of range pages are clamped by the view.
func parsePage(r *http.Request) int {
	if v := strings.TrimSpace(r.URL.Query().Get("page")); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			return p
		}
	}
	return 1
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func (s *Server) mode(r *http.Request) core.Mode {
	if c, err := r.Cookie(themeCookie); err == nil {
		if m, err := core.ParseMode(c.Value); err == nil {
			return m
		}
	}
	return s.opts.DefaultMode
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	s.setCookie(w, sessionCookie, "", -1)
}

// session returns the caller's session, if any.
func (s *Server) session(r *http.Request) (*session, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, false
	}
	return s.sessions.get(c.Value)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
