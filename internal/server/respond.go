package server

import (
	"encoding/json"
	"io"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/robinclaw/robinclaw/internal/apperr"
	"github.com/robinclaw/robinclaw/pkg/logger"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// writeAppError renders err by its kind. Internal causes are logged, never returned.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		logger.WithField("request_id", w.Header().Get(requestIDHeader)).
			Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, map[string]any{"error": apperr.Message(err)})
}

// flexFloat accepts a JSON number, a numeric string, or null. NaN and infinities are Bad.
type flexFloat struct {
	V   float64
	Set bool
	Bad bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		f.Bad = true
		return nil
	}
	f.V, f.Set = v, true
	return nil
}

// decodeBody fills dst from a JSON body, or from a form body when the request says so.
// An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			return apperr.Validation("invalid form body")
		}
		return decodeForm(r.PostForm, dst)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return apperr.Validation("invalid body")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.Validation("invalid json body")
	}
	return nil
}

// decodeForm maps form fields onto dst's json tags by re-encoding them as JSON
// strings. Numeric fields must therefore be flexFloat.
func decodeForm(form url.Values, dst any) error {
	m := make(map[string]string, len(form))
	for k := range form {
		m[k] = form.Get(k)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return apperr.Validation("invalid form body")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Validation("invalid form body")
	}
	return nil
}

func queryInt(r *http.Request, key string, def, min, max int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		return def
	}
	return n
}
