package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dompet/internal/core"
	"dompet/internal/log"
	"dompet/internal/middleware/trace"
)

// HeaderOwner carries the authenticated user id set by the auth proxy.
const HeaderOwner = "X-User-ID"

const (
	maxJSONBytes   = 1 << 20
	maxUploadBytes = 10 << 20
	dateLayout     = "2006-01-02"
)

var (
	errMissingOwnerHeader = errors.New("missing " + HeaderOwner + " header")
	errMalformedBody      = errors.New("malformed request body")
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	body := errorBody{Error: err.Error(), RequestID: trace.GetRequestID(ctx)}
	status := http.StatusInternalServerError

	var perr *core.PartialReconciliationError
	switch {
	case errors.Is(err, errMissingOwnerHeader):
		status, body.Code = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, errMalformedBody):
		status, body.Code = http.StatusBadRequest, "malformed_request"
	case errors.As(err, &perr):
		status, body.Code, body.GroupID = http.StatusServiceUnavailable, "partial_reconciliation", perr.GroupID
		w.Header().Set("Retry-After", "30")
	case errors.Is(err, core.ErrInvalidInput):
		status, body.Code = http.StatusUnprocessableEntity, "invalid_input"
	case errors.Is(err, core.ErrNotFound):
		status, body.Code = http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrInsufficientBalance):
		status, body.Code = http.StatusConflict, "insufficient_balance"
	case errors.Is(err, core.ErrConflict):
		status, body.Code = http.StatusConflict, "conflict"
	default:
		body.Code = "internal"
		body.Error = "internal error"
	}

	if status >= 500 {
		s.logger.ErrorContext(ctx, "Request failed",
			log.FieldPath, r.URL.Path,
			log.FieldMethod, r.Method,
			log.FieldStatusCode, status,
			log.FieldError, err)
	} else {
		s.logger.DebugContext(ctx, "Request rejected",
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, status,
			log.FieldError, err)
	}
	writeJSON(w, status, body)
}

// ownerID reads the caller identity. Authentication happens upstream.
func ownerID(r *http.Request) (string, error) {
	id := sanitizeInput(r.Header.Get(HeaderOwner))
	if id == "" {
		return "", errMissingOwnerHeader
	}
	return id, nil
}

// sanitizeInput removes potentially dangerous characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// parseDate accepts YYYY-MM-DD or RFC 3339. A bare date is read in loc.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD or RFC 3339", core.ErrInvalidInput, s)
	}
	return t, nil
}

// parseLimit reads ?limit=N, returning 0 when absent.
func parseLimit(r *http.Request) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get("limit"))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", core.ErrInvalidInput)
	}
	return n, nil
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// requestForm is a write request decoded from JSON or multipart. ImagePath
// names a staged temp file the caller must remove with cleanup.
type requestForm struct {
	values    map[string]string
	imagePath string
}

func (f *requestForm) get(key string) string {
	return sanitizeInput(f.values[key])
}

func (f *requestForm) has(key string) bool {
	_, ok := f.values[key]
	return ok
}

func (f *requestForm) cleanup() {
	if f.imagePath != "" {
		_ = os.Remove(f.imagePath)
	}
}

// readForm decodes a JSON object of scalars, or a multipart form whose
// optional "image" part is staged under stagingDir.
func readForm(w http.ResponseWriter, r *http.Request, stagingDir string) (*requestForm, error) {
	form := &requestForm{values: map[string]string{}}

	if !isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
		var raw map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return form, nil
			}
			return nil, fmt.Errorf("%w: %v", errMalformedBody, err)
		}
		for k, v := range raw {
			switch val := v.(type) {
			case string:
				form.values[k] = val
			case json.Number:
				form.values[k] = val.String()
			case bool:
				form.values[k] = strconv.FormatBool(val)
			case nil:
				form.values[k] = ""
			default:
				return nil, fmt.Errorf("%w: field %q must be a scalar", errMalformedBody, k)
			}
		}
		return form, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	for k, vs := range r.MultipartForm.Value {
		if len(vs) > 0 {
			form.values[k] = vs[0]
		}
	}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return form, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: image: %v", errMalformedBody, err)
	}
	defer file.Close()

	staged, err := os.CreateTemp(stagingDir, "upload-*"+strings.ToLower(filepath.Ext(header.Filename)))
	if err != nil {
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	form.imagePath = staged.Name()
	if _, err := io.Copy(staged, file); err != nil {
		staged.Close()
		form.cleanup()
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	if err := staged.Close(); err != nil {
		form.cleanup()
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	return form, nil
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(s))
	return b
}
