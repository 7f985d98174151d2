package scan

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zombor/receipt-reconciler/internal/receipt"
)

// Max upload size covers high-resolution phone photos.
const maxUploadBytes = int64(50 << 20)

// Server accepts receipt image uploads (the phone-shortcut target) and
// feeds them into the scan pipeline.
type Server struct {
	service   *Service
	index     receipt.Index
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, index receipt.Index, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, index, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, index receipt.Index, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		index:     index,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Receipt Reconciler"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /upload", s.requireAuth(s.handleUpload))
	s.mux.HandleFunc("POST /bb", s.requireAuth(s.handleUpload))

	s.mux.HandleFunc("GET /api/scans", s.requireAuth(s.handleListScans))
	s.mux.HandleFunc("DELETE /api/scans/{sha256}", s.requireAuth(s.handleDeleteScan))

	s.mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload receives one receipt image and saves a parsed draft.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := normalizeMultipartRequest(r); err != nil {
		slog.Error("Error normalizing multipart body", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Error reading request body"})
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			errorMsg = "File is too large. Maximum size is 50MB."
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errorMsg})
		return
	}

	f, header, err := formImageFile(r)
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file found in request"})
		return
	}
	defer f.Close()

	if header.Size > maxUploadBytes {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "File is too large. Maximum size is 50MB."})
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error reading file. Please try again."})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(header.Filename)))
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	result, err := s.service.Process(r.Context(), header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error processing receipt", "filename", header.Filename, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": "Receipt processing failed",
		})
		return
	}

	if result.Status == StatusDuplicate {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":         "success",
			"action":         "already_scanned",
			"message":        "Already scanned: " + filepath.Base(result.DraftPath),
			"draft_filename": filepath.Base(result.DraftPath),
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"status":         "success",
		"action":         "saved_for_review",
		"message":        "Saved for review: " + filepath.Base(result.DraftPath),
		"draft_filename": filepath.Base(result.DraftPath),
		"image_filename": result.Receipt.ImageFilename,
		"merchant":       result.Receipt.Merchant,
		"total":          result.Receipt.Total.StringFixed(2),
		"items":          len(result.Receipt.Items),
		"size_bytes":     len(data),
	})
}

// handleListScans returns every recorded scan.
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	records, err := s.index.ListScans()
	if err != nil {
		slog.Error("Error listing scans", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleDeleteScan forgets a scan record so the image can be
// re-scanned.
func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	sha := r.PathValue("sha256")
	if sha == "" {
		http.Error(w, "Scan SHA-256 required", http.StatusBadRequest)
		return
	}
	if err := s.index.DeleteScan(sha); err != nil {
		slog.Error("Error deleting scan record", "sha256", sha, "error", err)
		http.Error(w, "Error deleting scan record", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// formImageFile returns the first file part of the form, regardless of
// field name. Phone automation apps do not agree on one.
func formImageFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	f, header, err := r.FormFile("file")
	if err == nil {
		return f, header, nil
	}

	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			f, openErr := header.Open()
			if openErr != nil {
				return nil, nil, openErr
			}
			return f, header, nil
		}
	}
	return nil, nil, err
}

var lfBoundaryRe = regexp.MustCompile(`boundary=([^;]+)`)

// normalizeMultipartRequest rewrites multipart part headers to CRLF
// line endings. iPhone Shortcuts sends LF-only boundaries, which the
// multipart reader rejects.
func normalizeMultipartRequest(r *http.Request) error {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		return nil
	}
	m := lfBoundaryRe.FindStringSubmatch(contentType)
	if m == nil {
		return nil
	}
	boundary := strings.Trim(strings.TrimSpace(m[1]), `"`)

	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxUploadBytes+(1<<20)))
	if err != nil {
		return err
	}
	r.Body = io.NopCloser(bytes.NewReader(normalizeMultipartBody(body, boundary)))
	return nil
}

// normalizeMultipartBody converts LF-only part headers to CRLF while
// leaving the binary part bodies untouched.
func normalizeMultipartBody(body []byte, boundary string) []byte {
	boundaryBytes := []byte("--" + boundary)
	parts := bytes.Split(body, boundaryBytes)
	fixed := make([][]byte, 0, len(parts))

	for i, part := range parts {
		if i == 0 || len(part) == 0 || bytes.HasPrefix(part, []byte("--")) {
			fixed = append(fixed, part)
			continue
		}

		var leading []byte
		content := part
		switch {
		case bytes.HasPrefix(part, []byte("\r\n")):
			leading = []byte("\r\n")
			content = part[2:]
		case bytes.HasPrefix(part, []byte("\n")):
			leading = []byte("\n")
			content = part[1:]
		}

		var header, rest []byte
		if idx := bytes.Index(content, []byte("\r\n\r\n")); idx >= 0 {
			header, rest = content[:idx], content[idx+4:]
		} else if idx := bytes.Index(content, []byte("\n\n")); idx >= 0 {
			header, rest = content[:idx], content[idx+2:]
		} else {
			fixed = append(fixed, part)
			continue
		}

		header = bytes.ReplaceAll(header, []byte("\r\n"), []byte("\n"))
		header = bytes.ReplaceAll(header, []byte("\n"), []byte("\r\n"))

		normalized := append([]byte{}, leading...)
		normalized = append(normalized, header...)
		normalized = append(normalized, []byte("\r\n\r\n")...)
		normalized = append(normalized, rest...)
		fixed = append(fixed, normalized)
	}

	return bytes.Join(fixed, boundaryBytes)
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.mux)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
