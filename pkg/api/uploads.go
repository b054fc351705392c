package api

import (
	"net/http"
)

// maxUploadMemory bounds how much of a multipart request net/http's
// ParseMultipartForm parses
// into memory before spilling remaining parts to temp files.
const maxUploadMemory = 32 << 20

func (s *Server) createUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "constraint_violation", "malformed multipart form")
		return
	}
	bundle, err := s.uploads.Create(r.Context(), r.MultipartForm)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bundle)
}
