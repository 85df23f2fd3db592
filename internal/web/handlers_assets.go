package web

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

// presignRequest names one image the client will PUT directly.
type presignRequest struct {
	Name        string `json:"name" validate:"required,max=255,excludesall=/\\"`
	ContentType string `json:"contentType" validate:"omitempty,max=100"`
}

// handlePresign returns a presigned PUT URL for a single product image so
// large images can bypass the archive.
func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request) {
	if s.presigner == nil {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{
			Error:   "direct upload is not configured",
			Message: "direct upload is not configured",
			Code:    "UPL003",
		})
		return
	}

	var req presignRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	ext := s.cfg.Import.ImageExt
	if ext == "" {
		ext = core.DefaultImageExt
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if !strings.EqualFold(path.Ext(req.Name), ext) {
		err := fmt.Errorf("invalid request: image name must look like {sku}_{color}_<n>%s", ext)
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	folder := s.cfg.Import.AssetFolder
	if folder == "" {
		folder = core.DefaultAssetFolder
	}

	upload, err := s.presigner.PresignPut(r.Context(), folder, req.Name, req.ContentType)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, upload)
}
