package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/go-chi/chi/v5"
)

const (
	// multipartMemory is how much of a multipart body is kept in memory
	// before spilling to temp files.
	multipartMemory = 32 << 20

	// formOverhead covers multipart boundaries and small form fields.
	formOverhead = 1 << 20

	sheetField   = "sheet"
	archiveField = "images"
)

// handleStageImport reads the sheet and optional image archive, validates
// them and returns the staged import with every problem found.
func (s *Server) handleStageImport(w http.ResponseWriter, r *http.Request) {
	ic := s.cfg.Import
	r.Body = http.MaxBytesReader(w, r.Body, ic.MaxSheetSize+ic.MaxArchiveSize+formOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.respondError(w, r, err, http.StatusRequestEntityTooLarge)
			return
		}
		s.respondError(w, r, fmt.Errorf("invalid request: %w", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	sheet, sheetName, err := readFormFile(r, sheetField, ic.MaxSheetSize)
	if errors.Is(err, http.ErrMissingFile) {
		s.respondError(w, r, errors.New("no file provided"), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	archive, _, err := readFormFile(r, archiveField, ic.MaxArchiveSize)
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		s.respondError(w, r, err, 0)
		return
	}

	staged, err := s.service.Stage(r.Context(), core.StageInput{
		SheetName: sheetName,
		Sheet:     sheet,
		Archive:   archive,
	})
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	w.Header().Set("Location", "/api/imports/"+staged.ID)
	writeJSON(w, http.StatusCreated, staged)
}

// readFormFile reads one uploaded file, refusing anything over limit.
func readFormFile(r *http.Request, field string, limit int64) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	if header.Size > limit {
		return nil, header.Filename, fmt.Errorf("%s: file too large (%d bytes, limit %d)", header.Filename, header.Size, limit)
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, header.Filename, fmt.Errorf("read %s: %w", field, err)
	}
	if int64(len(data)) > limit {
		return nil, header.Filename, fmt.Errorf("%s: file too large (limit %d)", header.Filename, limit)
	}
	return data, header.Filename, nil
}

// handleRevalidateImport re-runs the store and image checks.
func (s *Server) handleRevalidateImport(w http.ResponseWriter, r *http.Request) {
	staged, err := s.service.Revalidate(r.Context(), chi.URLParam(r, "importID"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, staged)
}

// commitRequest lists how store conflicts are resolved.
type commitRequest struct {
	Replace []string `json:"replace" validate:"omitempty,max=10000,dive,required,max=100"`
	Skip    []string `json:"skip" validate:"omitempty,max=10000,dive,required,max=100"`
}

// handleCommitImport starts the commit and returns immediately. Clients
// follow it through the progress stream or the result endpoint.
func (s *Server) handleCommitImport(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	var req commitRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	err := s.service.StartCommit(r.Context(), importID, core.CommitRequest{
		Replace: req.Replace,
		Skip:    req.Skip,
	})
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	logging.WithFields(r.Context(), "import_id", importID).Info("commit accepted",
		"replace", len(req.Replace),
		"skip", len(req.Skip),
	)

	progress, err := s.service.GetProgress(importID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	w.Header().Set("Location", "/api/imports/"+importID+"/result")
	writeJSON(w, http.StatusAccepted, progress)
}

// decodeJSON decodes an optional JSON body into v and validates it.
// An empty body leaves v at its zero value.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, formOverhead)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request: %w", err)
	}
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

// handleImportProgress streams commit progress via Server-Sent Events.
// Supports resumption through the Last-Event-ID header or lastEventId query
// parameter; the event id is the progress percentage.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	lastEventIDStr := r.Header.Get("Last-Event-ID")
	if lastEventIDStr == "" {
		lastEventIDStr = r.URL.Query().Get("lastEventId")
	}
	lastEventID, resumed := -1, false
	if n, err := strconv.Atoi(lastEventIDStr); err == nil {
		lastEventID, resumed = n, true
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	progressCh, err := s.service.SubscribeProgress(importID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var last core.ImportProgress
	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				// Channel closed: commit finished or the import was discarded.
				// Updates may have been dropped for a slow reader, so prefer
				// the session's final state.
				if final, err := s.service.GetProgress(importID); err == nil {
					last = final
				}
				data, _ := json.Marshal(last)
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				flusher.Flush()
				return
			}
			last = progress

			// Terminal events are always sent so a resumed client learns the outcome
			terminal := progress.Phase == core.PhaseComplete || progress.Phase == core.PhaseFailed
			if resumed && progress.Percent <= lastEventID && !terminal {
				continue
			}

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.Percent, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// importResultResponse is the body of the result endpoint.
type importResultResponse struct {
	ImportID string             `json:"importId"`
	Phase    core.ImportPhase   `json:"phase"`
	Result   *core.CommitResult `json:"result,omitempty"`
	Error    *ErrorResponse     `json:"error,omitempty"`
}

// handleImportResult returns the commit outcome. While the commit runs it
// answers 202 with the current progress, unless ?wait=true asks it to block.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

	var (
		result *core.CommitResult
		err    error
	)
	if wait {
		result, err = s.service.GetCommitResult(r.Context(), importID)
	} else {
		var done bool
		result, done, err = s.service.CommitOutcome(importID)
		if err == nil && !done {
			progress, perr := s.service.GetProgress(importID)
			if perr != nil {
				s.respondError(w, r, perr, 0)
				return
			}
			writeJSON(w, http.StatusAccepted, progress)
			return
		}
	}

	resp := importResultResponse{ImportID: importID, Phase: core.PhaseComplete, Result: result}
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) || errors.Is(err, core.ErrNotReady) || r.Context().Err() != nil {
			s.respondError(w, r, err, 0)
			return
		}
		// The commit ran and failed; report it as the outcome
		logging.WithFields(r.Context(), "import_id", importID).Warn("commit failed", "error", err)
		errResp := newErrorResponse(core.MapError(err))
		resp.Phase = core.PhaseFailed
		resp.Error = &errResp
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDiscardImport drops a staged import.
func (s *Server) handleDiscardImport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Discard(chi.URLParam(r, "importID")); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleImportStatus reports commit slot usage.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.LimiterStatus())
}

// handleDownloadTemplate serves the XLSX template with example rows.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	data, err := core.GenerateTemplate(s.cfg.Import.Palette, s.cfg.Import.ImageExt)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="product_import_template.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}
