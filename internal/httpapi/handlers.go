package httpapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loqalabs/loqa-voiceclone/internal/artifact"
	"github.com/loqalabs/loqa-voiceclone/internal/eventstore"
	"github.com/loqalabs/loqa-voiceclone/internal/pipeline"
)

const (
	downloadName = "cloned_voice.wav"
	// maxFieldBytes bounds each plain form field, text included.
	maxFieldBytes = 32 << 20
)

var (
	errInvalidForm   = errors.New("invalid multipart form")
	errInvalidUpload = errors.New("invalid voice upload")
	errFieldTooLarge = errors.New("form field too large")
	errVoiceTooLarge = errors.New("voice too large")
)

// readCloneForm streams the multipart body part by part so each limit
// applies to the part it is about. A voice part that is present but empty
// yields a non-nil empty Voice.
func (s *Server) readCloneForm(r *http.Request) (pipeline.Request, error) {
	var req pipeline.Request
	mr, err := r.MultipartReader()
	if err != nil {
		return req, errInvalidForm
	}
	var haveText, haveLanguage bool
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return req, nil
		}
		if err != nil {
			return req, errInvalidForm
		}

		isFile := part.FileName() != ""
		switch name := part.FormName(); {
		case name == "voice" && isFile && req.Voice == nil:
			data, over, err := readLimited(part, s.deps.MaxVoiceBytes)
			if err != nil {
				part.Close()
				return req, errInvalidUpload
			}
			if over {
				part.Close()
				return req, errVoiceTooLarge
			}
			if data == nil {
				data = []byte{}
			}
			req.Voice = data
		case (name == "text" && !haveText || name == "language" && !haveLanguage) && !isFile:
			data, over, err := readLimited(part, maxFieldBytes)
			if err != nil {
				part.Close()
				return req, errInvalidForm
			}
			if over {
				part.Close()
				return req, errFieldTooLarge
			}
			if name == "text" {
				req.Text, haveText = string(data), true
			} else {
				req.Language, haveLanguage = string(data), true
			}
		}
		part.Close()
	}
}

// readLimited reads r completely, or stops one byte past a positive limit
// and reports over.
func readLimited(r io.Reader, limit int64) (data []byte, over bool, err error) {
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	data, err = io.ReadAll(r)
	if err != nil {
		return nil, false, err
	}
	return data, limit > 0 && int64(len(data)) > limit, nil
}

func (s *Server) handleClone(w http.ResponseWriter, r *http.Request) {
	req, err := s.readCloneForm(r)
	switch {
	case errors.Is(err, errVoiceTooLarge):
		s.rejectTooLarge(w)
		return
	case errors.Is(err, errFieldTooLarge):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("text exceeds %d MB", maxFieldBytes>>20))
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.deps.Runs.Submit(r.Context(), req)
	if res.RunID != "" {
		w.Header().Set("X-Run-ID", res.RunID)
	}
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.log.Error("clone request failed",
				slog.String("run_id", res.RunID),
				slog.String("kind", pipeline.KindOf(err).String()),
				slog.String("error", err.Error()))
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"audio_url": "/api/download/" + res.ArtifactID.Filename()})
}

func (s *Server) rejectTooLarge(w http.ResponseWriter) {
	writeError(w, http.StatusBadRequest, fmt.Sprintf("%s of %d MB", pipeline.ErrVoiceTooLarge, s.deps.MaxVoiceBytes>>20))
}

func statusFor(err error) int {
	if errors.Is(err, pipeline.ErrSaturated) {
		return http.StatusServiceUnavailable
	}
	switch pipeline.KindOf(err) {
	case pipeline.KindClientInput:
		return http.StatusBadRequest
	case pipeline.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := artifact.ParseID(chi.URLParam(r, "filename"))
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	f, err := s.deps.Artifacts.Open(id)
	if errors.Is(err, artifact.ErrNotFound) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		s.log.Error("failed to open artifact", slog.String("artifact", string(id)), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	http.ServeContent(w, r, downloadName, info.ModTime(), f)
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"languages": s.deps.Languages})
}

type runEventView struct {
	State  string    `json:"state"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

type runView struct {
	RunID      string         `json:"run_id"`
	State      string         `json:"state"`
	Language   string         `json:"language"`
	Segments   int            `json:"segments"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	AudioURL   string         `json:"audio_url,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Events     []runEventView `json:"events"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	runID := chi.URLParam(r, "id")
	run, err := s.deps.Ledger.GetRun(r.Context(), runID)
	if errors.Is(err, eventstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	events, err := s.deps.Ledger.ListRunEvents(r.Context(), runID, 200)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load run events")
		return
	}

	view := runView{
		RunID:     run.ID,
		State:     run.State,
		Language:  run.Language,
		Segments:  run.Segments,
		ErrorKind: run.ErrorKind,
		CreatedAt: run.CreatedAt,
		Events:    make([]runEventView, 0, len(events)),
	}
	if run.ArtifactID != "" {
		view.AudioURL = "/api/download/" + artifact.ID(run.ArtifactID).Filename()
	}
	if !run.FinishedAt.IsZero() {
		view.FinishedAt = &run.FinishedAt
	}
	for _, e := range events {
		view.Events = append(view.Events, runEventView{State: e.Type, Detail: e.Detail, At: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, view)
}
