package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"birthday_bot/generation"
	"birthday_bot/logging"
	"birthday_bot/progress"
	"birthday_bot/speech"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TranscribeResponse is the result of POST /v1/transcriptions.
type TranscribeResponse struct {
	Text          string  `json:"text"`
	DeviceID      string  `json:"device_id"`
	AudioDuration float64 `json:"audio_duration"`
	ElapsedMS     int64   `json:"elapsed_ms"`
}

// transcribe accepts multipart form fields file, user_id and an optional
// duration in seconds.
func (s *server) transcribe(w http.ResponseWriter, r *http.Request) {
	if s.deps.Transcriber == nil {
		writeJSONError(w, http.StatusNotFound, "transcription not available")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	var userID int64
	if v := r.FormValue("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		userID = id
	}
	dur, err := secondsParam(r.FormValue("duration"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid duration")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	path, err := s.saveUpload(file, header.Filename)
	if err != nil {
		s.logger.Error("Failed to store upload", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	defer os.Remove(path)

	ctx, cancel := s.requestContext(r, 0)
	defer cancel()
	logger := s.logger.With(logging.UserID(userID))
	res, err := s.deps.Transcriber.Transcribe(ctx, speech.Request{
		AudioPath: path,
		UserID:    userID,
		Duration:  dur,
		Progress:  progress.Log(logger),
	})
	if err != nil {
		s.observeTranscription(generation.OutcomeFailure)
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	s.observeTranscription(generation.OutcomeSuccess)
	writeJSON(w, http.StatusOK, TranscribeResponse{
		Text:          res.Text,
		DeviceID:      res.DeviceID,
		AudioDuration: res.AudioDuration.Seconds(),
		ElapsedMS:     res.Elapsed.Milliseconds(),
	})
}

// saveUpload copies the upload under a random name, keeping the original
// extension so format validation still applies.
func (s *server) saveUpload(src io.Reader, name string) (string, error) {
	dir := s.opts.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	path := filepath.Join(dir, fmt.Sprintf("upload_%s%s", uuid.NewString(), ext))
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	return path, dst.Close()
}

func (s *server) observeTranscription(outcome string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveTranscription(outcome)
	}
}
