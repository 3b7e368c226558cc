package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"birthday_bot/generation"
	"birthday_bot/logging"
	"birthday_bot/progress"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// GenerateRequest is the body of POST /v1/generations.
type GenerateRequest struct {
	Text   string `json:"text"`
	UserID int64  `json:"user_id"`
}

// GenerateResponse is the final result of a generation.
type GenerateResponse struct {
	RequestID   string   `json:"request_id"`
	Directory   string   `json:"directory"`
	Images      []string `json:"images"`
	UsedContent string   `json:"used_content"`
	Translated  bool     `json:"translated"`
	Prompt      string   `json:"prompt"`
	DeviceID    string   `json:"device_id"`
	Seed        int64    `json:"seed"`
	DurationMS  int64    `json:"duration_ms"`
}

func toResponse(res *generation.Result) GenerateResponse {
	return GenerateResponse{
		RequestID:   res.RequestID,
		Directory:   res.Directory,
		Images:      res.Paths,
		UsedContent: res.UsedContent,
		Translated:  res.Translated,
		Prompt:      res.Prompt,
		DeviceID:    res.DeviceID,
		Seed:        res.Seed,
		DurationMS:  res.Duration.Milliseconds(),
	}
}

// generate answers with one JSON object, or with an NDJSON stream of
// progress lines followed by a result or error line when the client
// accepts application/x-ndjson.
func (s *server) generate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Generator == nil {
		writeJSONError(w, http.StatusNotFound, "generation not available")
		return
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	var body GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeJSONError(w, http.StatusBadRequest, "text is required")
		return
	}

	ctx, cancel := s.requestContext(r, s.opts.RequestTimeout)
	defer cancel()
	logger := s.logger.With(logging.UserID(body.UserID))
	req := generation.Request{Text: body.Text, UserID: body.UserID, Progress: progress.Log(logger)}

	if !wantsNDJSON(r) {
		res, err := s.deps.Generator.Generate(ctx, req)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toResponse(res))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	stream := progress.NewJSONLines(w, flush)
	req.Progress = progress.Multi(stream, req.Progress)

	res, err := s.deps.Generator.Generate(ctx, req)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		stream.Write(map[string]any{"type": "error", "error": err.Error(), "code": statusFor(err)})
		return
	}
	stream.Notify(progress.SendingImages, progress.Fields{progress.NumImages: len(res.Paths)})
	stream.Write(struct {
		Type string `json:"type"`
		GenerateResponse
	}{"result", toResponse(res)})
}

func (s *server) listGenerations(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSONError(w, http.StatusNotFound, "history is disabled")
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeJSONError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	rows, err := s.deps.History.ListByUser(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error("History query failed", logging.UserID(userID), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "generations": rows})
}

func secondsParam(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, strconv.ErrSyntax
	}
	return time.Duration(f * float64(time.Second)), nil
}
