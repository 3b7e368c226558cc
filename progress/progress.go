// Package progress defines the sink the pipelines report stage boundaries
// to. The transport decides what a stage looks like to the user; the
// pipelines only promise to call Notify with a stage key and a few fields.
package progress

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"birthday_bot/logging"

	"go.uber.org/zap"
)

// Stage keys reported by the pipelines.
const (
	TranslationStart       = "translation_start"
	TranslationDone        = "translation_done"
	ModelLoadingStart      = "model_loading_start"
	ModelLoadingDone       = "model_loading_done"
	ImageGenerationStart   = "image_generation_start"
	ImageGenerationDone    = "image_generation_done"
	SpeechRecognitionStart = "speech_recognition_start"
	SpeechRecognitionDone  = "speech_recognition_done"
	SendingImages          = "sending_images"
)

// Field keys. Start stages carry ExpectedTime in whole seconds, done
// stages carry ActualTime in fractional seconds.
const (
	ExpectedTime = "expected_time"
	ActualTime   = "actual_time"
	NumImages    = "num_images"
	Translated   = "translated"
)

// Fields are the stage payload: numbers, strings or bools.
type Fields map[string]any

// Notifier receives stage boundaries. Implementations must be safe for
// concurrent use and should return quickly.
type Notifier interface {
	Notify(stage string, fields Fields)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(stage string, fields Fields)

func (f NotifierFunc) Notify(stage string, fields Fields) { f(stage, fields) }

type nop struct{}

func (nop) Notify(string, Fields) {}

// Nop drops every notification.
var Nop Notifier = nop{}

// OrNop returns n, or Nop when n is nil.
func OrNop(n Notifier) Notifier {
	if n == nil {
		return Nop
	}
	return n
}

// Elapsed formats d as an ActualTime value.
func Elapsed(d time.Duration) float64 {
	return float64(d.Milliseconds()) / 1000
}

type multi []Notifier

func (m multi) Notify(stage string, fields Fields) {
	for _, n := range m {
		n.Notify(stage, fields)
	}
}

// Multi fans out to every non-nil notifier.
func Multi(ns ...Notifier) Notifier {
	var out multi
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return Nop
	}
	return out
}

// Log writes each stage to logger at debug level.
func Log(logger *logging.Logger) Notifier {
	return NotifierFunc(func(stage string, fields Fields) {
		logger.Debug("Progress", logging.Stage(stage), zap.Any("fields", fields))
	})
}

// Event is one recorded notification.
type Event struct {
	Stage  string `json:"stage"`
	Fields Fields `json:"fields,omitempty"`
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Notify(stage string, fields Fields) {
	r.mu.Lock()
	r.events = append(r.events, Event{Stage: stage, Fields: fields})
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Stages returns the recorded stage keys in order.
func (r *Recorder) Stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Stage
	}
	return out
}

// JSONLines streams each notification as one NDJSON object
// {"type":"progress","stage":...,"fields":{...}} and calls flush after
// every line. Write errors are dropped; the request keeps running.
type JSONLines struct {
	mu    sync.Mutex
	enc   *json.Encoder
	flush func()
}

func NewJSONLines(w io.Writer, flush func()) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w), flush: flush}
}

func (j *JSONLines) Notify(stage string, fields Fields) {
	j.Write(map[string]any{"type": "progress", "stage": stage, "fields": fields})
}

// Write emits an arbitrary object on the same stream.
func (j *JSONLines) Write(v any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.enc.Encode(v)
	if j.flush != nil {
		j.flush()
	}
}
