package devices

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNoDevices       = errors.New("devices: no devices configured")
	ErrDuplicateDevice = errors.New("devices: duplicate device id")
	ErrNoEndpoint      = errors.New("devices: no endpoint for device")
)

// Assignment binds a device id to the inference endpoint that hosts the
// model on that device.
type Assignment struct {
	ID       string `yaml:"id" json:"id"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// ParseAssignments parses "cuda:0=http://127.0.0.1:7860,cuda:1,cpu".
// Entries without "=" get their endpoint from the pool template later.
func ParseAssignments(s string) ([]Assignment, error) {
	var out []Assignment
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, endpoint, _ := strings.Cut(part, "=")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("devices: empty device id in %q", part)
		}
		out = append(out, Assignment{ID: id, Endpoint: strings.TrimSpace(endpoint)})
	}
	if len(out) == 0 {
		return nil, ErrNoDevices
	}
	return out, nil
}

// FormatAssignments is the inverse of ParseAssignments.
func FormatAssignments(list []Assignment) string {
	parts := make([]string, len(list))
	for i, a := range list {
		if a.Endpoint == "" {
			parts[i] = a.ID
			continue
		}
		parts[i] = a.ID + "=" + a.Endpoint
	}
	return strings.Join(parts, ",")
}

// ExpandEndpoint fills {index} and {device} in template for id. For
// "cuda:1" and "http://127.0.0.1:786{index}" it returns
// "http://127.0.0.1:7861". CPU devices substitute index 0.
func ExpandEndpoint(template, id string) string {
	idx := Index(id)
	if idx < 0 {
		idx = 0
	}
	r := strings.NewReplacer("{index}", strconv.Itoa(idx), "{device}", id)
	return r.Replace(template)
}

// Resolve expands "auto" entries through detect, fills missing endpoints
// from template and rejects duplicates. The returned order follows list.
func Resolve(ctx context.Context, list []Assignment, template string, detect Detector) ([]Assignment, error) {
	if len(list) == 0 {
		return nil, ErrNoDevices
	}

	var expanded []Assignment
	for _, a := range list {
		if !strings.EqualFold(a.ID, Auto) {
			expanded = append(expanded, a)
			continue
		}
		ids := []string{string(CPU)}
		if detect != nil {
			gpus, err := detect.Detect(ctx)
			if err == nil && len(gpus) > 0 {
				ids = ids[:0]
				for _, g := range gpus {
					ids = append(ids, g.DeviceID())
				}
			}
		}
		for _, id := range ids {
			expanded = append(expanded, Assignment{ID: id, Endpoint: a.Endpoint})
		}
	}

	seen := make(map[string]bool, len(expanded))
	for i := range expanded {
		a := &expanded[i]
		if seen[a.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDevice, a.ID)
		}
		seen[a.ID] = true
		if a.Endpoint == "" {
			if template == "" {
				return nil, fmt.Errorf("%w: %s", ErrNoEndpoint, a.ID)
			}
			a.Endpoint = ExpandEndpoint(template, a.ID)
		}
	}
	return expanded, nil
}

// IDs returns the device ids of list in order.
func IDs(list []Assignment) []string {
	ids := make([]string, len(list))
	for i, a := range list {
		ids[i] = a.ID
	}
	return ids
}
