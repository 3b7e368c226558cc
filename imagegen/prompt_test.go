package imagegen

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestBuild_IncludesSegmentsInOrder(t *testing.T) {
	tmpl := DefaultPromptTemplates()
	got := tmpl.Build("a cake with candles")

	order := []string{tmpl.Picture, tmpl.Style, tmpl.Subject, "a cake with candles"}
	last := -1
	for _, seg := range order {
		i := strings.Index(got, seg)
		if i < 0 {
			t.Fatalf("Build() = %q, missing %q", got, seg)
		}
		if i <= last {
			t.Fatalf("Build() = %q, segment %q out of order", got, seg)
		}
		last = i
	}
}

func TestBuild_OmitsStyleWhenContentHasIt(t *testing.T) {
	tmpl := DefaultPromptTemplates()
	for _, content := range []string{"watercolor style", "STYLE: pixel art", "Hat, Style: retro"} {
		got := tmpl.Build(content)
		if strings.Contains(got, tmpl.Style) || strings.Contains(got, "<style>") {
			t.Errorf("Build(%q) = %q, style segment not omitted", content, got)
		}
		if !strings.Contains(got, tmpl.Picture) || !strings.Contains(got, tmpl.Subject) || !strings.HasSuffix(got, "<content>"+content+"</content>") {
			t.Errorf("Build(%q) = %q, missing segments", content, got)
		}
	}
}

func TestBuild_KeepsStyleForNearMisses(t *testing.T) {
	tmpl := DefaultPromptTemplates()
	for _, content := range []string{"Stylish hat", "sty le", "styling gel"} {
		got := tmpl.Build(content)
		if !strings.Contains(got, tmpl.Style) {
			t.Errorf("Build(%q) = %q, style segment dropped", content, got)
		}
	}
}

func TestBuild_ContentIsNotExpanded(t *testing.T) {
	tmpl := DefaultPromptTemplates()
	got := tmpl.Build("{subject}")
	if !strings.Contains(got, "<content>{subject}</content>") {
		t.Errorf("Build() = %q, placeholder in content was expanded", got)
	}
}

func TestBuildWithin(t *testing.T) {
	tmpl := DefaultPromptTemplates()
	long := strings.Repeat("с днём рождения ", 60)
	tests := []struct {
		name          string
		content       string
		limit         int
		wantTruncated bool
		wantStyle     bool
	}{
		{"fits", "a cake", MaxPromptLength, false, true},
		{"cyrillic cut on rune boundary", long, MaxPromptLength, true, true},
		{"style choice kept from full content", long + " style", MaxPromptLength, true, false},
		{"template alone too long", "a cake", 10, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated := tmpl.BuildWithin(tt.content, tt.limit)
			if truncated != tt.wantTruncated {
				t.Errorf("truncated = %v, want %v", truncated, tt.wantTruncated)
			}
			if !utf8.ValidString(got) {
				t.Errorf("BuildWithin() produced invalid UTF-8")
			}
			if tt.wantTruncated && len(got) > tt.limit {
				t.Errorf("len = %d, want <= %d", len(got), tt.limit)
			}
			if !tt.wantTruncated && got != tmpl.Build(tt.content) {
				t.Errorf("BuildWithin() = %q, want Build() output", got)
			}
			if has := strings.Contains(got, "<style>"); has != tt.wantStyle {
				t.Errorf("style segment = %v, want %v", has, tt.wantStyle)
			}
		})
	}
}
