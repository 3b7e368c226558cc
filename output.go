package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"birthday_bot/devicepool"
	"birthday_bot/progress"
	"birthday_bot/registry"

	"github.com/fatih/color"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	failColor   = color.New(color.FgRed)
	dimColor    = color.New(color.FgHiBlack)
)

func healthColor(h devicepool.Health) *color.Color {
	switch h {
	case devicepool.HealthHealthy:
		return okColor
	case devicepool.HealthDegraded, devicepool.HealthInitializing:
		return warnColor
	default:
		return failColor
	}
}

// printStatus renders a registry status as a table.
func printStatus(w io.Writer, st registry.Status) {
	headerColor.Fprintf(w, "birthday_bot status")
	if st.Healthy {
		okColor.Fprintln(w, "  healthy")
	} else {
		failColor.Fprintln(w, "  unhealthy")
	}
	fprintf(w, "model: %s\n\n", st.Model)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fprintf(tw, "POOL\tHEALTH\tLOADED\tAVAILABLE\tLEASED\tFAILED\tWAITING\tDEVICES\n")
	for _, p := range []devicepool.Status{st.Images, st.Translation, st.Transcription} {
		fprintf(tw, "%s\t%s\t%d/%d\t%d\t%d\t%d\t%d\t%s\n",
			p.Name, healthColor(p.Health).Sprint(p.Health), p.Loaded, p.Total,
			p.Available, p.Leased, p.Failed, p.Waiting, strings.Join(p.Devices, ","))
	}
	_ = tw.Flush()

	fprintf(w, "\nqueue: %d/%d waiting, %d admitted, %d rejected\n",
		st.Admission.Backlog, st.Admission.MaxQueueSize, st.Admission.Admitted, st.Admission.Rejected)

	for _, p := range []devicepool.Status{st.Images, st.Translation, st.Transcription} {
		ids := make([]string, 0, len(p.Failures))
		for id := range p.Failures {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			failColor.Fprintf(w, "%s %s: %s\n", p.Name, id, p.Failures[id])
		}
	}
}

// consoleProgress prints stage notifications for one-shot commands.
type consoleProgress struct {
	mu sync.Mutex
	w  io.Writer
}

func newConsoleProgress(w io.Writer) *consoleProgress { return &consoleProgress{w: w} }

func (c *consoleProgress) Notify(stage string, fields progress.Fields) {
	c.mu.Lock()
	defer c.mu.Unlock()
	label := strings.ReplaceAll(stage, "_", " ")
	switch {
	case strings.HasSuffix(stage, "_start"):
		detail := ""
		if v, ok := fields[progress.ExpectedTime]; ok {
			detail = fmt.Sprintf(" (about %vs)", v)
		}
		warnColor.Fprintf(c.w, "… %s%s\n", label, detail)
	case strings.HasSuffix(stage, "_done"):
		detail := ""
		if v, ok := fields[progress.ActualTime]; ok {
			detail = fmt.Sprintf(" in %.1fs", toFloat(v))
		}
		okColor.Fprintf(c.w, "✓ %s%s\n", label, detail)
	default:
		dimColor.Fprintf(c.w, "· %s\n", label)
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
