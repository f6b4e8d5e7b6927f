package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/mattn/go-isatty"
)

// maxPersonaLines caps the per-persona rows drawn under the batch bar.
const maxPersonaLines = 8

// BarRenderer draws a batch bar followed by one status row per active persona
// on a TTY. On anything else it prints a timestamped line per stage change.
type BarRenderer struct {
	mu    sync.Mutex
	out   io.Writer
	start time.Time
	isTTY bool
	width int

	order   []string
	status  map[string]Event
	overall Event
	drawn   int
}

// NewBarRenderer detects TTY mode and terminal width from out.
func NewBarRenderer(out *os.File) *BarRenderer {
	r := newRenderer(out)
	r.isTTY = isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())
	if r.isTTY {
		if w, _, err := term.GetSize(out.Fd()); err == nil && w > 0 {
			r.width = w
		}
	}
	return r
}

// NewPlainRenderer always prints single lines.
func NewPlainRenderer(out io.Writer) *BarRenderer {
	return newRenderer(out)
}

func newRenderer(out io.Writer) *BarRenderer {
	return &BarRenderer{out: out, start: time.Now(), width: 80, status: make(map[string]Event)}
}

// Handle satisfies Callback.
func (r *BarRenderer) Handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Elapsed = time.Since(r.start)

	changed := true
	if e.PersonaID != "" {
		prev, seen := r.status[e.PersonaID]
		if !seen {
			r.order = append(r.order, e.PersonaID)
		}
		changed = !seen || prev.Stage != e.Stage || prev.Turn != e.Turn
		r.status[e.PersonaID] = e
	}
	if e.Percent > r.overall.Percent || e.PersonaID == "" {
		r.overall = e
	}
	if e.Stage == StageComplete && e.PersonaID == "" {
		r.overall.Percent = 1.0
	}

	if r.isTTY {
		r.renderTTY()
	} else if changed {
		r.renderPlain(e)
	}
}

// Finish clears the live display and prints the batch outcome.
func (r *BarRenderer) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isTTY {
		r.clear()
	}

	e := r.overall
	elapsed := formatElapsed(time.Since(r.start))
	switch {
	case e.Error != nil:
		fmt.Fprintf(r.out, "\n  Error: %v\n", e.Error)
	case e.Stage == StageComplete && (e.Evaluations > 0 || e.Failures > 0):
		fmt.Fprintf(r.out, "\n  %d evaluations, %d failed (%s)\n", e.Evaluations, e.Failures, elapsed)
	case e.Stage == StageComplete:
		fmt.Fprintf(r.out, "\n  %s (%s)\n", e.Message, elapsed)
	}
	if e.OutputFile != "" {
		fmt.Fprintf(r.out, "  Results saved to %s\n", e.OutputFile)
	}
}

func (r *BarRenderer) renderTTY() {
	r.clear()

	var lines []string
	lines = append(lines, fmt.Sprintf("  %s %3d%%  %s",
		renderBar(r.overall.Percent, r.barWidth()), int(r.overall.Percent*100), formatElapsed(time.Since(r.start))))

	shown := r.order
	if len(shown) > maxPersonaLines {
		shown = shown[len(shown)-maxPersonaLines:]
	}
	for _, id := range shown {
		lines = append(lines, r.truncate(fmt.Sprintf("  %-16s %s", id, personaStatus(r.status[id]))))
	}
	if r.overall.PersonaID == "" && r.overall.Message != "" {
		lines = append(lines, r.truncate("  "+r.overall.Message))
	}

	fmt.Fprint(r.out, strings.Join(lines, "\n"))
	r.drawn = len(lines)
}

func (r *BarRenderer) renderPlain(e Event) {
	ts := formatElapsed(e.Elapsed)
	if e.PersonaID != "" {
		fmt.Fprintf(r.out, "[%s] %s: %s\n", ts, e.PersonaID, personaStatus(e))
		return
	}
	fmt.Fprintf(r.out, "[%s] %s\n", ts, e.Message)
}

func personaStatus(e Event) string {
	switch e.Stage {
	case StageInterview:
		if e.TurnTotal > 0 {
			return fmt.Sprintf("interviewing %d/%d", e.Turn, e.TurnTotal)
		}
	case StageComplete:
		return "done"
	case StageFailed:
		if e.Error != nil {
			return "failed: " + e.Error.Error()
		}
	}
	return e.Message
}

func (r *BarRenderer) clear() {
	if r.drawn == 0 {
		return
	}
	fmt.Fprint(r.out, "\r\033[2K")
	for i := 1; i < r.drawn; i++ {
		fmt.Fprint(r.out, "\033[A\033[2K")
	}
	fmt.Fprint(r.out, "\r")
	r.drawn = 0
}

func (r *BarRenderer) truncate(s string) string {
	if len(s) <= r.width-1 || r.width < 10 {
		return s
	}
	return s[:r.width-4] + "..."
}

// barWidth leaves room for "  [] 100%  0:00".
func (r *BarRenderer) barWidth() int {
	return min(max(r.width-16, 20), 60)
}

func renderBar(pct float64, width int) string {
	pct = min(max(pct, 0), 1)
	filled := int(pct * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

// formatElapsed formats d as M:SS.
func formatElapsed(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
