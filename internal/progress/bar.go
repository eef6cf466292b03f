package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Bar renders a single-line progress display for one listen run.
type Bar struct {
	mu        sync.Mutex
	out       io.Writer
	startTime time.Time
	slot      int
	label     string
	detail    string
	rendered  bool
	done      bool
}

// Stages share four display slots so a fallback path re-enters the
// analysis slot instead of rewinding the bar.
const slotCount = 4

// New creates a new progress bar.
func New() *Bar {
	return &Bar{
		out:       os.Stdout,
		startTime: time.Now(),
	}
}

// SetStage advances the bar to the slot for the named pipeline stage.
// Unknown stages leave the display untouched.
func (b *Bar) SetStage(stage, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return
	}
	if stage == "DONE" {
		b.finishLocked()
		return
	}

	slot, ok := slotFor(stage)
	if !ok {
		return
	}
	b.slot = slot
	b.label = strings.ToLower(strings.ReplaceAll(stage, "_", " "))
	b.detail = detail
	b.render()
}

// Finish completes the bar and moves to a fresh line.
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finishLocked()
}

// Abort moves to a fresh line without completing the bar, so error
// output does not land on the progress line.
func (b *Bar) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return
	}
	b.done = true
	if b.rendered {
		fmt.Fprintln(b.out)
	}
}

func (b *Bar) finishLocked() {
	if b.done {
		return
	}
	b.slot = slotCount
	b.label = "done"
	b.detail = ""
	b.render()
	fmt.Fprintln(b.out)
	b.done = true
}

func slotFor(stage string) (int, bool) {
	switch stage {
	case "DISCOVER":
		return 0, true
	case "AUDIO_PATH", "DESCRIPTOR_PATH", "METADATA_PATH":
		return 1, true
	case "LYRICS":
		return 2, true
	case "ASSEMBLE":
		return 3, true
	}
	return 0, false
}

// render displays the progress bar
func (b *Bar) render() {
	barWidth := 40
	filled := barWidth * (b.slot + 1) / (slotCount + 1)

	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	tail := b.label
	if b.detail != "" {
		tail += ": " + b.detail
	}
	tail += fmt.Sprintf(" (%s)", formatDuration(time.Since(b.startTime)))

	fmt.Fprintf(b.out, "\r[%s] %s", bar, pad(tail, 56))
	b.rendered = true
}

// pad truncates or right-pads s to exactly n runes so successive
// renders fully overwrite each other.
func pad(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s + strings.Repeat(" ", n-len(r))
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
