package output

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/tanq16/flux/internal/utils"
)

// ProgressBar renders a single download's progress in place on one terminal
// line. It implements utils.ProgressSink, so it can be handed straight to the
// engine; the terminal sentinel pair after completion is absorbed.
type ProgressBar struct {
	mu    sync.Mutex
	label string
	done  bool
}

func NewProgressBar(label string) *ProgressBar {
	return &ProgressBar{label: label}
}

func (p *ProgressBar) OnProgress(percent float64, speedBps float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	if percent >= 100 && speedBps == 0 {
		p.done = true
		fmt.Printf("\r%s\n", renderBar(p.label, 100, 0))
		return
	}
	fmt.Printf("\r%s", renderBar(p.label, percent, speedBps))
}

func renderBar(label string, percent, speedBps float64) string {
	width := barWidth()
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := max(0, min(int(percent/100*float64(width)), width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += StyleSymbols["bullet"]
	return debugStyle.Render(fmt.Sprintf("%s %s %.1f%% %s %s", label, bar, percent, StyleSymbols["bullet"], utils.FormatSpeed(speedBps)))
}

func barWidth() int {
	termWidth, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || termWidth <= 0 {
		return 30
	}
	width := termWidth - 50 // room for label, percent, and speed
	if width < 10 {
		return 10
	}
	if width > 60 {
		return 60
	}
	return width
}
