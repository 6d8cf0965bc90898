// Package progress prints periodic run snapshots while a run is in progress.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-isatty"

	"stampede/internal/collector"
)

// Snapshotter supplies point-in-time counters. *collector.Collector
// satisfies it.
type Snapshotter interface {
	Snapshot() collector.Snapshot
}

// Progress renders a status line every interval. On a terminal the line is
// rewritten in place; otherwise each snapshot is printed on its own line.
type Progress struct {
	source   Snapshotter
	interval time.Duration
	ticker   *time.Ticker
	stopCh   chan struct{}
	done     chan struct{}
	stopped  atomic.Bool
	quiet    bool
	output   io.Writer
	tty      bool
	mu       sync.Mutex
}

// NewProgress writes to stderr. A zero interval or quiet suppresses
// snapshots; Print and Printf still honor quiet.
func NewProgress(source Snapshotter, interval time.Duration, quiet bool) *Progress {
	p := &Progress{
		source:   source,
		interval: interval,
		quiet:    quiet,
	}
	p.SetOutput(os.Stderr)
	return p
}

// SetOutput redirects output. Terminal detection applies to *os.File only.
func (p *Progress) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = w
	p.tty = false
	if f, ok := w.(*os.File); ok {
		p.tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
}

func (p *Progress) Start() {
	if p.quiet || p.interval <= 0 {
		return
	}
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	p.ticker = time.NewTicker(p.interval)
	go p.run()
}

func (p *Progress) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.ticker.C:
			p.printProgress()
		}
	}
}

func (p *Progress) printProgress() {
	line := FormatSnapshot(p.source.Snapshot())
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty {
		fmt.Fprintf(p.output, "\r\033[K%s", line)
	} else {
		fmt.Fprintln(p.output, line)
	}
}

// FormatSnapshot renders one status line.
func FormatSnapshot(s collector.Snapshot) string {
	elapsed := s.Elapsed.Round(time.Second)
	mins := int(elapsed.Minutes())
	secs := int(elapsed.Seconds()) % 60
	return fmt.Sprintf("[%02d:%02d] Requests: %d | RPS: %.1f | Errors: %d (%.1f%%) | Mean: %s",
		mins, secs, s.Total, s.RequestsPerSec, s.Failures, s.ErrorRate,
		collector.FormatDuration(s.MeanLatency))
}

// Stop halts the ticker and clears the status line. Safe to call more than
// once, or without Start.
func (p *Progress) Stop() {
	if p.stopped.Swap(true) || p.stopCh == nil {
		return
	}
	p.ticker.Stop()
	close(p.stopCh)
	<-p.done

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty {
		fmt.Fprint(p.output, "\r\033[K")
	}
}

// Print writes a message line, clearing the status line first on a terminal.
func (p *Progress) Print(message string) {
	p.Printf("%s", message)
}

func (p *Progress) Printf(format string, args ...any) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty {
		fmt.Fprint(p.output, "\r\033[K")
	}
	fmt.Fprintf(p.output, format+"\n", args...)
}
