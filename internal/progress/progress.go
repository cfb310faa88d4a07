// Package progress renders terminal progress for document uploads, task
// status waits and artifact downloads. Nothing is drawn when stderr is not
// a terminal.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Reporter is the interface for reporting progress of one operation.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	SetDescription(desc string)
}

// StderrIsTerminal reports whether progress can be drawn.
func StderrIsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// CLIProgress implements Reporter with a progressbar on w.
type CLIProgress struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

// NewCLIProgress creates a reporter drawing on stderr.
func NewCLIProgress() *CLIProgress {
	return &CLIProgress{w: os.Stderr}
}

// Start initializes the bar. A negative total draws a spinner.
func (p *CLIProgress) Start(total int64, description string) {
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionShowBytes(total >= 0),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.w, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update moves the bar to current.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Add advances the bar by n.
func (p *CLIProgress) Add(n int64) {
	if p.bar != nil {
		_ = p.bar.Add64(n)
	}
}

// Finish completes the bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// SetDescription updates the bar description.
func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// UploadReader reports the bytes read from a document while it is streamed
// to the gateway.
type UploadReader struct {
	r        io.Reader
	reporter Reporter
	read     int64
	done     bool
}

// NewUploadReader wraps r. size is -1 when unknown. A nil reporter is
// replaced by a stderr bar when stderr is a terminal; otherwise r is
// returned unchanged.
func NewUploadReader(r io.Reader, size int64, name string, reporter Reporter) io.Reader {
	if reporter == nil {
		if !StderrIsTerminal() {
			return r
		}
		reporter = NewCLIProgress()
	}
	reporter.Start(size, "Uploading "+name)
	return &UploadReader{r: r, reporter: reporter}
}

func (u *UploadReader) Read(p []byte) (int, error) {
	n, err := u.r.Read(p)
	if n > 0 {
		u.read += int64(n)
		u.reporter.Update(u.read)
	}
	if err == io.EOF && !u.done {
		u.done = true
		u.reporter.Finish()
	}
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (u *UploadReader) BytesRead() int64 {
	return u.read
}

// StatusSpinner shows the current task status while waiting.
type StatusSpinner struct {
	reporter Reporter
}

// NewStatusSpinner starts a spinner on stderr, or returns an inert spinner
// when stderr is not a terminal.
func NewStatusSpinner(desc string) *StatusSpinner {
	if !StderrIsTerminal() {
		return &StatusSpinner{}
	}
	p := NewCLIProgress()
	p.Start(-1, desc)
	return &StatusSpinner{reporter: p}
}

// Set updates the status text.
func (s *StatusSpinner) Set(desc string) {
	if s.reporter != nil {
		s.reporter.SetDescription(desc)
		s.reporter.Update(0)
	}
}

// Stop clears the spinner.
func (s *StatusSpinner) Stop() {
	if s.reporter != nil {
		s.reporter.Finish()
		s.reporter = nil
	}
}
