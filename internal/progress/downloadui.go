package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

// DownloadUI manages concurrent artifact download bars using mpb.
// Without a terminal on stderr it prints one line per file instead.
type DownloadUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool
	totalFiles int
	completed  int32
}

// DownloadFileBar tracks one artifact download.
type DownloadFileBar struct {
	bar       *mpb.Bar
	ui        *DownloadUI
	index     int
	label     string
	size      int64
	bytes     atomic.Int64
	startTime time.Time
}

// NewDownloadUI creates a download UI for totalFiles downloads.
func NewDownloadUI(totalFiles int) *DownloadUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))

	var p *mpb.Progress
	if isTerminal {
		enableANSIOnWindows(os.Stderr)
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(100),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &DownloadUI{
		progress:   p,
		out:        os.Stderr,
		isTerminal: isTerminal,
		totalFiles: totalFiles,
	}
}

// AddFileBar creates a bar for one file. size is -1 when unknown.
func (u *DownloadUI) AddFileBar(index int, fileName, source string, size int64) *DownloadFileBar {
	fb := &DownloadFileBar{
		ui:        u,
		index:     index,
		label:     fmt.Sprintf("[%d/%d] %s ← %s", index, u.totalFiles, fileName, source),
		size:      size,
		startTime: time.Now(),
	}

	if !u.isTerminal {
		fmt.Fprintf(u.out, "Downloading %s (%s)\n", fb.label, formatSize(size))
		return fb
	}

	total := size
	if total < 0 {
		total = 0
	}
	fb.bar = u.progress.New(total,
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(fb.label, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 60, decor.WCSyncSpace),
			decor.Name("  "),
			decor.OnComplete(decor.EwmaETA(decor.ET_STYLE_GO, 60), "done"),
		),
		mpb.BarRemoveOnComplete(),
	)
	return fb
}

// ProxyReader wraps r so reads advance the bar.
func (f *DownloadFileBar) ProxyReader(r io.Reader) io.Reader {
	counted := &countingReader{r: r, n: &f.bytes}
	if f.bar == nil {
		return counted
	}
	return f.bar.ProxyReader(counted)
}

// Complete finishes the bar and prints a one-line summary for path.
func (f *DownloadFileBar) Complete(path string, err error) {
	elapsed := time.Since(f.startTime)
	n := f.bytes.Load()

	var msg string
	if err == nil {
		if f.bar != nil {
			f.bar.SetTotal(-1, true)
		}
		speed := float64(n) / elapsed.Seconds() / (1024 * 1024)
		msg = fmt.Sprintf("✓ %s (%s, %s, %.1f MiB/s)\n",
			truncatePath(path, 2), formatSize(n), elapsed.Round(time.Millisecond), speed)
	} else {
		if f.bar != nil {
			f.bar.Abort(false)
		}
		msg = fmt.Sprintf("✗ %s: %v\n", f.label, err)
	}
	_, _ = io.WriteString(f.ui.Writer(), msg)
	atomic.AddInt32(&f.ui.completed, 1)
}

// Wait blocks until all bars are done.
func (u *DownloadUI) Wait() {
	if u.progress != nil {
		u.progress.Wait()
	}
}

// Writer returns a writer that prints above the bars.
func (u *DownloadUI) Writer() io.Writer {
	if u.isTerminal && u.progress != nil {
		return u.progress
	}
	return u.out
}

// GetCompleted returns the number of finished downloads, failed or not.
func (u *DownloadUI) GetCompleted() int {
	return int(atomic.LoadInt32(&u.completed))
}

// IsTerminal reports whether bars are rendered.
func (u *DownloadUI) IsTerminal() bool {
	return u.isTerminal
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func formatSize(n int64) string {
	if n < 0 {
		return "size unknown"
	}
	return fmt.Sprintf("%.1f MiB", float64(n)/(1024*1024))
}

// truncatePath keeps the last maxComponents elements of path.
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	return "…/" + strings.Join(parts[len(parts)-maxComponents:], "/")
}

func enableANSIOnWindows(f *os.File) {
	enableWindowsANSI(f)
}
