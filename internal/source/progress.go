package source

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// progress is a nil-safe wrapper around a progress bar.
type progress struct {
	bar *progressbar.ProgressBar
}

// newProgress returns a bar of total steps, or a spinner when total is -1.
func newProgress(w io.Writer, total int64, description string) *progress {
	if w == nil {
		return &progress{}
	}
	return &progress{bar: progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)}
}

func (p *progress) add(n int) {
	if p.bar != nil {
		_ = p.bar.Add(n)
	}
}

func (p *progress) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
