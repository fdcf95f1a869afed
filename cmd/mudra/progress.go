package main

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/ayusman/mudra/internal/classifier"
)

func progressEnabled() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func newBar(total int, desc string, w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWidth(32),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// epochProgress returns an epoch callback drawing a bar on stderr, or nil
// when stderr is not a terminal.
func epochProgress(maxEpochs int) (classifier.EpochFunc, func()) {
	if !progressEnabled() || maxEpochs <= 0 {
		return nil, func() {}
	}
	bar := newBar(maxEpochs, "training", os.Stderr)
	onEpoch := func(s classifier.EpochStats) {
		bar.Describe(fmt.Sprintf("training (loss %.4f)", s.Loss))
		_ = bar.Set(s.Epoch)
	}
	return onEpoch, func() { _ = bar.Finish() }
}

// recordProgress tracks the sample count of a recording session.
type recordProgress struct {
	bar *progressbar.ProgressBar
	out io.Writer
}

func newRecordProgress(gesture string, start, target int, out io.Writer) *recordProgress {
	p := &recordProgress{out: out}
	if progressEnabled() {
		p.bar = newBar(target, "recording "+gesture, os.Stderr)
		_ = p.bar.Set(start)
	}
	return p
}

func (p *recordProgress) Set(count, target int) {
	if p.bar != nil {
		_ = p.bar.Set(count)
		return
	}
	fmt.Fprintf(p.out, "\r%d/%d", count, target)
}

func (p *recordProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
		return
	}
	fmt.Fprintln(p.out)
}
