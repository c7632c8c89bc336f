package utils

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
)

// Progress renders live spinners/bars for a deletion/merge/migration
// run, mirroring the teacher's own utils.Progress used by
// cmd/fsck.go's AddDoubleSpinner/AddCountSpinner/AddByteSpinner/
// AddCountBar family. Quiet suppresses live rendering (spec §6 `-p`)
// while the spinners and bars still accumulate their totals; Done
// prints nothing itself.
type Progress struct {
	Quiet   bool
	tty     bool
	pg      *mpb.Progress
}

// NewProgress returns a Progress writing to out (os.Stdout in
// production, a buffer in tests). quiet suppresses bar rendering.
func NewProgress(quiet bool, out io.Writer) *Progress {
	p := &Progress{Quiet: quiet}
	if !quiet {
		p.pg = mpb.New(mpb.WithOutput(out), mpb.WithRefreshRate(180*time.Millisecond))
	}
	return p
}

// CountSpinner counts discrete items (files processed, slices listed).
type CountSpinner struct {
	p       *Progress
	name    string
	count   int64
	bar     *mpb.Bar
}

// AddCountSpinner starts a spinner counting discrete increments.
func (p *Progress) AddCountSpinner(name string) *CountSpinner {
	cs := &CountSpinner{p: p, name: name}
	if p.pg != nil {
		cs.bar = p.pg.AddSpinner(0, mpb.SpinnerOnLeft,
			mpb.PrependDecorators(decor.Name(name)),
			mpb.AppendDecorators(decor.CountersNoUnit("%d")))
	}
	return cs
}

func (c *CountSpinner) Increment() {
	n := atomic.AddInt64(&c.count, 1)
	if c.bar != nil {
		c.bar.SetCurrent(n)
	}
}

func (c *CountSpinner) Current() int64 { return atomic.LoadInt64(&c.count) }

func (c *CountSpinner) Done() {
	if c.bar != nil {
		c.bar.SetTotal(c.Current(), true)
	}
}

// DoubleSpinner counts both an item count and a byte total (e.g.
// "blocks found", byte size), matching the teacher's
// AddDoubleSpinner shape in cmd/fsck.go.
type DoubleSpinner struct {
	p      *Progress
	name   string
	count  int64
	bytes  int64
	bar    *mpb.Bar
}

func (p *Progress) AddDoubleSpinner(name string) *DoubleSpinner {
	ds := &DoubleSpinner{p: p, name: name}
	if p.pg != nil {
		ds.bar = p.pg.AddSpinner(0, mpb.SpinnerOnLeft,
			mpb.PrependDecorators(decor.Name(name)),
			mpb.AppendDecorators(decor.CountersNoUnit("%d")))
	}
	return ds
}

func (d *DoubleSpinner) IncrInt64(sz int64) {
	atomic.AddInt64(&d.count, 1)
	n := atomic.AddInt64(&d.bytes, sz)
	if d.bar != nil {
		d.bar.SetCurrent(n)
	}
}

func (d *DoubleSpinner) Current() (count, bytes int64) {
	return atomic.LoadInt64(&d.count), atomic.LoadInt64(&d.bytes)
}

func (d *DoubleSpinner) Done() {
	if d.bar != nil {
		_, b := d.Current()
		d.bar.SetTotal(b, true)
	}
}

// ByteSpinner tracks a running byte total only.
type ByteSpinner struct {
	p     *Progress
	name  string
	bytes int64
	bar   *mpb.Bar
}

func (p *Progress) AddByteSpinner(name string) *ByteSpinner {
	bs := &ByteSpinner{p: p, name: name}
	if p.pg != nil {
		bs.bar = p.pg.AddSpinner(0, mpb.SpinnerOnLeft, mpb.PrependDecorators(decor.Name(name)))
	}
	return bs
}

func (b *ByteSpinner) IncrInt64(sz int64) {
	n := atomic.AddInt64(&b.bytes, sz)
	if b.bar != nil {
		b.bar.SetCurrent(n)
	}
}

func (b *ByteSpinner) Current() int64 { return atomic.LoadInt64(&b.bytes) }

// CountBar renders a determinate progress bar toward a known total.
type CountBar struct {
	p       *Progress
	name    string
	total   int64
	count   int64
	bar     *mpb.Bar
}

func (p *Progress) AddCountBar(name string, total int64) *CountBar {
	cb := &CountBar{p: p, name: name, total: total}
	if p.pg != nil {
		cb.bar = p.pg.AddBar(total, mpb.PrependDecorators(decor.Name(name), decor.CountersNoUnit(" %d / %d")))
	}
	return cb
}

func (c *CountBar) Increment() {
	n := atomic.AddInt64(&c.count, 1)
	if c.bar != nil {
		c.bar.SetCurrent(n)
	}
}

func (c *CountBar) Current() int64 { return atomic.LoadInt64(&c.count) }

// Done waits for rendering to settle. Safe to call when quiet.
func (p *Progress) Done() {
	if p.pg != nil {
		p.pg.Wait()
	}
}

// Summary renders a label, an item count and a byte total as one line
// of text.
func Summary(label string, count, bytes int64) string {
	return fmt.Sprintf("%s: %d (%d bytes)", label, count, bytes)
}
