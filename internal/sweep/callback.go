package sweep

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/banshee-data/paramsweep/internal/monitoring"
	"github.com/banshee-data/paramsweep/internal/timeutil"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// CallbackContext describes the sub-study a callback is set up for.
type CallbackContext struct {
	Study     string
	SubStudy  string
	Index     int // position of the sub-study in the run
	Total     int // configs in the sub-study
	Completed int // configs already computed when it started
	Axes      []config.Axis
}

// Callback observes a sub-study. Setup runs when it starts, Update after
// every completed config and Teardown when it ends, including on failure.
// Update calls are serialised.
type Callback interface {
	Setup(ctx *CallbackContext) error
	Update() error
	Teardown() error
}

// CallbackFuncs adapts optional functions to Callback.
type CallbackFuncs struct {
	SetupFunc    func(ctx *CallbackContext) error
	UpdateFunc   func() error
	TeardownFunc func() error
}

func (f CallbackFuncs) Setup(ctx *CallbackContext) error {
	if f.SetupFunc == nil {
		return nil
	}
	return f.SetupFunc(ctx)
}

func (f CallbackFuncs) Update() error {
	if f.UpdateFunc == nil {
		return nil
	}
	return f.UpdateFunc()
}

func (f CallbackFuncs) Teardown() error {
	if f.TeardownFunc == nil {
		return nil
	}
	return f.TeardownFunc()
}

// ProgressCallback draws a terminal progress bar per sub-study.
type ProgressCallback struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

// NewProgressCallback writes bars to w, or stderr when w is nil.
func NewProgressCallback(w io.Writer) *ProgressCallback {
	if w == nil {
		w = os.Stderr
	}
	return &ProgressCallback{w: w}
}

func (p *ProgressCallback) Setup(ctx *CallbackContext) error {
	p.bar = progressbar.NewOptions(ctx.Total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription(ctx.SubStudy),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	if ctx.Completed > 0 {
		return p.bar.Set(ctx.Completed)
	}
	return nil
}

func (p *ProgressCallback) Update() error {
	return p.bar.Add(1)
}

func (p *ProgressCallback) Teardown() error {
	if p.bar == nil {
		return nil
	}
	if err := p.bar.Finish(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(p.w)
	return err
}

// MemorySample is one heap reading.
type MemorySample struct {
	At        time.Time
	Completed int
	HeapAlloc uint64
	Sys       uint64
}

// MemoryCallback samples the process heap every N completed configs and
// logs the peak at teardown.
type MemoryCallback struct {
	every int
	clock timeutil.Clock
	log   *logrus.Entry

	mu       sync.Mutex
	sub      string
	count    int
	samples  []MemorySample
	peakHeap uint64
}

// NewMemoryCallback samples every n completed configs; n < 1 means 100.
func NewMemoryCallback(n int, clock timeutil.Clock) *MemoryCallback {
	if n < 1 {
		n = 100
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &MemoryCallback{every: n, clock: clock, log: monitoring.WithComponent("memory")}
}

func (m *MemoryCallback) Setup(ctx *CallbackContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sub = ctx.SubStudy
	m.count = 0
	m.peakHeap = 0
	m.sampleLocked()
	return nil
}

func (m *MemoryCallback) Update() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count++
	if m.count%m.every == 0 {
		m.sampleLocked()
	}
	return nil
}

func (m *MemoryCallback) sampleLocked() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s := MemorySample{At: m.clock.Now(), Completed: m.count, HeapAlloc: ms.HeapAlloc, Sys: ms.Sys}
	m.samples = append(m.samples, s)
	m.peakHeap = max(m.peakHeap, s.HeapAlloc)
	m.log.WithField("sub_study", m.sub).Debugf("heap %s, sys %s after %s configs",
		humanize.Bytes(s.HeapAlloc), humanize.Bytes(s.Sys), humanize.Comma(int64(s.Completed)))
}

func (m *MemoryCallback) Teardown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sampleLocked()
	m.log.WithField("sub_study", m.sub).Infof("peak heap %s over %d samples",
		humanize.Bytes(m.peakHeap), len(m.samples))
	return nil
}

// Samples returns every reading taken so far.
func (m *MemoryCallback) Samples() []MemorySample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MemorySample, len(m.samples))
	copy(out, m.samples)
	return out
}

// LogCallback writes a progress line every N completed configs.
type LogCallback struct {
	every int
	log   *logrus.Entry

	sub       string
	total     int
	completed int
}

// NewLogCallback logs every n completed configs through log; a nil log uses
// the package logger.
func NewLogCallback(n int, log *logrus.Entry) *LogCallback {
	if n < 1 {
		n = 1
	}
	if log == nil {
		log = monitoring.WithComponent("progress")
	}
	return &LogCallback{every: n, log: log}
}

func (l *LogCallback) Setup(ctx *CallbackContext) error {
	l.sub, l.total, l.completed = ctx.SubStudy, ctx.Total, ctx.Completed
	l.log.WithField("sub_study", l.sub).Infof("%d/%d configs already computed", l.completed, l.total)
	return nil
}

func (l *LogCallback) Update() error {
	l.completed++
	if l.completed%l.every == 0 || l.completed == l.total {
		l.log.WithField("sub_study", l.sub).Infof("%d/%d configs (%.0f%%)",
			l.completed, l.total, 100*float64(l.completed)/float64(l.total))
	}
	return nil
}

func (l *LogCallback) Teardown() error {
	l.log.WithField("sub_study", l.sub).Infof("finished at %d/%d configs", l.completed, l.total)
	return nil
}
