package sweep

import (
	"runtime"

	"github.com/banshee-data/paramsweep/internal/checkpoint"
	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/banshee-data/paramsweep/internal/timeutil"
	"github.com/sirupsen/logrus"
)

type options struct {
	workers       int
	batchSize     int
	patience      int
	checkpointDir string
	store         *checkpoint.Store
	persister     Persister
	clock         timeutil.Clock
	logger        *logrus.Entry
	study         string
}

func defaultOptions() options {
	return options{
		workers:       runtime.NumCPU(),
		patience:      1,
		checkpointDir: "checkpoints",
		clock:         timeutil.RealClock{},
	}
}

// Option configures an Engine.
type Option func(*options)

// WithWorkers bounds the number of concurrent evaluations.
func WithWorkers(n int) Option { return func(o *options) { o.workers = n } }

// WithBatchSize sets how many configs are dispatched before the engine
// synchronises. It defaults to the worker count.
func WithBatchSize(n int) Option { return func(o *options) { o.batchSize = n } }

// WithPatience writes a checkpoint every n committed batches.
func WithPatience(n int) Option { return func(o *options) { o.patience = n } }

// WithCheckpointDir sets the checkpoint directory. An empty dir disables
// checkpoints and resume.
func WithCheckpointDir(dir string) Option { return func(o *options) { o.checkpointDir = dir } }

func WithStore(s *checkpoint.Store) Option { return func(o *options) { o.store = s } }
func WithPersister(p Persister) Option     { return func(o *options) { o.persister = p } }
func WithClock(c timeutil.Clock) Option    { return func(o *options) { o.clock = c } }
func WithLogger(l *logrus.Entry) Option    { return func(o *options) { o.logger = l } }
func WithStudyName(name string) Option     { return func(o *options) { o.study = name } }

// SettingsOptions translates loaded settings into engine options.
func SettingsOptions(s *config.Settings) []Option {
	return []Option{
		WithWorkers(s.GetWorkers()),
		WithBatchSize(s.GetBatchSize()),
		WithPatience(s.GetPatience()),
		WithCheckpointDir(s.GetCheckpointDir()),
	}
}
