package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/canopy-network/bakerx/pkg/metrics"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultJobTimeout  = 60 * time.Second
	DefaultGracePeriod = 10 * time.Second
)

// Job is the body of a scheduled task. The context is cancelled on timeout or shutdown.
type Job func(ctx context.Context) error

// ErrFatal marks job errors that must stop the daemon. Jobs wrap it with Fatal.
var ErrFatal = errors.New("fatal job error")

// Fatal wraps err so the scheduler escalates it through Options.OnFatal.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// parser accepts an optional seconds field and descriptors like "@every 10s".
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSpec reports whether spec parses as a schedule.
func ValidateSpec(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// JobStatus is the last known state of a registered job.
type JobStatus struct {
	Name       string        `json:"name"`
	Spec       string        `json:"spec"`
	Running    bool          `json:"running"`
	Runs       uint64        `json:"runs"`
	Skips      uint64        `json:"skips"`
	Failures   uint64        `json:"failures"`
	LastStart  time.Time     `json:"last_start,omitempty"`
	LastFinish time.Time     `json:"last_finish,omitempty"`
	LastTook   time.Duration `json:"last_took"`
	LastError  string        `json:"last_error,omitempty"`
	NextRun    time.Time     `json:"next_run,omitempty"`
}

type Options struct {
	// Context is the parent of every job context. Defaults to context.Background.
	Context     context.Context
	GracePeriod time.Duration
	Metrics     *metrics.Metrics
	// OnFatal is called once per job error wrapping ErrFatal.
	OnFatal func(job string, err error)
}

type entry struct {
	id      cron.EntryID
	name    string
	spec    string
	timeout time.Duration
	job     Job
	running sync.Mutex
}

// Scheduler runs registered jobs on cron schedules. Each job has at most one run in flight;
// ticks that find the job still running are skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	opts    Options
	entries map[string]*entry
	status  *xsync.Map[string, JobStatus]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(logger *zap.Logger, opts Options) *Scheduler {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	ctx, cancel := context.WithCancel(opts.Context)
	logger = logger.Named("scheduler")
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(NewCronLogger(logger)))),
		logger:  logger,
		opts:    opts,
		entries: map[string]*entry{},
		status:  xsync.NewMap[string, JobStatus](),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register schedules job under name. Names are unique.
func (s *Scheduler) Register(name, spec string, timeout time.Duration, job Job) error {
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	if err := ValidateSpec(spec); err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	e := &entry{name: name, spec: spec, timeout: timeout, job: job}
	id, err := s.cron.AddFunc(spec, func() { s.fire(e) })
	if err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}
	e.id = id
	s.entries[name] = e
	s.status.Store(name, JobStatus{Name: name, Spec: spec})
	s.logger.Info("job registered", zap.String("job", name), zap.String("spec", spec), zap.Duration("timeout", timeout))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.entries)))
}

// RunNow executes a registered job once, outside its schedule, honouring the same
// single-flight rule. It reports whether the job ran.
func (s *Scheduler) RunNow(name string) bool {
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	return s.fire(e)
}

// fire runs one execution of e unless another one is in flight.
func (s *Scheduler) fire(e *entry) bool {
	if !e.running.TryLock() {
		s.logger.Warn("job still running, skipping tick", zap.String("job", e.name))
		s.update(e.name, func(st *JobStatus) { st.Skips++ })
		s.opts.Metrics.ObserveJob(e.name, metrics.ResultSkipped, 0)
		return false
	}
	defer e.running.Unlock()

	if s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	defer s.wg.Done()

	start := time.Now()
	s.update(e.name, func(st *JobStatus) {
		st.Running = true
		st.LastStart = start
	})

	err := s.execute(e)
	took := time.Since(start)

	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError
		if errors.Is(err, errPanic) {
			result = metrics.ResultPanic
		}
	}
	s.opts.Metrics.ObserveJob(e.name, result, took)
	s.update(e.name, func(st *JobStatus) {
		st.Running = false
		st.Runs++
		st.LastFinish = time.Now()
		st.LastTook = took
		st.LastError = ""
		if err != nil {
			st.Failures++
			st.LastError = err.Error()
		}
	})

	log := s.logger.With(zap.String("job", e.name), zap.Duration("took", took))
	switch {
	case err == nil:
		log.Debug("job finished")
	case errors.Is(err, ErrFatal):
		log.Error("job failed fatally", zap.Error(err))
		if s.opts.OnFatal != nil {
			s.opts.OnFatal(e.name, err)
		}
	case errors.Is(err, context.Canceled) && s.ctx.Err() != nil:
		log.Info("job interrupted by shutdown", zap.Error(err))
	default:
		log.Warn("job failed, retrying on next tick", zap.Error(err))
	}
	return true
}

var errPanic = errors.New("job panicked")

// execute runs the job body under its timeout and turns a panic into an error so the
// status and metrics still record the run. cron.Recover stays in the chain as a backstop.
func (s *Scheduler) execute(e *entry) (err error) {
	ctx, cancel := context.WithTimeout(s.ctx, e.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return e.job(ctx)
}

func (s *Scheduler) update(name string, fn func(st *JobStatus)) {
	s.status.Compute(name, func(old JobStatus, loaded bool) (JobStatus, xsync.ComputeOp) {
		fn(&old)
		return old, xsync.UpdateOp
	})
}

// Statuses returns a snapshot of every job, sorted by name.
func (s *Scheduler) Statuses() []JobStatus {
	out := make([]JobStatus, 0, len(s.entries))
	s.status.Range(func(name string, st JobStatus) bool {
		if e, ok := s.entries[name]; ok {
			st.NextRun = s.cron.Entry(e.id).Next
		}
		out = append(out, st)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop prevents new ticks and waits for running jobs. Jobs still running after the grace
// period have their context cancelled. It returns ctx.Err() if ctx ends before they return.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		<-s.cron.Stop().Done()
		s.wg.Wait()
		close(done)
	}()

	grace := time.NewTimer(s.opts.GracePeriod)
	defer grace.Stop()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("scheduler stopped gracefully")
		return nil
	case <-grace.C:
		s.logger.Warn("grace period elapsed, cancelling running jobs", zap.Duration("grace", s.opts.GracePeriod))
	case <-ctx.Done():
		s.logger.Warn("stop deadline reached, cancelling running jobs")
	}

	s.cancel()
	select {
	case <-done:
		s.logger.Info("scheduler stopped after cancelling jobs")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
