package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mssind/configurator/internal/artifact"
	"github.com/mssind/configurator/internal/config"
	"github.com/mssind/configurator/internal/job"
	"github.com/mssind/configurator/internal/models"
	"github.com/mssind/configurator/internal/render"
)

type Options struct {
	MaxConcurrent  int
	Tick           time.Duration
	RenderTimeout  time.Duration
	LeaseSlack     time.Duration
	ReaperInterval time.Duration
	BackoffBase    time.Duration
	BackoffFactor  float64
	BackoffMax     time.Duration
}

func (o *Options) setDefaults() {
	if o.MaxConcurrent < 1 {
		o.MaxConcurrent = 2
	}
	if o.Tick <= 0 {
		o.Tick = 500 * time.Millisecond
	}
	if o.RenderTimeout <= 0 {
		o.RenderTimeout = 5 * time.Minute
	}
	if o.LeaseSlack <= 0 {
		o.LeaseSlack = 30 * time.Second
	}
	if o.ReaperInterval <= 0 {
		o.ReaperInterval = 30 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffFactor < 1 {
		o.BackoffFactor = 2
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 5 * time.Minute
	}
}

// Scheduler owns the job state machine between QUEUED and the terminal
// states. One dispatch loop claims eligible jobs and hands each to a worker
// goroutine; the slot channel caps how many renders run at once, since the
// engine is the resource-heavy part of the system.
type Scheduler struct {
	repo      job.JobRepoInterface
	source    job.ConfigurationSource
	invoker   render.Invoker
	artifacts artifact.Store
	opts      Options
	workerID  string

	// slots holds one token per free worker slot. Every acquire has exactly
	// one matching release, on every exit path.
	slots chan struct{}
	wake  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(repo job.JobRepoInterface, source job.ConfigurationSource, invoker render.Invoker, artifacts artifact.Store, opts Options) *Scheduler {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		repo:      repo,
		source:    source,
		invoker:   invoker,
		artifacts: artifacts,
		opts:      opts,
		workerID:  "worker-" + uuid.NewString()[:8],
		slots:     make(chan struct{}, opts.MaxConcurrent),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := 0; i < opts.MaxConcurrent; i++ {
		s.slots <- struct{}{}
	}
	return s
}

var _ job.Waker = (*Scheduler)(nil)

// Start launches the dispatch loop and the lease reaper.
func (s *Scheduler) Start() {
	s.wg.Add(2)
	go s.dispatchLoop()
	go s.reaper()
	log.Printf("[scheduler] %s started, %d slots, tick %s", s.workerID, s.opts.MaxConcurrent, s.opts.Tick)
}

// Stop cancels the loops and waits for in-flight workers. Jobs still
// PROCESSING when their render is killed are requeued like any failure;
// anything missed lands with the reaper on next startup via its lease.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	log.Printf("[scheduler] %s stopped", s.workerID)
}

// Wake nudges the dispatch loop ahead of its next tick.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	// Storage errors back off up to a minute, like a worker finding no
	// work, so a flapping database doesn't get hammered.
	errDelay := s.opts.Tick

	for {
		if err := s.dispatch(); err != nil {
			log.Printf("[scheduler] dispatch: %v", err)
			errDelay = min(errDelay*2, time.Minute)
			select {
			case <-time.After(errDelay):
			case <-s.ctx.Done():
				return
			}
			continue
		}
		errDelay = s.opts.Tick

		select {
		case <-ticker.C:
		case <-s.wake:
		case <-s.ctx.Done():
			return
		}
	}
}

// dispatch claims as many eligible jobs as there are free slots and spawns
// a worker per claim. Only the dispatch loop takes tokens, so the free
// count observed here cannot shrink underneath it.
func (s *Scheduler) dispatch() error {
	free := len(s.slots)
	if free == 0 {
		return nil
	}

	claimed, err := s.repo.ClaimNext(s.ctx, free, s.workerID, s.lease())
	if err != nil {
		return err
	}

	for i := range claimed {
		<-s.slots
		s.wg.Add(1)
		go s.process(claimed[i])
	}
	return nil
}

// process drives a single claimed job to requeue or a terminal state. Every
// exit path releases the slot exactly once, and panics become a FAILED
// classification rather than a crashed loop.
func (s *Scheduler) process(j models.Job) {
	defer s.wg.Done()
	defer func() { s.slots <- struct{}{} }()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[scheduler] job %s: worker panic: %v", j.ID, r)
			s.settleFailure(&j, config.ErrCodeProcessError, fmt.Sprintf("unexpected worker error: %v", r), true)
		}
	}()

	if err := s.repo.MarkProcessing(s.ctx, j.ID, s.lease()); err != nil {
		// Lost to a concurrent cancel, or a transient storage error. Either
		// way the claim lease covers it: a job still QUEUED when the lease
		// runs out comes back through the reaper.
		log.Printf("[scheduler] job %s: %v", j.ID, err)
		return
	}

	resultURL, failCode, failMsg, retryable := s.runRender(&j)
	if failCode != "" {
		log.Printf("[scheduler] job %s: attempt %d failed (%s): %s", j.ID, j.RetryCount+1, failCode, failMsg)
		s.settleFailure(&j, failCode, failMsg, retryable)
		return
	}

	ctx, cancel := s.writeCtx()
	defer cancel()
	if err := s.repo.MarkCompleted(ctx, j.ID, resultURL); err != nil {
		log.Printf("[scheduler] job %s: mark completed: %v", j.ID, err)
		return
	}
	log.Printf("[scheduler] job %s: completed, result at %s", j.ID, resultURL)
}

// runRender performs one attempt: resolve the configuration and template,
// invoke the engine, upload the asset. It returns either a result URL or a
// failure classification plus whether that class is retryable.
func (s *Scheduler) runRender(j *models.Job) (resultURL, failCode, failMsg string, retryable bool) {
	cfg, err := s.source.GetConfiguration(s.ctx, j.ConfigurationID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return "", config.ErrCodeValidation, "configuration no longer exists", false
		}
		return "", config.ErrCodeStorage, fmt.Sprintf("configuration lookup failed: %v", err), true
	}

	style, err := s.source.GetStyle(s.ctx, cfg.StyleID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return "", config.ErrCodeValidation, "style no longer exists", false
		}
		return "", config.ErrCodeStorage, fmt.Sprintf("style lookup failed: %v", err), true
	}

	workDir, err := os.MkdirTemp("", "render-job-"+j.ID+"-*")
	if err != nil {
		return "", config.ErrCodeProcessError, fmt.Sprintf("create work dir: %v", err), true
	}
	defer os.RemoveAll(workDir)

	templatePath := filepath.Join(workDir, "template.blend")
	if err := s.fetchTemplate(style.TemplateKey, templatePath); err != nil {
		return "", config.ErrCodeStorage, fmt.Sprintf("fetch template %s: %v", style.TemplateKey, err), true
	}

	outputPath := filepath.Join(workDir, "output.glb")
	renderErr := s.invoker.Render(s.ctx, render.Request{
		TemplatePath: templatePath,
		ConfigData:   cfg.ConfigData,
		OutputPath:   outputPath,
		OnProgress: func(p int) {
			// Best effort: a missed progress write is a UX issue, not a
			// correctness one.
			if err := s.repo.UpdateProgress(s.ctx, j.ID, p); err != nil {
				log.Printf("[scheduler] job %s: progress update: %v", j.ID, err)
			}
		},
	})
	if renderErr != nil {
		if f, ok := render.AsFailure(renderErr); ok {
			return "", string(f.Kind), f.Detail, true
		}
		return "", config.ErrCodeProcessError, renderErr.Error(), true
	}

	url, err := s.uploadResult(j.ID, outputPath)
	if err != nil {
		return "", config.ErrCodeStorage, fmt.Sprintf("upload result: %v", err), true
	}
	return url, "", "", false
}

// fetchTemplate copies the style's template out of the artifact store,
// retrying transient storage errors independently of job retries.
func (s *Scheduler) fetchTemplate(key, dst string) error {
	return s.withStorageRetry(func() error {
		rc, err := s.artifacts.Fetch(s.ctx, key)
		if err != nil {
			return err
		}
		defer rc.Close()

		f, err := os.Create(dst)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, rc); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
}

func (s *Scheduler) uploadResult(jobID, outputPath string) (string, error) {
	var url string
	err := s.withStorageRetry(func() error {
		f, err := os.Open(outputPath)
		if err != nil {
			return err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return err
		}

		key := "jobs/" + jobID + ".glb"
		url, err = s.artifacts.Upload(s.ctx, key, f, info.Size(), artifact.ContentTypeGLB)
		return err
	})
	return url, err
}

// withStorageRetry retries a storage operation a few times with a short
// delay. This layer is separate from job retries: a blip on the blob store
// should not burn a render attempt.
func (s *Scheduler) withStorageRetry(op func() error) error {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		select {
		case <-time.After(time.Duration(i+1) * 250 * time.Millisecond):
		case <-s.ctx.Done():
			return err
		}
	}
	return err
}

// settleFailure requeues the job with backoff if the failure class is
// retryable and retries remain, otherwise writes the terminal FAILED state.
func (s *Scheduler) settleFailure(j *models.Job, code, msg string, retryable bool) {
	ctx, cancel := s.writeCtx()
	defer cancel()

	if retryable && j.RetryCount < j.MaxRetries {
		delay := s.backoff(j.RetryCount)
		if err := s.repo.Requeue(ctx, j.ID, code, msg, time.Now().UTC().Add(delay)); err != nil {
			log.Printf("[scheduler] job %s: requeue: %v", j.ID, err)
		}
		return
	}

	if err := s.repo.MarkFailed(ctx, j.ID, code, msg); err != nil {
		log.Printf("[scheduler] job %s: mark failed: %v", j.ID, err)
	}
}

// lease is how long a claim may sit without a terminal write before the
// reaper takes it back. It covers the full render budget plus slack.
func (s *Scheduler) lease() time.Duration {
	return s.opts.RenderTimeout + s.opts.LeaseSlack
}

// backoff computes base * factor^retryCount, capped.
func (s *Scheduler) backoff(retryCount int) time.Duration {
	d := time.Duration(float64(s.opts.BackoffBase) * math.Pow(s.opts.BackoffFactor, float64(retryCount)))
	if d > s.opts.BackoffMax || d <= 0 {
		d = s.opts.BackoffMax
	}
	return d
}

// writeCtx returns a context for final state writes that survives scheduler
// shutdown, so outcomes of in-flight jobs still land in the repository.
func (s *Scheduler) writeCtx() (context.Context, context.CancelFunc) {
	if s.ctx.Err() == nil {
		return s.ctx, func() {}
	}
	return context.WithTimeout(context.Background(), 10*time.Second)
}

// reaper requeues claimed jobs whose lease expired, i.e. whose worker died
// without writing a terminal state. The lease starts at the claim, so a job
// stranded in QUEUED is recovered the same as one stranded in PROCESSING.
// The requeue consumes a retry, so a crash-looping job still terminates in
// FAILED.
func (s *Scheduler) reaper() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			expired, err := s.repo.ListExpiredLeases(s.ctx)
			if err != nil {
				log.Printf("[scheduler] reaper: %v", err)
				continue
			}
			for i := range expired {
				j := expired[i]
				log.Printf("[scheduler] reaper: requeuing stale job %s (worker %v)", j.ID, j.WorkerID)
				s.settleFailure(&j, config.ErrCodeProcessError, "worker lease expired without a terminal state", true)
			}
		case <-s.ctx.Done():
			return
		}
	}
}
