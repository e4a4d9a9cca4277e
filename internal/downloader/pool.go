package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xmarre/Copperminer/pkg/config"
	errs "github.com/xmarre/Copperminer/pkg/errors"
	"github.com/xmarre/Copperminer/pkg/logger"
	"github.com/xmarre/Copperminer/pkg/models"
	"github.com/xmarre/Copperminer/pkg/retry"
)

// Fetcher downloads one URL to a local path
type Fetcher interface {
	DownloadStream(ctx context.Context, rawURL, destPath, referer string) (int64, error)
}

// Outcome classifies how a task ended
type Outcome int

const (
	OutcomeDownloaded Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDownloaded:
		return "downloaded"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one download task
type Result struct {
	Task     models.DownloadTask
	Outcome  Outcome
	Path     string
	Bytes    int64
	Duration time.Duration
	Error    error
}

// WorkerPool runs download tasks over a fixed set of workers. Each
// logical image counts at most once in the stats, no matter how many
// candidate URLs or block attempts it takes.
type WorkerPool struct {
	cfg     config.DownloadConfig
	fetcher Fetcher
	pacer   Pacer
	backoff retry.BackoffStrategy
	logger  logger.Logger

	jobQueue    chan models.DownloadTask
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	stats *Stats
}

// NewWorkerPool creates a download pool. A nil pacer disables pacing.
func NewWorkerPool(cfg config.DownloadConfig, fetcher Fetcher, pacer Pacer, log logger.Logger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	if log == nil {
		log = logger.GetLogger()
	}
	if pacer == nil {
		pacer = NopPacer{}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxBlockAttempts < 1 {
		cfg.MaxBlockAttempts = 1
	}

	return &WorkerPool{
		cfg:     cfg,
		fetcher: fetcher,
		pacer:   pacer,
		backoff: &retry.ExponentialBackoff{
			BaseDelay:  cfg.BlockRetryDelay,
			MaxDelay:   10 * cfg.BlockRetryDelay,
			Multiplier: 2.0,
		},
		logger:      log,
		jobQueue:    make(chan models.DownloadTask, cfg.Workers*2),
		resultQueue: make(chan Result, cfg.Workers),
		ctx:         ctx,
		cancel:      cancel,
		stats:       &Stats{},
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.logger.InfoWithFields("Starting download workers", map[string]interface{}{
		"workers": wp.cfg.Workers,
	})
	for i := 0; i < wp.cfg.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue, waits for in-flight tasks, and closes results
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()
}

// Cancel aborts the pool. Queued tasks are dropped, in-flight block
// attempts stop at the next checkpoint.
func (wp *WorkerPool) Cancel() {
	wp.cancel()
}

// Submit queues one task
func (wp *WorkerPool) Submit(task models.DownloadTask) error {
	select {
	case wp.jobQueue <- task:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("download pool is shutting down")
	}
}

// Results returns the channel of per-task outcomes
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

// Stats returns the shared run counters
func (wp *WorkerPool) Stats() *Stats {
	return wp.stats
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for task := range wp.jobQueue {
		select {
		case <-wp.ctx.Done():
			return
		default:
		}

		result := wp.processTask(task, id)
		wp.stats.record(result)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			return
		}
	}
}

// processTask downloads one logical image: skip when already on disk,
// else walk the candidate list best-first, repeating the whole list up
// to MaxBlockAttempts times before giving up
func (wp *WorkerPool) processTask(task models.DownloadTask, workerID int) Result {
	start := time.Now()
	result := Result{Task: task, Outcome: OutcomeFailed}

	destPath, err := wp.destPath(task)
	if err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}
	result.Path = destPath

	if info, err := os.Stat(destPath); err == nil && info.Size() > 0 {
		wp.logger.DebugWithFields("Already on disk, skipping", map[string]interface{}{
			"worker_id": workerID,
			"path":      destPath,
		})
		result.Outcome = OutcomeSkipped
		result.Bytes = info.Size()
		result.Duration = time.Since(start)
		return result
	}

	var lastErr error
	for attempt := 1; attempt <= wp.cfg.MaxBlockAttempts; attempt++ {
		select {
		case <-wp.ctx.Done():
			result.Error = wp.ctx.Err()
			result.Duration = time.Since(start)
			return result
		default:
		}

		for _, candidate := range task.Candidates {
			n, err := wp.fetcher.DownloadStream(wp.ctx, candidate, destPath, task.Referer)
			if err == nil {
				result.Outcome = OutcomeDownloaded
				result.Bytes = n
				result.Duration = time.Since(start)
				wp.logger.DebugWithFields("Downloaded", map[string]interface{}{
					"worker_id": workerID,
					"url":       candidate,
					"bytes":     n,
				})
				// Think-time follows each completed file; skips
				// and failures are not paced
				_ = wp.pacer.Pause(wp.ctx)
				return result
			}
			lastErr = err
			wp.logger.DebugWithFields("Candidate failed", map[string]interface{}{
				"worker_id": workerID,
				"url":       candidate,
				"attempt":   attempt,
				"error":     err.Error(),
			})
		}

		if attempt < wp.cfg.MaxBlockAttempts {
			if err := retry.Wait(wp.ctx, wp.backoff.NextDelay(attempt)); err != nil {
				result.Error = err
				result.Duration = time.Since(start)
				return result
			}
		}
	}

	result.Error = errs.Wrap(errs.ErrorTypeExhausted, lastErr,
		"all %d candidates failed after %d attempts", len(task.Candidates), wp.cfg.MaxBlockAttempts)
	result.Duration = time.Since(start)
	wp.logger.ErrorWithFields("Giving up on image", map[string]interface{}{
		"worker_id": workerID,
		"album":     task.AlbumLabel,
		"name":      task.Name,
		"error":     result.Error.Error(),
	})
	return result
}

// destPath builds the sanitized on-disk target for a task and creates
// its directory
func (wp *WorkerPool) destPath(task models.DownloadTask) (string, error) {
	parts := make([]string, 0, len(task.PathSegments)+1)
	parts = append(parts, wp.cfg.OutputDir)
	for _, seg := range task.PathSegments {
		parts = append(parts, SanitizeName(seg))
	}
	dir := filepath.Join(parts...)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating album directory: %w", err)
	}

	name := SanitizeName(task.Name)
	if filepath.Ext(name) == "" && len(task.Candidates) > 0 {
		if ext := urlExt(task.Candidates[0]); ext != "" {
			name += ext
		}
	}
	return filepath.Join(dir, name), nil
}

func urlExt(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		rawURL = rawURL[:i]
	}
	return filepath.Ext(rawURL)
}

// Run submits every task, waits for the pool to drain, and returns the
// stats. onResult, when non-nil, observes each outcome as it lands.
func Run(ctx context.Context, wp *WorkerPool, tasks []models.DownloadTask, onResult func(Result)) *Stats {
	started := time.Now()
	wp.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range wp.Results() {
			if onResult != nil {
				onResult(r)
			}
		}
	}()

	for _, task := range tasks {
		select {
		case <-ctx.Done():
			wp.Cancel()
			wp.Stop()
			<-done
			return wp.Stats()
		default:
		}
		if err := wp.Submit(task); err != nil {
			break
		}
	}
	wp.Stop()
	<-done

	stats := wp.Stats()
	wp.logger.InfoWithFields("download run complete", map[string]interface{}{
		"downloaded": stats.Downloaded(),
		"skipped":    stats.Skipped(),
		"errors":     stats.Errors(),
		"bytes":      stats.Bytes(),
		"elapsed":    time.Since(started).Round(time.Millisecond).String(),
		"avg_speed":  speedString(stats.Bytes(), time.Since(started)),
	})
	return stats
}

// speedString formats an average transfer rate, switching units at 1 MB/s
func speedString(bytes int64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "0.0 KB/s"
	}
	kbps := float64(bytes) / 1024 / elapsed.Seconds()
	if kbps > 1024 {
		return fmt.Sprintf("%.2f MB/s", kbps/1024)
	}
	return fmt.Sprintf("%.1f KB/s", kbps)
}
