package proxy

import (
	"context"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xmarre/Copperminer/pkg/config"
	"github.com/xmarre/Copperminer/pkg/logger"
	"github.com/xmarre/Copperminer/pkg/retry"
)

// State describes the pool's fill progress
type State int32

const (
	StateEmpty State = iota
	StateFilling
	StatePartiallyReady
	StateReady
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateFilling:
		return "filling"
	case StatePartiallyReady:
		return "partially_ready"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// acquireBackoff paces the retry loop in Acquire while the live set is
// still empty after a replenish
var acquireBackoff retry.BackoffStrategy = &retry.ConstantBackoff{Delay: 500 * time.Millisecond}

// Pool owns the live set of validated proxies. It warm-starts from the
// ledger, tops up from network candidate lists, and validates
// candidates with bounded parallelism. Readiness is a one-way latch:
// the pool signals ready as soon as the live set first reaches the
// fast-fill target, while remaining validations continue in the
// background.
type Pool struct {
	cfg    config.ProxyConfig
	ledger *Ledger
	logger logger.Logger

	// overridable for tests
	validate        func(ctx context.Context, addr string) bool
	fetchCandidates func(ctx context.Context) []string

	directClient *http.Client
	sem          *semaphore.Weighted
	targetIdx    atomic.Uint64

	mu      sync.Mutex
	live    []string
	liveSet map[string]bool
	state   State

	readyOnce sync.Once
	ready     chan struct{}

	refreshMu     sync.Mutex
	refreshCancel context.CancelFunc
	refreshDone   chan struct{}
}

// NewPool creates a proxy pool backed by the given ledger
func NewPool(cfg config.ProxyConfig, ledger *Ledger, log logger.Logger) *Pool {
	if log == nil {
		log = logger.GetLogger()
	}

	p := &Pool{
		cfg:          cfg,
		ledger:       ledger,
		logger:       log,
		directClient: &http.Client{Timeout: 15 * time.Second},
		sem:          semaphore.NewWeighted(int64(cfg.ValidationWorkers)),
		liveSet:      make(map[string]bool),
		ready:        make(chan struct{}),
	}
	p.validate = p.validateProxy
	p.fetchCandidates = func(ctx context.Context) []string {
		return FetchCandidates(ctx, cfg.Sources, p.directClient, log)
	}
	return p
}

// WaitUntilReady blocks until the pool has signalled readiness or the
// context is cancelled
func (p *Pool) WaitUntilReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ready:
		return nil
	}
}

// Ready reports whether the readiness latch has fired. Once true it
// never reverts.
func (p *Pool) Ready() bool {
	select {
	case <-p.ready:
		return true
	default:
		return false
	}
}

// State returns the pool's current fill state
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Len returns the size of the live set
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Replenish fills the live set. The ledger's good proxies are folded in
// first; when they alone meet fastFillTarget and force is false, no
// network fetch happens (the warm-start path). Otherwise candidates are
// fetched from the configured sources, filtered to those the ledger
// says need testing, and validated with bounded parallelism. Replenish
// returns once the pool is ready or every validation has finished;
// validations still running at that point keep folding results in
// asynchronously.
func (p *Pool) Replenish(ctx context.Context, fastFillTarget int, force bool) error {
	p.mu.Lock()
	if p.state == StateEmpty {
		p.state = StateFilling
	}
	for _, addr := range p.ledger.GoodProxies() {
		p.addLocked(addr)
	}
	warm := len(p.live)
	if warm >= fastFillTarget && !force {
		p.mu.Unlock()
		p.logger.InfoWithFields("proxy pool warm start from ledger", map[string]interface{}{
			"size": warm,
		})
		p.signalReady()
		return nil
	}
	p.mu.Unlock()

	candidates := p.fetchCandidates(ctx)

	var toTest []string
	for _, addr := range candidates {
		p.mu.Lock()
		alive := p.liveSet[addr]
		p.mu.Unlock()
		if !alive && p.ledger.ShouldTest(addr) {
			toTest = append(toTest, addr)
		}
	}

	p.logger.InfoWithFields("replenishing proxy pool", map[string]interface{}{
		"live":       warm,
		"candidates": len(candidates),
		"to_test":    len(toTest),
		"target":     fastFillTarget,
	})

	if len(toTest) == 0 {
		if p.Len() > 0 {
			p.signalReady()
		}
		return nil
	}

	var wg sync.WaitGroup
	for _, addr := range toTest {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			if err := p.sem.Acquire(ctx, 1); err != nil {
				return
			}
			ok := p.validate(ctx, addr)
			p.sem.Release(1)

			if !ok {
				// Routine state, not an error
				p.ledger.Update(addr, StatusBad)
				return
			}
			p.ledger.Update(addr, StatusGood)
			p.mu.Lock()
			p.addLocked(addr)
			size := len(p.live)
			p.mu.Unlock()
			if size >= fastFillTarget {
				p.signalReady()
			}
		}(addr)
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
		p.mu.Lock()
		if p.state == StatePartiallyReady || p.state == StateFilling {
			p.state = StateReady
		}
		size := len(p.live)
		p.mu.Unlock()
		p.ledger.Save()
		p.logger.InfoWithFields("proxy validation complete", map[string]interface{}{
			"size": size,
		})
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ready:
		return nil
	case <-allDone:
		if p.Len() > 0 {
			p.signalReady()
		}
		return nil
	}
}

// Acquire returns a live proxy, replenishing inline while the set is
// empty or below the minimum. It never returns an empty address: a
// caller that cannot get a proxy waits until one exists or the context
// is cancelled. Acquire is read-only sampling; it does not mutate the
// live set.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		p.mu.Lock()
		if len(p.live) >= p.cfg.MinSize {
			if addr, ok := p.sampleLocked(); ok {
				p.mu.Unlock()
				return addr, nil
			}
		}
		p.mu.Unlock()

		if err := p.Replenish(ctx, p.cfg.FastFillTarget, false); err != nil {
			return "", err
		}

		p.mu.Lock()
		addr, ok := p.sampleLocked()
		p.mu.Unlock()
		if ok {
			return addr, nil
		}

		if err := retry.Wait(ctx, acquireBackoff.NextDelay(attempt)); err != nil {
			return "", err
		}
	}
}

// Evict removes a proxy from the live set and marks it bad in the
// ledger
func (p *Pool) Evict(addr string) {
	p.mu.Lock()
	p.removeLocked(addr)
	size := len(p.live)
	p.mu.Unlock()

	p.ledger.Update(addr, StatusBad)
	p.logger.DebugWithFields("evicted proxy", map[string]interface{}{
		"proxy": addr,
		"size":  size,
	})
}

// StartAutoRefresh launches a background loop that periodically
// re-validates the live set and tops it back up. Calling it twice does
// not start a second loop.
func (p *Pool) StartAutoRefresh(interval time.Duration) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()
	if p.refreshCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.refreshCancel = cancel
	p.refreshDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.revalidateLive(ctx)
				if err := p.Replenish(ctx, p.cfg.FastFillTarget, true); err != nil {
					return
				}
			}
		}
	}()
}

// StopAutoRefresh cancels the refresh loop and waits for it to quiesce
func (p *Pool) StopAutoRefresh() {
	p.refreshMu.Lock()
	cancel, done := p.refreshCancel, p.refreshDone
	p.refreshCancel, p.refreshDone = nil, nil
	p.refreshMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// revalidateLive probes every live proxy and prunes the dead ones
func (p *Pool) revalidateLive(ctx context.Context) {
	p.mu.Lock()
	snapshot := make([]string, len(p.live))
	copy(snapshot, p.live)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, addr := range snapshot {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			if err := p.sem.Acquire(ctx, 1); err != nil {
				return
			}
			ok := p.validate(ctx, addr)
			p.sem.Release(1)

			if ok {
				p.ledger.Update(addr, StatusGood)
				return
			}
			p.Evict(addr)
		}(addr)
	}
	wg.Wait()
	p.ledger.Save()
}

// validateProxy issues one real test request against a rotating
// validation target through the candidate proxy. Probing real target
// pages rather than an IP-echo endpoint means a pass reflects actual
// target-site reachability.
func (p *Pool) validateProxy(ctx context.Context, addr string) bool {
	target := p.nextTarget()
	if target == "" {
		return false
	}

	proxyURL, err := url.Parse("http://" + addr)
	if err != nil {
		return false
	}

	client := &http.Client{
		Timeout: p.cfg.ValidationTimeout,
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(proxyURL),
			DisableKeepAlives: true,
		},
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.ValidationTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode < 500
}

// nextTarget returns the next validation target, rotating through the
// configured set. Falls back to the candidate sources when no explicit
// targets exist.
func (p *Pool) nextTarget() string {
	targets := p.cfg.ValidationTargets
	if len(targets) == 0 {
		targets = p.cfg.Sources
	}
	if len(targets) == 0 {
		return ""
	}
	n := p.targetIdx.Add(1)
	return targets[int(n-1)%len(targets)]
}

// signalReady fires the one-way readiness latch
func (p *Pool) signalReady() {
	p.readyOnce.Do(func() {
		p.mu.Lock()
		if p.state == StateFilling || p.state == StateEmpty {
			p.state = StatePartiallyReady
		}
		size := len(p.live)
		p.mu.Unlock()
		close(p.ready)
		p.logger.InfoWithFields("proxy pool ready", map[string]interface{}{
			"size": size,
		})
	})
}

// addLocked folds a proxy into the live set, deduplicating and pruning
// a random entry when the set is at capacity. Caller holds p.mu.
func (p *Pool) addLocked(addr string) {
	if p.liveSet[addr] {
		return
	}
	if p.cfg.MaxSize > 0 && len(p.live) >= p.cfg.MaxSize {
		// Random pruning avoids biasing the set toward any one source
		victim := rand.Intn(len(p.live))
		delete(p.liveSet, p.live[victim])
		p.live[victim] = p.live[len(p.live)-1]
		p.live = p.live[:len(p.live)-1]
	}
	p.liveSet[addr] = true
	p.live = append(p.live, addr)
}

// removeLocked removes a proxy from the live set. Caller holds p.mu.
func (p *Pool) removeLocked(addr string) {
	if !p.liveSet[addr] {
		return
	}
	delete(p.liveSet, addr)
	for i, a := range p.live {
		if a == addr {
			p.live[i] = p.live[len(p.live)-1]
			p.live = p.live[:len(p.live)-1]
			break
		}
	}
}

// sampleLocked picks a random live proxy, dropping any entry the ledger
// currently marks bad. Caller holds p.mu.
func (p *Pool) sampleLocked() (string, bool) {
	for len(p.live) > 0 {
		addr := p.live[rand.Intn(len(p.live))]
		if !p.ledger.IsBad(addr) {
			return addr, true
		}
		p.removeLocked(addr)
	}
	return "", false
}
