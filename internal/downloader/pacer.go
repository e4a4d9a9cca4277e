package downloader

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/xmarre/Copperminer/pkg/retry"
)

// Pacer inserts think-time between downloads
type Pacer interface {
	Pause(ctx context.Context) error
}

// NopPacer disables pacing
type NopPacer struct{}

func (NopPacer) Pause(context.Context) error { return nil }

// HumanPacer spaces downloads out the way a person browsing would:
// a short random pause before every file, plus an occasional longer
// break after a batch of files.
type HumanPacer struct {
	mu        sync.Mutex
	rng       *rand.Rand
	count     int
	nextBreak int
}

// NewHumanPacer seeds a pacer. A zero seed uses the current time.
func NewHumanPacer(seed int64) *HumanPacer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	p := &HumanPacer{rng: rand.New(rand.NewSource(seed))}
	p.nextBreak = p.batchSize()
	return p
}

func (p *HumanPacer) batchSize() int {
	return 18 + p.rng.Intn(11)
}

// Pause sleeps 0.7 to 2.5 seconds, stretching to 5 to 8 seconds every
// 18 to 28 files
func (p *HumanPacer) Pause(ctx context.Context) error {
	p.mu.Lock()
	d := time.Duration((0.7 + p.rng.Float64()*1.8) * float64(time.Second))
	p.count++
	if p.count >= p.nextBreak {
		d = time.Duration((5 + p.rng.Float64()*3) * float64(time.Second))
		p.count = 0
		p.nextBreak = p.batchSize()
	}
	p.mu.Unlock()

	return retry.Wait(ctx, d)
}
