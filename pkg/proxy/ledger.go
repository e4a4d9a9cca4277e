package proxy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xmarre/Copperminer/pkg/logger"
)

// Status records the last validation outcome for a proxy
type Status string

const (
	StatusGood Status = "good"
	StatusBad  Status = "bad"
)

// Record is a single ledger entry
type Record struct {
	Status     Status    `json:"status"`
	LastTested time.Time `json:"last_tested"`
}

// Ledger is the durable source of truth about proxies: a persisted map
// from proxy address to its last validation outcome. Records go stale
// after their class TTL and must be re-validated before reuse.
type Ledger struct {
	path    string
	goodTTL time.Duration
	badTTL  time.Duration
	logger  logger.Logger

	mu      sync.Mutex
	records map[string]Record
}

// LoadLedger reads the ledger from disk. A missing or corrupt file
// yields an empty ledger, never an error.
func LoadLedger(path string, goodTTL, badTTL time.Duration, log logger.Logger) *Ledger {
	if log == nil {
		log = logger.GetLogger()
	}

	l := &Ledger{
		path:    path,
		goodTTL: goodTTL,
		badTTL:  badTTL,
		logger:  log,
		records: make(map[string]Record),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WarnWithFields("proxy ledger unreadable, starting empty", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		}
		return l
	}

	if err := json.Unmarshal(data, &l.records); err != nil {
		log.WarnWithFields("proxy ledger corrupt, starting empty", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		l.records = make(map[string]Record)
	}

	return l
}

// Save writes the ledger to disk atomically. Failures are logged and
// swallowed; persistence is best-effort.
func (l *Ledger) Save() {
	l.mu.Lock()
	data, err := json.MarshalIndent(l.records, "", "  ")
	l.mu.Unlock()
	if err != nil {
		l.logger.WithError(err).Warn("failed to encode proxy ledger")
		return
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		l.logger.WithError(err).Warn("failed to create ledger directory")
		return
	}

	tempPath := l.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		l.logger.WithError(err).Warn("failed to write proxy ledger")
		return
	}
	if err := os.Rename(tempPath, l.path); err != nil {
		os.Remove(tempPath)
		l.logger.WithError(err).Warn("failed to replace proxy ledger")
	}
}

// Update records a validation outcome for a proxy
func (l *Ledger) Update(addr string, status Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[addr] = Record{Status: status, LastTested: time.Now()}
}

// ShouldTest reports whether a proxy needs re-validation: true when no
// record exists or the record is stale per its class TTL.
func (l *Ledger) ShouldTest(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[addr]
	if !ok {
		return true
	}
	return time.Since(rec.LastTested) > l.ttlFor(rec.Status)
}

// GoodProxies returns all proxies with a non-stale good record
func (l *Ledger) GoodProxies() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var good []string
	for addr, rec := range l.records {
		if rec.Status == StatusGood && time.Since(rec.LastTested) <= l.goodTTL {
			good = append(good, addr)
		}
	}
	return good
}

// IsBad reports whether a proxy has a non-stale bad record
func (l *Ledger) IsBad(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[addr]
	return ok && rec.Status == StatusBad && time.Since(rec.LastTested) <= l.badTTL
}

// Len returns the number of ledger entries
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *Ledger) ttlFor(s Status) time.Duration {
	if s == StatusBad {
		return l.badTTL
	}
	return l.goodTTL
}
