package similarity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lingvo-tools/tmpipeline/pkg/log"
)

const (
	defaultScoreTimeout = 30 * time.Second
	orphanGracePeriod   = 60 * time.Second
	orphanSweepInterval = 15 * time.Second
)

// Candidate is one text to score against a source.
type Candidate struct {
	ID       string
	Text     string
	Category string
}

// CandidateScore pairs a candidate id with its combined similarity score.
type CandidateScore struct {
	ID        string
	Score     float64
	Breakdown Breakdown
}

type scoreRequest struct {
	id             string
	source         string
	sourceCategory string
	candidates     []Candidate
}

type scoreResult struct {
	scores []CandidateScore
	err    error
}

type inflightRequest struct {
	resultCh  chan scoreResult
	createdAt time.Time
}

// ScorerPool offloads batch scoring (many candidates against one source) to a
// bounded set of workers. Callers and workers exchange request/response
// messages correlated by a uuid; requests left unresolved past a grace period
// are proactively failed by a periodic sweep so abandoned callbacks cannot
// accumulate.
type ScorerPool struct {
	calc     *Calculator
	requests chan scoreRequest

	mu       sync.Mutex
	inflight map[string]*inflightRequest

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScorerPool(workers int) *ScorerPool {
	if workers < 1 {
		workers = 1
	}
	p := &ScorerPool{
		calc:     NewCalculator(),
		requests: make(chan scoreRequest, workers*4),
		inflight: make(map[string]*inflightRequest),
		stopCh:   make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.wg.Add(1)
	go p.sweepOrphans()
	return p
}

// ScoreBatch scores every candidate against source, preserving candidate
// order. timeout <= 0 uses the default 30s.
func (p *ScorerPool) ScoreBatch(ctx context.Context, source, sourceCategory string, candidates []Candidate, timeout time.Duration) ([]CandidateScore, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if timeout <= 0 {
		timeout = defaultScoreTimeout
	}

	req := scoreRequest{
		id:             uuid.NewString(),
		source:         source,
		sourceCategory: sourceCategory,
		candidates:     candidates,
	}
	entry := &inflightRequest{
		resultCh:  make(chan scoreResult, 1),
		createdAt: time.Now(),
	}

	p.mu.Lock()
	p.inflight[req.id] = entry
	p.mu.Unlock()

	select {
	case p.requests <- req:
	case <-ctx.Done():
		p.remove(req.id)
		return nil, ctx.Err()
	case <-p.stopCh:
		p.remove(req.id)
		return nil, fmt.Errorf("scorer pool is stopped")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-entry.resultCh:
		return res.scores, res.err
	case <-timer.C:
		p.remove(req.id)
		return nil, fmt.Errorf("similarity scoring request %s timed out after %v", req.id, timeout)
	case <-ctx.Done():
		p.remove(req.id)
		return nil, ctx.Err()
	}
}

// Stop shuts down workers and the orphan sweep.
func (p *ScorerPool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *ScorerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case req := <-p.requests:
			scores := make([]CandidateScore, len(req.candidates))
			for i, cand := range req.candidates {
				score, bd := p.calc.ScoreWithCategory(req.source, cand.Text, req.sourceCategory, cand.Category)
				scores[i] = CandidateScore{ID: cand.ID, Score: score, Breakdown: bd}
			}
			p.resolve(req.id, scoreResult{scores: scores})
		}
	}
}

func (p *ScorerPool) resolve(id string, res scoreResult) {
	p.mu.Lock()
	entry, ok := p.inflight[id]
	if ok {
		delete(p.inflight, id)
	}
	p.mu.Unlock()
	if !ok {
		// Caller timed out or was swept; drop the result.
		return
	}
	entry.resultCh <- res
}

func (p *ScorerPool) remove(id string) {
	p.mu.Lock()
	delete(p.inflight, id)
	p.mu.Unlock()
}

// sweepOrphans fails requests that never received a response within the grace
// period, e.g. because a worker stalled on a pathological input.
func (p *ScorerPool) sweepOrphans() {
	defer p.wg.Done()

	ticker := time.NewTicker(orphanSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-orphanGracePeriod)

			p.mu.Lock()
			orphans := make(map[string]*inflightRequest)
			for id, entry := range p.inflight {
				if entry.createdAt.Before(cutoff) {
					orphans[id] = entry
					delete(p.inflight, id)
				}
			}
			p.mu.Unlock()

			for id, entry := range orphans {
				log.Warn("Sweeping orphaned similarity request %s", id)
				entry.resultCh <- scoreResult{err: fmt.Errorf("similarity scoring request %s orphaned", id)}
			}
		}
	}
}
