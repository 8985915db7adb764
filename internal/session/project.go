package session

import (
	"sync"
	"time"

	"github.com/danielpatrickdp/hybrid-router/internal/query"
	"github.com/danielpatrickdp/hybrid-router/internal/reservoir"
)

// #region project

// Project is the handle for one project's history and reservoir. Mutations for
// a project are expected to come from one orchestration call at a time; the
// mutex only keeps readers consistent.
type Project struct {
	name  string
	limit int

	mu      sync.Mutex
	history []query.Turn // oldest first
	res     *reservoir.Reservoir
}

func newProject(name string, limit int, res *reservoir.Reservoir) *Project {
	return &Project{name: name, limit: limit, res: res}
}

// Name returns the project key.
func (p *Project) Name() string { return p.name }

// AddTurn appends turn, evicts the oldest turns beyond the cap and folds
// features into the reservoir. A wrong-width vector leaves history untouched.
func (p *Project) AddTurn(turn query.Turn, features []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.res.Update(features); err != nil {
		return err
	}
	p.history = append(p.history, turn)
	if over := len(p.history) - p.limit; over > 0 {
		p.history = append([]query.Turn(nil), p.history[over:]...)
	}
	return nil
}

// Snapshot returns the last n turns (oldest first) and a copy of the
// reservoir state. n <= 0 returns no turns.
func (p *Project) Snapshot(n int) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Project:        p.name,
		Turns:          p.tail(n),
		ReservoirState: p.res.State(),
		HistoryLength:  len(p.history),
		TakenAt:        time.Now().UTC(),
	}
}

// RecentHistory returns up to n turns, newest first.
func (p *Project) RecentHistory(n int) []query.Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	tail := p.tail(n)
	for i, j := 0, len(tail)-1; i < j; i, j = i+1, j-1 {
		tail[i], tail[j] = tail[j], tail[i]
	}
	return tail
}

// History returns a copy of the full history, oldest first.
func (p *Project) History() []query.Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]query.Turn(nil), p.history...)
}

// Len returns the number of retained turns.
func (p *Project) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.history)
}

// ReservoirState returns a copy of the reservoir state.
func (p *Project) ReservoirState() []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.res.State()
}

// ContextOutput projects the reservoir state through its readout.
func (p *Project) ContextOutput() []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.res.Output()
}

// ResetReservoir zeroes the reservoir but keeps history.
func (p *Project) ResetReservoir() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.res.Reset()
}

// Clear drops history and zeroes the reservoir.
func (p *Project) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = nil
	p.res.Reset()
}

func (p *Project) replace(turns []query.Turn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if over := len(turns) - p.limit; over > 0 {
		turns = turns[over:]
	}
	p.history = append([]query.Turn(nil), turns...)
	p.res.Reset()
}

// tail copies the last n turns. Caller holds mu.
func (p *Project) tail(n int) []query.Turn {
	if n <= 0 {
		return []query.Turn{}
	}
	if n > len(p.history) {
		n = len(p.history)
	}
	return append([]query.Turn(nil), p.history[len(p.history)-n:]...)
}

// #endregion project
