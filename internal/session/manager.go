// Package session owns per-project conversation history and the reservoir
// that compresses it.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/logger"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
	"github.com/danielpatrickdp/hybrid-router/internal/reservoir"
	"github.com/danielpatrickdp/hybrid-router/internal/store"
)

// #region types

// Persistence is the opaque blob store sessions are saved to.
type Persistence interface {
	Save(ctx context.Context, key string, blob []byte) error
	Load(ctx context.Context, key string) ([]byte, bool, error)
}

// Config controls history retention.
type Config struct {
	HistoryCap     int
	DefaultProject string
}

// DefaultConfig returns the stock retention settings.
func DefaultConfig() Config {
	return Config{HistoryCap: 1000, DefaultProject: "default"}
}

// Snapshot is a read-only view of a project's context.
type Snapshot struct {
	Project        string       `json:"project"`
	Turns          []query.Turn `json:"turns"` // oldest first
	ReservoirState []float32    `json:"reservoir_state"`
	HistoryLength  int          `json:"history_length"`
	TakenAt        time.Time    `json:"taken_at"`
}

// #endregion types

// #region manager

// Manager maps project keys to lazily created Project handles. All projects
// share the template reservoir's frozen weights.
type Manager struct {
	cfg      Config
	template *reservoir.Reservoir
	persist  Persistence

	mu       sync.Mutex
	projects map[string]*Project

	log *logger.Logger
}

// NewManager builds a manager. template supplies the reservoir topology; persist may be nil.
func NewManager(cfg Config, template *reservoir.Reservoir, persist Persistence) (*Manager, error) {
	if cfg.HistoryCap <= 0 {
		return nil, herr.InvalidArgf("history cap must be positive, got %d", cfg.HistoryCap)
	}
	if cfg.DefaultProject == "" {
		cfg.DefaultProject = DefaultConfig().DefaultProject
	}
	if template == nil {
		return nil, herr.InvalidArgf("nil reservoir template")
	}
	return &Manager{
		cfg:      cfg,
		template: template,
		persist:  persist,
		projects: make(map[string]*Project),
		log:      logger.Named("session"),
	}, nil
}

// DefaultProject returns the project used for queries without one.
func (m *Manager) DefaultProject() string { return m.cfg.DefaultProject }

// Resolve maps an empty project key to the default project.
func (m *Manager) Resolve(project string) string {
	if project == "" {
		return m.cfg.DefaultProject
	}
	return project
}

// Switch returns the handle for project, creating it on first use and
// restoring it from persistence when a saved copy exists.
func (m *Manager) Switch(ctx context.Context, project string) (*Project, error) {
	key := m.Resolve(project)

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[key]; ok {
		return p, nil
	}

	p := newProject(key, m.cfg.HistoryCap, m.template.Fork())
	if m.persist != nil {
		if err := p.load(ctx, m.persist); err != nil {
			return nil, err
		}
	}
	m.projects[key] = p
	m.log.Debug().Str("project", key).Int("turns", p.Len()).Msg("project opened")
	return p, nil
}

// AddTurn appends turn to project and feeds features into its reservoir.
func (m *Manager) AddTurn(ctx context.Context, project string, turn query.Turn, features []float32) error {
	p, err := m.Switch(ctx, project)
	if err != nil {
		return err
	}
	return p.AddTurn(turn, features)
}

// Snapshot returns project's last n turns and reservoir state.
func (m *Manager) Snapshot(ctx context.Context, project string, n int) (Snapshot, error) {
	p, err := m.Switch(ctx, project)
	if err != nil {
		return Snapshot{}, err
	}
	return p.Snapshot(n), nil
}

// Projects lists open projects in name order.
func (m *Manager) Projects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.projects))
	for name := range m.projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConversationCount sums history lengths across open projects.
func (m *Manager) ConversationCount() int {
	total := 0
	for _, p := range m.handles() {
		total += p.Len()
	}
	return total
}

// ClearHistory empties every project's history and resets its reservoir.
func (m *Manager) ClearHistory() {
	for _, p := range m.handles() {
		p.Clear()
	}
}

// Close drops a project from memory after saving it.
func (m *Manager) Close(ctx context.Context, project string) error {
	key := m.Resolve(project)
	m.mu.Lock()
	p, ok := m.projects[key]
	delete(m.projects, key)
	m.mu.Unlock()
	if !ok || m.persist == nil {
		return nil
	}
	return p.save(ctx, m.persist)
}

// Save persists one project.
func (m *Manager) Save(ctx context.Context, project string) error {
	if m.persist == nil {
		return nil
	}
	p, err := m.Switch(ctx, project)
	if err != nil {
		return err
	}
	return p.save(ctx, m.persist)
}

// Flush persists every open project.
func (m *Manager) Flush(ctx context.Context) error {
	if m.persist == nil {
		return nil
	}
	for _, p := range m.handles() {
		if err := p.save(ctx, m.persist); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) handles() []*Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	return out
}

// #endregion manager

// #region export

// exportDoc is the JSON shape of Export.
type exportDoc struct {
	Projects map[string][]query.Turn `json:"projects"`
}

// Export writes every open project's history as JSON.
func (m *Manager) Export() ([]byte, error) {
	doc := exportDoc{Projects: make(map[string][]query.Turn)}
	for _, p := range m.handles() {
		doc.Projects[p.Name()] = p.History()
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Import replaces the history of each project in data. Reservoirs are reset;
// turn histories do not carry feature vectors.
func (m *Manager) Import(ctx context.Context, data []byte) error {
	var doc exportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return herr.Wrap(err, herr.KindInvalidArgument, "decode session export")
	}
	for name, turns := range doc.Projects {
		p, err := m.Switch(ctx, name)
		if err != nil {
			return err
		}
		p.replace(turns)
	}
	return nil
}

// #endregion export

// #region persistence-keys

func turnsKey(project string) string     { return "turns:" + project }
func reservoirKey(project string) string { return "reservoir:" + project }

func (p *Project) save(ctx context.Context, persist Persistence) error {
	p.mu.Lock()
	turns, err := json.Marshal(p.history)
	state := p.res.State()
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal turns: %w", err)
	}
	if err := persist.Save(ctx, turnsKey(p.name), turns); err != nil {
		return herr.Storagef(err, "save turns for %s", p.name)
	}
	if err := persist.Save(ctx, reservoirKey(p.name), store.EncodeVector(state)); err != nil {
		return herr.Storagef(err, "save reservoir for %s", p.name)
	}
	return nil
}

func (p *Project) load(ctx context.Context, persist Persistence) error {
	raw, ok, err := persist.Load(ctx, turnsKey(p.name))
	if err != nil {
		return herr.Storagef(err, "load turns for %s", p.name)
	}
	if ok {
		var turns []query.Turn
		if err := json.Unmarshal(raw, &turns); err != nil {
			return herr.Wrapf(err, herr.KindStorage, "decode turns for %s", p.name)
		}
		p.replace(turns)
	}

	raw, ok, err = persist.Load(ctx, reservoirKey(p.name))
	if err != nil {
		return herr.Storagef(err, "load reservoir for %s", p.name)
	}
	if ok {
		if err := p.res.Restore(store.DecodeVector(raw)); err != nil {
			return herr.WithOp(err, "session.load")
		}
	}
	return nil
}

// #endregion persistence-keys
