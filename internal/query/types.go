package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
)

// #region route

// Route identifies where a query is processed.
type Route uint8

const (
	RouteLocal Route = iota
	RouteRemote
	RouteHybrid
	RouteBlocked
)

// NumClasses is the number of routes a learned router can emit (Blocked is excluded).
const NumClasses = 3

var routeNames = [...]string{"local", "remote", "hybrid", "blocked"}

// String returns the lowercase route name.
func (r Route) String() string {
	if int(r) < len(routeNames) {
		return routeNames[r]
	}
	return fmt.Sprintf("route(%d)", uint8(r))
}

// RequiresNetwork reports whether the route needs a remote service.
func (r Route) RequiresNetwork() bool {
	return r == RouteRemote || r == RouteHybrid
}

// Label returns the classifier index for the route. Blocked has no label.
func (r Route) Label() (int, bool) {
	if r > RouteHybrid {
		return 0, false
	}
	return int(r), true
}

// RouteFromLabel maps a classifier index back to a route.
func RouteFromLabel(label int) (Route, error) {
	if label < 0 || label >= NumClasses {
		return 0, herr.InvalidArgf("label %d out of range [0,%d)", label, NumClasses)
	}
	return Route(label), nil
}

// ParseRoute parses a route name case-insensitively.
func ParseRoute(s string) (Route, error) {
	for i, name := range routeNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Route(i), nil
		}
	}
	return 0, herr.InvalidArgf("unknown route %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (r Route) MarshalText() ([]byte, error) {
	if int(r) >= len(routeNames) {
		return nil, herr.InvalidArgf("unknown route %d", uint8(r))
	}
	return []byte(routeNames[r]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Route) UnmarshalText(b []byte) error {
	parsed, err := ParseRoute(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// #endregion route

// #region query

const (
	MinPriority     = 0
	MaxPriority     = 10
	DefaultPriority = 5
)

// Query is an immutable incoming request. Build it with New.
type Query struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Project   string    `json:"project,omitempty"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// Option customizes a Query at construction.
type Option func(*Query)

// WithProject sets the project context label.
func WithProject(project string) Option {
	return func(q *Query) { q.Project = project }
}

// WithPriority sets the priority. Range is checked by New.
func WithPriority(p int) Option {
	return func(q *Query) { q.Priority = p }
}

// WithTime overrides the creation time. A zero time is replaced by now.
func WithTime(t time.Time) Option {
	return func(q *Query) { q.CreatedAt = t }
}

// New builds a Query with default priority 5 and the current time.
func New(text string, opts ...Option) (Query, error) {
	q := Query{
		ID:       uuid.NewString(),
		Text:     text,
		Priority: DefaultPriority,
	}
	for _, opt := range opts {
		opt(&q)
	}
	if q.Priority < MinPriority || q.Priority > MaxPriority {
		return Query{}, herr.WithOp(
			herr.InvalidArgf("priority %d out of range [%d,%d]", q.Priority, MinPriority, MaxPriority),
			"query.New",
		)
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	return q, nil
}

// MustNew is New for fixtures and tests; it panics on invalid input.
func MustNew(text string, opts ...Option) Query {
	q, err := New(text, opts...)
	if err != nil {
		panic(err)
	}
	return q
}

// IsHighPriority reports priority above 7.
func (q Query) IsHighPriority() bool {
	return q.Priority > 7
}

// HasProject reports whether a project context is attached.
func (q Query) HasProject() bool {
	return q.Project != ""
}

// #endregion query

// #region decision

// Decision is a route paired with its confidence in [0,1].
type Decision struct {
	Route      Route   `json:"route"`
	Confidence float32 `json:"confidence"`
	// Source names what produced the decision: "gate", "heuristic" or "neural".
	Source string `json:"source"`
	Reason string `json:"reason,omitempty"`
}

// RequiresNetwork is derived from the route.
func (d Decision) RequiresNetwork() bool {
	return d.Route.RequiresNetwork()
}

// #endregion decision

// #region turn

// Turn is one completed exchange. Appended to history, never mutated.
type Turn struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	Response   string    `json:"response"`
	Project    string    `json:"project,omitempty"`
	Priority   int       `json:"priority"`
	Route      Route     `json:"route"`
	Confidence float32   `json:"confidence"`
	Model      string    `json:"model,omitempty"`
	Tokens     int       `json:"tokens,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	// Unscoped marks a query sent without a project; Project then holds the
	// default it was filed under.
	Unscoped bool `json:"unscoped,omitempty"`

	// Features is the vector the turn was routed on, when known.
	Features []float32 `json:"features,omitempty"`
}

// QueryProject returns the project the original query carried.
func (t Turn) QueryProject() string {
	if t.Unscoped {
		return ""
	}
	return t.Project
}

// NewTurn records a response to q under decision d. The turn keeps the
// query's timestamp so stored turns reproduce what routing saw.
func NewTurn(q Query, response string, d Decision) Turn {
	created := q.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return Turn{
		ID:         uuid.NewString(),
		Query:      q.Text,
		Response:   response,
		Project:    q.Project,
		Priority:   q.Priority,
		Route:      d.Route,
		Confidence: d.Confidence,
		Model:      ModelName(d.Route),
		Tokens:     EstimateTokens(response),
		CreatedAt:  created,
	}
}

// ModelName returns the backend family label recorded for a route.
func ModelName(r Route) string {
	switch r {
	case RouteLocal:
		return "local"
	case RouteRemote:
		return "remote"
	case RouteHybrid:
		return "hybrid"
	default:
		return "none"
	}
}

// EstimateTokens is a rough chars/4 estimate.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Truncate shortens s to max characters, appending "..." when cut. It never
// splits a multi-byte rune.
func Truncate(s string, max int) string {
	if max < 0 {
		max = 0
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

// #endregion turn
