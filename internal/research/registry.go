package research

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/quillback/research-relay/internal/auth"
	"github.com/quillback/research-relay/internal/domain"
	"github.com/quillback/research-relay/internal/querylog"
)

var (
	// ErrNotFound is returned for unknown query ids. An expected, recoverable
	// condition: after a process restart the registry is empty while clients
	// still hold ids.
	ErrNotFound = errors.New("query not found")
	// ErrUnknownUser is returned when the principal is not allow-listed.
	ErrUnknownUser = errors.New("unknown user")
	// ErrMissingField is returned when user or prompt is absent.
	ErrMissingField = errors.New("missing user or prompt")
)

// Registry is the process-wide table of research queries. Records live until
// the process exits; there is no eviction, so long-lived deployments need a
// reaper before this can hold unbounded history.
type Registry struct {
	allow  *auth.Allowlist
	store  *querylog.Store
	logger *slog.Logger

	mu      sync.RWMutex
	queries map[string]*Query
}

// NewRegistry creates an empty registry. store may be nil to disable
// persistence (tests).
func NewRegistry(allow *auth.Allowlist, store *querylog.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		allow:   allow,
		store:   store,
		logger:  logger,
		queries: make(map[string]*Query),
	}
}

// Create validates the request, mints a fresh query id, and registers the
// record. It does not start the upstream interaction; that is the runner's
// job.
func (r *Registry) Create(user, prompt string) (*Query, error) {
	if user == "" || prompt == "" {
		return nil, ErrMissingField
	}
	if r.allow != nil && !r.allow.Allowed(user) {
		return nil, ErrUnknownUser
	}

	q := newQuery(uuid.New().String(), user, prompt, r.store, r.logger)

	r.mu.Lock()
	r.queries[q.ID] = q
	r.mu.Unlock()

	r.logger.Info("query created",
		slog.String("query_id", q.ID),
		slog.String("user", user),
	)
	return q, nil
}

// Get looks a query up by id.
func (r *Registry) Get(queryID string) (*Query, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.queries[queryID]
	if !ok {
		return nil, ErrNotFound
	}
	return q, nil
}

// ByUser lists summaries of every query owned by user, in creation order.
func (r *Registry) ByUser(user string) []domain.QuerySummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]domain.QuerySummary, 0)
	for _, q := range r.queries {
		if q.User == user {
			summaries = append(summaries, q.Summary())
		}
	}
	// Map iteration order is random; list in creation order, ids breaking ties.
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt != summaries[j].CreatedAt {
			return summaries[i].CreatedAt < summaries[j].CreatedAt
		}
		return summaries[i].QueryID < summaries[j].QueryID
	})
	return summaries
}

// ByInteraction finds the query that captured the given upstream interaction
// id, if any.
func (r *Registry) ByInteraction(interactionID string) (*Query, bool) {
	if interactionID == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, q := range r.queries {
		if q.InteractionID() == interactionID {
			return q, true
		}
	}
	return nil, false
}
