package permission

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/minmaxflow/mini-kode/internal/logging"
	"github.com/minmaxflow/mini-kode/internal/storage"
	"github.com/rs/zerolog"
)

// GrantStore holds session grants in memory and project grants on disk.
// It applies no policy.
type GrantStore interface {
	SessionGrants() []Grant
	ProjectGrants(cwd string) []Grant
	AddSessionGrant(g Grant)
	AddProjectGrant(ctx context.Context, cwd string, g Grant) error
	ClearSession()
}

// SessionGrants is an append-only grant list for the process lifetime.
type SessionGrants struct {
	mu     sync.RWMutex
	grants []Grant
}

// Add appends g unless an identical grant is already present.
func (s *SessionGrants) Add(g Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !containsGrant(s.grants, g) {
		s.grants = append(s.grants, g)
	}
}

// List returns a copy of the grants.
func (s *SessionGrants) List() []Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Grant, len(s.grants))
	copy(out, s.grants)
	return out
}

// Clear drops every session grant.
func (s *SessionGrants) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = nil
}

var grantsKey = []string{"permissions"}

// ProjectGrants reads and writes <cwd>/.mini-kode/permissions.json. Reads
// always go to disk.
type ProjectGrants struct {
	mu     sync.Mutex
	stores map[string]*storage.Storage
	log    zerolog.Logger
}

// NewProjectGrants creates a project grant store.
func NewProjectGrants() *ProjectGrants {
	return &ProjectGrants{
		stores: make(map[string]*storage.Storage),
		log:    logging.Component("grants"),
	}
}

func (p *ProjectGrants) storeFor(cwd string) *storage.Storage {
	dir := filepath.Join(filepath.Clean(cwd), ProjectDirName)
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.stores[dir]
	if !ok {
		s = storage.New(dir)
		p.stores[dir] = s
	}
	return s
}

// List returns the valid grants in the project file. A missing or
// unreadable file yields no grants.
func (p *ProjectGrants) List(cwd string) []Grant {
	s := p.storeFor(cwd)
	data, err := s.GetRaw(context.Background(), grantsKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			p.log.Warn().Err(err).Str("file", s.Path(grantsKey)).Msg("cannot read project grants")
		}
		return nil
	}

	grants, dropped := decodeGrantFile(data)
	if dropped > 0 {
		p.log.Debug().Int("dropped", dropped).Str("file", s.Path(grantsKey)).Msg("ignored invalid grant entries")
	}
	return grants
}

// Add appends g to the project file with a locked read-modify-write.
func (p *ProjectGrants) Add(ctx context.Context, cwd string, g Grant) error {
	s := p.storeFor(cwd)
	err := s.Update(ctx, grantsKey, func(current []byte) (any, error) {
		grants, _ := decodeGrantFile(current)
		if !containsGrant(grants, g) {
			grants = append(grants, g)
		}
		if grants == nil {
			grants = []Grant{}
		}
		return grantFile{Grants: grants}, nil
	})
	if err != nil {
		return fmt.Errorf("failed to save project grant: %w", err)
	}
	p.log.Info().Str("grant", g.String()).Str("file", s.Path(grantsKey)).Msg("project grant added")
	return nil
}

// Store is the default GrantStore.
type Store struct {
	session *SessionGrants
	project *ProjectGrants
}

// NewStore creates an empty grant store.
func NewStore() *Store {
	return &Store{
		session: &SessionGrants{},
		project: NewProjectGrants(),
	}
}

func (s *Store) SessionGrants() []Grant          { return s.session.List() }
func (s *Store) ProjectGrants(cwd string) []Grant { return s.project.List(cwd) }
func (s *Store) AddSessionGrant(g Grant)          { s.session.Add(g) }
func (s *Store) ClearSession()                    { s.session.Clear() }

func (s *Store) AddProjectGrant(ctx context.Context, cwd string, g Grant) error {
	return s.project.Add(ctx, cwd, g)
}

// containsGrant reports whether an identical grant, ignoring GrantedAt, is present.
func containsGrant(grants []Grant, g Grant) bool {
	for _, existing := range grants {
		if existing.Type == g.Type && existing.Path == g.Path && existing.Command == g.Command &&
			existing.ServerName == g.ServerName && existing.ToolName == g.ToolName {
			return true
		}
	}
	return false
}
