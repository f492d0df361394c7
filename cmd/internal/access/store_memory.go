package access

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore is a dev-only fallback when DB is not configured.
// A single mutex gives it the same atomicity the Postgres store gets from
// transactions: redemption and the last-admin guard are race free.
type InMemoryStore struct {
	mu     sync.Mutex
	links  map[string]Link // token -> link
	users  map[int64]User
	admins map[int64]struct{}
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		links:  make(map[string]Link),
		users:  make(map[int64]User),
		admins: make(map[int64]struct{}),
	}
}

// CreateLink inserts a new unused invitation link.
func (s *InMemoryStore) CreateLink(ctx context.Context, link Link) error {
	if link.Token == "" {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.links[link.Token]; ok {
		return ErrInvalidInput
	}
	s.links[link.Token] = link
	return nil
}

// ListUnusedLinks returns all unredeemed links ordered by creation time.
func (s *InMemoryStore) ListUnusedLinks(ctx context.Context) ([]Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Link, 0, len(s.links))
	for _, l := range s.links {
		if !l.IsUsed {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetUser loads a user row by id.
func (s *InMemoryStore) GetUser(ctx context.Context, userID int64) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// RedeemLink atomically marks the link used and creates the user row.
func (s *InMemoryStore) RedeemLink(ctx context.Context, in RedeemRecord) (User, error) {
	if in.UserID == 0 || in.Token == "" {
		return User{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[in.UserID]; ok {
		return User{}, ErrAlreadyClaimed
	}
	l, ok := s.links[in.Token]
	if !ok || l.IsUsed {
		return User{}, ErrInvalidOrUsedLink
	}

	l.IsUsed = true
	s.links[in.Token] = l

	u := User{
		UserID:        in.UserID,
		RedeemedLink:  in.Token,
		AccessGranted: true,
		CreatedAt:     in.Now,
	}
	s.users[in.UserID] = u
	return u, nil
}

// SetAccessGranted updates the access flag for an existing user.
func (s *InMemoryStore) SetAccessGranted(ctx context.Context, userID int64, granted bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.AccessGranted = granted
	s.users[userID] = u
	return nil
}

// IsAdmin reports whether the user id is in the admin set.
func (s *InMemoryStore) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.admins[userID]
	return ok, nil
}

// AddAdmin inserts a user id into the admin set.
func (s *InMemoryStore) AddAdmin(ctx context.Context, userID int64) error {
	if userID == 0 {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.admins[userID]; ok {
		return ErrAlreadyAdmin
	}
	s.admins[userID] = struct{}{}
	return nil
}

// RemoveAdmin deletes a user id from the admin set, refusing to empty it.
func (s *InMemoryStore) RemoveAdmin(ctx context.Context, userID int64) error {
	if userID == 0 {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.admins[userID]; !ok {
		return ErrNotAdmin
	}
	if len(s.admins) == 1 {
		return ErrLastAdmin
	}
	delete(s.admins, userID)
	return nil
}
