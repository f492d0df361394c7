// Package access decides whether a user's request may proceed and manages
// the invitation-link lifecycle and the admin set.
//
// Access is invitation based: an admin issues a single-use opaque token, a
// user redeems it and receives a time-limited grant. Expiry is lazy: a
// lapsed grant is revoked as a side effect of the very CheckAccess call
// that observes it, not by a background sweep.
package access

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	defaultTokenBytes   = 32
	defaultAccessWindow = 30 * 24 * time.Hour
)

// UnlimitedDays is the DaysRemaining sentinel for grants without a window
// (admins) and for identities with no grant at all.
const UnlimitedDays = -1

// Grant is the outcome of an access check.
type Grant struct {
	Granted       bool
	DaysRemaining int
}

// Service manages invitation links, redemption, lazy expiry, and admins.
type Service struct {
	log          *slog.Logger
	store        Store
	tokenBytes   int
	accessWindow time.Duration
}

// Option configures the Service.
type Option func(*Service) error

// WithTokenBytes sets the length of generated link tokens in bytes.
func WithTokenBytes(n int) Option {
	return func(s *Service) error {
		if n <= 0 {
			return ErrInvalidInput
		}
		s.tokenBytes = n
		return nil
	}
}

// WithAccessWindow sets how long a redeemed grant stays valid.
func WithAccessWindow(d time.Duration) Option {
	return func(s *Service) error {
		if d <= 0 {
			return ErrInvalidInput
		}
		s.accessWindow = d
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(log *slog.Logger, store Store, opts ...Option) (*Service, error) {
	if log == nil || store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		log:          log,
		store:        store,
		tokenBytes:   defaultTokenBytes,
		accessWindow: defaultAccessWindow,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// IssueLink generates a cryptographically random unique token and persists
// it as an unused invitation link. Authorization is the caller's concern.
func (s *Service) IssueLink(ctx context.Context, now time.Time) (Link, error) {
	if s == nil || s.store == nil {
		return Link{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Link{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	token, err := newOpaqueToken(s.tokenBytes)
	if err != nil {
		return Link{}, err
	}
	linkID, err := newULID(now)
	if err != nil {
		return Link{}, err
	}

	link := Link{
		ID:        linkID,
		Token:     token,
		IsUsed:    false,
		CreatedAt: now,
	}
	if err := s.store.CreateLink(ctx, link); err != nil {
		return Link{}, err
	}

	s.log.Info("access.link.issued", "link_id", link.ID)
	return link, nil
}

// ListUnusedLinks returns all links that have not been redeemed yet.
func (s *Service) ListUnusedLinks(ctx context.Context) ([]Link, error) {
	if s == nil || s.store == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.ListUnusedLinks(ctx)
}

// RedeemLink consumes an unused invitation link and creates the user row
// with a fresh grant. The mark-used and user-creation are one atomic unit
// inside the store.
func (s *Service) RedeemLink(ctx context.Context, userID int64, token string, now time.Time) (User, error) {
	if s == nil || s.store == nil {
		return User{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" || userID == 0 {
		return User{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	user, err := s.store.RedeemLink(ctx, RedeemRecord{UserID: userID, Token: token, Now: now})
	if err != nil {
		return User{}, err
	}

	s.log.Info("access.link.redeemed", "user_id", userID)
	return user, nil
}

// CheckAccess reports whether the user may proceed and how many whole days
// remain on the grant.
//
// Admins always report (true, UnlimitedDays). Identities with no user row
// report (false, UnlimitedDays). A grant whose elapsed time exceeds the
// access window is revoked in the store as a side effect of this check and
// reports (false, 0).
func (s *Service) CheckAccess(ctx context.Context, userID int64, now time.Time) (Grant, error) {
	if s == nil || s.store == nil {
		return Grant{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Grant{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	admin, err := s.store.IsAdmin(ctx, userID)
	if err != nil {
		return Grant{}, err
	}
	if admin {
		return Grant{Granted: true, DaysRemaining: UnlimitedDays}, nil
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Grant{Granted: false, DaysRemaining: UnlimitedDays}, nil
		}
		return Grant{}, err
	}
	if !user.AccessGranted {
		return Grant{Granted: false, DaysRemaining: 0}, nil
	}

	elapsed := now.Sub(user.CreatedAt)
	if elapsed > s.accessWindow {
		if err := s.store.SetAccessGranted(ctx, userID, false); err != nil {
			return Grant{}, err
		}
		s.log.Info("access.grant.expired", "user_id", userID)
		return Grant{Granted: false, DaysRemaining: 0}, nil
	}

	windowDays := int(s.accessWindow / (24 * time.Hour))
	elapsedDays := int(elapsed / (24 * time.Hour))
	return Grant{Granted: true, DaysRemaining: windowDays - elapsedDays}, nil
}

// IsAdmin reports whether the user id is in the admin set.
func (s *Service) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	if s == nil || s.store == nil {
		return false, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.store.IsAdmin(ctx, userID)
}

// AddAdmin inserts a user id into the admin set.
// Authorization (caller must be an admin) is enforced by the caller.
func (s *Service) AddAdmin(ctx context.Context, userID int64) error {
	if s == nil || s.store == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == 0 {
		return ErrInvalidInput
	}
	if err := s.store.AddAdmin(ctx, userID); err != nil {
		return err
	}
	s.log.Info("access.admin.added", "user_id", userID)
	return nil
}

// RemoveAdmin deletes a user id from the admin set. Removing the last
// remaining admin is refused with ErrLastAdmin.
func (s *Service) RemoveAdmin(ctx context.Context, userID int64) error {
	if s == nil || s.store == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == 0 {
		return ErrInvalidInput
	}
	if err := s.store.RemoveAdmin(ctx, userID); err != nil {
		return err
	}
	s.log.Info("access.admin.removed", "user_id", userID)
	return nil
}

func newOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = defaultTokenBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func newULID(now time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
