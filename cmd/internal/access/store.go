package access

import (
	"context"
	"time"
)

// Link is an invitation link row.
type Link struct {
	ID        string
	Token     string
	IsUsed    bool
	CreatedAt time.Time
}

// User is a user row created by link redemption.
type User struct {
	UserID        int64
	RedeemedLink  string
	AccessGranted bool
	CreatedAt     time.Time
}

// RedeemRecord describes a link redemption.
type RedeemRecord struct {
	UserID int64
	Token  string
	Now    time.Time
}

// Store is the persistence boundary for users, admins, and invitation links.
//
// Implementations must make RedeemLink a single atomic unit: the link flips
// to used and the user row is created together, or neither happens. They
// must also make RemoveAdmin refuse to delete the last remaining admin
// without a race window.
type Store interface {
	// CreateLink inserts a new unused invitation link.
	CreateLink(ctx context.Context, link Link) error

	// ListUnusedLinks returns all links with IsUsed == false.
	ListUnusedLinks(ctx context.Context) ([]Link, error)

	// GetUser loads a user row by id. Returns ErrNotFound when absent.
	GetUser(ctx context.Context, userID int64) (User, error)

	// RedeemLink atomically marks the link used and creates the user row.
	// Returns ErrAlreadyClaimed when the user already has a row, and
	// ErrInvalidOrUsedLink when the token is unknown or spent.
	RedeemLink(ctx context.Context, in RedeemRecord) (User, error)

	// SetAccessGranted updates the access flag for an existing user.
	SetAccessGranted(ctx context.Context, userID int64, granted bool) error

	// IsAdmin reports whether the user id is in the admin set.
	IsAdmin(ctx context.Context, userID int64) (bool, error)

	// AddAdmin inserts a user id into the admin set.
	// Returns ErrAlreadyAdmin when already present.
	AddAdmin(ctx context.Context, userID int64) error

	// RemoveAdmin deletes a user id from the admin set.
	// Returns ErrNotAdmin when absent and ErrLastAdmin when the id is the
	// only remaining admin.
	RemoveAdmin(ctx context.Context, userID int64) error
}
