package auth

import (
	"fmt"
	"time"

	"github.com/annel0/world-sync/internal/world"
)

// User represents an editor/administrator account of the shared world.
type User struct {
	ID           uint64    // Unique immutable identifier
	Username     string    // Unique username (case-insensitive)
	PasswordHash string    // bcrypt hashed password (60 chars)
	CreatedAt    time.Time // Account creation timestamp (server time)
	LastLogin    time.Time // Last successful login
	IsAdmin      bool      // Administrative privileges flag
}

// EditorID returns the identity used as SyncUpdate/Commit author.
func (u *User) EditorID() world.UserID {
	return world.UserID(fmt.Sprintf("user_%d", u.ID))
}
