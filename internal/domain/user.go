package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FavoritesKey is the preferences key holding the serialized favorites blob.
const FavoritesKey = "favorites"

// User is the authenticated platform user. Preferences carry free-form
// key/value entries; the favorites blob lives under FavoritesKey as a JSON
// string of shape {"tools":["toolA","toolB"]}.
type User struct {
	ID          uuid.UUID
	Username    string
	Email       string
	Active      bool
	Preferences map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Favorites is the decoded shape of the favorites preferences blob.
type Favorites struct {
	Tools []string `json:"tools"`
}

// AnonymousUser returns the default profile used when no user is loaded.
// Consumers never observe a nil user.
func AnonymousUser() *User {
	return &User{Preferences: make(map[string]string)}
}

// IsAnonymous reports whether u is the unauthenticated default profile.
func (u *User) IsAnonymous() bool {
	return u == nil || u.ID == uuid.Nil
}

// Clone returns a deep copy of u. Used by accessors so callers never hold
// a mutable alias into store-internal state.
func (u *User) Clone() *User {
	if u == nil {
		return AnonymousUser()
	}
	copied := *u
	copied.Preferences = make(map[string]string, len(u.Preferences))
	for k, v := range u.Preferences {
		copied.Preferences[k] = v
	}
	return &copied
}

// FavoriteTools decodes the favorites blob. An absent or empty blob means an
// empty list. A present blob must decode to an object with a tools list.
func (u *User) FavoriteTools() ([]string, error) {
	if u == nil || u.Preferences == nil {
		return nil, nil
	}
	blob, ok := u.Preferences[FavoritesKey]
	if !ok || blob == "" {
		return nil, nil
	}
	var favorites Favorites
	if err := json.Unmarshal([]byte(blob), &favorites); err != nil {
		return nil, fmt.Errorf("malformed favorites blob: %w", err)
	}
	return favorites.Tools, nil
}

// SetFavoriteTools overwrites the favorites blob with the given list. The
// full list replaces whatever was stored before; there is no merging.
func (u *User) SetFavoriteTools(tools []string) error {
	if tools == nil {
		tools = []string{}
	}
	blob, err := json.Marshal(Favorites{Tools: tools})
	if err != nil {
		return fmt.Errorf("failed to encode favorites blob: %w", err)
	}
	if u.Preferences == nil {
		u.Preferences = make(map[string]string)
	}
	u.Preferences[FavoritesKey] = string(blob)
	return nil
}

// UserService is the remote user API consumed by the session store.
// AddFavoriteTool and RemoveFavoriteTool return the authoritative tool list
// after the mutation; the server response is the source of truth.
type UserService interface {
	GetCurrentUser(ctx context.Context) (*User, error)
	AddFavoriteTool(ctx context.Context, userID uuid.UUID, toolID string) ([]string, error)
	RemoveFavoriteTool(ctx context.Context, userID uuid.UUID, toolID string) ([]string, error)
}
