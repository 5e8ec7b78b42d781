/*
Package user contains the participant identity shared by every collaboration component.

It defines the User struct sent in join events, the permission set handed over by the identity
provider, role presets, and the deterministic display-color assignment.
*/
package user

import (
	"fmt"
	"hash/fnv"
	"time"
)

// Permissions is the capability set of a participant. It is issued upstream and only read here.
type Permissions struct {
	CanEdit                   bool `json:"canEdit"`
	CanDelete                 bool `json:"canDelete"`
	CanAddComponents          bool `json:"canAddComponents"`
	CanExportCode             bool `json:"canExportCode"`
	CanManageCollaboration    bool `json:"canManageCollaboration"`
	CanAccessAdvancedFeatures bool `json:"canAccessAdvancedFeatures"`
}

// Role names a permission preset.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// PermissionsFor returns the preset permission set of a role.
func PermissionsFor(role Role) (Permissions, error) {
	switch role {
	case RoleOwner:
		return Permissions{
			CanEdit:                   true,
			CanDelete:                 true,
			CanAddComponents:          true,
			CanExportCode:             true,
			CanManageCollaboration:    true,
			CanAccessAdvancedFeatures: true,
		}, nil
	case RoleEditor:
		return Permissions{
			CanEdit:          true,
			CanDelete:        true,
			CanAddComponents: true,
			CanExportCode:    true,
		}, nil
	case RoleViewer:
		return Permissions{}, nil
	default:
		return Permissions{}, fmt.Errorf("unknown role %q", role)
	}
}

// Identity is what the identity/permission provider supplies before connecting.
type Identity struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Email       string      `json:"email,omitempty"`
	Avatar      string      `json:"avatar,omitempty"`
	Permissions Permissions `json:"permissions"`
}

// User represents a participant of a collaboration session.
type User struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Email       string      `json:"email,omitempty"`
	Avatar      string      `json:"avatar,omitempty"`
	Color       string      `json:"color"`
	IsOnline    bool        `json:"isOnline"`
	LastSeen    time.Time   `json:"lastSeen"`
	Permissions Permissions `json:"permissions"`
}

// FromIdentity builds an online User for id with its assigned color.
func FromIdentity(id Identity, now time.Time) User {
	return User{
		ID:          id.ID,
		Name:        id.Name,
		Email:       id.Email,
		Avatar:      id.Avatar,
		Color:       ColorFor(id.ID),
		IsOnline:    true,
		LastSeen:    now,
		Permissions: id.Permissions,
	}
}

// Palette is the fixed set of display colors.
var Palette = [10]string{
	"#E57373", "#64B5F6", "#81C784", "#FFB74D", "#BA68C8",
	"#4DB6AC", "#F06292", "#7986CB", "#A1887F", "#90A4AE",
}

// ColorFor maps a user id onto Palette. Equal ids always get the same color; different ids
// may collide.
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return Palette[h.Sum32()%uint32(len(Palette))]
}
