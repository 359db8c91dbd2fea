package models

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleUser    Role = "user"
	RoleGuest   Role = "guest"
	RolePending Role = "pending"
)

type UserStatus string

const (
	StatusPendingApproval UserStatus = "pending_approval"
	StatusApproved        UserStatus = "approved"
)

// StatusForRole keeps status consistent with role: pending roles are always
// pending_approval, everything else is approved.
func StatusForRole(r Role) UserStatus {
	if r == RolePending {
		return StatusPendingApproval
	}
	return StatusApproved
}

// Document is an opaque record payload as held by the document store.
type Document map[string]any

// Clone returns a shallow copy so callers can stamp metadata without
// mutating the caller's map.
func (d Document) Clone() Document {
	out := make(Document, len(d)+3)
	for k, v := range d {
		out[k] = v
	}
	return out
}

func (d Document) String(key string) string {
	v, _ := d[key].(string)
	return v
}

type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type SessionSnapshot struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	LastLogin   time.Time `json:"lastLogin"`
}

type UserRecord struct {
	UID           string     `json:"uid"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"displayName"`
	Role          Role       `json:"role,omitempty"`
	Status        UserStatus `json:"status,omitempty"`
	IsActive      *bool      `json:"isActive,omitempty"`
	NeedsApproval bool       `json:"needsApproval"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
	LastModified  *time.Time `json:"lastModified,omitempty"`
	ApprovedAt    *time.Time `json:"approvedAt,omitempty"`
	ApprovedBy    string     `json:"approvedBy,omitempty"`
}

// Active reports the stored isActive flag; an absent flag counts as active.
func (u UserRecord) Active() bool {
	return u.IsActive == nil || *u.IsActive
}

func (u UserRecord) Document() (Document, error) {
	b, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	var out Document
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func UserRecordFromDocument(id string, data Document) (UserRecord, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return UserRecord{}, err
	}
	var u UserRecord
	if err := json.Unmarshal(b, &u); err != nil {
		return UserRecord{}, err
	}
	if u.UID == "" {
		u.UID = id
	}
	return u, nil
}

type AuditEntry struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actorId"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Metadata  string    `json:"metadata"`
	CreatedAt time.Time `json:"createdAt"`
}

func BoolPtr(v bool) *bool { return &v }

func TimePtr(t time.Time) *time.Time { return &t }

// Account is the credential record held by the local identity provider.
type Account struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Disabled     bool
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

func (a Account) Identity() Identity {
	return Identity{ID: a.ID, Email: a.Email, DisplayName: a.DisplayName}
}

type AuthSession struct {
	ID            string
	AccountID     string
	TokenHash     string
	ExpiresAt     time.Time
	IdleExpiresAt time.Time
	CreatedAt     time.Time
	LastSeenAt    time.Time
	RevokedAt     *time.Time
}

type PasswordResetToken struct {
	ID        string
	AccountID string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}
