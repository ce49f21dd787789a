package model

import "time"

// User is an account known to the sync service. ID is the cloud id.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Device is a client installation belonging to a user.
type Device struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	OS         string    `json:"os"`
	LastIP     string    `json:"last_ip"`
	AppVersion string    `json:"app_version"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Workspace is a sharing scope. A personal workspace is created for every
// user; shared workspaces come from share proposals.
type Workspace struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	Shared    bool      `json:"shared"`
	CreatedAt time.Time `json:"created_at"`

	// Members is populated by lookups that need it (share proposals).
	Members []*Member `json:"members,omitempty"`
}

// Member links a user to a workspace. Invitees start with Accepted=false.
type Member struct {
	UserID   string `json:"user_id"`
	Accepted bool   `json:"accepted"`
}
