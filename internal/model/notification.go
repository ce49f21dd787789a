package model

import "strconv"

// CommitNotification is multicast to a workspace after a commit.
type CommitNotification struct {
	ID        string        `json:"id"`
	RequestID string        `json:"request_id"`
	Items     []*CommitInfo `json:"items"`
}

// ShareProposalNotification is sent to each invited user.
type ShareProposalNotification struct {
	ID          string `json:"id"`
	WorkspaceID int64  `json:"workspace_id"`
	FolderName  string `json:"folder_name"`
	OwnerID     string `json:"owner_id"`
	OwnerName   string `json:"owner_name"`
}

// WorkspaceGroup is the multicast group for a workspace's devices.
func WorkspaceGroup(workspaceID int64) string {
	return strconv.FormatInt(workspaceID, 10)
}

// PersonalGroup is the group used for a user's implicit single-user workspace.
func PersonalGroup(userID string) string {
	return userID + "/"
}

// ChangeGroup is the group for changes made through the web API: the
// workspace group for shared workspaces, the owner's personal group otherwise.
func ChangeGroup(ws *Workspace) string {
	if ws.Shared {
		return WorkspaceGroup(ws.ID)
	}
	return PersonalGroup(ws.OwnerID)
}

// UserGroup is the group for notifications addressed to one user.
func UserGroup(userID string) string {
	return userID
}

// Notification kinds.
const (
	KindCommit        = "commit"
	KindShareProposal = "share_proposal"
)

// Notification is what travels through the broker: a kind tag plus one of
// the concrete notification types.
type Notification struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

func NewCommitNotification(n *CommitNotification) *Notification {
	return &Notification{Kind: KindCommit, Payload: n}
}

func NewShareProposalNotification(n *ShareProposalNotification) *Notification {
	return &Notification{Kind: KindShareProposal, Payload: n}
}
