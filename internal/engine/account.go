package engine

import (
	"context"
	"fmt"
	"strings"

	"syncservice/internal/model"
)

// ShareProposal is the result of CreateShareProposal: the new workspace and
// the people to notify.
type ShareProposal struct {
	Workspace *model.Workspace
	Owner     *model.User
	Invitees  []*model.User
}

// CreateUser registers a user and their personal workspace.
func (h *Handler) CreateUser(ctx context.Context, name, email string) (*model.User, *model.Workspace, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if name == "" || email == "" {
		return nil, nil, fmt.Errorf("name and email are required")
	}

	existing, err := h.storage.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, nil, storageErr("checking for existing user", err)
	}
	if existing != nil {
		return nil, nil, fmt.Errorf("user with email %s already exists", email)
	}

	user := &model.User{
		ID:        h.idgen.New(),
		Name:      name,
		Email:     email,
		CreatedAt: h.clock.Now(),
	}
	if err := h.storage.CreateUser(ctx, user); err != nil {
		return nil, nil, storageErr("creating user", err)
	}

	ws := &model.Workspace{
		Name:      "default",
		OwnerID:   user.ID,
		Shared:    false,
		CreatedAt: user.CreatedAt,
		Members:   []*model.Member{{UserID: user.ID, Accepted: true}},
	}
	if err := h.storage.CreateWorkspace(ctx, ws); err != nil {
		return nil, nil, storageErr("creating personal workspace", err)
	}

	h.logger.Info("user created", "user", user.ID, "workspace", ws.ID)
	return user, ws, nil
}

// UpdateDevice registers or refreshes a device and returns its id.
// Device metadata is a plain upsert, not versioned.
func (h *Handler) UpdateDevice(ctx context.Context, device *model.Device) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.requireUser(ctx, device.UserID); err != nil {
		return 0, err
	}

	if device.ID != 0 {
		existing, err := h.storage.GetDevice(ctx, device.ID)
		if err != nil {
			return 0, storageErr("loading device", err)
		}
		if existing == nil || existing.UserID != device.UserID {
			return 0, fmt.Errorf("device %d for user %s: %w", device.ID, device.UserID, ErrDeviceNotValid)
		}
	}

	d := *device
	d.UpdatedAt = h.clock.Now()
	if err := h.storage.UpsertDevice(ctx, &d); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDeviceNotUpdated, storageErr("upserting device", err))
	}

	h.logger.Info("device updated", "device", d.ID, "user", d.UserID)
	return d.ID, nil
}

// CreateShareProposal creates a shared workspace owned by userID with the
// users behind emails as pending members. Unknown emails and the owner's own
// address are skipped; with nobody left to invite the proposal is refused.
func (h *Handler) CreateShareProposal(ctx context.Context, userID string, emails []string, folderName string) (*ShareProposal, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	owner, err := h.requireUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(folderName) == "" {
		return nil, fmt.Errorf("empty folder name: %w", ErrShareProposalNotCreated)
	}

	seen := map[string]bool{owner.ID: true}
	var invitees []*model.User
	for _, email := range emails {
		u, err := h.storage.FindUserByEmail(ctx, strings.TrimSpace(email))
		if err != nil {
			return nil, storageErr("looking up invitee", err)
		}
		if u == nil {
			h.logger.Warn("share proposal invitee not found", "email", email)
			continue
		}
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		invitees = append(invitees, u)
	}
	if len(invitees) == 0 {
		return nil, fmt.Errorf("no valid invitees: %w", ErrShareProposalNotCreated)
	}

	ws := &model.Workspace{
		Name:      folderName,
		OwnerID:   owner.ID,
		Shared:    true,
		CreatedAt: h.clock.Now(),
		Members:   []*model.Member{{UserID: owner.ID, Accepted: true}},
	}
	for _, u := range invitees {
		ws.Members = append(ws.Members, &model.Member{UserID: u.ID, Accepted: false})
	}
	if err := h.storage.CreateWorkspace(ctx, ws); err != nil {
		return nil, storageErr("creating shared workspace", err)
	}

	h.logger.Info("share proposal created", "workspace", ws.ID, "owner", owner.ID, "invitees", len(invitees))
	return &ShareProposal{Workspace: ws, Owner: owner, Invitees: invitees}, nil
}
