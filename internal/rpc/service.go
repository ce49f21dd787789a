package rpc

import (
	"context"

	"syncservice/internal/engine"
	"syncservice/internal/model"
)

// GetChangesRequest asks for a workspace's change feed since Cursor.
type GetChangesRequest struct {
	RequestID   string `json:"request_id"`
	UserID      string `json:"user_id"`
	WorkspaceID int64  `json:"workspace_id"`
	Cursor      int64  `json:"cursor"`
}

type GetWorkspacesRequest struct {
	UserID string `json:"user_id"`
}

// CommitRequest is one device's batch of changes to a workspace.
type CommitRequest struct {
	RequestID   string        `json:"request_id"`
	UserID      string        `json:"user_id"`
	WorkspaceID int64         `json:"workspace_id"`
	DeviceID    int64         `json:"device_id"`
	Items       []*model.Item `json:"items"`
}

type UpdateDeviceRequest struct {
	UserID     string `json:"user_id"`
	DeviceID   int64  `json:"device_id"`
	Name       string `json:"name"`
	OS         string `json:"os"`
	IP         string `json:"ip"`
	AppVersion string `json:"app_version"`
}

type ShareProposalRequest struct {
	UserID     string   `json:"user_id"`
	Emails     []string `json:"emails"`
	FolderName string   `json:"folder_name"`
}

// Service implements the object RPC methods used by desktop clients.
// Each call takes one handler from the pool; notifications go out after
// the handler returns and never change the call's result.
type Service struct {
	pool   *engine.HandlerPool
	fanout *engine.Fanout
	logger engine.Logger
}

func NewService(pool *engine.HandlerPool, fanout *engine.Fanout, logger engine.Logger) *Service {
	return &Service{pool: pool, fanout: fanout, logger: logger}
}

func (s *Service) GetChanges(ctx context.Context, req *GetChangesRequest) ([]*model.Item, error) {
	s.logger.Debug("getChanges", "user", req.UserID, "request", req.RequestID, "workspace", req.WorkspaceID, "cursor", req.Cursor)
	return s.pool.Get().GetChanges(ctx, req.UserID, req.WorkspaceID, req.Cursor)
}

func (s *Service) GetWorkspaces(ctx context.Context, req *GetWorkspacesRequest) ([]*model.Workspace, error) {
	s.logger.Debug("getWorkspaces", "user", req.UserID)
	return s.pool.Get().GetWorkspaces(ctx, req.UserID)
}

// Commit runs the batch and multicasts the outcomes to the workspace group.
func (s *Service) Commit(ctx context.Context, req *CommitRequest) ([]*model.CommitInfo, error) {
	s.logger.Debug("commit", "user", req.UserID, "request", req.RequestID, "workspace", req.WorkspaceID,
		"device", req.DeviceID, "items", len(req.Items))

	infos, err := s.pool.Get().Commit(ctx, req.UserID, req.WorkspaceID, req.DeviceID, req.Items)
	if err != nil {
		return nil, err
	}

	s.fanout.NotifyCommit(ctx, model.WorkspaceGroup(req.WorkspaceID), req.RequestID, infos)
	return infos, nil
}

func (s *Service) UpdateDevice(ctx context.Context, req *UpdateDeviceRequest) (int64, error) {
	s.logger.Debug("updateDevice", "user", req.UserID, "device", req.DeviceID)
	device := &model.Device{
		ID:         req.DeviceID,
		UserID:     req.UserID,
		Name:       req.Name,
		OS:         req.OS,
		LastIP:     req.IP,
		AppVersion: req.AppVersion,
	}
	return s.pool.Get().UpdateDevice(ctx, device)
}

// CreateShareProposal creates the shared workspace, notifies each invitee
// and returns the new workspace id.
func (s *Service) CreateShareProposal(ctx context.Context, req *ShareProposalRequest) (int64, error) {
	s.logger.Debug("createShareProposal", "user", req.UserID, "folder", req.FolderName, "emails", len(req.Emails))

	proposal, err := s.pool.Get().CreateShareProposal(ctx, req.UserID, req.Emails, req.FolderName)
	if err != nil {
		return 0, err
	}

	s.fanout.NotifyShareProposal(ctx, proposal)
	return proposal.Workspace.ID, nil
}
