package engine

import (
	"context"

	"syncservice/internal/model"
)

// Notifier delivers a notification to every subscriber of a multicast group.
type Notifier interface {
	Publish(ctx context.Context, group string, n *model.Notification) error
}

// Fanout publishes commit and share-proposal results. Delivery is best
// effort: failures are logged and never reach the committing client, and
// nothing is retried.
type Fanout struct {
	notifier Notifier
	logger   Logger
	ids      IDGenerator
}

// NewFanout creates a Fanout. ids generates notification ids.
func NewFanout(notifier Notifier, logger Logger, ids IDGenerator) *Fanout {
	return &Fanout{notifier: notifier, logger: logger, ids: ids}
}

// NotifyCommit sends one CommitNotification to group.
func (f *Fanout) NotifyCommit(ctx context.Context, group string, requestID string, infos []*model.CommitInfo) {
	n := &model.CommitNotification{
		ID:        f.ids.New(),
		RequestID: requestID,
		Items:     infos,
	}
	if err := f.notifier.Publish(ctx, group, model.NewCommitNotification(n)); err != nil {
		f.logger.Error("commit notification failed", "group", group, "request", requestID, "error", err)
		return
	}
	f.logger.Debug("commit notification sent", "group", group, "request", requestID, "items", len(infos))
}

// NotifyShareProposal sends a ShareProposalNotification to each invitee's
// own group. A failure for one invitee does not stop the others.
func (f *Fanout) NotifyShareProposal(ctx context.Context, proposal *ShareProposal) {
	for _, invitee := range proposal.Invitees {
		n := &model.ShareProposalNotification{
			ID:          f.ids.New(),
			WorkspaceID: proposal.Workspace.ID,
			FolderName:  proposal.Workspace.Name,
			OwnerID:     proposal.Owner.ID,
			OwnerName:   proposal.Owner.Name,
		}
		group := model.UserGroup(invitee.ID)
		if err := f.notifier.Publish(ctx, group, model.NewShareProposalNotification(n)); err != nil {
			f.logger.Error("could not notify user", "user", invitee.ID, "workspace", proposal.Workspace.ID, "error", err)
			continue
		}
		f.logger.Debug("share proposal notification sent", "user", invitee.ID, "workspace", proposal.Workspace.ID)
	}
}
