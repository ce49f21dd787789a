package rpc_test

import (
	"context"
	"errors"
	"testing"

	"syncservice/internal/engine"
	"syncservice/internal/model"
	"syncservice/internal/rpc"
	"syncservice/internal/testutil"
)

func TestService_CommitNotifiesWorkspace(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	infos, err := f.service.Commit(ctx, &rpc.CommitRequest{
		RequestID:   "req-1",
		UserID:      f.alice.ID,
		WorkspaceID: f.personal.ID,
		DeviceID:    1,
		Items:       []*model.Item{testutil.NewFolder("docs", nil), testutil.NewFile("x.txt", &model.Item{ID: 999, Version: 1})},
	})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if !infos[0].Committed || infos[1].Committed {
		t.Fatalf("Commit() = %+v, %+v; want accepted then rejected", infos[0], infos[1])
	}

	got := f.notifier.ForGroup(model.WorkspaceGroup(f.personal.ID))
	if len(got) != 1 {
		t.Fatalf("got %d notifications, want 1", len(got))
	}
	n := got[0].Payload.(*model.CommitNotification)
	if n.RequestID != "req-1" || len(n.Items) != 2 {
		t.Errorf("notification = %+v, want request req-1 with 2 items", n)
	}
}

func TestService_CommitFailureDoesNotNotify(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.service.Commit(context.Background(), &rpc.CommitRequest{
		RequestID:   "req-1",
		UserID:      "stranger",
		WorkspaceID: f.personal.ID,
		Items:       []*model.Item{testutil.NewFolder("docs", nil)},
	})
	if !errors.Is(err, engine.ErrWorkspaceNotFound) {
		t.Fatalf("Commit() error = %v, want ErrWorkspaceNotFound", err)
	}
	if got := f.notifier.Published(); len(got) != 0 {
		t.Errorf("got %d notifications, want none", len(got))
	}
}

func TestService_NotificationFailureKeepsCommit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.notifier.FailFor(model.WorkspaceGroup(f.personal.ID), errors.New("broker down"))

	infos, err := f.service.Commit(context.Background(), &rpc.CommitRequest{
		UserID:      f.alice.ID,
		WorkspaceID: f.personal.ID,
		Items:       []*model.Item{testutil.NewFolder("docs", nil)},
	})
	if err != nil {
		t.Fatalf("Commit() error = %v, want nil", err)
	}
	if !infos[0].Committed {
		t.Errorf("item not committed: %+v", infos[0])
	}
}

func TestService_CreateShareProposal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	bob, _ := testutil.MustCreateUser(t, f.pool.Get(), "bob", "bob@example.com")

	id, err := f.service.CreateShareProposal(ctx, &rpc.ShareProposalRequest{
		UserID:     f.alice.ID,
		Emails:     []string{"bob@example.com", "nobody@example.com"},
		FolderName: "shared",
	})
	if err != nil {
		t.Fatalf("CreateShareProposal() error = %v", err)
	}
	if id == 0 || id == f.personal.ID {
		t.Errorf("workspace id = %d, want a new workspace", id)
	}

	got := f.notifier.ForGroup(model.UserGroup(bob.ID))
	if len(got) != 1 {
		t.Fatalf("bob got %d notifications, want 1", len(got))
	}
	n := got[0].Payload.(*model.ShareProposalNotification)
	if n.WorkspaceID != id || n.FolderName != "shared" || n.OwnerID != f.alice.ID {
		t.Errorf("notification = %+v", n)
	}

	_, err = f.service.CreateShareProposal(ctx, &rpc.ShareProposalRequest{UserID: f.alice.ID, Emails: []string{"nobody@example.com"}, FolderName: "x"})
	if !errors.Is(err, engine.ErrShareProposalNotCreated) {
		t.Errorf("CreateShareProposal() with no invitees error = %v, want ErrShareProposalNotCreated", err)
	}
}

func TestService_UpdateDeviceAndWorkspaces(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.service.UpdateDevice(ctx, &rpc.UpdateDeviceRequest{UserID: f.alice.ID, Name: "laptop", OS: "linux"})
	if err != nil {
		t.Fatalf("UpdateDevice() error = %v", err)
	}
	again, err := f.service.UpdateDevice(ctx, &rpc.UpdateDeviceRequest{UserID: f.alice.ID, DeviceID: id, Name: "laptop", IP: "10.0.0.2"})
	if err != nil || again != id {
		t.Errorf("UpdateDevice() refresh = %d, %v; want %d, nil", again, err, id)
	}

	_, err = f.service.UpdateDevice(ctx, &rpc.UpdateDeviceRequest{UserID: "ghost"})
	if !errors.Is(err, engine.ErrUserNotFound) {
		t.Errorf("UpdateDevice() unknown user error = %v, want ErrUserNotFound", err)
	}

	workspaces, err := f.service.GetWorkspaces(ctx, &rpc.GetWorkspacesRequest{UserID: f.alice.ID})
	if err != nil || len(workspaces) != 1 {
		t.Errorf("GetWorkspaces() = %d workspaces, %v; want 1", len(workspaces), err)
	}
}

func TestService_GetChanges(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.service.Commit(ctx, &rpc.CommitRequest{
		UserID:      f.alice.ID,
		WorkspaceID: f.personal.ID,
		Items:       []*model.Item{testutil.NewFolder("a", nil), testutil.NewFolder("b", nil)},
	})

	items, err := f.service.GetChanges(ctx, &rpc.GetChangesRequest{UserID: f.alice.ID, WorkspaceID: f.personal.ID})
	if err != nil {
		t.Fatalf("GetChanges() error = %v", err)
	}
	if len(items) != 2 {
		t.Errorf("GetChanges() returned %d items, want 2", len(items))
	}
}
