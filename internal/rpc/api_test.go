package rpc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"syncservice/internal/engine"
	"syncservice/internal/model"
	"syncservice/internal/rpc"
	"syncservice/internal/testutil"
)

type apiFixture struct {
	*fixture
	router http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := newFixture(t)
	return &apiFixture{fixture: f, router: rpc.NewAPIRouter(f.api, engine.NewNopLogger())}
}

// call posts body to /rpc/method and decodes the reply.
func (a *apiFixture) call(t *testing.T, method string, body map[string]any) (int, *rpc.APIResponse) {
	t.Helper()
	if _, ok := body["user"]; !ok {
		body["user"] = a.alice.ID
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encoding body: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rpc/"+method, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	a.router.ServeHTTP(rec, req)

	var resp rpc.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, &resp
}

func (a *apiFixture) mustFolder(t *testing.T, name, parent string) *model.Item {
	t.Helper()
	_, resp := a.call(t, rpc.MethodPutMetadataFolder, map[string]any{"name": name, "parent_id": parent})
	if !resp.Success {
		t.Fatalf("put_metadata_folder(%q) = %+v", name, resp)
	}
	return resp.Item.Item
}

func (a *apiFixture) mustFile(t *testing.T, name, parent string) *model.Item {
	t.Helper()
	_, resp := a.call(t, rpc.MethodPutMetadataFile, map[string]any{
		"name": name, "parent_id": parent, "checksum": "42", "size": "7", "mimetype": "text/plain",
		"chunks": []string{"c1", "c2"},
	})
	if !resp.Success {
		t.Fatalf("put_metadata_file(%q) = %+v", name, resp)
	}
	return resp.Item.Item
}

func id(item *model.Item) string { return strconv.FormatInt(item.ID, 10) }

func TestAPI_PutFolderAndFile(t *testing.T) {
	t.Parallel()
	a := newAPIFixture(t)

	docs := a.mustFolder(t, "docs", "")
	if docs.Version != 1 || !docs.IsFolder || docs.ParentID != nil {
		t.Errorf("folder = %s", docs)
	}

	file := a.mustFile(t, "a.txt", id(docs))
	if file.Checksum != 42 || file.Size != 7 || *file.ParentID != docs.ID || len(file.Chunks) != 2 {
		t.Errorf("file = %+v", file)
	}

	got := a.notifier.ForGroup(model.PersonalGroup(a.alice.ID))
	if len(got) != 2 {
		t.Errorf("got %d personal notifications, want 2", len(got))
	}
}

func TestAPI_PutFileArguments(t *testing.T) {
	t.Parallel()
	a := newAPIFixture(t)
	a.mustFile(t, "a.txt", "")

	tests := []struct {
		name    string
		body    map[string]any
		success bool
		code    int
		version int64
	}{
		{"overwrite defaults to true", map[string]any{"name": "a.txt", "overwrite": ""}, true, 0, 2},
		{"overwrite false refuses", map[string]any{"name": "a.txt", "overwrite": "false"}, false, 400, 0},
		{"garbage overwrite is false", map[string]any{"name": "a.txt", "overwrite": "yes"}, false, 400, 0},
		{"overwrite TRUE", map[string]any{"name": "a.txt", "overwrite": "TRUE"}, true, 0, 3},
		{"unparsable numbers are ignored", map[string]any{"name": "b.txt", "checksum": "abc", "size": "-"}, true, 0, 1},
		{"unknown parent", map[string]any{"name": "c.txt", "parent_id": "999"}, false, 404, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp := a.call(t, rpc.MethodPutMetadataFile, tt.body)
			if resp.Success != tt.success || resp.ErrorCode != tt.code {
				t.Fatalf("response = %+v, want success=%v code=%d", resp, tt.success, tt.code)
			}
			if tt.success && resp.Item.Version != tt.version {
				t.Errorf("version = %d, want %d", resp.Item.Version, tt.version)
			}
		})
	}
}

func TestAPI_PutFolderRejections(t *testing.T) {
	t.Parallel()
	a := newAPIFixture(t)
	file := a.mustFile(t, "plain.txt", "")
	a.mustFolder(t, "docs", "")
	before := len(a.notifier.Published())

	tests := []struct {
		name string
		body map[string]any
		code int
		desc string
	}{
		{"empty name", map[string]any{"name": ""}, 400, "Folder name cannot be empty."},
		{"duplicate", map[string]any{"name": "docs"}, 400, "Folder already exists."},
		{"parent is a file", map[string]any{"name": "x", "parent_id": id(file)}, 400, "Incorrect parent."},
		{"parent missing", map[string]any{"name": "x", "parent_id": "12345"}, 404, "Parent not found."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := a.call(t, rpc.MethodPutMetadataFolder, tt.body)
			if status != http.StatusOK {
				t.Errorf("status = %d, want 200", status)
			}
			if resp.Success || resp.ErrorCode != tt.code || resp.Description != tt.desc {
				t.Errorf("response = %+v, want %d %q", resp, tt.code, tt.desc)
			}
		})
	}

	if after := len(a.notifier.Published()); after != before {
		t.Errorf("rejections sent %d notifications", after-before)
	}
}

func TestAPI_GetMetadata(t *testing.T) {
	t.Parallel()
	a := newAPIFixture(t)
	docs := a.mustFolder(t, "docs", "")
	a.mustFile(t, "a.txt", id(docs))

	_, root := a.call(t, rpc.MethodGetMetadata, map[string]any{"item_id": ""})
	if !root.Success || !root.Metadata.Root || len(root.Metadata.Children) != 1 {
		t.Fatalf("root = %+v", root.Metadata)
	}

	_, listed := a.call(t, rpc.MethodGetMetadata, map[string]any{
		"item_id": id(docs), "include_list": "true", "include_chunks": "false",
	})
	if !listed.Success || len(listed.Metadata.Children) != 1 {
		t.Fatalf("listed = %+v", listed)
	}
	if chunks := listed.Metadata.Children[0].Chunks; chunks != nil {
		t.Errorf("chunks = %v, want none", chunks)
	}

	_, unlisted := a.call(t, rpc.MethodGetMetadata, map[string]any{"item_id": id(docs), "include_list": "nope"})
	if len(unlisted.Metadata.Children) != 0 {
		t.Errorf("children listed without include_list")
	}

	_, missing := a.call(t, rpc.MethodGetMetadata, map[string]any{"item_id": "777"})
	if missing.Success || missing.ErrorCode != 404 {
		t.Errorf("missing = %+v, want 404", missing)
	}
}

func TestAPI_VersionsDeleteRestore(t *testing.T) {
	t.Parallel()
	a := newAPIFixture(t)
	docs := a.mustFolder(t, "docs", "")
	file := a.mustFile(t, "a.txt", id(docs))
	a.mustFile(t, "a.txt", id(docs))

	_, versions := a.call(t, rpc.MethodGetVersions, map[string]any{"item_id": id(file)})
	if !versions.Success || len(versions.Versions) != 2 || versions.Versions[0].Version != 2 {
		t.Fatalf("versions = %+v", versions)
	}

	_, deleted := a.call(t, rpc.MethodDeleteMetadataFile, map[string]any{"item_id": id(docs)})
	if !deleted.Success || deleted.Item.Item.ID != docs.ID || deleted.Item.Item.Status != model.StatusDeleted {
		t.Fatalf("delete = %+v", deleted)
	}
	personal := a.notifier.ForGroup(model.PersonalGroup(a.alice.ID))
	last := personal[len(personal)-1].Payload.(*model.CommitNotification)
	if len(last.Items) != 2 || last.Items[0].Item.ID != file.ID || last.Items[1].Item.ID != docs.ID {
		t.Errorf("delete notification = %+v, want tombstones of a.txt then docs", last.Items)
	}

	_, gone := a.call(t, rpc.MethodGetMetadata, map[string]any{"item_id": id(file)})
	if gone.Success {
		t.Errorf("file still visible after deleting its folder")
	}

	// The folder is gone, so restoring the file into it is refused.
	_, refused := a.call(t, rpc.MethodRestoreFile, map[string]any{"item_id": id(file), "version": "1"})
	if refused.Success || refused.ErrorCode != 400 {
		t.Errorf("restore into deleted folder = %+v, want 400", refused)
	}

	_, folder := a.call(t, rpc.MethodRestoreFile, map[string]any{"item_id": id(docs), "version": "1"})
	if !folder.Success || folder.Item.Item.Status != model.StatusRestored || folder.Item.Version != 3 {
		t.Errorf("restore folder = %+v", folder.Item)
	}

	_, badVersion := a.call(t, rpc.MethodRestoreFile, map[string]any{"item_id": id(docs), "version": "x"})
	if badVersion.Success || badVersion.ErrorCode != 404 {
		t.Errorf("restore unparsable version = %+v, want 404", badVersion)
	}

	_, badID := a.call(t, rpc.MethodDeleteMetadataFile, map[string]any{"item_id": "abc"})
	if badID.Success || badID.ErrorCode != 404 {
		t.Errorf("delete unparsable id = %+v, want 404", badID)
	}
}

func TestAPI_SharedWorkspaceChangesReachWorkspaceGroup(t *testing.T) {
	t.Parallel()
	a := newAPIFixture(t)
	ctx := context.Background()
	testutil.MustCreateUser(t, a.pool.Get(), "bob", "bob@example.com")

	shared, err := a.service.CreateShareProposal(ctx, &rpc.ShareProposalRequest{
		UserID: a.alice.ID, Emails: []string{"bob@example.com"}, FolderName: "team",
	})
	if err != nil {
		t.Fatalf("CreateShareProposal() error = %v", err)
	}
	h := a.pool.Get()
	folder := testutil.MustCommit(t, h, a.alice.ID, shared, testutil.NewFolder("plans", nil))[0].Item
	file := testutil.MustCommit(t, h, a.alice.ID, shared, testutil.NewFile("a.txt", folder))[0].Item

	group := model.WorkspaceGroup(shared)
	before := len(a.notifier.ForGroup(group))

	_, deleted := a.call(t, rpc.MethodDeleteMetadataFile, map[string]any{"item_id": id(folder)})
	if !deleted.Success {
		t.Fatalf("delete = %+v", deleted)
	}
	got := a.notifier.ForGroup(group)
	if len(got) != before+1 {
		t.Fatalf("workspace group got %d notifications, want %d", len(got), before+1)
	}
	n := got[len(got)-1].Payload.(*model.CommitNotification)
	if len(n.Items) != 2 || n.Items[0].Item.ID != file.ID || n.Items[1].Item.ID != folder.ID {
		t.Errorf("delete notification = %+v, want tombstones of a.txt then plans", n.Items)
	}

	_, restored := a.call(t, rpc.MethodRestoreFile, map[string]any{"item_id": id(folder), "version": "1"})
	if !restored.Success {
		t.Fatalf("restore = %+v", restored)
	}
	if got := a.notifier.ForGroup(group); len(got) != before+2 {
		t.Errorf("workspace group got %d notifications after restore, want %d", len(got), before+2)
	}

	if got := a.notifier.ForGroup(model.PersonalGroup(a.alice.ID)); len(got) != 0 {
		t.Errorf("personal group got %d notifications for shared changes, want 0", len(got))
	}
}

func TestAPI_Routing(t *testing.T) {
	t.Parallel()
	a := newAPIFixture(t)

	status, resp := a.call(t, "launch_rockets", map[string]any{})
	if status != http.StatusNotFound || resp.Success {
		t.Errorf("unknown method = %d %+v, want 404", status, resp)
	}

	status, _ = a.call(t, rpc.MethodGetMetadata, map[string]any{"user": ""})
	if status != http.StatusBadRequest {
		t.Errorf("missing user status = %d, want 400", status)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rpc/get_metadata", bytes.NewReader([]byte("{oops")))
	req.Header.Set("Content-Type", "application/json")
	a.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}

	status, resp = a.call(t, rpc.MethodGetMetadata, map[string]any{"user": "ghost"})
	if status != http.StatusOK || resp.ErrorCode != 404 {
		t.Errorf("unknown user = %d %+v, want 404 body", status, resp)
	}
}
