package rpc

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"syncservice/internal/engine"
	"syncservice/internal/model"
)

// Web API method names.
const (
	MethodGetMetadata        = "get_metadata"
	MethodGetVersions        = "get_versions"
	MethodPutMetadataFile    = "put_metadata_file"
	MethodDeleteMetadataFile = "delete_metadata_file"
	MethodPutMetadataFolder  = "put_metadata_folder"
	MethodRestoreFile        = "restore_file"
)

// APIResponse is the body of every web API reply.
type APIResponse struct {
	Success     bool              `json:"success"`
	ErrorCode   int               `json:"error_code,omitempty"`
	Description string            `json:"description,omitempty"`
	Item        *model.CommitInfo `json:"item,omitempty"`
	Metadata    *MetadataResult   `json:"metadata,omitempty"`
	Versions    []*model.Item     `json:"versions,omitempty"`
}

// MetadataResult is the get_metadata payload.
type MetadataResult struct {
	Item     *model.Item   `json:"item"`
	Children []*model.Item `json:"children,omitempty"`
	Root     bool          `json:"is_root"`
}

// API implements the string-argument web API used by browser and mobile
// clients. All changes land in the caller's personal workspace and are
// multicast to the caller's personal group.
type API struct {
	pool   *engine.HandlerPool
	fanout *engine.Fanout
	logger engine.Logger
}

func NewAPI(pool *engine.HandlerPool, fanout *engine.Fanout, logger engine.Logger) *API {
	return &API{pool: pool, fanout: fanout, logger: logger}
}

func (a *API) GetMetadata(ctx context.Context, user, itemID, includeList, includeDeleted, includeChunks, version string) *APIResponse {
	id := parseInt64(itemID)
	opts := engine.MetadataOptions{
		IncludeList:    parseBool(includeList),
		IncludeDeleted: parseBool(includeDeleted),
		IncludeChunks:  parseBool(includeChunks),
		Version:        parseInt64(version),
	}
	a.logger.Debug("get_metadata", "user", user, "item", itemID, "list", opts.IncludeList,
		"deleted", opts.IncludeDeleted, "chunks", opts.IncludeChunks, "version", version)

	md, err := a.pool.Get().GetMetadata(ctx, user, id, opts)
	if err != nil {
		return a.failure(MethodGetMetadata, err)
	}
	return &APIResponse{
		Success:  true,
		Metadata: &MetadataResult{Item: md.Item, Children: md.Children, Root: md.Root},
	}
}

func (a *API) GetVersions(ctx context.Context, user, requestID, itemID string) *APIResponse {
	a.logger.Debug("get_versions", "user", user, "request", requestID, "item", itemID)

	id := parseInt64(itemID)
	if id == nil {
		return a.failure(MethodGetVersions, engine.ErrItemNotFound)
	}
	versions, err := a.pool.Get().GetVersions(ctx, user, *id)
	if err != nil {
		return a.failure(MethodGetVersions, err)
	}
	return &APIResponse{Success: true, Versions: versions}
}

func (a *API) PutMetadataFile(ctx context.Context, user, requestID, fileName, parentID, overwrite, checksum, size, mimetype string, chunks []string) *APIResponse {
	replace := true
	if overwrite != "" {
		replace = parseBool(overwrite)
	}
	a.logger.Debug("put_metadata_file", "user", user, "request", requestID, "name", fileName,
		"parent", parentID, "overwrite", replace, "chunks", len(chunks))

	file := &model.Item{
		Filename: fileName,
		Mimetype: mimetype,
		Chunks:   chunks,
	}
	if v := parseInt64(checksum); v != nil {
		file.Checksum = *v
	}
	if v := parseInt64(size); v != nil {
		file.Size = *v
	}

	h := a.pool.Get()
	info, err := h.PutFile(ctx, user, file, parseInt64(parentID), replace)
	return a.commitResponse(ctx, h, MethodPutMetadataFile, requestID, single(info), err)
}

func (a *API) DeleteMetadataFile(ctx context.Context, user, requestID, fileID string) *APIResponse {
	a.logger.Debug("delete_metadata_file", "user", user, "request", requestID, "item", fileID)

	id := parseInt64(fileID)
	if id == nil {
		return a.failure(MethodDeleteMetadataFile, engine.ErrItemNotFound)
	}
	h := a.pool.Get()
	infos, err := h.DeleteItem(ctx, user, *id)
	return a.commitResponse(ctx, h, MethodDeleteMetadataFile, requestID, infos, err)
}

func (a *API) PutMetadataFolder(ctx context.Context, user, requestID, folderName, parentID string) *APIResponse {
	a.logger.Debug("put_metadata_folder", "user", user, "request", requestID, "name", folderName, "parent", parentID)

	h := a.pool.Get()
	info, err := h.CreateFolder(ctx, user, folderName, parseInt64(parentID))
	return a.commitResponse(ctx, h, MethodPutMetadataFolder, requestID, single(info), err)
}

func (a *API) RestoreFile(ctx context.Context, user, requestID, fileID, version string) *APIResponse {
	a.logger.Debug("restore_file", "user", user, "request", requestID, "item", fileID, "version", version)

	id := parseInt64(fileID)
	if id == nil {
		return a.failure(MethodRestoreFile, engine.ErrItemNotFound)
	}
	v := parseInt64(version)
	if v == nil {
		return a.failure(MethodRestoreFile, engine.ErrVersionNotFound)
	}
	h := a.pool.Get()
	info, err := h.RestoreMetadata(ctx, user, engine.APIDeviceID, *id, *v)
	return a.commitResponse(ctx, h, MethodRestoreFile, requestID, single(info), err)
}

// commitResponse turns a commit outcome into a reply. The last CommitInfo is
// the one the caller asked about. Accepted changes are multicast to the group
// of the workspace they landed in.
func (a *API) commitResponse(ctx context.Context, h *engine.Handler, method, requestID string, infos []*model.CommitInfo, err error) *APIResponse {
	if err != nil {
		return a.failure(method, err)
	}
	info := infos[len(infos)-1]

	var accepted *model.CommitInfo
	for _, i := range infos {
		if i.Committed {
			accepted = i
			break
		}
	}
	if accepted != nil {
		group, gerr := h.NotificationGroup(ctx, accepted.Item.WorkspaceID)
		if gerr != nil {
			a.logger.Error("resolving notification group", "method", method, "workspace", accepted.Item.WorkspaceID, "error", gerr)
		} else {
			a.fanout.NotifyCommit(ctx, group, requestID, infos)
		}
	}

	if !info.Committed {
		return &APIResponse{Success: false, ErrorCode: info.ErrorCode, Description: info.Description, Item: info}
	}
	return &APIResponse{Success: true, Item: info}
}

func single(info *model.CommitInfo) []*model.CommitInfo {
	if info == nil {
		return nil
	}
	return []*model.CommitInfo{info}
}

func (a *API) failure(method string, err error) *APIResponse {
	resp := &APIResponse{Success: false}
	switch {
	case errors.Is(err, engine.ErrItemNotFound):
		resp.ErrorCode, resp.Description = 404, "File or folder not found."
	case errors.Is(err, engine.ErrVersionNotFound):
		resp.ErrorCode, resp.Description = 404, "Version not found."
	case errors.Is(err, engine.ErrUserNotFound):
		resp.ErrorCode, resp.Description = 404, "User not found."
	case errors.Is(err, engine.ErrWorkspaceNotFound):
		resp.ErrorCode, resp.Description = 404, "Workspace not found."
	default:
		a.logger.Error("web api call failed", "method", method, "error", err)
		resp.ErrorCode, resp.Description = 500, "Internal server error."
	}
	return resp
}

// parseInt64 returns nil for anything that is not a base-10 integer.
func parseInt64(s string) *int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

// parseBool is true only for "true", in any case.
func parseBool(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "true")
}
