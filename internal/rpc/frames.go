package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"syncservice/internal/broker"
	"syncservice/internal/engine"
)

// Object RPC method names.
const (
	MethodGetChanges          = "getChanges"
	MethodGetWorkspaces       = "getWorkspaces"
	MethodCommit              = "commit"
	MethodUpdateDevice        = "updateDevice"
	MethodCreateShareProposal = "createShareProposal"
)

var errUnknownMethod = errors.New("unknown method")

// HandleFrame answers one request frame from a websocket session.
func (s *Service) HandleFrame(ctx context.Context, sess *broker.Session, f *broker.Frame) {
	if f.Type != broker.FrameRequest {
		sess.Send(&broker.Frame{Type: broker.FrameResponse, ID: f.ID,
			Error: &broker.FrameError{Category: "BadFrame", Message: fmt.Sprintf("unexpected frame type %q", f.Type)}})
		return
	}

	result, err := s.dispatch(ctx, f.Method, f.Payload)
	resp := &broker.Frame{Type: broker.FrameResponse, ID: f.ID, Method: f.Method}
	if err != nil {
		resp.Error = s.frameError(f.Method, err)
	} else if resp.Payload, err = json.Marshal(result); err != nil {
		resp.Error = s.frameError(f.Method, err)
	}

	if err := sess.Send(resp); err != nil {
		s.logger.Warn("could not send response", "session", sess.ID(), "request", f.ID, "error", err)
	}
}

func (s *Service) dispatch(ctx context.Context, method string, payload json.RawMessage) (any, error) {
	switch method {
	case MethodGetChanges:
		var req GetChangesRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return s.GetChanges(ctx, &req)
	case MethodGetWorkspaces:
		var req GetWorkspacesRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return s.GetWorkspaces(ctx, &req)
	case MethodCommit:
		var req CommitRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return s.Commit(ctx, &req)
	case MethodUpdateDevice:
		var req UpdateDeviceRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return s.UpdateDevice(ctx, &req)
	case MethodCreateShareProposal:
		var req ShareProposalRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return s.CreateShareProposal(ctx, &req)
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownMethod, method)
	}
}

type badRequestError struct{ err error }

func (e *badRequestError) Error() string { return "invalid payload: " + e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return &badRequestError{err: errors.New("missing payload")}
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return &badRequestError{err: err}
	}
	return nil
}

// frameError maps an error to its category. Storage and internal failures
// are logged and reported without detail.
func (s *Service) frameError(method string, err error) *broker.FrameError {
	var bad *badRequestError
	switch {
	case errors.As(err, &bad):
		return &broker.FrameError{Category: "BadRequest", Message: err.Error()}
	case errors.Is(err, errUnknownMethod):
		return &broker.FrameError{Category: "UnknownMethod", Message: err.Error()}
	}

	category := engine.Category(err)
	switch category {
	case "StorageError", "InternalError":
		s.logger.Error("request failed", "method", method, "error", err)
		return &broker.FrameError{Category: category, Message: "internal server error"}
	default:
		return &broker.FrameError{Category: category, Message: err.Error()}
	}
}
