package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"quill/internal/tweak"
)

func (s *Server) handleCodeAction(ctx context.Context, msg *rpcMessage) error {
	var params codeActionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return s.sendError(msg.ID, codeInvalidParams, "invalid params")
	}
	uri := canonicalURI(params.TextDocument.URI)
	file, model, err := s.modelFor(ctx, uri)
	if file == nil {
		return s.sendResponse(msg.ID, []codeAction{})
	}
	if err != nil {
		s.log.Warn().Err(err).Str("uri", uri).Msg("code action analysis failed")
		return s.sendError(msg.ID, codeRequestFailed, err.Error())
	}
	sel, err := tweak.NewSelection(file, spanForRange(file, params.Range), model)
	if err != nil {
		return s.sendError(msg.ID, codeInvalidParams, err.Error())
	}
	guards, err := s.registry.Available(ctx, sel)
	if err != nil {
		return s.sendError(msg.ID, codeRequestFailed, err.Error())
	}

	actions := []codeAction{}
	offeredBy := make(map[string][]lspDiagnostic)
	for _, d := range sel.Diagnostics() {
		ld := lspDiagnosticFor(uri, file, &d)
		for _, id := range d.Actions {
			offeredBy[id] = append(offeredBy[id], ld)
		}
		for _, f := range d.Fixes {
			actions = append(actions, codeAction{
				Title:       f.Title,
				Kind:        "quickfix",
				Diagnostics: []lspDiagnostic{ld},
				Edit:        workspaceEditFor(uri, file, f.Edits),
			})
		}
	}
	for _, g := range guards {
		ca := codeAction{
			Title: g.Title(),
			Kind:  codeActionKind(g.Kind()),
			Command: &command{
				Title:   g.Title(),
				Command: CommandApplyTweak,
				Arguments: []any{applyTweakArgs{
					URI:     uri,
					Version: int(file.Version),
					Range:   params.Range,
					ID:      g.ID(),
				}},
			},
		}
		if ds, ok := offeredBy[g.ID()]; ok {
			ca.IsPreferred = true
			ca.Diagnostics = ds
		}
		actions = append(actions, ca)
	}
	return s.sendResponse(msg.ID, filterKinds(actions, params.Context.Only))
}

// codeActionKind maps tweak kinds onto LSP code action kinds. Informational
// tweaks have no LSP counterpart and carry no kind.
func codeActionKind(k tweak.Kind) string {
	switch k {
	case tweak.KindQuickFix:
		return "quickfix"
	case tweak.KindRefactor:
		return "refactor"
	}
	return ""
}

// filterKinds keeps actions whose kind equals or is nested under one of
// only. An empty only keeps everything.
func filterKinds(actions []codeAction, only []string) []codeAction {
	if len(only) == 0 {
		return actions
	}
	out := actions[:0]
	for _, a := range actions {
		for _, k := range only {
			if a.Kind != "" && (a.Kind == k || strings.HasPrefix(a.Kind, k+".")) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

func (s *Server) handleExecuteCommand(ctx context.Context, msg *rpcMessage) error {
	var params executeCommandParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return s.sendError(msg.ID, codeInvalidParams, "invalid params")
	}
	if params.Command == CommandApplyTweak {
		return s.applyTweak(ctx, msg, params.Arguments)
	}
	h, ok := s.binder.LookupCommand(params.Command)
	if !ok {
		return s.sendError(msg.ID, codeInvalidParams, fmt.Sprintf("unknown command %q", params.Command))
	}
	args, err := json.Marshal(params.Arguments)
	if err != nil {
		return s.sendError(msg.ID, codeInvalidParams, err.Error())
	}
	result, err := h(ctx, args)
	if err != nil {
		s.log.Warn().Err(err).Str("command", params.Command).Str("module", s.binder.Owner(params.Command)).Msg("command failed")
		return s.sendError(msg.ID, codeRequestFailed, err.Error())
	}
	return s.sendResponse(msg.ID, result)
}

// applyTweak re-runs the chosen tweak on the current snapshot. The client's
// version must still match; edits go back as workspace/applyEdit, messages
// as window/showMessage.
func (s *Server) applyTweak(ctx context.Context, msg *rpcMessage, rawArgs []json.RawMessage) error {
	if len(rawArgs) != 1 {
		return s.sendError(msg.ID, codeInvalidParams, CommandApplyTweak+" takes one argument")
	}
	var args applyTweakArgs
	if err := json.Unmarshal(rawArgs[0], &args); err != nil {
		return s.sendError(msg.ID, codeInvalidParams, "invalid params")
	}
	uri := canonicalURI(args.URI)
	file, model, err := s.modelFor(ctx, uri)
	switch {
	case file == nil:
		return s.sendError(msg.ID, codeInvalidParams, "document not open: "+uri)
	case err != nil:
		return s.sendError(msg.ID, codeRequestFailed, err.Error())
	case file.Version != safeInt32(args.Version):
		return s.sendError(msg.ID, codeContentModified, "document changed since the action was offered")
	}
	sel, err := tweak.NewSelection(file, spanForRange(file, args.Range), model)
	if err != nil {
		return s.sendError(msg.ID, codeInvalidParams, err.Error())
	}

	eff, err := s.registry.Apply(ctx, args.ID, sel)
	if err != nil {
		if errors.Is(err, tweak.ErrStale) {
			return s.sendError(msg.ID, codeContentModified, err.Error())
		}
		s.log.Info().Err(err).Str("tweak", args.ID).Msg("tweak not applied")
		if nerr := s.sendNotification("window/showMessage", showMessageParams{
			Type:    messageWarning,
			Message: fmt.Sprintf("%s: %v", args.ID, err),
		}); nerr != nil {
			return nerr
		}
		return s.sendError(msg.ID, codeRequestFailed, err.Error())
	}

	if eff.IsEdit() {
		err = s.sendRequest("workspace/applyEdit", applyWorkspaceEditParams{
			Label: args.ID,
			Edit:  *workspaceEditFor(uri, file, eff.Edits),
		})
	} else {
		err = s.sendNotification("window/showMessage", showMessageParams{
			Type:    messageInfo,
			Message: eff.Message,
		})
	}
	if err != nil {
		return err
	}
	return s.sendResponse(msg.ID, nil)
}
