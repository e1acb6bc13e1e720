package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/scrypster/rollcall/pkg/types"
)

// BatchItem is one transcript name in a batch.
type BatchItem struct {
	TranscriptName string `json:"transcript_name"`
	Context        string `json:"context,omitempty"`
}

// BatchRequest resolves many names of one scope against shared candidate sets.
type BatchRequest struct {
	Scope              string              `json:"scope"`
	Items              []BatchItem         `json:"names"`
	Roster             []types.RosterEntry `json:"roster"`
	ChatCandidates     []types.RosterEntry `json:"chat_candidates,omitempty"`
	CalendarCandidates []types.RosterEntry `json:"calendar_candidates,omitempty"`
}

// BatchResult is the outcome for one BatchItem, in request order.
type BatchResult struct {
	TranscriptName string                  `json:"transcript_name"`
	Result         *types.ResolutionResult `json:"result,omitempty"`
	Error          string                  `json:"error,omitempty"`
}

// ResolveBatch resolves every item concurrently. Items whose names normalize
// to the same key are resolved once; concurrent batches resolving the same
// key also share one attempt. Per-item failures are reported in the item's
// Error and do not fail the batch.
func (r *IdentityResolver) ResolveBatch(ctx context.Context, req BatchRequest) ([]BatchResult, error) {
	req.Scope = types.NormalizeScope(req.Scope)
	if req.Scope == "" || len(req.Roster) == 0 {
		return nil, fmt.Errorf("%w: scope and roster are required", ErrInvalidRequest)
	}

	results := make([]BatchResult, len(req.Items))
	groups := make(map[string][]int)
	var order []string
	for i, item := range req.Items {
		results[i].TranscriptName = item.TranscriptName
		key := types.NormalizeKey(item.TranscriptName)
		if key == "" {
			results[i].Error = fmt.Sprintf("%v: transcript name is required", ErrInvalidRequest)
			continue
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range order {
		indexes := groups[key]
		first := req.Items[indexes[0]]
		g.Go(func() error {
			res, err := r.resolveShared(gctx, &types.ResolutionRequest{
				Scope:              req.Scope,
				TranscriptName:     first.TranscriptName,
				Context:            first.Context,
				Roster:             req.Roster,
				ChatCandidates:     req.ChatCandidates,
				CalendarCandidates: req.CalendarCandidates,
			})
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				for _, i := range indexes {
					results[i].Error = err.Error()
				}
				return nil
			}
			for _, i := range indexes {
				results[i].Result = copyResult(res, req.Items[i].TranscriptName)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// resolveShared collapses concurrent resolutions of the same (scope, key).
// The shared attempt runs detached from any one caller's cancellation, so a
// caller that gives up returns ctx.Err() while the others keep waiting. The
// semantic timeout still bounds the attempt.
func (r *IdentityResolver) resolveShared(ctx context.Context, req *types.ResolutionRequest) (*types.ResolutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := types.NormalizeScope(req.Scope) + "\x00" + types.NormalizeKey(req.TranscriptName)
	detached := context.WithoutCancel(ctx)
	ch := r.flight.DoChan(key, func() (interface{}, error) {
		return r.Resolve(detached, req)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*types.ResolutionResult), nil
	}
}

func copyResult(res *types.ResolutionResult, transcriptName string) *types.ResolutionResult {
	cp := *res
	cp.TranscriptName = transcriptName
	cp.Alternatives = append([]types.Alternative{}, res.Alternatives...)
	cp.Corroboration = append([]types.CandidateSource(nil), res.Corroboration...)
	return &cp
}
