package middleware

import (
	"github.com/kbirk/peerchan/internal/util"
	"github.com/kbirk/peerchan/pkg/channel"
)

// InputAllTransferables adds every transferable found in the request result
// to the response's transfer hints.
type InputAllTransferables struct{}

func (InputAllTransferables) HandleIncomingRequest(ctx *channel.IncomingRequestContext, next channel.Next) error {
	if err := next(); err != nil {
		return err
	}
	if result, ok := ctx.Result(); ok && result != nil {
		ctx.Transferables = append(ctx.Transferables, channel.DiscoverTransferables(result)...)
	}
	return nil
}

// InputCheckTransferables removes duplicate hints and hints that are not
// reachable from the request result. Register it before InputAllTransferables
// so that it runs last.
type InputCheckTransferables struct{}

func (InputCheckTransferables) HandleIncomingRequest(ctx *channel.IncomingRequestContext, next channel.Next) error {
	if err := next(); err != nil {
		return err
	}
	result, ok := ctx.Result()
	if !ok || result == nil || len(ctx.Transferables) == 0 {
		return nil
	}
	ctx.Transferables = prune(ctx.Transferables, result)
	return nil
}

// OutputAllTransferables adds every transferable found in the request payload
// to its transfer hints.
type OutputAllTransferables struct{}

func (OutputAllTransferables) HandleOutgoingRequest(ctx *channel.OutgoingRequestContext, next channel.Next) error {
	if err := next(); err != nil {
		return err
	}
	if ctx.Request.Payload != nil {
		ctx.Transferables = append(ctx.Transferables, channel.DiscoverTransferables(ctx.Request.Payload)...)
	}
	return nil
}

// OutputCheckTransferables removes duplicate hints and hints that are not
// reachable from the request payload.
type OutputCheckTransferables struct{}

func (OutputCheckTransferables) HandleOutgoingRequest(ctx *channel.OutgoingRequestContext, next channel.Next) error {
	if err := next(); err != nil {
		return err
	}
	if ctx.Request.Payload == nil || len(ctx.Transferables) == 0 {
		return nil
	}
	ctx.Transferables = prune(ctx.Transferables, ctx.Request.Payload)
	return nil
}

func prune(hints []any, root any) []any {
	hints = util.RemoveDuplicateValues(hints)
	reachable := channel.DiscoverTransferables(root)
	return util.RemoveFunc(hints, func(h any) bool {
		for _, r := range reachable {
			if util.SameValue(h, r) {
				return false
			}
		}
		return true
	})
}
