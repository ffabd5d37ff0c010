package observers

import (
	"context"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/prompt"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/drivana/sales-agent/pkg/logger"
)

// newPromptHandler builds a typed PromptCallbackHandler that traces template
// rendering.
func newPromptHandler() *callbackHelper.PromptCallbackHandler {
	return &callbackHelper.PromptCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *prompt.CallbackInput) context.Context {
			logx.Trace().
				Str("component", string(info.Type)).
				Str("node", info.Name).
				Msg("Prompt render started")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *prompt.CallbackOutput) context.Context {
			evt := logx.Trace().
				Str("component", string(info.Type)).
				Str("node", info.Name)
			if output != nil {
				evt = evt.Int("message_count", len(output.Result))
			}
			evt.Msg("Prompt render finished")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Error().
				Err(err).
				Str("component", string(info.Type)).
				Str("node", info.Name).
				Msg("Prompt render failed")
			return ctx
		},
	}
}
