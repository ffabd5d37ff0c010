package testutil

import (
	"context"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// FakeChatModel is a scripted stand-in for the text-generation service.
// Generate returns the scripted replies in order, repeating the last one,
// and records every call so tests can assert on call counts and prompts.
type FakeChatModel struct {
	mu      sync.Mutex
	Replies []string
	Err     error
	Calls   [][]*schema.Message
	next    int
}

var _ einomodel.BaseChatModel = (*FakeChatModel)(nil)

func (f *FakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, input)
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.Replies) == 0 {
		return schema.AssistantMessage("", nil), nil
	}
	i := f.next
	if i >= len(f.Replies) {
		i = len(f.Replies) - 1
	}
	f.next++
	return schema.AssistantMessage(f.Replies[i], nil), nil
}

func (f *FakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// CallCount returns how many times Generate was invoked.
func (f *FakeChatModel) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// LastCall returns the messages of the most recent Generate call, or nil.
func (f *FakeChatModel) LastCall() []*schema.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Calls) == 0 {
		return nil
	}
	return f.Calls[len(f.Calls)-1]
}
