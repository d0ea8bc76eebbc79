package analyst

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/insight-engine/pkg/anthropic"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// textResponse wraps a reply string in a response with fixed token usage.
func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:         "msg_test",
		Content:    []anthropic.ContentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
		Usage: anthropic.TokenUsage{
			InputTokens:  100,
			OutputTokens: 50,
		},
	}
}

// newTestCaller returns a caller whose next reply is text.
func newTestCaller(text string) *Caller {
	llm := new(mockLLM)
	llm.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(text), nil)
	return NewCaller(llm, "claude-sonnet-4-5-20250929")
}
