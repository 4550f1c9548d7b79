package resource

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	"github.com/ConCopilot/concopilot/internal/observability"
	tokenutil "github.com/ConCopilot/concopilot/internal/shared/token"
)

// ErrNoScriptedReply is returned when the reply queue is empty and no
// fallback is configured.
var ErrNoScriptedReply = fmt.Errorf("scripted model has no reply left")

// Reply is one canned model answer.
type Reply struct {
	Content      string                  `yaml:"content" json:"content"`
	FunctionCall *framework.FunctionCall `yaml:"function_call,omitempty" json:"function_call,omitempty"`
	Err          string                  `yaml:"error,omitempty" json:"error,omitempty"`
}

// ScriptedLLMSettings is the config section of a scripted model.
type ScriptedLLMSettings struct {
	Model          string  `yaml:"model"`
	Replies        []Reply `yaml:"replies"`
	Fallback       *Reply  `yaml:"fallback"`
	Echo           bool    `yaml:"echo"`
	TokenCounting  string  `yaml:"token_counting"`
	CostPer1KToken float64 `yaml:"cost_per_1k_tokens"`
}

// ScriptedLLM replays configured replies in order. When they run out it
// answers with the fallback, or echoes the last message when echo is set.
// Every request is recorded.
type ScriptedLLM struct {
	*Base
	settings ScriptedLLMSettings
	count    tokenutil.Counter

	mu      sync.Mutex
	replies []Reply
	calls   []framework.LLMParams
}

var _ framework.LLM = (*ScriptedLLM)(nil)

func NewScriptedLLM(d *config.Descriptor, opts ...component.Option) (*ScriptedLLM, error) {
	base, err := NewBase(d, opts...)
	if err != nil {
		return nil, err
	}
	settings := ScriptedLLMSettings{Model: "scripted"}
	if err := d.Settings(&settings); err != nil {
		return nil, err
	}
	llm := &ScriptedLLM{
		Base:     base,
		settings: settings,
		count:    tokenutil.ForMode(settings.TokenCounting),
		replies:  append([]Reply(nil), settings.Replies...),
	}
	llm.Commands().Handle("inference", llm.inferenceCommand)
	return llm, nil
}

func (l *ScriptedLLM) ModelName() string { return l.settings.Model }

// Push appends replies to the queue.
func (l *ScriptedLLM) Push(replies ...Reply) {
	l.mu.Lock()
	l.replies = append(l.replies, replies...)
	l.mu.Unlock()
}

// Calls returns the recorded requests.
func (l *ScriptedLLM) Calls() []framework.LLMParams {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]framework.LLMParams(nil), l.calls...)
}

// Pending returns how many queued replies are left.
func (l *ScriptedLLM) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.replies)
}

func (l *ScriptedLLM) Inference(ctx context.Context, params framework.LLMParams) (resp *framework.LLMResponse, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, span := observability.StartSpan(ctx, observability.SpanLLMInference)
	defer func() {
		if resp != nil {
			span.SetAttributes(observability.LLMAttrs(l.ModelName(), resp.InputTokenLen, resp.OutputTokenLen, resp.Cost)...)
		}
		observability.EndSpan(span, err)
	}()

	reply, err := l.next(params)
	if err != nil {
		return nil, err
	}
	if reply.Err != "" {
		return nil, fmt.Errorf("%s", reply.Err)
	}

	resp = &framework.LLMResponse{Content: reply.Content, FunctionCall: reply.FunctionCall}
	if params.RequireTokenLen || params.RequireCost {
		in := l.inputTokens(params)
		out := l.count(reply.Content)
		if reply.FunctionCall != nil {
			out += l.count(reply.FunctionCall.Name) + l.count(reply.FunctionCall.Arguments)
		}
		resp.InputTokenLen, resp.OutputTokenLen = &in, &out
		if params.RequireCost {
			cost := float64(in+out) / 1000 * l.settings.CostPer1KToken
			resp.Cost = &cost
		}
	}
	return resp, nil
}

func (l *ScriptedLLM) next(params framework.LLMParams) (Reply, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, params)
	if len(l.replies) > 0 {
		reply := l.replies[0]
		l.replies = l.replies[1:]
		return reply, nil
	}
	switch {
	case l.settings.Fallback != nil:
		return *l.settings.Fallback, nil
	case l.settings.Echo:
		return Reply{Content: lastContent(params)}, nil
	default:
		return Reply{}, ErrNoScriptedReply
	}
}

func (l *ScriptedLLM) inputTokens(params framework.LLMParams) int {
	texts := make([]string, 0, len(params.Messages)+1)
	texts = append(texts, params.Prompt)
	for _, m := range params.Messages {
		texts = append(texts, m.Content)
	}
	return tokenutil.Sum(l.count, texts...)
}

func lastContent(params framework.LLMParams) string {
	for i := len(params.Messages) - 1; i >= 0; i-- {
		if strings.TrimSpace(params.Messages[i].Content) != "" {
			return params.Messages[i].Content
		}
	}
	return params.Prompt
}

func (l *ScriptedLLM) inferenceCommand(ctx context.Context, param any) (any, error) {
	params, err := component.Param[framework.LLMParams](param)
	if err != nil {
		return nil, err
	}
	return l.Inference(ctx, params)
}
