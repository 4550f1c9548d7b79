package interactor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	"github.com/ConCopilot/concopilot/internal/message"
	"github.com/ConCopilot/concopilot/internal/messaging"
	"github.com/ConCopilot/concopilot/internal/plugin"
	"github.com/ConCopilot/concopilot/internal/shared/clock"
	"github.com/ConCopilot/concopilot/internal/shared/logging"
	"github.com/ConCopilot/concopilot/internal/storage"
	"github.com/ConCopilot/concopilot/internal/userinterface"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func testOpts() []component.Option {
	return []component.Option{component.WithLogger(logging.Nop()), component.WithClock(clock.Fixed(fixedNow))}
}

type brainReply struct {
	content     string
	inputTokens int
	err         error
}

// fakeBrain replays canned responses and records what it was asked.
type fakeBrain struct {
	*component.Base

	mu      sync.Mutex
	replies []brainReply
	params  []framework.InteractParameter
	llm     []map[string]any
	catalog framework.PluginCatalog
}

func newFakeBrain(t *testing.T, replies ...brainReply) *fakeBrain {
	t.Helper()
	b, err := component.New(&config.Descriptor{Name: "brain", Type: config.TypeCerebrum}, testOpts()...)
	require.NoError(t, err)
	return &fakeBrain{Base: b, replies: replies}
}

func (f *fakeBrain) Role() string { return message.RoleCerebrum }

func (f *fakeBrain) SetupPlugins(catalog framework.PluginCatalog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catalog = catalog
	return nil
}

func (f *fakeBrain) Model() framework.LLM { return nil }

func (f *fakeBrain) Interact(_ context.Context, param *framework.InteractParameter, llmParams map[string]any) (*framework.InteractResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *param
	cp.MessageHistory = append([]*message.Message(nil), param.MessageHistory...)
	f.params = append(f.params, cp)
	f.llm = append(f.llm, llmParams)
	if len(f.replies) == 0 {
		return nil, errors.New("no scripted reply left")
	}
	next := f.replies[0]
	f.replies = f.replies[1:]
	if next.err != nil {
		return nil, next.err
	}
	resp := &framework.InteractResponse{Content: next.content}
	if next.inputTokens > 0 {
		n := next.inputTokens
		resp.InputTokenLen = &n
	}
	return resp, nil
}

func (f *fakeBrain) calls() []framework.InteractParameter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]framework.InteractParameter(nil), f.params...)
}

func (f *fakeBrain) llmParams() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.llm...)
}

// fakeSummarizer records how many messages it was handed.
type fakeSummarizer struct {
	*component.Base
	mu    sync.Mutex
	sizes []int
}

func newFakeSummarizer(t *testing.T) *fakeSummarizer {
	t.Helper()
	b, err := component.New(&config.Descriptor{Name: "summarizer", AsPlugin: true}, testOpts()...)
	require.NoError(t, err)
	return &fakeSummarizer{Base: b}
}

func (s *fakeSummarizer) Summarize(_ context.Context, contents []any, previous string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizes = append(s.sizes, len(contents))
	return "SUMMARY", nil
}

type fixture struct {
	brain   *fakeBrain
	plugins *plugin.Manager
	parser  *messaging.JSONManager
	store   *storage.Memory
	ui      *userinterface.Duplex
	fctx    *framework.Context
}

func newFixture(t *testing.T, replies ...brainReply) *fixture {
	t.Helper()
	pm, err := plugin.NewManager(&config.Descriptor{Name: "plugins"}, nil, testOpts()...)
	require.NoError(t, err)
	echo, err := plugin.NewEcho(&config.Descriptor{
		GroupID: "org.test", ArtifactID: "echo", Version: "0.1.0",
		Type: config.TypePlugin, AsPlugin: true, Name: "echo",
		Info:     &config.Info{Title: "echo", Description: "Echo", DescriptionForModel: "Repeats text"},
		Commands: []config.CommandSpec{{CommandName: "echo"}},
	}, testOpts()...)
	require.NoError(t, err)
	echo.SetPrompt("ECHO PROMPT")
	require.NoError(t, pm.AddPlugin(echo))

	parser, err := messaging.NewJSONManager(&config.Descriptor{Name: "parser"}, testOpts()...)
	require.NoError(t, err)
	store, err := storage.NewMemory(&config.Descriptor{Name: "memory"}, testOpts()...)
	require.NoError(t, err)
	ui, err := userinterface.NewDuplexWithMetrics(&config.Descriptor{
		Name:   "duplex",
		Config: map[string]any{"interrupt_checking_timeout": 0.01},
	}, nil, testOpts()...)
	require.NoError(t, err)

	return &fixture{
		brain:   newFakeBrain(t, replies...),
		plugins: pm,
		parser:  parser,
		store:   store,
		ui:      ui,
		fctx:    &framework.Context{Storage: store, UserInterface: ui},
	}
}

func (f *fixture) deps() Deps {
	return Deps{Cerebrum: f.brain, PluginManager: f.plugins, MessageManager: f.parser}
}

func (f *fixture) history(t *testing.T, key string) []*message.Message {
	t.Helper()
	msgs, err := storage.LoadMessages(f.store, key)
	require.NoError(t, err)
	return msgs
}
