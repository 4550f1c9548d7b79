package copilot

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ConCopilot/concopilot/internal/cerebrum"
	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	"github.com/ConCopilot/concopilot/internal/interactor"
	"github.com/ConCopilot/concopilot/internal/messaging"
	"github.com/ConCopilot/concopilot/internal/plugin"
	"github.com/ConCopilot/concopilot/internal/resource"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
	"github.com/ConCopilot/concopilot/internal/shared/logging"
	"github.com/ConCopilot/concopilot/internal/storage"
	"github.com/ConCopilot/concopilot/internal/userinterface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	echoCall = `{"receiver": {"role": "plugin", "name": "echo"}, "content_type": "command", "content": {"command": "echo", "param": {"text": "hi"}}}`
	exitCall = `{"receiver": {"role": "system"}, "content": "exit"}`
	askUser  = `{"receiver": {"role": "user"}, "content": "anything else?"}`
)

func opts() []component.Option {
	return []component.Option{component.WithLogger(logging.Nop())}
}

// trackedResource counts lifecycle calls.
type trackedResource struct {
	*resource.Base
	initErr     error
	initialized atomic.Int32
	finalized   atomic.Int32
}

func (r *trackedResource) Initialize(context.Context) error {
	r.initialized.Add(1)
	return r.initErr
}

func (r *trackedResource) Finalize(context.Context) error {
	r.finalized.Add(1)
	return nil
}

type rig struct {
	copilot *Basic
	llm     *resource.ScriptedLLM
	tracked *trackedResource
	store   *storage.Memory
	ui      *userinterface.Duplex
}

func newRig(t *testing.T, initErr error, replies ...resource.Reply) *rig {
	t.Helper()
	rm, err := resource.NewManager(&config.Descriptor{Name: "resources"}, opts()...)
	require.NoError(t, err)
	llm, err := resource.NewScriptedLLM(&config.Descriptor{ResourceType: resource.TypeModel, Name: "llm"}, opts()...)
	require.NoError(t, err)
	llm.Push(replies...)
	require.NoError(t, rm.AddResource(llm))
	base, err := resource.NewBase(&config.Descriptor{ResourceType: "counter", Name: "tracked"}, opts()...)
	require.NoError(t, err)
	tracked := &trackedResource{Base: base, initErr: initErr}
	require.NoError(t, rm.AddResource(tracked))

	store, err := storage.NewMemory(&config.Descriptor{Name: "memory"}, opts()...)
	require.NoError(t, err)
	ui, err := userinterface.NewDuplexWithMetrics(&config.Descriptor{
		Name:   "duplex",
		Config: map[string]any{"interrupt_checking_timeout": 0.01},
	}, nil, opts()...)
	require.NoError(t, err)
	brain, err := cerebrum.NewChat(&config.Descriptor{
		Name:      "brain",
		Resources: []config.ResourceRef{{Type: resource.TypeModel}},
	}, opts()...)
	require.NoError(t, err)

	pm, err := plugin.NewManager(&config.Descriptor{Name: "plugins"}, nil, opts()...)
	require.NoError(t, err)
	echo, err := plugin.NewEcho(&config.Descriptor{
		GroupID: "org.test", ArtifactID: "echo", Version: "0.1.0",
		Type: config.TypePlugin, AsPlugin: true, Name: "echo",
		Info:     &config.Info{Title: "echo", Description: "Echo", DescriptionForModel: "Repeats text"},
		Commands: []config.CommandSpec{{CommandName: "echo"}},
	}, opts()...)
	require.NoError(t, err)
	require.NoError(t, pm.AddPlugin(echo))

	parser, err := messaging.NewJSONManager(&config.Descriptor{Name: "parser"}, opts()...)
	require.NoError(t, err)
	auto, err := interactor.NewAuto(&config.Descriptor{Name: "auto", Config: map[string]any{"goals": []any{"echo hi"}}},
		interactor.Deps{ResourceManager: rm, Cerebrum: brain, PluginManager: pm, MessageManager: parser}, nil, opts()...)
	require.NoError(t, err)

	c, err := New(&config.Descriptor{Name: "demo"}, Parts{
		ResourceManager: rm,
		Storage:         store,
		UserInterface:   ui,
		Cerebrum:        brain,
		PluginManager:   pm,
		MessageManager:  parser,
		Interactor:      auto,
	}, opts()...)
	require.NoError(t, err)
	return &rig{copilot: c, llm: llm, tracked: tracked, store: store, ui: ui}
}

func TestRunInitializesLoopsAndFinalizes(t *testing.T) {
	r := newRig(t, nil, resource.Reply{Content: echoCall}, resource.Reply{Content: exitCall})

	require.NoError(t, r.copilot.Run(context.Background()))

	assert.Equal(t, int32(1), r.tracked.initialized.Load())
	assert.Equal(t, int32(1), r.tracked.finalized.Load())
	assert.Len(t, r.llm.Calls(), 2)
	assert.Zero(t, r.llm.Pending())

	history, err := storage.LoadMessages(r.store, "message_history")
	require.NoError(t, err)
	assert.Len(t, history, 5)

	fctx := r.copilot.SharedContext()
	require.NotNil(t, fctx)
	assert.Same(t, r.store, fctx.Storage)
	assert.Contains(t, fctx.Assets, "message_summary")

	out, err := r.copilot.Command(context.Background(), "state", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"state": framework.StateStopped.String()}, out)
}

func TestRunFinalizesAfterFailedInitialize(t *testing.T) {
	boom := errors.New("boom")
	r := newRig(t, boom)

	err := r.copilot.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), r.tracked.finalized.Load())
	assert.Empty(t, r.llm.Calls())
}

func TestStartInterruptWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newRig(t, nil, resource.Reply{Content: askUser})
	require.NoError(t, r.copilot.Start(context.Background()))
	assert.ErrorIs(t, r.copilot.Start(context.Background()), ErrAlreadyRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	question, err := r.ui.WaitAgentMsg(ctx)
	require.NoError(t, err)
	text, _ := question.Text()
	assert.Equal(t, "anything else?", text)

	r.copilot.Interrupt()
	done := make(chan error, 1)
	go func() { done <- r.copilot.Wait() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("copilot did not stop")
	}
	assert.Equal(t, int32(1), r.tracked.finalized.Load())
	assert.True(t, r.ui.Interrupted())
	assert.NoError(t, r.copilot.Wait())
}

func TestNewRequiresParts(t *testing.T) {
	r := newRig(t, nil)
	parts := r.copilot.Parts
	parts.Interactor = nil

	_, err := New(&config.Descriptor{Name: "broken"}, parts, opts()...)
	var cfgErr *errs.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "config.interactor", cfgErr.Field)

	parts = r.copilot.Parts
	parts.PluginManager = nil
	_, err = New(&config.Descriptor{Name: "no-plugins"}, parts, opts()...)
	assert.NoError(t, err)
}
