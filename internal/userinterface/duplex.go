package userinterface

import (
	"context"
	"sync"
	"time"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	"github.com/ConCopilot/concopilot/internal/message"
	"github.com/ConCopilot/concopilot/internal/observability"
	"github.com/ConCopilot/concopilot/internal/shared/id"
)

// Directions label the two channels of a duplex interface.
const (
	DirectionToUser  = "to_user"
	DirectionToAgent = "to_agent"
)

// channel is one direction of a duplex interface. Readers are serialised by
// readMu so a correlated wait cannot lose its reply to a concurrent reader;
// replies that belong to other threads are parked in cache.
type channel struct {
	name    string
	queue   *Queue[*message.Message]
	metrics *observability.QueueMetrics

	readMu  sync.Mutex
	cacheMu sync.Mutex
	cache   []*message.Message
}

func newChannel(name string, poll time.Duration, metrics *observability.QueueMetrics) *channel {
	return &channel{name: name, queue: NewQueue[*message.Message](poll), metrics: metrics}
}

func (c *channel) put(msg *message.Message) error {
	if err := c.queue.Put(msg); err != nil {
		return err
	}
	c.metrics.RecordMessage(c.name)
	return nil
}

func (c *channel) has() bool {
	c.cacheMu.Lock()
	cached := len(c.cache)
	c.cacheMu.Unlock()
	return cached > 0 || c.queue.Len() > 0
}

func (c *channel) popCache() *message.Message {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if len(c.cache) == 0 {
		return nil
	}
	msg := c.cache[0]
	c.cache[0] = nil
	c.cache = c.cache[1:]
	return msg
}

func (c *channel) get() (*message.Message, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if msg := c.popCache(); msg != nil {
		return msg, nil
	}
	msg, _, err := c.queue.TryGet()
	return msg, err
}

func (c *channel) wait(ctx context.Context) (*message.Message, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	return c.waitLocked(ctx)
}

func (c *channel) waitLocked(ctx context.Context) (*message.Message, error) {
	if msg := c.popCache(); msg != nil {
		return msg, nil
	}
	c.metrics.WaitStarted(c.name)
	defer c.metrics.WaitFinished(c.name)
	return c.queue.Get(ctx)
}

// waitThread reads until a message of thread arrives. Messages of other
// threads are handed back to the shared cache in arrival order.
func (c *channel) waitThread(ctx context.Context, thread string) (*message.Message, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	var parked []*message.Message
	defer func() {
		if len(parked) == 0 {
			return
		}
		c.metrics.RecordDeferred(c.name, len(parked))
		c.cacheMu.Lock()
		c.cache = append(parked, c.cache...)
		c.cacheMu.Unlock()
	}()
	for {
		msg, err := c.waitLocked(ctx)
		if err != nil {
			return nil, err
		}
		if msg != nil && msg.ThreadID == thread {
			return msg, nil
		}
		parked = append(parked, msg)
	}
}

// DuplexSettings is the config section of a duplex interface.
type DuplexSettings struct {
	// InterruptCheckingTimeout is the poll interval in seconds.
	InterruptCheckingTimeout float64 `yaml:"interrupt_checking_timeout"`
}

// Duplex decouples the interaction loop from user I/O with two interruptible
// channels: user→agent and agent→user. The agent side uses the
// framework.UserInterface methods; a front end drives the *ToAgent and
// *AgentMsg methods.
type Duplex struct {
	*component.Base
	toUser  *channel
	toAgent *channel
	metrics *observability.QueueMetrics

	interruptOnce sync.Once
}

var (
	_ framework.UserInterface = (*Duplex)(nil)
	_ framework.Interruptible = (*Duplex)(nil)
)

// NewDuplex builds a duplex interface. Queue metrics go to the default
// Prometheus registry.
func NewDuplex(d *config.Descriptor, opts ...component.Option) (*Duplex, error) {
	return NewDuplexWithMetrics(d, observability.NewQueueMetrics(), opts...)
}

// NewDuplexWithMetrics is NewDuplex with an explicit recorder; metrics may be nil.
func NewDuplexWithMetrics(d *config.Descriptor, metrics *observability.QueueMetrics, opts ...component.Option) (*Duplex, error) {
	b, err := component.New(d, append([]component.Option{component.WithType(config.TypeUserInterface)}, opts...)...)
	if err != nil {
		return nil, err
	}
	settings := DuplexSettings{InterruptCheckingTimeout: DefaultPollInterval.Seconds()}
	if err := d.Settings(&settings); err != nil {
		return nil, err
	}
	poll := time.Duration(settings.InterruptCheckingTimeout * float64(time.Second))
	return &Duplex{
		Base:    b,
		toUser:  newChannel(DirectionToUser, poll, metrics),
		toAgent: newChannel(DirectionToAgent, poll, metrics),
		metrics: metrics,
	}, nil
}

// withThread returns msg, or a copy of it carrying a fresh thread id.
func withThread(msg *message.Message) *message.Message {
	if msg.ThreadID != "" {
		return msg
	}
	cp := msg.Clone()
	cp.ThreadID = id.NewUUID()
	return cp
}

// SendMsgToUser queues msg for the user.
func (d *Duplex) SendMsgToUser(msg *message.Message) error { return d.toUser.put(msg) }

// OnMsgToUser sends msg and waits for the user's reply on the same thread.
func (d *Duplex) OnMsgToUser(ctx context.Context, msg *message.Message) (*message.Message, error) {
	msg = withThread(msg)
	if err := d.SendMsgToUser(msg); err != nil {
		return nil, err
	}
	return d.toAgent.waitThread(ctx, msg.ThreadID)
}

func (d *Duplex) HasUserMsg() bool { return d.toAgent.has() }

// GetUserMsg pops the next user message, or returns nil when none is pending.
func (d *Duplex) GetUserMsg() (*message.Message, error) { return d.toAgent.get() }

func (d *Duplex) WaitUserMsg(ctx context.Context) (*message.Message, error) {
	return d.toAgent.wait(ctx)
}

func (d *Duplex) SendMsgUser(msg *message.Message) error { return d.SendMsgToUser(msg) }

func (d *Duplex) OnMsgUser(ctx context.Context, msg *message.Message) (*message.Message, error) {
	return d.OnMsgToUser(ctx, msg)
}

// SendMsgToAgent queues a user message for the interaction loop.
func (d *Duplex) SendMsgToAgent(msg *message.Message) error { return d.toAgent.put(msg) }

// OnMsgToAgent sends msg and waits for the agent's reply on the same thread.
func (d *Duplex) OnMsgToAgent(ctx context.Context, msg *message.Message) (*message.Message, error) {
	msg = withThread(msg)
	if err := d.SendMsgToAgent(msg); err != nil {
		return nil, err
	}
	return d.toUser.waitThread(ctx, msg.ThreadID)
}

func (d *Duplex) HasAgentMsg() bool { return d.toUser.has() }

func (d *Duplex) GetAgentMsg() (*message.Message, error) { return d.toUser.get() }

func (d *Duplex) WaitAgentMsg(ctx context.Context) (*message.Message, error) {
	return d.toUser.wait(ctx)
}

// Interrupt releases every blocked reader on both channels.
func (d *Duplex) Interrupt() {
	d.interruptOnce.Do(func() {
		d.toUser.queue.Interrupt()
		d.toAgent.queue.Interrupt()
		d.metrics.RecordInterrupt()
	})
}

func (d *Duplex) Interrupted() bool {
	return d.toUser.queue.Interrupted() || d.toAgent.queue.Interrupted()
}
