package component

import (
	"context"
	"strings"

	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
	jsonx "github.com/ConCopilot/concopilot/internal/shared/json"
)

// Handler runs one command.
type Handler func(ctx context.Context, param any) (any, error)

// Commands is a name to handler table that remembers registration order.
type Commands struct {
	owner    string
	names    []string
	handlers map[string]Handler
}

func NewCommands(owner string) *Commands {
	return &Commands{owner: owner, handlers: make(map[string]Handler)}
}

// Handle registers h under name, replacing an earlier handler.
func (c *Commands) Handle(name string, h Handler) *Commands {
	if _, ok := c.handlers[name]; !ok {
		c.names = append(c.names, name)
	}
	c.handlers[name] = h
	return c
}

// Names lists the registered commands in registration order.
func (c *Commands) Names() []string {
	return append([]string(nil), c.names...)
}

// Run dispatches name.
func (c *Commands) Run(ctx context.Context, name string, param any) (any, error) {
	h, ok := c.handlers[name]
	if !ok {
		owner := c.owner
		if owner == "" {
			owner = "component"
		}
		return nil, errs.NewRoutingError("%s does not support command %q, allowed commands: [%s]",
			owner, name, strings.Join(c.names, ", "))
	}
	return h(ctx, param)
}

// Param decodes a loosely typed command parameter into T.
func Param[T any](param any) (T, error) {
	var out T
	if param == nil {
		return out, nil
	}
	if typed, ok := param.(T); ok {
		return typed, nil
	}
	if err := jsonx.Decode(param, &out); err != nil {
		return out, &errs.ParseError{Input: "command param", Err: err}
	}
	return out, nil
}
