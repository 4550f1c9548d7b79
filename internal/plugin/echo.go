package plugin

import (
	"context"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework/component"
)

// Echo answers the echo command with its own parameter.
type Echo struct {
	*component.Base
}

func NewEcho(d *config.Descriptor, opts ...component.Option) (*Echo, error) {
	b, err := component.New(d, opts...)
	if err != nil {
		return nil, err
	}
	e := &Echo{Base: b}
	e.Commands().Handle("echo", func(_ context.Context, param any) (any, error) {
		return param, nil
	})
	return e, nil
}
