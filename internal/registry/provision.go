package registry

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/shared/logging"
)

// Provisioner prepares the environment a component needs before its factory
// runs.
type Provisioner interface {
	Provision(ctx context.Context, d *config.Descriptor) error
}

// ProvisionerFunc adapts a function to Provisioner.
type ProvisionerFunc func(ctx context.Context, d *config.Descriptor) error

func (f ProvisionerFunc) Provision(ctx context.Context, d *config.Descriptor) error { return f(ctx, d) }

// CommandProvisioner runs each setup command in the descriptor's folder.
type CommandProvisioner struct {
	Logger logging.Logger
}

func (p *CommandProvisioner) Provision(ctx context.Context, d *config.Descriptor) error {
	if d.Setup == nil {
		return nil
	}
	logger := logging.OrNop(p.Logger)
	for _, argv := range d.Setup.Commands {
		if len(argv) == 0 {
			continue
		}
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = d.Location.Folder
		logger.Info("setup %s/%s/%s: %s", d.GroupID, d.ArtifactID, d.Version, strings.Join(argv, " "))
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("setup %s/%s/%s: %q: %w\n%s", d.GroupID, d.ArtifactID, d.Version, strings.Join(argv, " "), err, out)
		}
		if len(out) > 0 {
			logger.Debug("%s", out)
		}
	}
	return nil
}
