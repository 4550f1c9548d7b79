package main

import (
	"strings"

	"github.com/ConCopilot/concopilot/internal/config"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
)

// refFlags name a component either by flags or by one positional argument:
// a config file path or group:artifact:version.
type refFlags struct {
	groupID    string
	artifactID string
	version    string
	instanceID string
	configFile string
}

func (f *refFlags) bind(flags *pflag.FlagSet) {
	flags.StringVar(&f.groupID, "group-id", "", "group id of the component")
	flags.StringVar(&f.artifactID, "artifact-id", "", "artifact id of the component")
	flags.StringVar(&f.version, "version", "", "version of the component")
	flags.StringVar(&f.instanceID, "instance-id", "", "instance id of the runtime folder")
	flags.StringVar(&f.configFile, "config-file", "", "config file to use inside the package")
}

// target returns either a file to load directly or a reference to resolve.
func (f *refFlags) target(fs afero.Fs, args []string) (string, *config.Descriptor, error) {
	var ref *config.Descriptor
	switch {
	case len(args) > 0:
		if ok, _ := afero.Exists(fs, args[0]); ok {
			return args[0], nil, nil
		}
		parsed, err := parseReference(args[0])
		if err != nil {
			return "", nil, err
		}
		ref = parsed
	case f.groupID != "" || f.artifactID != "" || f.version != "":
		ref = &config.Descriptor{GroupID: f.groupID, ArtifactID: f.artifactID, Version: f.version}
		if !ref.HasCoordinates() {
			return "", nil, errs.NewConfigError("reference", "--group-id, --artifact-id and --version are all required")
		}
		if _, err := config.ParseVersion(ref.Version); err != nil {
			return "", nil, err
		}
	default:
		return "", nil, errs.NewConfigError("reference", "name a config file, group:artifact:version or use --group-id, --artifact-id and --version")
	}
	ref.InstanceID = f.instanceID
	ref.ConfigFile = f.configFile
	return "", ref, nil
}

// parseReference reads group:artifact:version.
func parseReference(s string) (*config.Descriptor, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return nil, errs.NewConfigError("reference", "%q is neither a config file nor group:artifact:version", s)
	}
	for _, p := range parts {
		if p == "" {
			return nil, errs.NewConfigError("reference", "%q has an empty coordinate", s)
		}
	}
	if _, err := config.ParseVersion(parts[2]); err != nil {
		return nil, err
	}
	return &config.Descriptor{GroupID: parts[0], ArtifactID: parts[1], Version: parts[2]}, nil
}
