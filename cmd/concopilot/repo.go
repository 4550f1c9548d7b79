package main

import (
	"fmt"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/repository"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newRepoCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage the local package repository",
	}

	var pathRef refFlags
	path := &cobra.Command{
		Use:   "path [group:artifact:version]",
		Short: "Print the runtime folder and local repository folder of a package",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := c.reference(&pathRef, args)
			if err != nil {
				return err
			}
			runtime, err := c.settings.RuntimeFolder(ref.GroupID, ref.ArtifactID, ref.Version, ref.InstanceID)
			if err != nil {
				return err
			}
			local, err := c.repository().LocalFolder(ref.Coordinates())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "runtime: %s\nlocal:   %s\n", runtime, local)
			return nil
		},
	}
	pathRef.bind(path.Flags())

	var installRef refFlags
	install := &cobra.Command{
		Use:   "install <folder> [group:artifact:version]",
		Short: "Copy a component folder into the local repository",
		Long: `install copies a component folder into the local repository, prefixing
file names with <artifact>-<version>- and marking the package complete. The
coordinates default to the ones in the folder's config.yaml.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := args[0]
			ref, err := c.reference(&installRef, args[1:])
			if err != nil {
				if ref, err = c.descriptorAt(folder); err != nil {
					return err
				}
			}
			return c.repository().Install(ref.Coordinates(), folder)
		},
	}
	installRef.bind(install.Flags())

	var pullRef refFlags
	pull := &cobra.Command{
		Use:   "pull [group:artifact:version]",
		Short: "Download a package from the remote repositories",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := c.reference(&pullRef, args)
			if err != nil {
				return err
			}
			repo := c.repository()
			folder, err := repo.LocalFolder(ref.Coordinates())
			if err != nil {
				return err
			}
			if err := repo.Download(cmd.Context(), ref.Coordinates(), folder); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), folder)
			return nil
		},
	}
	pullRef.bind(pull.Flags())

	cmd.AddCommand(path, install, pull)
	return cmd
}

func (c *cli) repository() *repository.Repository {
	return repository.New(c.settings, repository.WithFs(c.fs))
}

// reference is target restricted to coordinates.
func (c *cli) reference(f *refFlags, args []string) (*config.Descriptor, error) {
	if len(args) > 0 {
		ref, err := parseReference(args[0])
		if err != nil {
			return nil, err
		}
		ref.InstanceID = f.instanceID
		return ref, nil
	}
	_, ref, err := f.target(c.fs, nil)
	return ref, err
}

func (c *cli) descriptorAt(folder string) (*config.Descriptor, error) {
	for _, name := range repository.DefaultConfigFiles {
		data, err := afero.ReadFile(c.fs, folder+"/"+name)
		if err != nil {
			continue
		}
		d, err := config.ParseDescriptor(data)
		if err != nil {
			return nil, err
		}
		if !d.HasCoordinates() {
			return nil, errs.NewConfigError("group_id", "%s/%s does not name its group_id, artifact_id and version", folder, name)
		}
		return d, nil
	}
	return nil, errs.NewConfigError("reference", "give group:artifact:version or the coordinate flags for %s", folder)
}
