package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ConCopilot/concopilot/internal/config"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newInfoCommand(c *cli) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "info <config.yaml>",
		Short: "Describe a component: its commands, parameters and parts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := afero.ReadFile(c.fs, args[0])
			if err != nil {
				return err
			}
			d, err := config.ParseDescriptor(data)
			if err != nil {
				return err
			}
			return printMarkdown(cmd.OutOrStdout(), describe(d), plain)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print the raw markdown")
	return cmd
}

// describe renders d as a markdown document.
func describe(d *config.Descriptor) string {
	var b strings.Builder
	title := d.Name
	if d.Info != nil && d.Info.Title != "" {
		title = d.Info.Title
	}
	if title == "" {
		title = d.ArtifactID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if d.HasCoordinates() {
		fmt.Fprintf(&b, "`%s:%s:%s`\n\n", d.GroupID, d.ArtifactID, d.Version)
	}
	if d.Type != "" {
		fmt.Fprintf(&b, "- **type**: %s\n", d.Type)
	}
	if d.ResourceType != "" {
		fmt.Fprintf(&b, "- **resource type**: %s\n", d.ResourceType)
	}
	if d.AsPlugin {
		b.WriteString("- **plugin**: yes\n")
	}
	b.WriteString("\n")
	if d.Info != nil && d.Info.Description != "" {
		b.WriteString(d.Info.Description)
		b.WriteString("\n\n")
	}

	if len(d.Commands) > 0 {
		b.WriteString("## Commands\n\n")
		for _, cmd := range d.Commands {
			fmt.Fprintf(&b, "### %s\n\n", cmd.CommandName)
			if cmd.Description != "" {
				b.WriteString(cmd.Description)
				b.WriteString("\n\n")
			}
			if len(cmd.Parameters) == 0 {
				continue
			}
			b.WriteString("| parameter | type | description |\n| --- | --- | --- |\n")
			for _, p := range cmd.Parameters {
				fmt.Fprintf(&b, "| %s | %s | %s |\n", p.Name, p.Type, p.Description)
			}
			b.WriteString("\n")
		}
	}

	var parts []string
	for _, key := range []string{"resource_manager", "storage", "user_interface", "cerebrum", "plugin_manager", "message_manager", "interactor"} {
		if sub, err := d.ConfigDescriptor(key); err == nil && sub != nil {
			parts = append(parts, fmt.Sprintf("- **%s**: `%s:%s:%s`", key, sub.GroupID, sub.ArtifactID, sub.Version))
		}
	}
	if len(parts) > 0 {
		b.WriteString("## Parts\n\n")
		b.WriteString(strings.Join(parts, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

func printMarkdown(out io.Writer, md string, plain bool) error {
	f, ok := out.(*os.File)
	if plain || !ok || !term.IsTerminal(int(f.Fd())) {
		_, err := io.WriteString(out, md)
		return err
	}
	width := 80
	if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 4 {
		width = min(w-4, 120)
	}
	renderer, err := glamour.NewTermRenderer(glamour.WithStandardStyle("dark"), glamour.WithWordWrap(width))
	if err != nil {
		return fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	rendered, err := renderer.Render(md)
	if err != nil {
		return fmt.Errorf("failed to render markdown: %w", err)
	}
	_, err = io.WriteString(out, rendered)
	return err
}
