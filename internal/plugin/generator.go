package plugin

import (
	"context"
	"fmt"
	"strings"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// DefaultGeneratorInstruction is used when a generator has no instruction
// file.
const DefaultGeneratorInstruction = `Below is the description of a tool, written in YAML. Summarize what the tool can do and when it should be used, in a few sentences, for an assistant that will call it.`

// RenderPrompt formats a plugin prompt from a summary and the YAML dump of the
// plugin descriptor. An empty summary falls back to the info descriptions.
func RenderPrompt(p framework.Plugin, summary string) (string, error) {
	detail, err := describe(p)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(summary) == "" {
		summary = infoSummary(p)
	}
	return strings.Join([]string{
		"Summary:",
		summary,
		"Detail:",
		"```yaml\n" + strings.TrimRight(detail, "\n") + "\n```",
	}, "\n\n"), nil
}

func describe(p framework.Plugin) (string, error) {
	d := p.Config()
	view := map[string]any{"id": p.ID(), "name": p.Name()}
	if d != nil {
		view["info"] = d.Info
		view["commands"] = d.Commands
	}
	data, err := yaml.Marshal(view)
	if err != nil {
		return "", fmt.Errorf("dump plugin %s: %w", p.Name(), err)
	}
	return string(data), nil
}

func infoSummary(p framework.Plugin) string {
	d := p.Config()
	if d == nil || d.Info == nil {
		return p.Name()
	}
	for _, s := range []string{d.Info.DescriptionForModel, d.Info.Description, d.Info.Title} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return p.Name()
}

// StaticPromptGenerator renders plugin prompts from their descriptors without
// calling a model.
type StaticPromptGenerator struct {
	*component.Base
}

var _ framework.PromptGenerator = (*StaticPromptGenerator)(nil)

func NewStaticPromptGenerator(d *config.Descriptor, opts ...component.Option) (*StaticPromptGenerator, error) {
	b, err := component.New(d, opts...)
	if err != nil {
		return nil, err
	}
	g := &StaticPromptGenerator{Base: b}
	return g, nil
}

func (g *StaticPromptGenerator) GeneratePrompt(_ context.Context, p framework.Plugin) (string, error) {
	return RenderPrompt(p, "")
}

// GeneratorSettings is the config section of LLMPromptGenerator.
type GeneratorSettings struct {
	InstructionFile string `yaml:"instruction_file"`
	Instruction     string `yaml:"instruction"`
	MaxTokens       int    `yaml:"max_tokens"`
}

// LLMPromptGenerator asks its model resource to summarize each plugin and
// appends the descriptor dump as detail.
type LLMPromptGenerator struct {
	*component.Base
	settings    GeneratorSettings
	instruction string
}

var _ framework.PromptGenerator = (*LLMPromptGenerator)(nil)

func NewLLMPromptGenerator(d *config.Descriptor, opts ...component.Option) (*LLMPromptGenerator, error) {
	b, err := component.New(d, opts...)
	if err != nil {
		return nil, err
	}
	var settings GeneratorSettings
	if err := d.Settings(&settings); err != nil {
		return nil, err
	}
	instruction, err := loadInstruction(b, settings.InstructionFile, settings.Instruction, DefaultGeneratorInstruction)
	if err != nil {
		return nil, err
	}
	g := &LLMPromptGenerator{Base: b, settings: settings, instruction: instruction}
	return g, nil
}

func (g *LLMPromptGenerator) GeneratePrompt(ctx context.Context, p framework.Plugin) (string, error) {
	model, err := modelOf(g.Base)
	if err != nil {
		return "", err
	}
	detail, err := describe(p)
	if err != nil {
		return "", err
	}
	resp, err := model.Inference(ctx, framework.LLMParams{
		Prompt:    strings.Join([]string{g.instruction, detail, "Begin the summary:\n"}, "\n\n"),
		MaxTokens: g.settings.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarize plugin %s: %w", p.Name(), err)
	}
	return RenderPrompt(p, strings.TrimSpace(resp.Content))
}

// modelOf returns the first language model among the bound resources.
func modelOf(b *component.Base) (framework.LLM, error) {
	for _, r := range b.Resources() {
		if llm, ok := r.(framework.LLM); ok {
			return llm, nil
		}
	}
	return nil, fmt.Errorf("%s has no language model resource", b.Name())
}

func loadInstruction(b *component.Base, file, inline, fallback string) (string, error) {
	switch {
	case strings.TrimSpace(file) != "":
		data, err := afero.ReadFile(b.Fs(), b.ConfigFilePath(file))
		if err != nil {
			return "", &errs.ConfigError{Field: "config.instruction_file", Reason: "cannot read instruction file", Err: err}
		}
		return string(data), nil
	case strings.TrimSpace(inline) != "":
		return inline, nil
	default:
		return fallback, nil
	}
}
