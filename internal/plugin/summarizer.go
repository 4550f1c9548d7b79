package plugin

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	jsonx "github.com/ConCopilot/concopilot/internal/shared/json"
)

// NoPreviousSummary replaces {previous_summary} on the first summarization.
const NoPreviousSummary = "<No summary currently>"

// DefaultSummaryInstruction is used when a summarizer has no instruction.
const DefaultSummaryInstruction = `Progressively summarize the conversation below, building on the previous summary. Keep facts, decisions and open tasks. Make the summary shorter than {max_tokens} tokens.

Previous summary:
{previous_summary}

New content:
{content}

New summary:`

// SummarizerSettings is the config section of a summarizer.
type SummarizerSettings struct {
	InstructionFile string `yaml:"instruction_file"`
	Instruction     string `yaml:"instruction"`
	MaxTokens       int    `yaml:"max_tokens"`
}

// Summarizer condenses message history with its model resource.
type Summarizer struct {
	*component.Base
	settings    SummarizerSettings
	instruction string
}

func NewSummarizer(d *config.Descriptor, opts ...component.Option) (*Summarizer, error) {
	b, err := component.New(d, opts...)
	if err != nil {
		return nil, err
	}
	settings := SummarizerSettings{MaxTokens: 512}
	if err := d.Settings(&settings); err != nil {
		return nil, err
	}
	instruction, err := loadInstruction(b, settings.InstructionFile, settings.Instruction, DefaultSummaryInstruction)
	if err != nil {
		return nil, err
	}
	s := &Summarizer{Base: b, settings: settings, instruction: instruction}
	s.Commands().Handle("summarize", s.summarizeCommand)
	return s, nil
}

func (s *Summarizer) MaxTokens() int { return s.settings.MaxTokens }

// Summarize joins contents with blank lines, JSON-encoding anything that is not
// a string, and asks the model for a new summary.
func (s *Summarizer) Summarize(ctx context.Context, contents []any, previous string) (string, error) {
	model, err := modelOf(s.Base)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		if text, ok := c.(string); ok {
			parts = append(parts, text)
			continue
		}
		data, err := jsonx.Marshal(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, string(data))
	}
	if strings.TrimSpace(previous) == "" {
		previous = NoPreviousSummary
	}
	prompt := strings.NewReplacer(
		"{content}", strings.Join(parts, "\n\n"),
		"{previous_summary}", previous,
		"{max_tokens}", strconv.Itoa(s.settings.MaxTokens),
	).Replace(s.instruction)

	resp, err := model.Inference(ctx, framework.LLMParams{Prompt: prompt, MaxTokens: s.settings.MaxTokens})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (s *Summarizer) summarizeCommand(ctx context.Context, param any) (any, error) {
	p, err := component.Param[struct {
		Contents        []any  `json:"contents"`
		PreviousSummary string `json:"previous_summary"`
	}](param)
	if err != nil {
		return nil, err
	}
	if p.Contents == nil {
		return nil, errors.New("summarize: contents is required")
	}
	summary, err := s.Summarize(ctx, p.Contents, p.PreviousSummary)
	if err != nil {
		return nil, err
	}
	return map[string]any{"summary": summary}, nil
}
