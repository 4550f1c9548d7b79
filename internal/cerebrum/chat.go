// Package cerebrum translates interaction parameters into chat-completion
// requests against a language model resource, and the model reply back.
package cerebrum

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	"github.com/ConCopilot/concopilot/internal/message"
	"github.com/ConCopilot/concopilot/internal/observability"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
	jsonx "github.com/ConCopilot/concopilot/internal/shared/json"

	"github.com/spf13/afero"
)

// TimeLayout formats the current time shown to the model.
const TimeLayout = "Mon Jan _2 15:04:05 2006"

// DefaultPluginInstruction wraps the plugin prompts when no instruction file
// is configured.
const DefaultPluginInstruction = "You can use the plugins below. Address a command message to a plugin by its name to run it.\n\n{plugins}"

// Settings is the config section of a chat cerebrum.
type Settings struct {
	Role            string   `yaml:"role"`
	MaxTokens       int      `yaml:"max_tokens"`
	Temperature     *float64 `yaml:"temperature"`
	UseFunctionCall bool     `yaml:"use_function_call"`
	InstructionFile string   `yaml:"instruction_file"`
	Instruction     string   `yaml:"instruction"`
}

type pluginCommand struct {
	plugin  string
	command string
}

// Chat is a cerebrum for chat-completion models. With use_function_call set,
// plugin commands are offered as functions named <plugin>_<command>; plugins
// that cannot be expressed that way are described in the prompt instead.
type Chat struct {
	*component.Base
	settings Settings

	mu           sync.RWMutex
	pluginPrompt string
	functions    []framework.Function
	functionMap  map[string]pluginCommand
}

var _ framework.Cerebrum = (*Chat)(nil)

func NewChat(d *config.Descriptor, opts ...component.Option) (*Chat, error) {
	b, err := component.New(d, append([]component.Option{component.WithType(config.TypeCerebrum)}, opts...)...)
	if err != nil {
		return nil, err
	}
	settings := Settings{Role: message.RoleCerebrum}
	if err := d.Settings(&settings); err != nil {
		return nil, err
	}
	c := &Chat{Base: b, settings: settings, functionMap: map[string]pluginCommand{}}
	c.Commands().Handle("interact", c.interactCommand)
	return c, nil
}

func (c *Chat) Role() string { return c.settings.Role }

// Model returns the first language model among the bound resources.
func (c *Chat) Model() framework.LLM {
	for _, r := range c.Resources() {
		if llm, ok := r.(framework.LLM); ok {
			return llm
		}
	}
	return nil
}

// SetupPlugins prepares the function list and the plugin prompt.
func (c *Chat) SetupPlugins(catalog framework.PluginCatalog) error {
	var (
		functions []framework.Function
		fnMap     = map[string]pluginCommand{}
		prompts   []string
	)
	if catalog != nil {
		if c.settings.UseFunctionCall {
			for _, p := range catalog.Plugins() {
				fns, err := pluginFunctions(p)
				if err != nil {
					c.Logger().Warn("plugin %s cannot be offered as functions, describing it in the prompt instead: %v", p.Name(), err)
					prompts = append(prompts, p.Prompt())
					continue
				}
				for _, fn := range fns {
					functions = append(functions, fn.Function)
					fnMap[fn.Name] = fn.target
				}
			}
		} else if combined := catalog.CombinedPrompt(); strings.TrimSpace(combined) != "" {
			prompts = append(prompts, combined)
		}
	}

	pluginPrompt := ""
	if len(prompts) > 0 {
		instruction, err := c.instruction()
		if err != nil {
			return err
		}
		pluginPrompt = strings.ReplaceAll(instruction, "{plugins}", strings.Join(prompts, "\n\n"))
	}

	c.mu.Lock()
	c.functions, c.functionMap, c.pluginPrompt = functions, fnMap, pluginPrompt
	c.mu.Unlock()
	return nil
}

func (c *Chat) instruction() (string, error) {
	switch {
	case c.settings.InstructionFile != "":
		data, err := afero.ReadFile(c.Fs(), c.ConfigFilePath(c.settings.InstructionFile))
		if err != nil {
			return "", &errs.ConfigError{Field: "config.instruction_file", Reason: "cannot read instruction file", Err: err}
		}
		return string(data), nil
	case c.settings.Instruction != "":
		return c.settings.Instruction, nil
	default:
		return DefaultPluginInstruction, nil
	}
}

// PluginPrompt returns the plugin section appended to the system prompt.
func (c *Chat) PluginPrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pluginPrompt
}

// Functions returns the functions offered to the model.
func (c *Chat) Functions() []framework.Function {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]framework.Function(nil), c.functions...)
}

// Interact runs one model turn. llmParams override the request fields of the
// same JSON name; unknown keys are passed on in Extra.
func (c *Chat) Interact(ctx context.Context, param *framework.InteractParameter, llmParams map[string]any) (resp *framework.InteractResponse, err error) {
	model := c.Model()
	if model == nil {
		return nil, errs.NewConfigError("resources", "cerebrum %s has no language model resource", c.Name())
	}
	if param == nil {
		param = &framework.InteractParameter{}
	}

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, observability.SpanCerebrumInteract)
	defer func() {
		if resp != nil {
			span.SetAttributes(observability.LLMAttrs(model.ModelName(), resp.InputTokenLen, resp.OutputTokenLen, resp.Cost)...)
		}
		observability.EndSpan(span, err)
		var in, out *int
		var cost *float64
		if resp != nil {
			in, out, cost = resp.InputTokenLen, resp.OutputTokenLen, resp.Cost
		}
		observability.DefaultMetrics().RecordLLMRequest(ctx, model.ModelName(), observability.Status(err), time.Since(start), in, out, cost)
	}()

	messages, err := c.chatMessages(param)
	if err != nil {
		return nil, err
	}
	request := framework.LLMParams{
		Messages:        messages,
		MaxTokens:       c.settings.MaxTokens,
		Temperature:     c.settings.Temperature,
		RequireTokenLen: param.RequireTokenLen,
		RequireCost:     param.RequireCost,
		Functions:       c.Functions(),
	}
	if request, err = applyOverrides(request, llmParams); err != nil {
		return nil, err
	}

	reply, err := model.Inference(ctx, request)
	if err != nil {
		return nil, err
	}
	resp = &framework.InteractResponse{
		Content:        reply.Content,
		InputTokenLen:  reply.InputTokenLen,
		OutputTokenLen: reply.OutputTokenLen,
		Cost:           reply.Cost,
	}
	if reply.FunctionCall != nil {
		call, err := c.pluginCall(reply.FunctionCall)
		if err != nil {
			return nil, err
		}
		resp.PluginCalls = []framework.PluginCall{call}
	}
	return resp, nil
}

func (c *Chat) chatMessages(param *framework.InteractParameter) ([]framework.ChatMessage, error) {
	prompt := strings.Join(param.Instructions, "\n\n")
	if pp := c.PluginPrompt(); strings.TrimSpace(pp) != "" {
		prompt += "\n\n" + pp
	}
	msgs := []framework.ChatMessage{
		{Role: framework.ChatRoleSystem, Content: prompt},
		{Role: framework.ChatRoleSystem, Content: "The current time and date is " + c.Clock().Now().Format(TimeLayout)},
	}
	if c.settings.MaxTokens > 0 {
		msgs = append(msgs, framework.ChatMessage{
			Role:    framework.ChatRoleSystem,
			Content: "Make your response less than " + strconv.Itoa(c.settings.MaxTokens) + " tokens.",
		})
	}
	if len(param.Assets) > 0 {
		data, err := jsonx.Marshal(param.Assets)
		if err != nil {
			return nil, fmt.Errorf("encode assets: %w", err)
		}
		msgs = append(msgs, framework.ChatMessage{Role: framework.ChatRoleSystem, Content: "Below are assets for your reference:\n\n" + string(data)})
	}
	for _, m := range param.MessageHistory {
		cm, err := c.historyMessage(m)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, cm)
	}
	if param.Content != "" {
		msgs = append(msgs, framework.ChatMessage{Role: framework.ChatRoleSystem, Content: param.Content})
	}
	if param.Command != "" {
		msgs = append(msgs, framework.ChatMessage{Role: framework.ChatRoleUser, Content: param.Command})
	}
	return msgs, nil
}

func (c *Chat) historyMessage(m *message.Message) (framework.ChatMessage, error) {
	senderRole := ""
	if m.Sender != nil {
		senderRole = m.Sender.Role
	}
	cmd, isCmd := m.AsCommand()

	role := framework.ChatRoleSystem
	switch senderRole {
	case message.RoleUser:
		role = framework.ChatRoleUser
	case message.RoleCerebrum:
		role = framework.ChatRoleAssistant
	case message.RolePlugin:
		if isCmd && c.isFunction(m.Sender.Name, cmd.Command) {
			role = framework.ChatRoleFunction
		}
	case "":
	default:
		role = senderRole
	}

	switch {
	case role == framework.ChatRoleAssistant && isCmd && m.ReceiverRole() == message.RolePlugin && c.isFunction(m.Receiver.Name, cmd.Command):
		args, err := jsonx.Marshal(cmd.Param)
		if err != nil {
			return framework.ChatMessage{}, err
		}
		return framework.ChatMessage{Role: role, FunctionCall: &framework.FunctionCall{
			Name:      functionName(m.Receiver.Name, cmd.Command),
			Arguments: string(args),
		}}, nil
	case role == framework.ChatRoleFunction:
		content, ok := cmd.Response.(string)
		if !ok {
			data, err := jsonx.Marshal(cmd.Response)
			if err != nil {
				return framework.ChatMessage{}, err
			}
			content = string(data)
		}
		return framework.ChatMessage{Role: role, Content: content, Name: functionName(m.Sender.Name, cmd.Command)}, nil
	default:
		data, err := jsonx.Marshal(m)
		if err != nil {
			return framework.ChatMessage{}, err
		}
		return framework.ChatMessage{Role: role, Content: string(data)}, nil
	}
}

func (c *Chat) isFunction(plugin, command string) bool {
	if !c.settings.UseFunctionCall {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.functionMap[functionName(plugin, command)]
	return ok
}

func (c *Chat) pluginCall(fc *framework.FunctionCall) (framework.PluginCall, error) {
	c.mu.RLock()
	target, ok := c.functionMap[fc.Name]
	c.mu.RUnlock()
	if !ok {
		return framework.PluginCall{}, errs.NewRoutingError("model called unknown function %q", fc.Name)
	}
	var param map[string]any
	if strings.TrimSpace(fc.Arguments) != "" {
		if err := jsonx.Unmarshal([]byte(fc.Arguments), &param); err != nil {
			return framework.PluginCall{}, &errs.ParseError{Input: fc.Arguments, Err: err}
		}
	}
	return framework.PluginCall{PluginName: target.plugin, Command: target.command, Param: param}, nil
}

func (c *Chat) interactCommand(ctx context.Context, param any) (any, error) {
	p, err := component.Param[framework.InteractParameter](param)
	if err != nil {
		return nil, err
	}
	return c.Interact(ctx, &p, nil)
}

func functionName(plugin, command string) string { return plugin + "_" + command }

type namedFunction struct {
	framework.Function
	target pluginCommand
}

var jsonSchemaTypes = map[string]string{
	"integer": "integer",
	"int":     "integer",
	"boolean": "boolean",
	"bool":    "boolean",
	"string":  "string",
	"str":     "string",
}

func pluginFunctions(p framework.Plugin) ([]namedFunction, error) {
	d := p.Config()
	if d == nil || d.Info == nil {
		return nil, fmt.Errorf("plugin %s has no info section", p.Name())
	}
	description := d.Info.DescriptionForModel
	if description == "" {
		description = d.Info.Description
	}
	out := make([]namedFunction, 0, len(d.Commands))
	for _, cmd := range d.Commands {
		properties := map[string]any{}
		required := []string{}
		for _, param := range cmd.Parameters {
			typ, ok := jsonSchemaTypes[strings.ToLower(param.Type)]
			if !ok {
				return nil, fmt.Errorf("command %s parameter %s has unsupported type %q", cmd.CommandName, param.Name, param.Type)
			}
			prop := map[string]any{"type": typ}
			if param.Description != "" {
				prop["description"] = param.Description
			}
			if len(param.Enum) > 0 {
				prop["enum"] = param.Enum
			}
			properties[param.Name] = prop
			if param.Required {
				required = append(required, param.Name)
			}
		}
		name := functionName(p.Name(), cmd.CommandName)
		out = append(out, namedFunction{
			Function: framework.Function{
				Name:        name,
				Description: description,
				Parameters:  map[string]any{"type": "object", "properties": properties, "required": required},
			},
			target: pluginCommand{plugin: p.Name(), command: cmd.CommandName},
		})
	}
	return out, nil
}

var requestFields = map[string]struct{}{
	"prompt": {}, "messages": {}, "max_tokens": {}, "temperature": {},
	"require_token_len": {}, "require_cost": {}, "functions": {},
}

func applyOverrides(p framework.LLMParams, overrides map[string]any) (framework.LLMParams, error) {
	if len(overrides) == 0 {
		return p, nil
	}
	normalized, err := jsonx.Normalize(p)
	if err != nil {
		return p, err
	}
	base, _ := normalized.(map[string]any)
	if base == nil {
		base = map[string]any{}
	}
	extra, _ := base["extra"].(map[string]any)
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, known := requestFields[k]; known {
			base[k] = overrides[k]
			continue
		}
		if extra == nil {
			extra = map[string]any{}
		}
		extra[k] = overrides[k]
	}
	if extra != nil {
		base["extra"] = extra
	}
	var out framework.LLMParams
	if err := jsonx.Decode(base, &out); err != nil {
		return p, &errs.ParseError{Input: "llm parameters", Err: err}
	}
	return out, nil
}
