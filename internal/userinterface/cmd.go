package userinterface

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	"github.com/ConCopilot/concopilot/internal/message"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
	jsonx "github.com/ConCopilot/concopilot/internal/shared/json"

	"github.com/charmbracelet/glamour"
	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"golang.org/x/term"
)

// CmdSettings is the config section of the command-line interface.
type CmdSettings struct {
	UserMsgPrefix     string `yaml:"user_msg_prefix"`
	UserMsgSuffix     string `yaml:"user_msg_suffix"`
	NonUserMsgPrefix  string `yaml:"non_user_msg_prefix"`
	NonUserMsgSuffix  string `yaml:"non_user_msg_suffix"`
	MultipleLineInput bool   `yaml:"multiple_line_input"`
	RenderMarkdown    bool   `yaml:"render_markdown"`
	HistoryFile       string `yaml:"history_file"`
}

// lineReader yields one line of user input per call.
type lineReader interface {
	Readline() (string, error)
	Close() error
}

type scannerReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

func (s *scannerReader) Readline() (string, error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *scannerReader) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Cmd talks to the user on a terminal. Agent messages are printed between
// the configured prefix and suffix; user input is read line by line, with
// readline editing when stdin is a terminal. A reply is addressed back to the
// sender of the last printed message.
type Cmd struct {
	*component.Base
	settings CmdSettings

	out      io.Writer
	reader   lineReader
	markdown *glamour.TermRenderer
	agent    *color.Color
	user     *color.Color

	mu           sync.Mutex
	lastSender   *message.Identity
	lastReceiver *message.Identity

	interruptOnce sync.Once
	interrupted   chan struct{}
}

var (
	_ framework.UserInterface = (*Cmd)(nil)
	_ framework.Interruptible = (*Cmd)(nil)
)

// CmdOption adjusts the streams of a Cmd.
type CmdOption func(*cmdStreams)

type cmdStreams struct {
	in  io.Reader
	out io.Writer
}

// WithStreams replaces stdin and stdout.
func WithStreams(in io.Reader, out io.Writer) CmdOption {
	return func(s *cmdStreams) { s.in, s.out = in, out }
}

func NewCmd(d *config.Descriptor, cmdOpts []CmdOption, opts ...component.Option) (*Cmd, error) {
	b, err := component.New(d, append([]component.Option{component.WithType(config.TypeUserInterface)}, opts...)...)
	if err != nil {
		return nil, err
	}
	settings := CmdSettings{RenderMarkdown: true}
	if err := d.Settings(&settings); err != nil {
		return nil, err
	}
	streams := cmdStreams{in: os.Stdin, out: os.Stdout}
	for _, opt := range cmdOpts {
		opt(&streams)
	}

	c := &Cmd{
		Base:        b,
		settings:    settings,
		out:         streams.out,
		agent:       color.New(color.FgCyan, color.Bold),
		user:        color.New(color.FgGreen, color.Bold),
		interrupted: make(chan struct{}),
	}
	if c.reader, err = newLineReader(streams, settings); err != nil {
		return nil, err
	}
	if settings.RenderMarkdown && isTerminal(streams.out) {
		width := 100
		if f, ok := streams.out.(*os.File); ok {
			if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 8 {
				width = w - 4
			}
		}
		if c.markdown, err = glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width)); err != nil {
			c.Logger().Warn("markdown rendering disabled: %v", err)
			c.markdown = nil
		}
	}
	if !isTerminal(streams.out) {
		c.agent.DisableColor()
		c.user.DisableColor()
	}
	return c, nil
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newLineReader(streams cmdStreams, settings CmdSettings) (lineReader, error) {
	if isTerminal(streams.in) && isTerminal(streams.out) {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "> ",
			HistoryFile:     settings.HistoryFile,
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
			Stdin:           readline.NewCancelableStdin(streams.in),
			Stdout:          streams.out,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize readline: %w", err)
		}
		return rl, nil
	}
	r := &scannerReader{scanner: bufio.NewScanner(streams.in)}
	if closer, ok := streams.in.(io.Closer); ok && streams.in != os.Stdin {
		r.closer = closer
	}
	return r, nil
}

// SendMsgUser prints msg and remembers who to answer.
func (c *Cmd) SendMsgUser(msg *message.Message) error {
	if msg == nil {
		return nil
	}
	if c.Interrupted() {
		return errs.ErrInterrupted
	}
	text, err := c.render(msg)
	if err != nil {
		return err
	}
	var b strings.Builder
	if c.settings.NonUserMsgPrefix != "" {
		b.WriteString(c.agent.Sprint(c.settings.NonUserMsgPrefix))
		b.WriteByte('\n')
	}
	b.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteByte('\n')
	}
	if c.settings.NonUserMsgSuffix != "" {
		b.WriteString(c.agent.Sprint(c.settings.NonUserMsgSuffix))
		b.WriteByte('\n')
	}
	if _, err := io.WriteString(c.out, b.String()); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastSender, c.lastReceiver = msg.Sender.Clone(), msg.Receiver.Clone()
	c.mu.Unlock()
	return nil
}

func (c *Cmd) render(msg *message.Message) (string, error) {
	if msg.Content == nil {
		return "", nil
	}
	text, ok := msg.Text()
	if !ok {
		data, err := jsonx.MarshalIndent(msg.Content.Value(), "", "    ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if c.markdown != nil {
		if rendered, err := c.markdown.Render(text); err == nil {
			return rendered, nil
		}
	}
	return text, nil
}

// OnMsgUser prints msg and reads the reply.
func (c *Cmd) OnMsgUser(ctx context.Context, msg *message.Message) (*message.Message, error) {
	if err := c.SendMsgUser(msg); err != nil {
		return nil, err
	}
	return c.WaitUserMsg(ctx)
}

// HasUserMsg is always false: input is only read on demand.
func (c *Cmd) HasUserMsg() bool { return false }

func (c *Cmd) GetUserMsg() (*message.Message, error) { return nil, nil }

// WaitUserMsg reads one input. In multi-line mode input ends on an empty line.
// End of input yields a nil message.
func (c *Cmd) WaitUserMsg(ctx context.Context) (*message.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Interrupted() {
		return nil, errs.ErrInterrupted
	}
	if c.settings.UserMsgPrefix != "" {
		fmt.Fprintln(c.out, c.user.Sprint(c.settings.UserMsgPrefix))
	}
	text, err := c.input()
	if c.Interrupted() {
		return nil, errs.ErrInterrupted
	}
	switch {
	case errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt):
		return nil, nil
	case err != nil:
		return nil, err
	}
	if c.settings.UserMsgSuffix != "" {
		fmt.Fprintln(c.out, c.user.Sprint(c.settings.UserMsgSuffix))
	}

	c.mu.Lock()
	sender, receiver := c.lastReceiver.Clone(), c.lastSender.Clone()
	c.mu.Unlock()
	if sender == nil || sender.Role != message.RoleUser {
		sender = &message.Identity{Role: message.RoleUser}
	}
	return message.NewText(sender, receiver, text).Stamp(c.Clock()), nil
}

func (c *Cmd) input() (string, error) {
	var lines []string
	for {
		line, err := c.reader.Readline()
		if err != nil {
			if len(lines) > 0 && errors.Is(err, io.EOF) {
				return strings.Join(lines, "\n"), nil
			}
			return "", err
		}
		if line != "" {
			lines = append(lines, line)
		}
		if !c.settings.MultipleLineInput || line == "" {
			return strings.Join(lines, "\n"), nil
		}
	}
}

// Interrupt closes the input so a pending read returns.
func (c *Cmd) Interrupt() {
	c.interruptOnce.Do(func() {
		close(c.interrupted)
		if err := c.reader.Close(); err != nil {
			c.Logger().Debug("close input: %v", err)
		}
	})
}

func (c *Cmd) Interrupted() bool {
	select {
	case <-c.interrupted:
		return true
	default:
		return false
	}
}
