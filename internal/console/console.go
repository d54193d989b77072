package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/tgifai/kahlabot/internal/pkg/logs"
)

const defaultPrompt = "kahlabot> "

// LineReader is satisfied by *readline.Instance.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
	Refresh()
	Close() error
}

// NewReadline opens the terminal and routes terminal log output through it so
// log lines do not garble the prompt.
func NewReadline(historyFile string) (*readline.Instance, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          defaultPrompt,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("open console: %w", err)
	}
	logs.RedirectStdout(rl.Stdout())
	return rl, nil
}

type prompt struct {
	answer chan string
}

// Console reads one line at a time. A line arriving while a prompt is
// pending answers that prompt; otherwise it is dispatched as a command, and
// the next line is not read before the command returns.
type Console struct {
	reader LineReader
	out    io.Writer
	router *Router

	mu      sync.Mutex
	pending []*prompt
}

func New(reader LineReader, out io.Writer, router *Router) *Console {
	return &Console{reader: reader, out: out, router: router}
}

func (c *Console) Router() *Router {
	return c.router
}

func (c *Console) Out() io.Writer {
	return c.out
}

// Run serves the operator until EOF, an exit command, or ctx ends.
func (c *Console) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := c.reader.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("read console line: %w", err)
		}

		if c.answer(line) {
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cmdCtx := logs.WithNewLogID(ctx)
		err = c.router.Dispatch(cmdCtx, line)
		switch {
		case err == nil:
		case errors.Is(err, ErrExit):
			return nil
		case errors.Is(err, ErrUnrecognized):
			fmt.Fprintf(c.out, "%s %q, type `help` to list commands\n", color.YellowString("unrecognized command"), line)
		default:
			logs.CtxError(cmdCtx, "[console] %s: %v", line, err)
		}
	}
}

// Ask queues a prompt and waits for the operator's next line.
func (c *Console) Ask(ctx context.Context, question string) (string, error) {
	p := &prompt{answer: make(chan string, 1)}
	c.mu.Lock()
	c.pending = append(c.pending, p)
	c.mu.Unlock()

	fmt.Fprintln(c.out, color.CyanString(question))
	c.reader.SetPrompt("> ")
	c.reader.Refresh()

	select {
	case answer := <-p.answer:
		return strings.TrimSpace(answer), nil
	case <-ctx.Done():
		c.drop(p)
		return "", ctx.Err()
	}
}

func (c *Console) answer(line string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return false
	}
	p := c.pending[0]
	c.pending = c.pending[1:]
	if len(c.pending) == 0 {
		c.reader.SetPrompt(defaultPrompt)
	}
	p.answer <- line
	return true
}

func (c *Console) drop(p *prompt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, one := range c.pending {
		if one == p {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	if len(c.pending) == 0 {
		c.reader.SetPrompt(defaultPrompt)
	}
}

func (c *Console) Close() error {
	return c.reader.Close()
}
