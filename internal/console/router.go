// Package console is the operator console: a line reader feeding an ordered
// command router, and the prompts the bot runtime asks the operator.
package console

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	ErrUnrecognized = errors.New("unrecognized command")
	// ErrExit is returned by a command that ends the console loop.
	ErrExit = errors.New("console exit")
)

// Handler is one operator command. Match sees the trimmed input line; Run
// gets the text after the first word.
type Handler struct {
	Name        string
	Description string
	Match       func(line string) bool
	Run         func(ctx context.Context, args string) error
}

// Router evaluates handlers in registration order; the first match wins.
type Router struct {
	handlers []*Handler
	mu       sync.RWMutex
}

func NewRouter() *Router {
	return &Router{handlers: make([]*Handler, 0, 16)}
}

func (r *Router) Register(h *Handler) {
	if h == nil || h.Match == nil || h.Run == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

func (r *Router) Handle(name, description string, match func(string) bool, run func(context.Context, string) error) {
	r.Register(&Handler{Name: name, Description: description, Match: match, Run: run})
}

// Dispatch runs the first handler matching line to completion.
func (r *Router) Dispatch(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)

	r.mu.RLock()
	var matched *Handler
	for _, h := range r.handlers {
		if h.Match(line) {
			matched = h
			break
		}
	}
	r.mu.RUnlock()

	if matched == nil {
		return ErrUnrecognized
	}
	_, args, _ := strings.Cut(line, " ")
	return matched.Run(ctx, strings.TrimSpace(args))
}

// List returns the handlers in registration order.
func (r *Router) List() []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Handler(nil), r.handlers...)
}

// Word matches lines whose first word is name, case-insensitively.
func Word(name string) func(string) bool {
	return func(line string) bool {
		first, _, _ := strings.Cut(line, " ")
		return strings.EqualFold(first, name)
	}
}

// Prefix matches lines starting with prefix.
func Prefix(prefix string) func(string) bool {
	return func(line string) bool {
		return strings.HasPrefix(strings.ToLower(line), prefix)
	}
}
