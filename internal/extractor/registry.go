// Package extractor maps logical extractor names to local executables and
// runs them under the extractor contract: the capture URL is the last
// argument, stdout carries the payload, stderr carries diagnostics, and a
// zero exit status signals success.
package extractor

import (
	"sort"
	"sync"
)

// Command is a resolved extractor invocation.
type Command struct {
	Name string
	Path string
	Args []string
}

// Argv returns the argument list for capturing url, excluding the executable.
func (c Command) Argv(url string) []string {
	argv := make([]string, 0, len(c.Args)+1)
	argv = append(argv, c.Args...)
	return append(argv, url)
}

// Registry is a read-only name to Command lookup built at startup.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewRegistry copies entries into a new Registry.
func NewRegistry(entries map[string]Command) *Registry {
	commands := make(map[string]Command, len(entries))
	for name, cmd := range entries {
		cmd.Name = name
		cmd.Args = append([]string(nil), cmd.Args...)
		commands[name] = cmd
	}
	return &Registry{commands: commands}
}

// Resolve returns the Command registered under name.
func (r *Registry) Resolve(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Names lists registered extractor names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
