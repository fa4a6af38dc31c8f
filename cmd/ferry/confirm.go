package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// stdinConfirmer answers overwrite prompts interactively. Prompts are
// serialized so parallel workers cannot interleave questions.
type stdinConfirmer struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newStdinConfirmer(in io.Reader, out io.Writer) *stdinConfirmer {
	return &stdinConfirmer{in: bufio.NewReader(in), out: out}
}

func (c *stdinConfirmer) ConfirmOverwrite(src, dst string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "overwrite %s? [y/N] ", dst)
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
