package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-translate/internal/notify"
	"github.com/loqalabs/loqa-translate/internal/pipeline"
)

type controller interface {
	Start(lang string) (string, error)
	Stop() error
	Snapshot() (pipeline.State, string)
	Available() error
}

// console renders pipeline events as two labelled panes and turns stdin lines
// into controller commands.
type console struct {
	mu        sync.Mutex
	out       io.Writer
	ctrl      controller
	languages []string
	lang      string
}

func newConsole(out io.Writer, ctrl controller, languages []string, lang string) *console {
	return &console{out: out, ctrl: ctrl, languages: languages, lang: lang}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) render(e notify.Event) {
	if e.Step == notify.StepPipelineStarted {
		c.printf("\n---- run %s ----\n", e.RunID)
	}
	c.printf("%-11s | %s\n", e.Channel, e.Text)
}

func (c *console) help() {
	c.printf("commands: <enter> or t toggle recording, lang <%s>, state, quit\n", strings.Join(c.languages, "|"))
}

// readCommands consumes lines until EOF or quit, then calls quit.
func (c *console) readCommands(in io.Reader, quit func()) {
	defer quit()
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if !c.handle(scanner.Text()) {
			return
		}
	}
}

// handle executes one command line. It returns false when the user asked to
// quit. A panic inside a command is rendered as an error line.
func (c *console) handle(line string) (keepGoing bool) {
	keepGoing = true
	defer func() {
		if rec := recover(); rec != nil {
			c.printf("%-11s | %sinternal error: %v\n", "command", notify.ErrorPrefix, rec)
		}
	}()

	fields := strings.Fields(line)
	cmd := ""
	if len(fields) > 0 {
		cmd = strings.ToLower(fields[0])
	}
	switch cmd {
	case "", "t", "toggle":
		c.toggle()
	case "lang":
		if len(fields) != 2 {
			c.printf("language: %s\n", c.lang)
			return
		}
		c.setLanguage(strings.ToLower(fields[1]))
	case "state":
		state, runID := c.ctrl.Snapshot()
		msg := state.String()
		if runID != "" {
			msg += " " + runID
		}
		if err := c.ctrl.Available(); err != nil {
			msg += " (" + err.Error() + ")"
		}
		c.printf("state: %s, language: %s\n", msg, c.lang)
	case "help", "?":
		c.help()
	case "quit", "exit", "q":
		return false
	default:
		c.printf("unknown command %q\n", cmd)
		c.help()
	}
	return
}

func (c *console) toggle() {
	if state, _ := c.ctrl.Snapshot(); state == pipeline.Recording {
		if err := c.ctrl.Stop(); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
			c.printf("%-11s | %s%v\n", "command", notify.ErrorPrefix, err)
		}
		return
	}
	// Busy and unavailable outcomes are already reported through events.
	_, _ = c.ctrl.Start(c.lang)
}

func (c *console) setLanguage(lang string) {
	if !slices.Contains(c.languages, lang) {
		c.printf("unsupported language %q, choose one of %s\n", lang, strings.Join(c.languages, ", "))
		return
	}
	c.lang = lang
	c.printf("language: %s\n", lang)
}
