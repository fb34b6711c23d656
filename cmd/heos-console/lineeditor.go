package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

const (
	historyFileName = ".heos_console_history"
	historySize     = 500
)

// lineEditor reads console input with history and line editing when stdin
// is a terminal, and line by line otherwise so scripts can be piped in.
type lineEditor struct {
	rl      *readline.Instance
	scanner *bufio.Scanner
	out     io.Writer
}

func newLineEditor(in io.Reader, out io.Writer) *lineEditor {
	if file, ok := in.(*os.File); ok && term.IsTerminal(int(file.Fd())) && os.Getenv("INSIDE_EMACS") == "" {
		rl, err := readline.NewFromConfig(&readline.Config{
			HistoryFile:            historyPath(),
			HistoryLimit:           historySize,
			DisableAutoSaveHistory: true,
		})
		if err == nil {
			return &lineEditor{rl: rl, out: out}
		}
		fmt.Fprintf(os.Stderr, "readline unavailable (%v), using plain input\n", err)
	}
	return &lineEditor{scanner: bufio.NewScanner(in), out: out}
}

// ReadLine returns io.EOF at end of input or on Ctrl-C.
func (e *lineEditor) ReadLine(prompt string) (string, error) {
	if e.rl == nil {
		if !e.scanner.Scan() {
			if err := e.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return e.scanner.Text(), nil
	}

	e.rl.SetPrompt(prompt)
	line, err := e.rl.Readline()
	if err == readline.ErrInterrupt {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		e.rl.SaveToHistory(trimmed)
	}
	return line, nil
}

func (e *lineEditor) Interactive() bool {
	return e.rl != nil
}

func (e *lineEditor) Close() {
	if e.rl != nil {
		e.rl.Close()
		e.rl = nil
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, historyFileName)
}
