package cli

import (
	"bufio"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

// Command is one REPL word, Usage shows in completion.
type Command struct {
	Name  string
	Usage string
}

// Suggests fuzzy-matches word before cursor against commands.
func Suggests(commands []Command) func(d prompt.Document) []prompt.Suggest {
	suggests := make([]prompt.Suggest, len(commands))
	for i, c := range commands {
		suggests[i] = prompt.Suggest{Text: c.Name, Description: c.Usage}
	}
	return func(d prompt.Document) []prompt.Suggest {
		if strings.Contains(d.TextBeforeCursor(), " ") {
			return nil
		}
		return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
	}
}

// MainLoop runs interactive prompt on terminal, otherwise executes stdin lines.
func MainLoop(tag string, exec func(line string), complete func(d prompt.Document) []prompt.Suggest) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		for range signalCh {
			os.Exit(1)
		}
	}()

	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(exec, complete,
			prompt.OptionTitle(tag),
			prompt.OptionPrefix(tag+"> "),
		).Run()
		return
	}
	if err := ExecLines(os.Stdin, exec); err != nil {
		os.Stderr.WriteString(tag + ": " + err.Error() + "\n")
		os.Exit(1)
	}
}

// ExecLines calls exec for every non-empty trimmed line of r.
func ExecLines(r io.Reader, exec func(line string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		exec(line)
	}
	return scanner.Err()
}
