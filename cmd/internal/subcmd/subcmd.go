// Commands shared by sunit executables: word dispatch and service integration.
package subcmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/iotartic/sunit/helpers/cli"
	"github.com/iotartic/sunit/log2"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
)

type Mod struct {
	Name  string
	Usage string
	Main  func(ctx context.Context, args []string) error
}

func Parse(command string, modules []Mod) (*Mod, error) {
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}

	var found *Mod
	for i := range modules {
		m := &modules[i]
		if m.Name == "" {
			panic(fmt.Sprintf("code error Name='' module=%#v", m))
		}
		if command == m.Name {
			found = m
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("unknown command='%s'", command)
	}
	return found, nil
}

func Commands(modules []Mod) []cli.Command {
	cs := make([]cli.Command, len(modules))
	for i, m := range modules {
		cs[i] = cli.Command{Name: m.Name, Usage: m.Usage}
	}
	return cs
}

func SdNotify(log *log2.Log, s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}

// SetupLog picks flags for journal, terminal or plain file output.
// Returns true when running under systemd.
func SetupLog(log *log2.Log) bool {
	if SdNotify(log, "start") {
		// we're under systemd, journal adds timestamp
		log.SetFlags(log2.LServiceFlags)
		return true
	}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	} else {
		log.SetFlags(log2.LStdFlags)
	}
	return false
}

// SignalContext is cancelled on first SIGINT or SIGTERM, stop is called before cancel.
func SignalContext(parent context.Context, log *log2.Log, stop func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-ch:
			log.Infof("signal=%v stopping", s)
			SdNotify(log, daemon.SdNotifyStopping)
			if stop != nil {
				stop()
			}
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}
