package state

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/iotartic/sunit/helpers"
	"github.com/iotartic/sunit/internal/node"
	"github.com/iotartic/sunit/ldu"
	"github.com/iotartic/sunit/log2"
	"github.com/iotartic/sunit/outbox"
	"github.com/iotartic/sunit/sdu"
	"github.com/iotartic/sunit/state/persist"
	"github.com/iotartic/sunit/transport"
	"github.com/iotartic/sunit/transport/ble"
	"github.com/iotartic/sunit/transport/rs485"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

type Global struct {
	Alive  *alive.Alive
	Config *Config
	Log    *log2.Log
	Node   *node.Node
	// GATT client for local_tunnel=ble, set before Init
	BLE ble.Characteristic

	Persist persist.Persist
	Outbox  *outbox.Outbox
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}
	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
	}
	ctx := context.WithValue(context.Background(), ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg
	if level, err := cfg.Level(); err == nil {
		g.Log.SetLevel(level)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	mac, err := cfg.MAC()
	if err != nil {
		return err
	}
	source, err := cfg.SensorSource()
	if err != nil {
		return errors.Annotate(err, "sensors")
	}
	n := &node.Node{
		Config: node.Config{
			MAC:        mac,
			Standalone: cfg.Standalone,
			Encrypted:  cfg.Encrypted(),
			Enabled:    cfg.Enabled(),
			Sleep:      cfg.DutySleep(),
			RetryMin:   helpers.IntSecondDefault(cfg.Duty.RetryMinSec, node.DefaultRetryMin),
			RetryMax:   helpers.IntSecondDefault(cfg.Duty.RetryMaxSec, node.DefaultRetryMax),
		},
		Log:     g.Log,
		Source:  source,
		Persist: &g.Persist,
	}

	root := cfg.Persist.Root
	if root == "" {
		g.Log.Errorf("config: persist.root=empty, device state and outbox are not kept")
	}
	errs := make([]error, 0)
	if err := g.Persist.Init("device", &n.State, root, root != "", g.Log); err != nil {
		errs = append(errs, err)
	} else if err := g.Persist.Load(); err != nil {
		// corrupt state must not stop telemetry
		g.Error(err)
		n.State = persist.DeviceState{}
	}

	if cfg.Standalone {
		errs = append(errs, g.initRemote(n)...)
	} else {
		errs = append(errs, g.initLocal(n)...)
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return err
	}
	if err := n.Validate(); err != nil {
		return errors.Annotate(err, "node")
	}
	g.Node = n
	g.Log.Debugf("state init boot=%d last_sync=%s", n.State.BootCount, n.State.LastSyncTime())
	return nil
}

func (g *Global) initRemote(n *node.Node) []error {
	errs := make([]error, 0)
	tc, err := g.Config.TransportConfig()
	if err != nil {
		return append(errs, err)
	}
	t, err := transport.New(g.Log, tc)
	if err != nil {
		return append(errs, errors.Annotate(err, "transport"))
	}
	sc, err := g.Config.SessionConfig()
	if err != nil {
		return append(errs, err)
	}
	if n.Remote, err = sdu.NewSession(g.Log, sc, t, nil); err != nil {
		errs = append(errs, errors.Annotate(err, "remote session"))
	}

	path := g.Config.Outbox.Path
	if path == "" && g.Config.Persist.Root != "" {
		path = filepath.Join(g.Config.Persist.Root, "outbox")
	}
	if path == "" {
		g.Log.Errorf("config: outbox.path=empty, undelivered reports are dropped")
		return errs
	}
	if g.Outbox, err = outbox.Open(g.Log, path); err != nil {
		return append(errs, err)
	}
	n.Outbox = g.Outbox
	return errs
}

func (g *Global) initLocal(n *node.Node) []error {
	errs := make([]error, 0)
	lc, err := g.Config.LocalConfig()
	if err != nil {
		return append(errs, err)
	}
	var link transport.Transporter
	switch lc.Mode {
	case ldu.RS485:
		link = rs485.New(g.Log, g.Config.RS485Config())
	case ldu.BLE:
		if g.BLE == nil {
			return append(errs, errors.NotValidf("local_tunnel=ble without characteristic backend"))
		}
		link = ble.NewLink(g.Log, g.BLE)
	}
	if n.Local, err = ldu.NewSession(g.Log, lc, link); err != nil {
		errs = append(errs, errors.Annotate(err, "local session"))
	}
	return errs
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Errorf(errors.ErrorStack(err))
	}
}

// Close releases outbox, persists state.
func (g *Global) Close() error {
	errs := make([]error, 0, 2)
	if g.Node != nil {
		errs = append(errs, g.Persist.Store())
	}
	if g.Outbox != nil {
		errs = append(errs, g.Outbox.Close())
	}
	return helpers.FoldErrors(errs)
}
