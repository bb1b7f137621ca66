// Sensing unit daemon: wake, read sensors, deliver telemetry, sleep.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/coreos/go-systemd/daemon"
	"github.com/iotartic/sunit/cmd/internal/subcmd"
	"github.com/iotartic/sunit/ldu"
	"github.com/iotartic/sunit/log2"
	"github.com/iotartic/sunit/state"
	"github.com/iotartic/sunit/telemetry"
	"github.com/iotartic/sunit/transport/ble"
	"github.com/juju/errors"
	"github.com/skip2/go-qrcode"
)

func main() {
	flagConfig := flag.String("config", "sunit.hcl", "")
	flagDebug := flag.Bool("debug", false, "debug logging, overrides config log_debug")
	flagOnce := flag.Bool("once", false, "single duty cycle, exit code reports result")
	flagPairQR := flag.String("pair-qr", "", "write pairing QR code PNG to file and exit")
	flagBLEBench := flag.Bool("ble-bench", false, "local_tunnel=ble answered by in-process gateway")
	flag.Parse()

	log := log2.NewStderr(log2.LInfo)
	subcmd.SetupLog(log)
	log.Infof("sunit hello")

	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	if *flagDebug {
		config.LogDebug = true
	}

	if *flagPairQR != "" {
		if err := writePairQR(config, *flagPairQR); err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		log.Infof("pairing code written to %s", *flagPairQR)
		return
	}

	ctx, g := state.NewContext(log)
	if *flagBLEBench {
		g.BLE = benchGateway(log, config)
	}
	g.MustInit(ctx, config)
	ctx, cancel := subcmd.SignalContext(ctx, log, g.Alive.Stop)
	defer cancel()

	subcmd.SdNotify(log, daemon.SdNotifyReady)
	var err error
	if *flagOnce {
		err = g.Node.Wake(ctx)
	} else {
		err = g.Node.Run(ctx)
		if errors.Cause(err) == context.Canceled {
			err = nil
		}
	}
	if cerr := g.Close(); cerr != nil {
		g.Error(cerr, "close")
	}
	if err != nil {
		g.Error(err)
		os.Exit(1)
	}
}

func writePairQR(config *state.Config, path string) error {
	mac, err := config.MAC()
	if err != nil {
		return err
	}
	text := ldu.PairingDescriptor(mac, config.BLE.ServiceUUID, config.BLE.CharacteristicUUID)
	return errors.Annotate(qrcode.WriteFile(text, qrcode.Medium, 256, path), "pairing qr")
}

// benchGateway is other end of in-memory characteristic, logs verified readings.
func benchGateway(log *log2.Log, config *state.Config) ble.Characteristic {
	unit, core := ble.Pipe()
	gw := ldu.NewGateway(log, ldu.BLE, config.BLE.ServiceUUID, config.BLE.CharacteristicUUID, config.Cryptography.BLEPassword)
	gw.OnMAC = func(mac []byte) { log.Infof("bench gateway mac=%x", mac) }
	gw.OnData = func(data []byte) error {
		mac, readings, err := telemetry.ParseReport(data)
		if err != nil {
			return err
		}
		e, d, err := telemetry.Unmarshal(readings)
		if err != nil {
			return err
		}
		log.Infof("bench gateway report mac=%x %s", mac, d.Format(e))
		return nil
	}
	core.Handler = gw.Handle
	return unit
}
