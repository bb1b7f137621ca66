// Remote counterpart for bench runs: answers handshake and telemetry of one sensing unit.
package main

import (
	"context"
	"flag"
	"net"
	"strings"

	"github.com/coreos/go-systemd/daemon"
	"github.com/iotartic/sunit/cmd/internal/subcmd"
	"github.com/iotartic/sunit/helpers"
	"github.com/iotartic/sunit/log2"
	"github.com/iotartic/sunit/sdu"
	"github.com/iotartic/sunit/telemetry"
	"github.com/juju/errors"
)

func main() {
	flagListen := flag.String("listen", "udp://0.0.0.0:5683", "udp://host:port or tcp://host:port")
	flagMAC := flag.String("mac", "", "expected unit MAC hex, empty accepts any")
	flagSalt := flag.String("salt", "", "cryptography.server_salt of unit")
	flagPassword := flag.String("password", "", "cryptography.server_password of unit")
	flagKDF := flag.Bool("session-kdf", false, "must match cryptography.session_kdf of unit")
	flagPerMessage := flag.Bool("iv-per-message", false, "must match cryptography.iv_mode=per_message of unit")
	flagDebug := flag.Bool("debug", false, "")
	flag.Parse()

	log := log2.NewStderr(log2.LInfo)
	if *flagDebug {
		log.SetLevel(log2.LDebug)
	}
	subcmd.SetupLog(log)

	config := sdu.ResponderConfig{
		Salt:       *flagSalt,
		Password:   *flagPassword,
		SessionKDF: *flagKDF,
		OnReport:   logReport(log),
	}
	if *flagPerMessage {
		config.IVMode = sdu.IVPerMessage
	}
	if *flagMAC != "" {
		mac, err := helpers.ParseHex(*flagMAC)
		if err != nil || len(mac) != sdu.MACLength {
			log.Fatalf("-mac=%s invalid", *flagMAC)
		}
		config.MAC = mac
	}
	srv := sdu.NewServer(log, sdu.NewResponder(log, config))
	_, cancel := subcmd.SignalContext(context.Background(), log, srv.Stop)
	defer cancel()

	network, address, err := parseListen(*flagListen)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	switch network {
	case "udp":
		var conn net.PacketConn
		if conn, err = net.ListenPacket(network, address); err == nil {
			subcmd.SdNotify(log, daemon.SdNotifyReady)
			err = srv.ServePacket(conn)
		}
	case "tcp":
		var l net.Listener
		if l, err = net.Listen(network, address); err == nil {
			subcmd.SdNotify(log, daemon.SdNotifyReady)
			err = srv.ServeListener(l)
		}
	}
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}

func parseListen(s string) (string, string, error) {
	parts := strings.SplitN(s, "://", 2)
	if len(parts) != 2 || (parts[0] != "udp" && parts[0] != "tcp") {
		return "", "", errors.NotValidf("-listen=%s", s)
	}
	return parts[0], parts[1], nil
}

func logReport(log *log2.Log) func(mac, report []byte) error {
	return func(mac, report []byte) error {
		// encrypted report is zero padded to block size
		if len(report) > telemetry.MACLength {
			if n := telemetry.MACLength + 1 + int(report[telemetry.MACLength]); n <= len(report) {
				report = report[:n]
			}
		}
		_, readings, err := telemetry.ParseReport(report)
		if err != nil {
			return err
		}
		e, d, err := telemetry.Unmarshal(readings)
		if err != nil {
			return err
		}
		log.Infof("report mac=%x %s", mac, d.Format(e))
		return nil
	}
}
