// Interactive encoder/decoder of remote and local protocol frames.
package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/iotartic/sunit/cmd/internal/subcmd"
	"github.com/iotartic/sunit/crc"
	"github.com/iotartic/sunit/helpers"
	"github.com/iotartic/sunit/helpers/cli"
	"github.com/iotartic/sunit/ldu"
	"github.com/iotartic/sunit/log2"
	"github.com/iotartic/sunit/sdu"
	"github.com/iotartic/sunit/telemetry"
	"github.com/juju/errors"
)

const modName = "sdu-cli"

func main() {
	flagMAC := flag.String("mac", "aabbccddeeff", "device MAC for build")
	flag.Parse()

	log := log2.NewStderr(log2.LDebug)
	log.SetFlags(0)
	mac, err := helpers.ParseHex(*flagMAC)
	if err != nil || len(mac) != sdu.MACLength {
		log.Fatalf("-mac=%s invalid", *flagMAC)
	}

	tool := &tool{out: os.Stdout, mac: mac}
	mods := tool.mods()
	ctx := context.Background()
	exec := func(line string) {
		if err := tool.exec(ctx, mods, line); err != nil {
			log.Error(errors.ErrorStack(err))
		}
	}
	if args := flag.Args(); len(args) != 0 {
		exec(strings.Join(args, " "))
		return
	}
	cli.MainLoop(modName, exec, cli.Suggests(subcmd.Commands(mods)))
}

type tool struct {
	out io.Writer
	mac []byte
}

func (t *tool) mods() []subcmd.Mod {
	mods := []subcmd.Mod{
		{Name: "crc", Usage: "HEX: remote CRC8 and local CRC32", Main: t.crc},
		{Name: "build", Usage: "HEADER [HEX]: remote frame, request with -mac or reply", Main: t.build},
		{Name: "parse", Usage: "HEX: decode remote request or reply frame", Main: t.parse},
		{Name: "ldu-tag", Usage: "PASSWORD HEX: local payload tag", Main: t.lduTag},
		{Name: "iv", Usage: "DDMMYYYY: daily IV", Main: t.iv},
		{Name: "telemetry", Usage: "HEX: decode readings or report", Main: t.telemetry},
	}
	return append(mods, subcmd.Mod{Name: "help", Usage: "list commands", Main: func(context.Context, []string) error {
		for _, m := range mods {
			t.printf("%-10s %s", m.Name, m.Usage)
		}
		return nil
	}})
}

func (t *tool) exec(ctx context.Context, mods []subcmd.Mod, line string) error {
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil
	}
	m, err := subcmd.Parse(words[0], mods)
	if err != nil {
		return err
	}
	return m.Main(ctx, words[1:])
}

func (t *tool) printf(format string, args ...interface{}) {
	fmt.Fprintf(t.out, format+"\n", args...)
}

func needArgs(args []string, min int, usage string) error {
	if len(args) < min {
		return errors.Errorf("usage: %s", usage)
	}
	return nil
}

func (t *tool) crc(ctx context.Context, args []string) error {
	if err := needArgs(args, 1, "crc HEX"); err != nil {
		return err
	}
	b, err := helpers.ParseHex(strings.Join(args, ""))
	if err != nil {
		return err
	}
	t.printf("crc8=%02x crc32=%08x", crc.CRC8(b), crc.CRC32(b))
	return nil
}

func (t *tool) build(ctx context.Context, args []string) error {
	if err := needArgs(args, 1, "build HEADER [HEX]"); err != nil {
		return err
	}
	h, err := sdu.ParseHeader(args[0])
	if err != nil {
		return err
	}
	payload, err := helpers.ParseHex(strings.Join(args[1:], ""))
	if err != nil {
		return err
	}
	var f sdu.Frame
	if h.IsRequest() {
		f, err = sdu.Build(t.mac, h, payload)
	} else {
		f, err = sdu.BuildReply(h, payload)
	}
	if err != nil {
		return err
	}
	t.printf("%s", f.Format())
	return nil
}

func (t *tool) parse(ctx context.Context, args []string) error {
	if err := needArgs(args, 1, "parse HEX"); err != nil {
		return err
	}
	b, err := helpers.ParseHex(strings.Join(args, ""))
	if err != nil {
		return err
	}
	if h, payload, rerr := sdu.Parse(b); rerr == nil {
		t.printf("reply header=%s payload=%x", h, payload)
		return nil
	}
	mac, h, payload, err := sdu.ParseRequest(b)
	if err != nil {
		return err
	}
	t.printf("request mac=%x header=%s payload=%x", mac, h, payload)
	return nil
}

func (t *tool) lduTag(ctx context.Context, args []string) error {
	if err := needArgs(args, 2, "ldu-tag PASSWORD HEX"); err != nil {
		return err
	}
	payload, err := helpers.ParseHex(strings.Join(args[1:], ""))
	if err != nil {
		return err
	}
	var tag [ldu.TagLength]byte
	binary.LittleEndian.PutUint32(tag[:], ldu.Tag(args[0], payload))
	t.printf("tag=%s", hex.EncodeToString(tag[:]))
	return nil
}

func (t *tool) iv(ctx context.Context, args []string) error {
	if err := needArgs(args, 1, "iv DDMMYYYY"); err != nil {
		return err
	}
	day, err := time.Parse("02012006", args[0])
	if err != nil {
		return errors.Annotate(err, "iv date")
	}
	t.printf("iv=%x", sdu.DailyIV(day))
	return nil
}

func (t *tool) telemetry(ctx context.Context, args []string) error {
	if err := needArgs(args, 1, "telemetry HEX"); err != nil {
		return err
	}
	b, err := helpers.ParseHex(strings.Join(args, ""))
	if err != nil {
		return err
	}
	if mac, readings, rerr := telemetry.ParseReport(b); rerr == nil {
		if e, d, uerr := telemetry.Unmarshal(readings); uerr == nil {
			t.printf("report mac=%x %s", mac, d.Format(e))
			return nil
		}
	}
	e, d, err := telemetry.Unmarshal(b)
	if err != nil {
		return err
	}
	t.printf("readings %s", d.Format(e))
	return nil
}
