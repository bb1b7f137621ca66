package telemetry

import (
	"context"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// Source fills readings of enabled sensors.
type Source interface {
	Read(ctx context.Context, e Enabled, d *Data) error
}

// FileInput is one integer value exposed in a file, e.g. hwmon or iio sysfs attribute.
type FileInput struct {
	Path string
	// multiplied with raw value, zero = 1
	Scale float64
	// raw value is analog moisture reading, scaled to percent after Scale
	Moisture bool
}

// FileSource reads each enabled type from its file.
type FileSource struct {
	Inputs map[Type]FileInput
	// for tests, default os.ReadFile
	ReadFile func(path string) ([]byte, error)
}

func (fs *FileSource) Read(ctx context.Context, e Enabled, d *Data) error {
	readFile := fs.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	for _, t := range e.Types() {
		if err := ctx.Err(); err != nil {
			return err
		}
		in, ok := fs.Inputs[t]
		if !ok {
			return errors.NotFoundf("sensor input type=%s", t)
		}
		b, err := readFile(in.Path)
		if err != nil {
			return errors.Annotatef(err, "sensor type=%s", t)
		}
		raw, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
		if err != nil {
			return errors.Annotatef(err, "sensor type=%s path=%s", t, in.Path)
		}
		if in.Scale != 0 {
			raw *= in.Scale
		}
		if in.Moisture {
			d.Set(t, int64(MoistureScale(int(raw))))
		} else {
			d.Set(t, int64(math.Round(raw)))
		}
	}
	return nil
}

// StaticSource returns fixed readings, bench runs without sensors.
type StaticSource Data

func (s StaticSource) Read(ctx context.Context, e Enabled, d *Data) error {
	src := Data(s)
	for _, t := range e.Types() {
		d.Set(t, src.Get(t))
	}
	return nil
}
