// Package telemetry encodes sensor readings as a type-prefixed little endian
// sequence and wraps them into the report packet MAC(6) Length(1) Readings.
package telemetry

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/juju/errors"
)

type Type uint8

const (
	AirTemp Type = iota
	AirHum
	AirPres
	SoilTemp1
	SoilTemp2
	SoilMoist1
	SoilMoist2
	Lum

	NumTypes = 8
)

const (
	HeaderSize = 1
	MACLength  = 6
	// usable space after MAC and length byte in 256 byte packet buffer
	DefaultCapacity = 256 - MACLength - 1
)

var (
	ErrOverflow  = errors.New("telemetry buffer overflow")
	ErrEmpty     = errors.New("telemetry no sensors enabled")
	ErrMalformed = errors.New("telemetry malformed")
)

var sizes = [NumTypes]int{2, 2, 4, 2, 2, 1, 1, 2}

var names = [NumTypes]string{
	"air_temp", "air_hum", "air_pres",
	"soil_temp_1", "soil_temp_2",
	"soil_moist_1", "soil_moist_2",
	"lum",
}

func (t Type) Valid() bool { return t < NumTypes }

func (t Type) Size() int {
	if !t.Valid() {
		return 0
	}
	return sizes[t]
}

// Unsigned types: humidity, pressure, luminosity.
func (t Type) Unsigned() bool { return t == AirHum || t == AirPres || t == Lum }

func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Type(%02x)", uint8(t))
	}
	return names[t]
}

func ParseType(s string) (Type, error) {
	for i, n := range names {
		if strings.EqualFold(n, s) {
			return Type(i), nil
		}
	}
	return 0, errors.NotValidf("sensor type=%q", s)
}

// Enabled is bit set of sensor types, bit n = Type(n).
type Enabled uint8

func EnabledOf(types ...Type) Enabled {
	var e Enabled
	for _, t := range types {
		e = e.With(t)
	}
	return e
}

func (e Enabled) Has(t Type) bool        { return t.Valid() && e&(1<<t) != 0 }
func (e Enabled) With(t Type) Enabled    { return e | 1<<t }
func (e Enabled) Without(t Type) Enabled { return e &^ (1 << t) }

func (e Enabled) Types() []Type {
	ts := make([]Type, 0, NumTypes)
	for t := Type(0); t < NumTypes; t++ {
		if e.Has(t) {
			ts = append(ts, t)
		}
	}
	return ts
}

// Size is number of bytes Marshal produces for this set.
func (e Enabled) Size() int {
	n := 0
	for _, t := range e.Types() {
		n += HeaderSize + t.Size()
	}
	return n
}

func (e Enabled) String() string {
	ts := e.Types()
	ss := make([]string, len(ts))
	for i, t := range ts {
		ss[i] = t.String()
	}
	return strings.Join(ss, ",")
}

// Data holds readings in transmitted units:
// temperatures and humidity x100, pressure Pa, moisture percent, luminosity lux.
type Data struct {
	AirTemp    int16
	AirHum     uint16
	AirPres    uint32
	SoilTemp1  int16
	SoilTemp2  int16
	SoilMoist1 int8
	SoilMoist2 int8
	Lum        uint16
}

func (d *Data) Get(t Type) int64 {
	switch t {
	case AirTemp:
		return int64(d.AirTemp)
	case AirHum:
		return int64(d.AirHum)
	case AirPres:
		return int64(d.AirPres)
	case SoilTemp1:
		return int64(d.SoilTemp1)
	case SoilTemp2:
		return int64(d.SoilTemp2)
	case SoilMoist1:
		return int64(d.SoilMoist1)
	case SoilMoist2:
		return int64(d.SoilMoist2)
	case Lum:
		return int64(d.Lum)
	}
	return 0
}

// Set truncates v to field width.
func (d *Data) Set(t Type, v int64) {
	switch t {
	case AirTemp:
		d.AirTemp = int16(v)
	case AirHum:
		d.AirHum = uint16(v)
	case AirPres:
		d.AirPres = uint32(v)
	case SoilTemp1:
		d.SoilTemp1 = int16(v)
	case SoilTemp2:
		d.SoilTemp2 = int16(v)
	case SoilMoist1:
		d.SoilMoist1 = int8(v)
	case SoilMoist2:
		d.SoilMoist2 = int8(v)
	case Lum:
		d.Lum = uint16(v)
	}
}

func putValue(b []byte, t Type, v int64) {
	switch t.Size() {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	}
}

func getValue(b []byte, t Type) int64 {
	switch t.Size() {
	case 1:
		return int64(int8(b[0]))
	case 2:
		if t.Unsigned() {
			return int64(binary.LittleEndian.Uint16(b))
		}
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		if t.Unsigned() {
			return int64(binary.LittleEndian.Uint32(b))
		}
		return int64(int32(binary.LittleEndian.Uint32(b)))
	}
	return 0
}

// Marshal encodes enabled readings in type order.
// Each reading needs strictly less than remaining capacity, like the firmware buffer check.
func Marshal(capacity int, e Enabled, d *Data) ([]byte, error) {
	if e == 0 {
		return nil, ErrEmpty
	}
	b := make([]byte, 0, e.Size())
	for _, t := range e.Types() {
		if len(b)+HeaderSize+t.Size() >= capacity {
			return nil, errors.Annotatef(ErrOverflow, "type=%s capacity=%d", t, capacity)
		}
		b = append(b, byte(t))
		b = b[:len(b)+t.Size()]
		putValue(b[len(b)-t.Size():], t, d.Get(t))
	}
	return b, nil
}

func Unmarshal(b []byte) (Enabled, Data, error) {
	var e Enabled
	var d Data
	for i := 0; i < len(b); {
		t := Type(b[i])
		if !t.Valid() {
			return 0, Data{}, errors.Annotatef(ErrMalformed, "offset=%d unknown type=%02x", i, b[i])
		}
		if e.Has(t) {
			return 0, Data{}, errors.Annotatef(ErrMalformed, "offset=%d duplicate type=%s", i, t)
		}
		i += HeaderSize
		if i+t.Size() > len(b) {
			return 0, Data{}, errors.Annotatef(ErrMalformed, "offset=%d truncated type=%s", i, t)
		}
		d.Set(t, getValue(b[i:], t))
		e = e.With(t)
		i += t.Size()
	}
	return e, d, nil
}

// Report is MAC(6) Length(1) Readings.
func Report(mac []byte, readings []byte) ([]byte, error) {
	if len(mac) != MACLength {
		return nil, errors.NotValidf("mac length=%d", len(mac))
	}
	if len(readings) > 0xff {
		return nil, errors.Annotatef(ErrOverflow, "readings length=%d", len(readings))
	}
	b := make([]byte, 0, MACLength+1+len(readings))
	b = append(b, mac...)
	b = append(b, byte(len(readings)))
	return append(b, readings...), nil
}

func ParseReport(b []byte) (mac []byte, readings []byte, err error) {
	if len(b) < MACLength+1 {
		return nil, nil, errors.Annotatef(ErrMalformed, "report length=%d", len(b))
	}
	n := int(b[MACLength])
	if len(b) != MACLength+1+n {
		return nil, nil, errors.Annotatef(ErrMalformed, "report length=%d declared=%d", len(b), n)
	}
	return b[:MACLength], b[MACLength+1:], nil
}

const (
	SoilDry = 4096
	SoilWet = 0
)

// MoistureScale maps analog reading to percent, dry=0 wet=100, clamped.
func MoistureScale(raw int) int8 {
	switch {
	case raw < SoilWet:
		return 100
	case raw > SoilDry:
		return 0
	}
	return int8(((SoilDry - raw) * 100) / (SoilDry - SoilWet))
}

func (d *Data) Format(e Enabled) string {
	var sb strings.Builder
	for i, t := range e.Types() {
		if i != 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%s=%d", t, d.Get(t))
	}
	return sb.String()
}
