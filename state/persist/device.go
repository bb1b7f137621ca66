package persist

import (
	"encoding/binary"
	"time"

	"github.com/juju/errors"
)

const deviceStateVersion = 1

// DeviceState survives power cycles: wake counter and last successful date sync.
type DeviceState struct {
	BootCount uint32
	// unix seconds, 0 = never
	LastSync int64
	// reports sent since first boot
	Sent uint32
}

func (s *DeviceState) LastSyncTime() time.Time {
	if s.LastSync == 0 {
		return time.Time{}
	}
	return time.Unix(s.LastSync, 0).UTC()
}

// version(1) boot(4) sync(8) sent(4), big endian
func (s *DeviceState) MarshalBinary() ([]byte, error) {
	b := make([]byte, 17)
	b[0] = deviceStateVersion
	binary.BigEndian.PutUint32(b[1:], s.BootCount)
	binary.BigEndian.PutUint64(b[5:], uint64(s.LastSync))
	binary.BigEndian.PutUint32(b[13:], s.Sent)
	return b, nil
}

func (s *DeviceState) UnmarshalBinary(b []byte) error {
	if len(b) != 17 || b[0] != deviceStateVersion {
		return errors.NotValidf("device state len=%d", len(b))
	}
	s.BootCount = binary.BigEndian.Uint32(b[1:])
	s.LastSync = int64(binary.BigEndian.Uint64(b[5:]))
	s.Sent = binary.BigEndian.Uint32(b[13:])
	return nil
}
