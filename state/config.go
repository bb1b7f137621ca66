package state

import (
	"encoding/hex"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/iotartic/sunit/helpers"
	"github.com/iotartic/sunit/ldu"
	"github.com/iotartic/sunit/log2"
	"github.com/iotartic/sunit/sdu"
	"github.com/iotartic/sunit/telemetry"
	"github.com/iotartic/sunit/transport"
	"github.com/iotartic/sunit/transport/rs485"
	"github.com/juju/errors"
)

const (
	DeviceSensor = "sensor"
	DeviceCore   = "core"

	CommEncrypted = "encrypted"
	CommPlain     = "plain"

	IVModeDaily      = "daily"
	IVModePerMessage = "per_message"

	LocalBLE   = "ble"
	LocalRS485 = "rs485"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	DeviceType   string `hcl:"device_type"`
	Standalone   bool   `hcl:"standalone"`
	CommMode     string `hcl:"comm_mode"`
	ServerTunnel string `hcl:"server_tunnel"`
	LocalTunnel  string `hcl:"local_tunnel"`
	Protocol     string `hcl:"protocol"`
	IP           string `hcl:"ip"`
	Port         int    `hcl:"port"`
	LogDebug     bool   `hcl:"log_debug"`
	LogLevel     string `hcl:"log_level"`

	Device struct {
		// hex, hardware address of radio interface
		MAC string `hcl:"mac"`
	} `hcl:"device"`

	Server struct {
		DialTimeoutSec    int `hcl:"dial_timeout_sec"`
		ReceiveTimeoutSec int `hcl:"receive_timeout_sec"`
		RetryAttempts     int `hcl:"retry_attempts"`
		RetryDelaySec     int `hcl:"retry_delay_sec"`
	} `hcl:"server"`

	MQTT struct {
		BrokerURL      string `hcl:"broker_url"`
		ClientID       string `hcl:"client_id"`
		Username       string `hcl:"username"`
		Password       string `hcl:"password"`
		PublishTopic   string `hcl:"publish_topic"`
		SubscribeTopic string `hcl:"subscribe_topic"`
		KeepaliveSec   int    `hcl:"keepalive_sec"`
	} `hcl:"mqtt"`

	// association is done by system network manager, only interface is used here
	WiFi struct {
		Interface string `hcl:"interface"`
		SSID      string `hcl:"ssid"`
		Password  string `hcl:"password"`
	} `hcl:"wifi"`
	Cellular struct {
		Interface string `hcl:"interface"`
		APN       string `hcl:"apn"`
		User      string `hcl:"user"`
		Password  string `hcl:"password"`
	} `hcl:"cellular"`

	BLE struct {
		ServiceUUID        string `hcl:"serv_uuid"`
		CharacteristicUUID string `hcl:"char_uuid"`
	} `hcl:"ble"`
	RS485 struct {
		Device     string `hcl:"device"`
		Baud       int    `hcl:"baud"`
		GPIOChip   string `hcl:"gpio_chip"`
		DELine     int    `hcl:"de_line"`
		TimeoutSec int    `hcl:"timeout_sec"`
		GapMs      int    `hcl:"gap_ms"`
	} `hcl:"rs485"`

	Cryptography struct {
		ServerSalt     string `hcl:"server_salt"`
		ServerPassword string `hcl:"server_password"`
		BLEPassword    string `hcl:"ble_password"`
		VerifyServer   bool   `hcl:"verify_server"`
		IVMode         string `hcl:"iv_mode"`
		SessionKDF     bool   `hcl:"session_kdf"`
	} `hcl:"cryptography"`

	Sensors SensorsConfig `hcl:"sensors"`

	Persist struct {
		Root string `hcl:"root"`
	} `hcl:"persist"`
	Outbox struct {
		Path string `hcl:"path"`
	} `hcl:"outbox"`
	Duty struct {
		SleepSec    int `hcl:"sleep_sec"`
		RetryMinSec int `hcl:"retry_min_sec"`
		RetryMaxSec int `hcl:"retry_max_sec"`
	} `hcl:"duty"`

	_copy_guard sync.Mutex //nolint:unused
}

type SensorsConfig struct {
	AirTemp    bool `hcl:"air_temp"`
	AirHum     bool `hcl:"air_hum"`
	AirPres    bool `hcl:"air_pres"`
	SoilTemp1  bool `hcl:"soil_temp_1"`
	SoilTemp2  bool `hcl:"soil_temp_2"`
	SoilMoist1 bool `hcl:"soil_moist_1"`
	SoilMoist2 bool `hcl:"soil_moist_2"`
	Lum        bool `hcl:"lum"`

	Sources []SensorSource `hcl:"source"`
}

type SensorSource struct {
	Name     string  `hcl:"name,key"`
	Path     string  `hcl:"path"`
	Scale    float64 `hcl:"scale"`
	Moisture bool    `hcl:"moisture"`
	// used instead of path, bench runs without hardware
	Static int64 `hcl:"static"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig merges sources in order, later values overwrite.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err == nil {
		err = c.Validate()
	}
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

// Level is log_level, log_debug=true wins, default info.
func (c *Config) Level() (log2.Level, error) {
	if c.LogDebug {
		return log2.LDebug, nil
	}
	if c.LogLevel == "" {
		return log2.LInfo, nil
	}
	return log2.ParseLevel(c.LogLevel)
}

func (c *Config) Encrypted() bool { return c.CommMode == CommEncrypted }

func (c *Config) MAC() ([]byte, error) {
	s := strings.NewReplacer(":", "", "-", "").Replace(c.Device.MAC)
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != sdu.MACLength {
		return nil, errors.NotValidf("device.mac=%q", c.Device.MAC)
	}
	return b, nil
}

// Validate collects all problems, not only first.
func (c *Config) Validate() error {
	errs := make([]error, 0)
	add := func(format string, args ...interface{}) { errs = append(errs, errors.NotValidf(format, args...)) }

	if c.DeviceType != DeviceSensor {
		add("device_type=%q only %q is supported", c.DeviceType, DeviceSensor)
	}
	if _, err := c.MAC(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		add("log_level=%q", c.LogLevel)
	}
	switch c.CommMode {
	case CommEncrypted, CommPlain:
	default:
		add("comm_mode=%q", c.CommMode)
	}
	switch c.Cryptography.IVMode {
	case "", IVModeDaily, IVModePerMessage:
	default:
		add("cryptography.iv_mode=%q", c.Cryptography.IVMode)
	}
	if c.Enabled() == 0 {
		add("sensors nothing enabled")
	}
	for _, s := range c.Sensors.Sources {
		if _, err := telemetry.ParseType(s.Name); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Standalone {
		switch transport.Tunnel(c.ServerTunnel) {
		case transport.WiFi, transport.Cellular:
		default:
			add("server_tunnel=%q", c.ServerTunnel)
		}
		switch transport.Protocol(c.Protocol) {
		case transport.UDP, transport.TCP:
			if c.IP == "" || c.Port <= 0 || c.Port > 0xffff {
				add("server address ip=%q port=%d", c.IP, c.Port)
			}
		case transport.MQTT:
			if c.MQTT.BrokerURL == "" {
				add("mqtt.broker_url empty")
			}
			if c.MQTT.PublishTopic == "" || c.MQTT.SubscribeTopic == "" {
				add("mqtt topics publish=%q subscribe=%q", c.MQTT.PublishTopic, c.MQTT.SubscribeTopic)
			}
		default:
			add("protocol=%q", c.Protocol)
		}
		if c.Encrypted() && c.Cryptography.ServerPassword == "" {
			add("cryptography.server_password required for comm_mode=%s", CommEncrypted)
		}
	} else {
		switch c.LocalTunnel {
		case LocalBLE:
		case LocalRS485:
			if c.RS485.Device == "" || c.RS485.GPIOChip == "" {
				add("rs485 device=%q gpio_chip=%q", c.RS485.Device, c.RS485.GPIOChip)
			}
		default:
			add("local_tunnel=%q", c.LocalTunnel)
		}
		if c.Cryptography.BLEPassword == "" {
			add("cryptography.ble_password required for local link")
		}
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) Enabled() telemetry.Enabled {
	var e telemetry.Enabled
	flags := []bool{
		c.Sensors.AirTemp, c.Sensors.AirHum, c.Sensors.AirPres,
		c.Sensors.SoilTemp1, c.Sensors.SoilTemp2,
		c.Sensors.SoilMoist1, c.Sensors.SoilMoist2,
		c.Sensors.Lum,
	}
	for i, on := range flags {
		if on {
			e = e.With(telemetry.Type(i))
		}
	}
	return e
}

// SensorSource returns static source when every source is static, file source otherwise.
func (c *Config) SensorSource() (telemetry.Source, error) {
	fs := &telemetry.FileSource{Inputs: make(map[telemetry.Type]telemetry.FileInput)}
	var static telemetry.Data
	allStatic := len(c.Sensors.Sources) != 0
	for _, s := range c.Sensors.Sources {
		t, err := telemetry.ParseType(s.Name)
		if err != nil {
			return nil, err
		}
		if s.Path == "" {
			static.Set(t, s.Static)
			continue
		}
		allStatic = false
		fs.Inputs[t] = telemetry.FileInput{Path: s.Path, Scale: s.Scale, Moisture: s.Moisture}
	}
	if allStatic {
		return telemetry.StaticSource(static), nil
	}
	return fs, nil
}

func (c *Config) TransportConfig() (transport.Config, error) {
	mac, err := c.MAC()
	if err != nil {
		return transport.Config{}, err
	}
	tc := transport.Config{
		Protocol:    transport.Protocol(c.Protocol),
		Tunnel:      transport.Tunnel(c.ServerTunnel),
		Host:        c.IP,
		Port:        c.Port,
		MAC:         mac,
		DialTimeout: helpers.IntSecondDefault(c.Server.DialTimeoutSec, transport.DefaultDialTimeout),
		MQTT: transport.MQTTConfig{
			BrokerURL:      c.MQTT.BrokerURL,
			ClientID:       c.MQTT.ClientID,
			Username:       c.MQTT.Username,
			Password:       c.MQTT.Password,
			PublishTopic:   c.MQTT.PublishTopic,
			SubscribeTopic: c.MQTT.SubscribeTopic,
			KeepAlive:      helpers.IntSecondDefault(c.MQTT.KeepaliveSec, transport.DefaultMQTTKeepAlive),
		},
	}
	switch tc.Tunnel {
	case transport.WiFi:
		tc.Interface = c.WiFi.Interface
	case transport.Cellular:
		tc.Interface = c.Cellular.Interface
	}
	return tc, nil
}

func (c *Config) SessionConfig() (sdu.Config, error) {
	mac, err := c.MAC()
	if err != nil {
		return sdu.Config{}, err
	}
	sc := sdu.Config{
		MAC:            mac,
		Salt:           c.Cryptography.ServerSalt,
		Password:       c.Cryptography.ServerPassword,
		Confidential:   c.Encrypted(),
		VerifyServer:   c.Cryptography.VerifyServer,
		SessionKDF:     c.Cryptography.SessionKDF,
		ReceiveTimeout: helpers.IntSecondDefault(c.Server.ReceiveTimeoutSec, transport.DefaultReceiveTimeout),
		Retry:          transport.DefaultRetry(),
	}
	if c.Server.RetryAttempts != 0 {
		sc.Retry.Attempts = c.Server.RetryAttempts
	}
	sc.Retry.Delay = helpers.IntSecondDefault(c.Server.RetryDelaySec, transport.DefaultAttemptDelay)
	if c.Cryptography.IVMode == IVModePerMessage {
		sc.IVMode = sdu.IVPerMessage
	}
	return sc, nil
}

func (c *Config) LocalConfig() (ldu.Config, error) {
	mac, err := c.MAC()
	if err != nil {
		return ldu.Config{}, err
	}
	lc := ldu.Config{
		MAC:                mac,
		Password:           c.Cryptography.BLEPassword,
		ServiceUUID:        c.BLE.ServiceUUID,
		CharacteristicUUID: c.BLE.CharacteristicUUID,
		ReceiveTimeout:     helpers.IntSecondDefault(c.RS485.TimeoutSec, ldu.DefaultReceiveTimeout),
	}
	switch c.LocalTunnel {
	case LocalBLE:
		lc.Mode = ldu.BLE
	case LocalRS485:
		lc.Mode = ldu.RS485
	}
	return lc, nil
}

func (c *Config) RS485Config() rs485.Config {
	return rs485.Config{
		Device:   c.RS485.Device,
		Baud:     c.RS485.Baud,
		GPIOChip: c.RS485.GPIOChip,
		DELine:   uint32(c.RS485.DELine),
		Gap:      time.Duration(c.RS485.GapMs) * time.Millisecond,
	}
}

func (c *Config) DutySleep() time.Duration {
	return helpers.IntSecondDefault(c.Duty.SleepSec, 10*time.Second)
}
