package command

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nerrad567/spherolink/internal/protocol/packet"
)

// PowerStates is the battery condition reported by the classic Sphero.
type PowerStates uint8

// Power states.
const (
	PowerUnknown PowerStates = iota
	PowerCharging
	PowerOK
	PowerLow
	PowerCritical
)

func (s PowerStates) String() string {
	switch s {
	case PowerUnknown:
		return "unknown"
	case PowerCharging:
		return "charging"
	case PowerOK:
		return "ok"
	case PowerLow:
		return "low"
	case PowerCritical:
		return "critical"
	}
	return fmt.Sprintf("power_state(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s PowerStates) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// BatteryStates is the battery condition reported by V2 toys.
type BatteryStates uint8

// Battery states.
const (
	BatteryUnknown BatteryStates = iota
	BatteryOK
	BatteryLow
	BatteryCritical
)

func (s BatteryStates) String() string {
	switch s {
	case BatteryUnknown:
		return "unknown"
	case BatteryOK:
		return "ok"
	case BatteryLow:
		return "low"
	case BatteryCritical:
		return "critical"
	}
	return fmt.Sprintf("battery_state(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s BatteryStates) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Versions is the reply to core get_versions.
type Versions struct {
	RecordVersion       uint8  `json:"record_version"`
	ModelNumber         uint8  `json:"model_number"`
	HardwareVersionCode uint8  `json:"hardware_version_code"`
	MainAppVersionMajor uint8  `json:"main_app_version_major"`
	MainAppVersionMinor uint8  `json:"main_app_version_minor"`
	BootloaderVersion   string `json:"bootloader_version"`
	OrbBasicVersion     string `json:"orb_basic_version"`
	OverlayVersion      string `json:"overlay_version"`
}

// BluetoothInfo is the reply to core get_bluetooth_info.
type BluetoothInfo struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// PowerState is the reply to core get_power_state.
type PowerState struct {
	RecordVersion       uint8       `json:"record_version"`
	State               PowerStates `json:"state"`
	Voltage             float64     `json:"voltage"`
	NumberOfCharges     uint16      `json:"number_of_charges"`
	TimeSinceLastCharge uint16      `json:"time_since_last_charge"`
}

// Options are the classic Sphero persistent and temporary option bits.
type Options struct {
	DisableSleepInCharger     bool `json:"disable_sleep_in_charger"`
	EnableVectorDrive         bool `json:"enable_vector_drive"`
	DisableSelfLevelInCharger bool `json:"disable_self_level_in_charger"`
	EnableTailLightAlwaysOn   bool `json:"enable_tail_light_always_on"`
	EnableMotionTimeout       bool `json:"enable_motion_timeout"`
	EnableGyroMaxNotify       bool `json:"enable_gyro_max_notify"`
	EnableFullSpeed           bool `json:"enable_full_speed"`
}

// APIProtocolVersion is the reply to api_and_shell get_api_protocol_version.
type APIProtocolVersion struct {
	Major uint8 `json:"major_version"`
	Minor uint8 `json:"minor_version"`
}

// SensorStreamingMask is the reply to sensor get_sensor_streaming_mask.
type SensorStreamingMask struct {
	Interval    uint16 `json:"interval"`
	PacketCount uint8  `json:"packet_count"`
	DataMask    uint32 `json:"data_mask"`
}

// MotorStall is delivered by drive motor_stall_notify.
type MotorStall struct {
	MotorIndex  uint8 `json:"motor_index"`
	IsTriggered bool  `json:"is_triggered"`
}

// CollisionDetected is delivered by the collision notifications. PowerZ is
// zero for toys whose layout does not carry it.
type CollisionDetected struct {
	AccelerationX float64 `json:"acceleration_x"`
	AccelerationY float64 `json:"acceleration_y"`
	AccelerationZ float64 `json:"acceleration_z"`
	XAxis         bool    `json:"x_axis"`
	YAxis         bool    `json:"y_axis"`
	PowerX        int16   `json:"power_x"`
	PowerY        int16   `json:"power_y"`
	PowerZ        int16   `json:"power_z"`
	Speed         uint8   `json:"speed"`
	Time          float64 `json:"time"`
}

// accelScale converts raw accelerometer counts to g.
const accelScale = 4096

func need(payload []byte, n int) error {
	if len(payload) != n {
		return fmt.Errorf("%w: payload is %d bytes, want %d", packet.ErrDecoding, len(payload), n)
	}
	return nil
}

func needAtLeast(payload []byte, n int) error {
	if len(payload) < n {
		return fmt.Errorf("%w: payload is %d bytes, want at least %d", packet.ErrDecoding, len(payload), n)
	}
	return nil
}

func nibbleVersion(b byte) string {
	return fmt.Sprintf("%d.%d", b>>4, b&0x0F) //nolint:mnd // high and low nibble
}

func decodeVersions(b []byte) (any, error) {
	if err := need(b, 8); err != nil { //nolint:mnd // >8B
		return nil, err
	}
	return Versions{
		RecordVersion:       b[0],
		ModelNumber:         b[1],
		HardwareVersionCode: b[2],
		MainAppVersionMajor: b[3],
		MainAppVersionMinor: b[4],
		BootloaderVersion:   nibbleVersion(b[5]),
		OrbBasicVersion:     nibbleVersion(b[6]),
		OverlayVersion:      nibbleVersion(b[7]),
	}, nil
}

func decodeBluetoothInfo(b []byte) (any, error) {
	fields := bytes.Split(bytes.TrimRight(b, "\x00"), []byte{0})
	if len(fields) < 2 { //nolint:mnd // name and address
		return nil, fmt.Errorf("%w: want NUL-separated name and address", packet.ErrDecoding)
	}
	return BluetoothInfo{Name: string(fields[0]), Address: string(fields[len(fields)-1])}, nil
}

func decodePowerState(b []byte) (any, error) {
	if err := need(b, 8); err != nil { //nolint:mnd // >2B3H
		return nil, err
	}
	return PowerState{
		RecordVersion:       b[0],
		State:               PowerStates(b[1]),
		Voltage:             float64(binary.BigEndian.Uint16(b[2:4])) / 100, //nolint:mnd // centivolts
		NumberOfCharges:     binary.BigEndian.Uint16(b[4:6]),
		TimeSinceLastCharge: binary.BigEndian.Uint16(b[6:8]),
	}, nil
}

func decodeTemperature(b []byte) (any, error) {
	if err := need(b, 2); err != nil { //nolint:mnd // whole degrees, tenths
		return nil, err
	}
	return float64(b[0]) + float64(b[1])/10, nil //nolint:mnd // tenths
}

func decodeOptions(b []byte) (any, error) {
	v, err := decodeUint(b)
	if err != nil {
		return nil, err
	}
	n := v.(uint64)
	return Options{
		DisableSleepInCharger:     n&0x1 != 0,
		EnableVectorDrive:         n&0x2 != 0,
		DisableSelfLevelInCharger: n&0x4 != 0,
		EnableTailLightAlwaysOn:   n&0x8 != 0,
		EnableMotionTimeout:       n&0x10 != 0,
		EnableGyroMaxNotify:       n&0x100 != 0,
		EnableFullSpeed:           n&0x400 != 0,
	}, nil
}

// decodeUint reads a big-endian unsigned integer of up to eight bytes.
func decodeUint(b []byte) (any, error) {
	if len(b) > 8 { //nolint:mnd // uint64
		return nil, fmt.Errorf("%w: %d bytes overflow uint64", packet.ErrDecoding, len(b))
	}
	var n uint64
	for _, v := range b {
		n = n<<8 | uint64(v)
	}
	return n, nil
}

func decodeU8(b []byte) (any, error) {
	if err := needAtLeast(b, 1); err != nil {
		return nil, err
	}
	return b[0], nil
}

func decodeBool(b []byte) (any, error) {
	if err := needAtLeast(b, 1); err != nil {
		return nil, err
	}
	return b[0] != 0, nil
}

func decodeU32(b []byte) (any, error) {
	if err := need(b, 4); err != nil { //nolint:mnd // uint32
		return nil, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func decodeF32(b []byte) (any, error) {
	if err := need(b, 4); err != nil { //nolint:mnd // float32
		return nil, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
}

func decodeF32List(b []byte) (any, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of float32", packet.ErrDecoding, len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

func decodeRaw(b []byte) (any, error) {
	return append([]byte(nil), b...), nil
}

func decodeReversedString(b []byte) (any, error) {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return string(out), nil
}

func decodeConsoleString(b []byte) (any, error) {
	return string(bytes.TrimRight(b, "\x00")), nil
}

func decodeVersion(b []byte) (any, error) {
	if err := need(b, 2); err != nil { //nolint:mnd // major, minor
		return nil, err
	}
	return APIProtocolVersion{Major: b[0], Minor: b[1]}, nil
}

func decodeStreamingMask(b []byte) (any, error) {
	if err := need(b, 7); err != nil { //nolint:mnd // >HBL
		return nil, err
	}
	return SensorStreamingMask{
		Interval:    binary.BigEndian.Uint16(b[0:2]),
		PacketCount: b[2],
		DataMask:    binary.BigEndian.Uint32(b[3:7]),
	}, nil
}

func decodeBatteryVoltage(b []byte) (any, error) {
	if err := need(b, 2); err != nil { //nolint:mnd // centivolts
		return nil, err
	}
	return float64(binary.BigEndian.Uint16(b)) / 100, nil //nolint:mnd // centivolts
}

func decodeBatteryState(b []byte) (any, error) {
	if err := needAtLeast(b, 1); err != nil {
		return nil, err
	}
	return BatteryStates(b[0]), nil
}

func decodePowerStates(b []byte) (any, error) {
	if err := needAtLeast(b, 1); err != nil {
		return nil, err
	}
	return PowerStates(b[0]), nil
}

func decodeMotorStall(b []byte) (any, error) {
	if err := need(b, 2); err != nil { //nolint:mnd // index, triggered
		return nil, err
	}
	return MotorStall{MotorIndex: b[0], IsTriggered: b[1] != 0}, nil
}

func decodeInt16List(b []byte) (any, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of int16", packet.ErrDecoding, len(b))
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.BigEndian.Uint16(b[i*2:]))
	}
	return out, nil
}

func decodeUint32List(b []byte) (any, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of uint32", packet.ErrDecoding, len(b))
	}
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(b[i*4:])
	}
	return out, nil
}

// Collision layouts. Offsets are shared up to the axis byte; after that each
// firmware family has its own shape.
//
//	classic Sphero: >3h B 2h B L   (16 bytes)
//	V2 toys:        >3h B 3h B L   (18 bytes)
//	BOLT+:          >3h B 3h B h   (16 bytes)

func collisionHead(b []byte) CollisionDetected {
	axis := b[6]
	return CollisionDetected{
		AccelerationX: float64(int16(binary.BigEndian.Uint16(b[0:2]))) / accelScale,
		AccelerationY: float64(int16(binary.BigEndian.Uint16(b[2:4]))) / accelScale,
		AccelerationZ: float64(int16(binary.BigEndian.Uint16(b[4:6]))) / accelScale,
		XAxis:         axis&0x1 != 0,
		YAxis:         axis&0x2 != 0,
	}
}

func decodeCollisionClassic(b []byte) (any, error) {
	if err := need(b, 16); err != nil { //nolint:mnd // >3hB2hBL
		return nil, err
	}
	c := collisionHead(b)
	c.PowerX = int16(binary.BigEndian.Uint16(b[7:9]))
	c.PowerY = int16(binary.BigEndian.Uint16(b[9:11]))
	c.Speed = b[11]
	c.Time = float64(binary.BigEndian.Uint32(b[12:16])) / 1000 //nolint:mnd // milliseconds
	return c, nil
}

func decodeCollisionV2(b []byte) (any, error) {
	if err := need(b, 18); err != nil { //nolint:mnd // >3hB3hBL
		return nil, err
	}
	c := collisionHead(b)
	c.PowerX = int16(binary.BigEndian.Uint16(b[7:9]))
	c.PowerY = int16(binary.BigEndian.Uint16(b[9:11]))
	c.PowerZ = int16(binary.BigEndian.Uint16(b[11:13]))
	c.Speed = b[13]
	c.Time = float64(binary.BigEndian.Uint32(b[14:18])) / 1000 //nolint:mnd // milliseconds
	return c, nil
}

func decodeCollisionBOLTPlus(b []byte) (any, error) {
	if err := need(b, 16); err != nil { //nolint:mnd // >3hB3hBh
		return nil, err
	}
	c := collisionHead(b)
	c.PowerX = int16(binary.BigEndian.Uint16(b[7:9]))
	c.PowerY = int16(binary.BigEndian.Uint16(b[9:11]))
	c.PowerZ = int16(binary.BigEndian.Uint16(b[11:13]))
	c.Speed = b[13]
	c.Time = float64(int16(binary.BigEndian.Uint16(b[14:16]))) / 1000 //nolint:mnd // milliseconds
	return c, nil
}
