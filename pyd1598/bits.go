package pyd1598

import "fmt"

// Config is the 25-bit configuration register of the sensor.
//
// The register is the only place field values are stored. Every accessor
// derives its value from the packed word, and every write goes through
// with(), which forces the reserved bits.
type Config uint32

// Register geometry
const (
	ConfigBits = 25
	FrameBits  = 40

	configMask = 1<<ConfigBits - 1
)

type field struct {
	name  string
	shift uint
	mask  uint32
}

// Register fields (bit positions 24..0)
var (
	fieldThreshold    = field{"threshold", 17, 0xFF}
	fieldBlindTime    = field{"blind_time", 13, 0x0F}
	fieldPulseCounter = field{"pulse_counter", 11, 0x03}
	fieldWindowTime   = field{"window_time", 9, 0x03}
	fieldMode         = field{"operation_mode", 7, 0x03}
	fieldSource       = field{"signal_source", 5, 0x03}
	fieldReservedHigh = field{"reserved", 3, 0x03}
	fieldHPF          = field{"hpf_cutoff", 2, 0x01}
	fieldReservedLow  = field{"reserved", 1, 0x01}
	fieldCountMode    = field{"count_mode", 0, 0x01}
)

// Values the sensor requires in the reserved fields.
const (
	reservedHigh = 0x2
	reservedLow  = 0x0
)

// ReservedOnly is the register with every field zero and the reserved bits set.
const ReservedOnly = Config(reservedHigh<<3 | reservedLow<<1)

func (f field) get(c Config) uint32 {
	return uint32(c) >> f.shift & f.mask
}

func (f field) set(c Config, v uint32) Config {
	m := f.mask << f.shift
	return Config(uint32(c)&^m | v<<f.shift&m)
}

// with replaces one field and re-applies the reserved bits.
func (c Config) with(f field, v uint32) Config {
	return f.set(c, v).forceReserved()
}

func (c Config) forceReserved() Config {
	c = fieldReservedHigh.set(c, reservedHigh)
	c = fieldReservedLow.set(c, reservedLow)
	return c & configMask
}

func (c Config) Threshold() uint8             { return uint8(fieldThreshold.get(c)) }
func (c Config) BlindTime() uint8             { return uint8(fieldBlindTime.get(c)) }
func (c Config) PulseCounter() uint8          { return uint8(fieldPulseCounter.get(c)) }
func (c Config) WindowTime() uint8            { return uint8(fieldWindowTime.get(c)) }
func (c Config) OperationMode() OperationMode { return OperationMode(fieldMode.get(c)) }
func (c Config) SignalSource() SignalSource   { return SignalSource(fieldSource.get(c)) }
func (c Config) HPFCutoff() HPFCutoff         { return HPFCutoff(fieldHPF.get(c)) }
func (c Config) CountMode() CountMode         { return CountMode(fieldCountMode.get(c)) }

// Fields returns the unpacked register.
func (c Config) Fields() Fields {
	return Fields{
		Threshold:     c.Threshold(),
		BlindTime:     c.BlindTime(),
		PulseCounter:  c.PulseCounter(),
		WindowTime:    c.WindowTime(),
		OperationMode: c.OperationMode(),
		SignalSource:  c.SignalSource(),
		HPFCutoff:     c.HPFCutoff(),
		CountMode:     c.CountMode(),
	}
}

func (c Config) String() string {
	return fmt.Sprintf("0x%07X", uint32(c))
}

// Fields is the unpacked form of Config. It carries no reserved bits.
type Fields struct {
	Threshold     uint8
	BlindTime     uint8
	PulseCounter  uint8
	WindowTime    uint8
	OperationMode OperationMode
	SignalSource  SignalSource
	HPFCutoff     HPFCutoff
	CountMode     CountMode
}

// Pack builds a register from f. Values wider than their field are truncated
// and the reserved bits are always set; callers validate ranges first.
func Pack(f Fields) Config {
	c := Config(0)
	c = fieldThreshold.set(c, uint32(f.Threshold))
	c = fieldBlindTime.set(c, uint32(f.BlindTime))
	c = fieldPulseCounter.set(c, uint32(f.PulseCounter))
	c = fieldWindowTime.set(c, uint32(f.WindowTime))
	c = fieldMode.set(c, uint32(f.OperationMode))
	c = fieldSource.set(c, uint32(f.SignalSource))
	c = fieldHPF.set(c, uint32(f.HPFCutoff))
	c = fieldCountMode.set(c, uint32(f.CountMode))
	return c.forceReserved()
}

// Unpack is the inverse of Pack.
func Unpack(c Config) Fields {
	return c.Fields()
}

// Frame is the 40-bit word clocked out of the direct-link line.
// Bits 39..25 hold the measurement, bits 24..0 the configuration readback.
type Frame uint64

const (
	measurementBits = FrameBits - ConfigBits
	outOfRangeBit   = measurementBits - 1
	countMask       = 1<<outOfRangeBit - 1
)

// Measurement is the 15-bit measurement part of a frame.
type Measurement struct {
	OutOfRange bool
	Count      uint16 // 14-bit ADC count, interpretation depends on the signal source
}

func (m Measurement) bits() uint64 {
	v := uint64(m.Count & countMask)
	if m.OutOfRange {
		v |= 1 << outOfRangeBit
	}
	return v
}

// EncodeFrame builds the frame a sensor running readback would send with m.
func EncodeFrame(readback Config, m Measurement) Frame {
	return Frame(m.bits()<<ConfigBits | uint64(readback&configMask))
}

// DecodeFrame splits a frame into its readback register and measurement.
func DecodeFrame(f Frame) (Config, Measurement) {
	readback := Config(uint64(f) & configMask)
	raw := uint64(f) >> ConfigBits
	return readback, Measurement{
		OutOfRange: raw>>outOfRangeBit&1 == 1,
		Count:      uint16(raw & countMask),
	}
}

// signed14 reinterprets a 14-bit two's complement count.
func signed14(v uint16) int16 {
	v &= countMask
	if v&(1<<(outOfRangeBit-1)) != 0 {
		return int16(v) - 1<<outOfRangeBit
	}
	return int16(v)
}
