package gravitymon

import (
  "bytes"
  "encoding/binary"
  "fmt"

  "github.com/pkg/errors"
  "github.com/robertof/gravmon-gateway/device"
)

const (
  // Advertised local name of gravitymon devices.
  LocalName = "gravitymon"

  iBeaconLength = 24

  // Offset of the eddystone frame within the raw advertisement payload.
  eddystonePrefixLength = 23
  eddystoneFrameLength = 14
)

var Preamble = []byte{0x4c, 0x00, 0x03, 0x15}

func IsBeacon(data []byte) bool {
  return len(data) >= iBeaconLength && bytes.HasPrefix(data, Preamble)
}

// FormatChipID renders a chip id the way the firmware does ("%6x").
func FormatChipID(id uint32) string {
  return fmt.Sprintf("%6x", id)
}

// DecodeIBeacon parses gravitymon iBeacon manufacturer data:
//
//   4c000315 ........ ........ chipid(4) angle(2) battery(2) gravity(2) temp(2)
func DecodeIBeacon(data []byte) (reading device.SensorReading, err error) {
  if len(data) < iBeaconLength {
    return reading, errors.Wrapf(device.ErrInvalidData,
      "gravitymon: unexpected ibeacon length (%d), want %d", len(data), iBeaconLength)
  }

  if !bytes.HasPrefix(data, Preamble) {
    return reading, errors.Wrapf(device.ErrInvalidData, "gravitymon: not an iBeacon preamble: %x", data[:4])
  }

  bo := binary.BigEndian

  reading.ChipID = FormatChipID(bo.Uint32(data[12:]))
  reading.Angle = float64(bo.Uint16(data[16:])) / 100
  reading.BatteryVolts = float64(bo.Uint16(data[18:])) / 1000
  reading.GravitySG = float64(bo.Uint16(data[20:])) / 10000
  reading.TempC = float64(bo.Uint16(data[22:])) / 1000
  reading.Source = device.SourceBeacon

  return reading, nil
}

// DecodeEddystoneBeacon parses a raw advertisement payload carrying a gravitymon
// eddystone frame after the fixed 23 byte header.
func DecodeEddystoneBeacon(payload []byte) (reading device.SensorReading, err error) {
  if len(payload) < eddystonePrefixLength {
    return reading, errors.Wrapf(device.ErrInvalidData,
      "gravitymon: eddystone payload too short (%d)", len(payload))
  }

  return DecodeEddystoneFrame(payload[eddystonePrefixLength:])
}

// DecodeEddystoneFrame parses the service data of the 0xfeaa service:
//
//   frame(1) version(1) battery(2) temp(2) gravity(2) angle(2) chipid(4)
func DecodeEddystoneFrame(frame []byte) (reading device.SensorReading, err error) {
  if len(frame) < eddystoneFrameLength {
    return reading, errors.Wrapf(device.ErrInvalidData,
      "gravitymon: unexpected eddystone frame length (%d), want >= %d", len(frame), eddystoneFrameLength)
  }

  bo := binary.BigEndian

  reading.BatteryVolts = float64(bo.Uint16(frame[2:])) / 1000
  reading.TempC = float64(bo.Uint16(frame[4:])) / 1000
  reading.GravitySG = float64(bo.Uint16(frame[6:])) / 10000
  reading.Angle = float64(bo.Uint16(frame[8:])) / 100
  reading.ChipID = FormatChipID(bo.Uint32(frame[10:]))
  reading.Source = device.SourceEddystone

  return reading, nil
}
