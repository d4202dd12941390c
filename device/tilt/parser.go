package tilt

import (
  "bytes"
  "encoding/binary"

  "github.com/google/uuid"
  "github.com/pkg/errors"
  "github.com/robertof/gravmon-gateway/device"
)

// manufacturer data layout:
// 4c000215 a495bb40c5b14b44b5121370f02d74de 0050 04d9 c5
// preamble uuid                             temp grav txpower
const (
  minLength = 24
  uuidOffset = 4
  tempOffset = 20
  gravityOffset = 22
  txPowerOffset = 24

  // gravity readings at or above this raw value come from a Tilt Pro.
  proGravityThreshold = 5000
)

var Preamble = []byte{0x4c, 0x00, 0x02, 0x15}

var colorUUIDs = map[uuid.UUID]device.Color{
  uuid.MustParse("a495bb10-c5b1-4b44-b512-1370f02d74de"): device.ColorRed,
  uuid.MustParse("a495bb20-c5b1-4b44-b512-1370f02d74de"): device.ColorGreen,
  uuid.MustParse("a495bb30-c5b1-4b44-b512-1370f02d74de"): device.ColorBlack,
  uuid.MustParse("a495bb40-c5b1-4b44-b512-1370f02d74de"): device.ColorPurple,
  uuid.MustParse("a495bb50-c5b1-4b44-b512-1370f02d74de"): device.ColorOrange,
  uuid.MustParse("a495bb60-c5b1-4b44-b512-1370f02d74de"): device.ColorBlue,
  uuid.MustParse("a495bb70-c5b1-4b44-b512-1370f02d74de"): device.ColorYellow,
  uuid.MustParse("a495bb80-c5b1-4b44-b512-1370f02d74de"): device.ColorPink,
}

// ColorUUID returns the iBeacon UUID broadcast by a Tilt of the given color.
func ColorUUID(c device.Color) uuid.UUID {
  for u, color := range colorUUIDs {
    if color == c {
      return u
    }
  }

  panic("no uuid for tilt color " + c.String())
}

func IsBeacon(data []byte) bool {
  return len(data) >= minLength && bytes.HasPrefix(data, Preamble)
}

func DecodeBeacon(data []byte, rssi int) (reading device.TiltReading, err error) {
  if len(data) < minLength {
    return reading, errors.Wrapf(device.ErrInvalidData,
      "tilt: unexpected data length (%d), want >= %d", len(data), minLength)
  }

  if !bytes.HasPrefix(data, Preamble) {
    return reading, errors.Wrapf(device.ErrInvalidData, "tilt: not an iBeacon preamble: %x", data[:4])
  }

  id, err := uuid.FromBytes(data[uuidOffset:uuidOffset + 16])
  if err != nil {
    return reading, errors.Wrap(device.ErrInvalidData, err.Error())
  }

  color, ok := colorUUIDs[id]
  if !ok {
    return reading, errors.Wrapf(device.ErrUnknownDevice, "tilt: unknown uuid %v", id)
  }

  rawTemp := binary.BigEndian.Uint16(data[tempOffset:])
  rawGravity := binary.BigEndian.Uint16(data[gravityOffset:])

  var txPower byte
  if len(data) > txPowerOffset {
    txPower = data[txPowerOffset]
  }

  gravityFactor, tempFactor := 1000.0, 1.0

  if rawGravity >= proGravityThreshold {
    gravityFactor, tempFactor = 10000.0, 10.0
    reading.Pro = true
  }

  reading.Color = color
  reading.GravitySG = float64(rawGravity) / gravityFactor
  reading.TempF = float64(rawTemp) / tempFactor
  reading.TxPower = int(txPower)
  reading.RSSI = rssi

  return reading, nil
}
