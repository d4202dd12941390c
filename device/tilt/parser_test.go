package tilt_test

import (
  "errors"
  "reflect"
  "testing"

  "github.com/robertof/gravmon-gateway/device"
  "github.com/robertof/gravmon-gateway/device/tilt"
)

func beacon(c device.Color, temp, gravity []byte, txPower byte) []byte {
  u := tilt.ColorUUID(c)

  data := append([]byte{}, tilt.Preamble...)
  data = append(data, u[:]...)
  data = append(data, temp...)
  data = append(data, gravity...)

  return append(data, txPower)
}

func TestDecodeBeacon_Standard(t *testing.T) {
  data := beacon(device.ColorRed, []byte{0x01, 0x2c}, []byte{0x0b, 0xb8}, 0x00)

  got, err := tilt.DecodeBeacon(data, -70)

  if err != nil {
    t.Fatalf("DecodeBeacon(%x) got error: %v", data, err)
  }

  want := device.TiltReading{
    Color:     device.ColorRed,
    GravitySG: 3.0,
    TempF:     300,
    RSSI:      -70,
  }

  if !reflect.DeepEqual(got, want) {
    t.Fatalf("DecodeBeacon(%x): got %+#v, wanted %+#v", data, got, want)
  }
}

func TestDecodeBeacon_Pro(t *testing.T) {
  // temp 685 -> 68.5F, gravity 10500 -> 1.0500
  data := beacon(device.ColorPurple, []byte{0x02, 0xad}, []byte{0x29, 0x04}, 0x05)

  got, err := tilt.DecodeBeacon(data, -55)

  if err != nil {
    t.Fatalf("DecodeBeacon(%x) got error: %v", data, err)
  }

  want := device.TiltReading{
    Color:     device.ColorPurple,
    GravitySG: 1.05,
    TempF:     68.5,
    RSSI:      -55,
    TxPower:   5,
    Pro:       true,
  }

  if !reflect.DeepEqual(got, want) {
    t.Fatalf("DecodeBeacon(%x): got %+#v, wanted %+#v", data, got, want)
  }
}

func TestDecodeBeacon_ProThreshold(t *testing.T) {
  below := beacon(device.ColorBlue, []byte{0x00, 0x44}, []byte{0x13, 0x87}, 0) // 4999
  at := beacon(device.ColorBlue, []byte{0x00, 0x44}, []byte{0x13, 0x88}, 0)    // 5000

  r, err := tilt.DecodeBeacon(below, 0)
  if err != nil || r.Pro || r.GravitySG != 4.999 || r.TempF != 68 {
    t.Fatalf("DecodeBeacon(below threshold) = %+v, %v", r, err)
  }

  r, err = tilt.DecodeBeacon(at, 0)
  if err != nil || !r.Pro || r.GravitySG != 0.5 || r.TempF != 6.8 {
    t.Fatalf("DecodeBeacon(at threshold) = %+v, %v", r, err)
  }
}

func TestDecodeBeacon_Deterministic(t *testing.T) {
  data := beacon(device.ColorPink, []byte{0x00, 0x41}, []byte{0x04, 0x1a}, 0x0c)

  first, err1 := tilt.DecodeBeacon(data, -80)
  second, err2 := tilt.DecodeBeacon(data, -80)

  if err1 != nil || err2 != nil || !reflect.DeepEqual(first, second) {
    t.Fatalf("DecodeBeacon not deterministic: %+v (%v) vs %+v (%v)", first, err1, second, err2)
  }
}

func TestDecodeBeacon_Rejections(t *testing.T) {
  unknown := beacon(device.ColorRed, []byte{0x00, 0x41}, []byte{0x04, 0x1a}, 0)
  unknown[4] = 0xff

  wrongPreamble := beacon(device.ColorRed, []byte{0x00, 0x41}, []byte{0x04, 0x1a}, 0)
  wrongPreamble[2] = 0x03

  cases := map[string]struct {
    data []byte
    want error
  }{
    "short":          {[]byte{0x4c, 0x00, 0x02, 0x15, 0x01}, device.ErrInvalidData},
    "wrong preamble": {wrongPreamble, device.ErrInvalidData},
    "unknown uuid":   {unknown, device.ErrUnknownDevice},
  }

  for name, c := range cases {
    _, err := tilt.DecodeBeacon(c.data, 0)

    if !errors.Is(err, c.want) {
      t.Errorf("%s: DecodeBeacon(%x) error = %v, wanted %v", name, c.data, err, c.want)
    }
  }
}
