package device

import (
  "fmt"
  "strconv"
)

type Color int8

const (
  ColorRed Color = iota
  ColorGreen
  ColorBlack
  ColorPurple
  ColorOrange
  ColorBlue
  ColorYellow
  ColorPink
)

var AllColors = []Color{
  ColorRed, ColorGreen, ColorBlack, ColorPurple,
  ColorOrange, ColorBlue, ColorYellow, ColorPink,
}

func (c Color) String() string {
  switch (c) {
  case ColorRed:
    return "Red"
  case ColorGreen:
    return "Green"
  case ColorBlack:
    return "Black"
  case ColorPurple:
    return "Purple"
  case ColorOrange:
    return "Orange"
  case ColorBlue:
    return "Blue"
  case ColorYellow:
    return "Yellow"
  case ColorPink:
    return "Pink"
  default:
    panic("Unknown tilt color: " + strconv.Itoa(int(c)))
  }
}

// SourceType tells how a gravitymon reading reached the gateway.
type SourceType uint8

const (
  SourceBeacon SourceType = iota
  SourceEddystone
  SourceExtBeacon
  SourceHttp
)

func (s SourceType) String() string {
  switch (s) {
  case SourceBeacon:
    return "Beacon"
  case SourceEddystone:
    return "EddyStone"
  case SourceExtBeacon:
    return "ExtBeacon"
  case SourceHttp:
    return "Http"
  default:
    panic("Unknown source type: " + strconv.Itoa(int(s)))
  }
}

type TiltReading struct {
  Color
  GravitySG float64
  TempF float64
  RSSI int
  // Recent tilts report battery age in the tx power byte.
  TxPower int
  Pro bool
}

func (r TiltReading) ID() string {
  return r.Color.String()
}

func (r TiltReading) String() string {
  return fmt.Sprintf("Tilt[Color=%v,Gravity=%.4f,TempF=%.1f,RSSI=%d,TxPower=%d,Pro=%v]",
    r.Color, r.GravitySG, r.TempF, r.RSSI, r.TxPower, r.Pro)
}

type SensorReading struct {
  ChipID string
  Name string
  Token string
  Source SourceType
  // Transport address, empty for readings received over HTTP.
  Address string

  Angle float64
  GravitySG float64
  TempC float64
  BatteryVolts float64
  IntervalSeconds int
  RSSI int
}

func (r SensorReading) ID() string {
  return r.ChipID
}

func (r SensorReading) String() string {
  return fmt.Sprintf(
    "Gravitymon[ID=%q,Source=%v,Angle=%.2f,Gravity=%.4f,TempC=%.2f,Battery=%.3f,Interval=%d,RSSI=%d]",
    r.ChipID, r.Source, r.Angle, r.GravitySG, r.TempC, r.BatteryVolts, r.IntervalSeconds, r.RSSI)
}
