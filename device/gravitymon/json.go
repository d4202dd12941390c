package gravitymon

import (
  "bytes"
  "encoding/json"
  "math"
  "strconv"
  "strings"

  "github.com/pkg/errors"
  "github.com/robertof/gravmon-gateway/device"
)

// Senders are not consistent about value types: the iSpindel firmware posts a
// numeric ID and some builds report RSSI as a float or the interval as a string.
// Values of an unexpected type are coerced, unusable ones decode to zero.

type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
  b = bytes.TrimSpace(b)

  switch {
  case len(b) == 0 || bytes.Equal(b, []byte("null")):
    *s = ""
  case b[0] == '"':
    var v string

    if err := json.Unmarshal(b, &v); err != nil {
      return err
    }

    *s = looseString(v)
  case b[0] == '{' || b[0] == '[':
    *s = ""
  default:
    // numbers and booleans keep their literal text
    *s = looseString(b)
  }

  return nil
}

type looseFloat float64

func (f *looseFloat) UnmarshalJSON(b []byte) error {
  b = bytes.TrimSpace(b)
  text := string(b)

  if len(b) > 0 && b[0] == '"' {
    if err := json.Unmarshal(b, &text); err != nil {
      return err
    }
  }

  v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)

  if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
    v = 0
  }

  *f = looseFloat(v)
  return nil
}

type looseInt int

// Fractions are truncated.
func (i *looseInt) UnmarshalJSON(b []byte) error {
  var f looseFloat

  if err := f.UnmarshalJSON(b); err != nil {
    return err
  }

  *i = looseInt(math.Trunc(float64(f)))
  return nil
}

// The extended beacon advertises "temp" while the characteristic read over GATT
// and the HTTP post use "temperature".
type extBeaconPayload struct {
  ID looseString `json:"ID"`
  Temp looseFloat `json:"temp"`
  TempUnits looseString `json:"temp_units"`
  Gravity looseFloat `json:"gravity"`
  Angle looseFloat `json:"angle"`
  Battery looseFloat `json:"battery"`
  RSSI looseInt `json:"RSSI"`
  Name looseString `json:"name"`
  Token looseString `json:"token"`
  Interval looseInt `json:"interval"`
}

type devicePayload struct {
  ID looseString `json:"ID"`
  Temperature looseFloat `json:"temperature"`
  TempUnits looseString `json:"temp_units"`
  Gravity looseFloat `json:"gravity"`
  Angle looseFloat `json:"angle"`
  Battery looseFloat `json:"battery"`
  RSSI looseInt `json:"RSSI"`
  Name looseString `json:"name"`
  Token looseString `json:"token"`
  Interval looseInt `json:"interval"`
}

func toCelsius(temp float64, units string) float64 {
  if units == "C" {
    return temp
  }

  return device.ConvertFtoC(temp)
}

func unmarshal(data []byte, v any) error {
  if err := json.Unmarshal(data, v); err != nil {
    return errors.Wrapf(device.ErrInvalidData, "gravitymon: failed to parse json: %v", err)
  }

  return nil
}

// DecodeExtBeaconJSON parses the JSON carried in the service data of an extended beacon.
func DecodeExtBeaconJSON(data []byte) (reading device.SensorReading, err error) {
  var in extBeaconPayload

  if err = unmarshal(data, &in); err != nil {
    return reading, err
  }

  if strings.TrimSpace(string(in.ID)) == "" {
    return reading, errors.Wrap(device.ErrInvalidData, "gravitymon: ext beacon without ID")
  }

  reading = device.SensorReading{
    ChipID: string(in.ID),
    Name: string(in.Name),
    Token: string(in.Token),
    Source: device.SourceExtBeacon,
    Angle: float64(in.Angle),
    GravitySG: float64(in.Gravity),
    TempC: toCelsius(float64(in.Temp), string(in.TempUnits)),
    BatteryVolts: float64(in.Battery),
    IntervalSeconds: int(in.Interval),
    RSSI: int(in.RSSI),
  }

  return reading, nil
}

func decodeDevicePayload(data []byte, source device.SourceType) (reading device.SensorReading, err error) {
  var in devicePayload

  if err = unmarshal(data, &in); err != nil {
    return reading, err
  }

  if strings.TrimSpace(string(in.ID)) == "" {
    return reading, errors.Wrap(device.ErrInvalidData, "gravitymon: payload without ID")
  }

  reading = device.SensorReading{
    ChipID: string(in.ID),
    Name: string(in.Name),
    Token: string(in.Token),
    Source: source,
    Angle: float64(in.Angle),
    GravitySG: float64(in.Gravity),
    TempC: toCelsius(float64(in.Temperature), string(in.TempUnits)),
    BatteryVolts: float64(in.Battery),
    IntervalSeconds: int(in.Interval),
    RSSI: int(in.RSSI),
  }

  return reading, nil
}

// DecodeCharacteristicJSON parses the value read from the gravitymon data characteristic.
func DecodeCharacteristicJSON(data []byte) (device.SensorReading, error) {
  return decodeDevicePayload(data, device.SourceExtBeacon)
}

// DecodeRemotePostJSON parses the iSpindel compatible body posted by devices over HTTP.
func DecodeRemotePostJSON(data []byte) (device.SensorReading, error) {
  return decodeDevicePayload(data, device.SourceHttp)
}
