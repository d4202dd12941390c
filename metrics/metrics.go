package metrics

import (
  "github.com/prometheus/client_golang/prometheus"
  "github.com/robertof/gravmon-gateway/device"
  "github.com/robertof/gravmon-gateway/registry"
)

var (
  sensorLabels = []string{"id", "name", "endpoint"}

  descGravity = prometheus.NewDesc(
    "gravmon_gravity_sg",
    "Specific gravity reported by the hydrometer.",
    sensorLabels,
    nil,
  )

  descTemperature = prometheus.NewDesc(
    "gravmon_temperature_celsius",
    "Temperature reported by the hydrometer in Celsius.",
    sensorLabels,
    nil,
  )

  descBattery = prometheus.NewDesc(
    "gravmon_battery_volts",
    "Battery voltage reported by the hydrometer.",
    sensorLabels,
    nil,
  )

  descAngle = prometheus.NewDesc(
    "gravmon_angle_degrees",
    "Tilt angle reported by the hydrometer.",
    sensorLabels,
    nil,
  )

  descRSSI = prometheus.NewDesc(
    "gravmon_rssi_dbm",
    "Signal strength of the last reading.",
    sensorLabels,
    nil,
  )

  descUpdateAge = prometheus.NewDesc(
    "gravmon_update_age_seconds",
    "Seconds since the last reading was received.",
    sensorLabels,
    nil,
  )

  descTiltGravity = prometheus.NewDesc(
    "tilt_gravity_sg",
    "Specific gravity reported by the Tilt.",
    []string{"color"},
    nil,
  )

  descTiltTemperature = prometheus.NewDesc(
    "tilt_temperature_celsius",
    "Temperature reported by the Tilt in Celsius.",
    []string{"color"},
    nil,
  )
)

// SensorTable binds a registry table to the endpoint label its readings are
// exported with ("ble" or "wifi").
type SensorTable struct {
  Endpoint string
  Table *registry.Table[device.SensorReading]
}

type collector struct {
  tilts *registry.Table[device.TiltReading]
  sensors []SensorTable
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
  prometheus.DescribeByCollect(c, ch)
}

func gauge(desc *prometheus.Desc, v float64, labels ...string) prometheus.Metric {
  return prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, labels...)
}

func (c *collector) collectSensors(ch chan<- prometheus.Metric, s SensorTable) {
  for _, e := range s.Table.Occupied() {
    // allocated but never written
    if e.UpdatedAt.IsZero() {
      continue
    }

    r := e.Reading
    labels := []string{e.ID, r.Name, s.Endpoint}
    ts := e.UpdatedAt

    ch <- prometheus.NewMetricWithTimestamp(ts, gauge(descGravity, r.GravitySG, labels...))
    ch <- prometheus.NewMetricWithTimestamp(ts, gauge(descTemperature, r.TempC, labels...))
    ch <- prometheus.NewMetricWithTimestamp(ts, gauge(descBattery, r.BatteryVolts, labels...))
    ch <- prometheus.NewMetricWithTimestamp(ts, gauge(descAngle, r.Angle, labels...))

    if r.RSSI != 0 {
      ch <- prometheus.NewMetricWithTimestamp(ts, gauge(descRSSI, float64(r.RSSI), labels...))
    }

    ch <- gauge(descUpdateAge, s.Table.UpdateAge(e).Seconds(), labels...)
  }
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
  for _, s := range c.sensors {
    c.collectSensors(ch, s)
  }

  if c.tilts == nil {
    return
  }

  for _, e := range c.tilts.Occupied() {
    if e.UpdatedAt.IsZero() {
      continue
    }

    color := e.Reading.Color.String()

    ch <- prometheus.NewMetricWithTimestamp(
      e.UpdatedAt,
      gauge(descTiltGravity, e.Reading.GravitySG, color),
    )

    ch <- prometheus.NewMetricWithTimestamp(
      e.UpdatedAt,
      gauge(descTiltTemperature, device.ConvertFtoC(e.Reading.TempF), color),
    )
  }
}

func RegisterCollector(
  tilts *registry.Table[device.TiltReading],
  sensors []SensorTable,
  reg prometheus.Registerer,
) {
  c := &collector{tilts: tilts, sensors: sensors}

  reg.MustRegister(c)
}
