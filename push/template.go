// Package push renders readings into the payload formats of the configured sinks and
// delivers them.
package push

import (
	"sort"
	"strconv"
	"strings"

	"github.com/robertof/gravmon-gateway/device"
	"golang.org/x/exp/maps"
)

const (
	decimalsSG = 4
	decimalsPlato = 1
	decimalsTemp = 1
	decimalsBattery = 2
	decimalsAngle = 3
	decimalsRunTime = 2
)

const (
	TempUnitC = "C"
	TempUnitF = "F"

	GravityUnitSG = "G"
	GravityUnitPlato = "P"
)

// Reading is the sensor-independent input of a template.
type Reading struct {
	ID string
	Name string
	Token string

	Angle float64
	GravitySG float64
	TempC float64
	BatteryVolts float64
	IntervalSeconds int
	RSSI int
}

func FromSensor(r device.SensorReading) Reading {
	return Reading{
		ID: r.ID(),
		Name: r.Name,
		Token: r.Token,
		Angle: r.Angle,
		GravitySG: r.GravitySG,
		TempC: r.TempC,
		BatteryVolts: r.BatteryVolts,
		IntervalSeconds: r.IntervalSeconds,
		RSSI: r.RSSI,
	}
}

func FromTilt(r device.TiltReading) Reading {
	return Reading{
		ID: r.ID(),
		GravitySG: r.GravitySG,
		TempC: device.ConvertFtoC(r.TempF),
		RSSI: r.RSSI,
	}
}

// Options are the gateway wide settings affecting rendering.
type Options struct {
	// Identifies the gateway itself, used by test pushes.
	GatewayID string
	// Fallback for readings without a name.
	Name string
	// Fallback for readings without a token.
	Token string
	TempUnit string
	GravityUnit string

	AppVersion string
	AppBuild string
}

func formatFloat(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}

	return v
}

// Fields returns the value of every placeholder, keyed by placeholder name.
func Fields(r Reading, opts Options) map[string]string {
	// no gravity correction and no run time on the gateway.
	corrGravitySG := r.GravitySG
	runTime := 0.0

	token := orDefault(r.Token, opts.Token)

	f := map[string]string{
		"mdns": orDefault(r.Name, opts.Name),
		"id": r.ID,
		"token": token,
		"token2": token,
		"sleep-interval": strconv.Itoa(r.IntervalSeconds),

		"temp-c": formatFloat(r.TempC, decimalsTemp),
		"temp-f": formatFloat(device.ConvertCtoF(r.TempC), decimalsTemp),
		"temp-unit": opts.TempUnit,

		"battery": formatFloat(r.BatteryVolts, decimalsBattery),
		"battery-percent": strconv.Itoa(device.BatteryPercent(r.BatteryVolts)),

		"run-time": formatFloat(runTime, decimalsRunTime),
		"rssi": strconv.Itoa(r.RSSI),

		"angle": formatFloat(r.Angle, decimalsAngle),
		"tilt": formatFloat(r.Angle, decimalsAngle),

		"gravity-sg": formatFloat(r.GravitySG, decimalsSG),
		"gravity-plato": formatFloat(device.ConvertToPlato(r.GravitySG), decimalsPlato),
		"corr-gravity-sg": formatFloat(corrGravitySG, decimalsSG),
		"corr-gravity-plato": formatFloat(device.ConvertToPlato(corrGravitySG), decimalsPlato),
		"gravity-unit": opts.GravityUnit,

		"app-ver": opts.AppVersion,
		"app-build": opts.AppBuild,
	}

	if opts.TempUnit == TempUnitF {
		f["temp"] = f["temp-f"]
	} else {
		f["temp"] = f["temp-c"]
	}

	if opts.GravityUnit == GravityUnitPlato {
		f["gravity"] = f["gravity-plato"]
		f["corr-gravity"] = f["corr-gravity-plato"]
	} else {
		f["gravity"] = f["gravity-sg"]
		f["corr-gravity"] = f["corr-gravity-sg"]
	}

	return f
}

// Render replaces every ${name} in tpl with fields[name]. Placeholders without a value
// are left untouched.
func Render(tpl string, fields map[string]string) string {
	names := maps.Keys(fields)
	sort.Strings(names)

	pairs := make([]string, 0, 2*len(names))

	for _, name := range names {
		pairs = append(pairs, "${"+name+"}", fields[name])
	}

	return strings.NewReplacer(pairs...).Replace(tpl)
}
