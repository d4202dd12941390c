package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robertof/gravmon-gateway/device"
	"github.com/robertof/gravmon-gateway/registry"
	"github.com/robertof/gravmon-gateway/utils"
	"github.com/rs/zerolog/log"
)

const (
	DefaultResendTime = 300 * time.Second

	maxHistoryEntries = 9
)

var pushesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "gravmon_gateway_pushes_total",
	Help: "Payloads delivered to sinks, by sink and outcome.",
}, []string{"sink", "result"})

func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(pushesCounter)
}

// Sample values used for test pushes.
var SampleReading = Reading{
	Angle: 45,
	GravitySG: 1.030,
	TempC: 22.1,
	BatteryVolts: 4.12,
	IntervalSeconds: 900,
}

// Controller pushes every fresh reading whose last push is older than ResendTime.
type Controller struct {
	ResendTime time.Duration
	PushTilts bool

	formatter *Formatter
	sinks []Sink

	sensors *registry.Table[device.SensorReading]
	remote *registry.Table[device.SensorReading]
	tilts *registry.Table[device.TiltReading]

	now func() time.Time

	mu sync.Mutex
	// oldest first.
	history []string
	last map[string]Result
}

func NewController(
	formatter *Formatter,
	sinks []Sink,
	sensors, remote *registry.Table[device.SensorReading],
	tilts *registry.Table[device.TiltReading],
) *Controller {
	return &Controller{
		ResendTime: DefaultResendTime,
		formatter: formatter,
		sinks: sinks,
		sensors: sensors,
		remote: remote,
		tilts: tilts,
		now: time.Now,
		last: make(map[string]Result),
	}
}

func (c *Controller) Formatter() *Formatter {
	return c.formatter
}

// History returns the latest pushes, newest first.
func (c *Controller) History() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return utils.Reverse(c.history)
}

// LastResult returns the outcome of the latest delivery to the named sink.
func (c *Controller) LastResult(sink string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.last[sink]
	return r, ok
}

func (c *Controller) addHistory(r Reading) {
	temp := r.TempC
	tempUnit := TempUnitC

	if c.formatter.TempUnit == TempUnitF {
		temp = device.ConvertCtoF(temp)
		tempUnit = TempUnitF
	}

	gravity, gravityUnit := r.GravitySG, "SG"

	if c.formatter.GravityUnit == GravityUnitPlato {
		gravity, gravityUnit = device.ConvertToPlato(gravity), "P"
	}

	entry := fmt.Sprintf("%s %s %.3f%s %.1f%s",
		c.now().Format("15:04:05"), r.ID, gravity, gravityUnit, temp, tempUnit)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = utils.AppendBounded(c.history, maxHistoryEntries, entry)
}

func (c *Controller) send(ctx context.Context, s Sink, payload string) Result {
	res := s.Send(ctx, payload)

	outcome := "success"

	if !res.Success {
		outcome = "failure"
	}

	pushesCounter.WithLabelValues(s.Name(), outcome).Inc()

	c.mu.Lock()
	c.last[s.Name()] = res
	c.mu.Unlock()

	return res
}

// SendAll renders r for every sink and delivers it.
func (c *Controller) SendAll(ctx context.Context, r Reading) {
	for _, s := range c.sinks {
		payload := c.formatter.Render(s.Template(), r)
		res := c.send(ctx, s, payload)

		if res.Success {
			log.Debug().
				Str("Sink", s.Name()).
				Str("ID", r.ID).
				Int("Code", res.Code).
				Msg("push: delivered")
		} else {
			log.Warn().
				Err(res.Err).
				Str("Sink", s.Name()).
				Str("ID", r.ID).
				Int("Code", res.Code).
				Msg("Push to sink failed")
		}
	}
}

func pushTable[T any](
	ctx context.Context,
	c *Controller,
	table *registry.Table[T],
	convert func(T) Reading,
) {
	for idx := 0; idx < table.Capacity(); idx++ {
		if ctx.Err() != nil {
			return
		}

		e := table.Get(idx)

		if e.ID == "" || !e.Updated || table.PushAge(e) <= c.ResendTime {
			continue
		}

		r := convert(e.Reading)

		log.Info().
			Str("Table", table.Name).
			Str("ID", r.ID).
			Float64("Angle", r.Angle).
			Float64("Gravity", r.GravitySG).
			Float64("TempC", r.TempC).
			Float64("Battery", r.BatteryVolts).
			Msg("Pushing reading")

		c.addHistory(r)
		c.SendAll(ctx, r)
		table.MarkPushed(idx)
	}
}

// Push delivers the readings of the gravitymon tables and, when enabled, the tilt table.
func (c *Controller) Push(ctx context.Context) {
	if c.PushTilts && c.tilts != nil {
		pushTable(ctx, c, c.tilts, FromTilt)
	}

	pushTable(ctx, c, c.sensors, FromSensor)

	if c.remote != nil {
		pushTable(ctx, c, c.remote, FromSensor)
	}
}

// Sink returns the enabled sink with the given name.
func (c *Controller) Sink(name string) (Sink, bool) {
	for _, s := range c.sinks {
		if s.Name() == name {
			return s, true
		}
	}

	return nil, false
}

// PushTest sends the sample reading to the named sink.
func (c *Controller) PushTest(ctx context.Context, name string) (res Result, enabled bool) {
	s, ok := c.Sink(name)

	if !ok {
		return res, false
	}

	r := SampleReading
	r.ID = c.formatter.GatewayID

	payload := c.formatter.Render(s.Template(), r)

	log.Info().Str("Sink", name).Msg("Sending test push")

	return c.send(ctx, s, payload), true
}
