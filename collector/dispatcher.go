package collector

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robertof/gravmon-gateway/ble"
	"github.com/robertof/gravmon-gateway/collector/model"
	"github.com/robertof/gravmon-gateway/device"
	"github.com/robertof/gravmon-gateway/registry"
	"github.com/robertof/gravmon-gateway/utils"
	"github.com/rs/zerolog/log"
)

const (
	DefaultScanTime = 5 * time.Second

	// advertisements received while the previous ones are still being decoded are dropped
	// once this many are pending.
	advertisementQueueSize = 256
)

var (
	decodeFailuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gravmon_gateway_decode_failures_total",
		Help: "Payloads that could not be decoded or stored, by payload kind.",
	}, []string{"kind"})
	droppedAdvertisementsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gravmon_gateway_dropped_advertisements_total",
	})
)

func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(decodeFailuresCounter, droppedAdvertisementsCounter)
}

// Scanner runs a scan until ctx is done. Implemented by *ble.Handle.
type Scanner interface {
	Scan(ctx context.Context, onAdvertisement func(ble.Advertisement)) error
}

// Dispatcher owns the scan lifecycle: it routes advertisements to the decoders, stores
// the readings and collects devices that have to be read over a connection.
type Dispatcher struct {
	ScanTime time.Duration

	scanner Scanner
	fallback *FallbackClient
	tilts *registry.Table[device.TiltReading]
	sensors *registry.Table[device.SensorReading]

	adverts chan ble.Advertisement

	mu sync.Mutex
	scanning bool
	done chan error

	// only touched by the goroutine calling StartScan and WaitForScanCompletion.
	queue []string
	queued map[string]bool
	results []model.Result
}

func NewDispatcher(
	scanner Scanner,
	conn Connector,
	tilts *registry.Table[device.TiltReading],
	sensors *registry.Table[device.SensorReading],
) *Dispatcher {
	return &Dispatcher{
		ScanTime: DefaultScanTime,
		scanner: scanner,
		fallback: NewFallbackClient(conn, sensors),
		tilts: tilts,
		sensors: sensors,
		adverts: make(chan ble.Advertisement, advertisementQueueSize),
		queued: make(map[string]bool),
	}
}

func (d *Dispatcher) Scanning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.scanning
}

// Results returns what was handled during the last scan cycle.
func (d *Dispatcher) Results() []model.Result {
	return d.results
}

// Queued returns the addresses waiting for a connection.
func (d *Dispatcher) Queued() []net.HardwareAddr {
	out := make([]net.HardwareAddr, 0, len(d.queue))

	for _, addr := range d.queue {
		if hw, err := net.ParseMAC(addr); err == nil {
			out = append(out, hw)
		}
	}

	return out
}

// StartScan clears the results of the previous cycle, resets the updated flag of every
// stored reading and starts a timed scan in the background. Does nothing if a scan is
// already running.
func (d *Dispatcher) StartScan(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.scanning {
		log.Trace().Msg("dispatcher: scan already in progress")
		return nil
	}

	d.results = nil
	d.queue = nil
	d.queued = make(map[string]bool)

	d.tilts.ResetUpdated()
	d.sensors.ResetUpdated()

	// advertisements delivered after the previous scan ended are stale.
	d.discardPending()

	done := make(chan error, 1)
	d.done = done
	d.scanning = true

	log.Debug().Dur("ScanTimeSec", d.ScanTime).Msg("dispatcher: starting scan")

	go func() {
		scanCtx, cancel := context.WithTimeout(ctx, d.ScanTime)
		defer cancel()

		err := d.scanner.Scan(scanCtx, d.onAdvertisement)

		// the scan always ends through the context.
		if utils.IsContextDone(err) {
			err = nil
		}

		d.mu.Lock()
		d.scanning = false
		d.mu.Unlock()

		done <- err
	}()

	return nil
}

// Called from the scanner's own goroutine, must not block.
func (d *Dispatcher) onAdvertisement(a ble.Advertisement) {
	select {
	case d.adverts <- a:
	default:
		droppedAdvertisementsCounter.Inc()
		log.Warn().Str("Addr", a.Addr().String()).Msg("dispatcher: advertisement queue full, dropping")
	}
}

func (d *Dispatcher) discardPending() {
	for {
		select {
		case <-d.adverts:
		default:
			return
		}
	}
}

func (d *Dispatcher) handlePending() {
	for {
		select {
		case a := <-d.adverts:
			d.handle(a)
		default:
			return
		}
	}
}

func (d *Dispatcher) enqueue(addr string) {
	if d.queued[addr] {
		return
	}

	d.queued[addr] = true
	d.queue = append(d.queue, addr)
}

// WaitForScanCompletion decodes advertisements until the scan ends, then reads the
// queued devices one at a time.
func (d *Dispatcher) WaitForScanCompletion(ctx context.Context) error {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()

	var scanErr error

	if done != nil {
	loop:
		for {
			select {
			case a := <-d.adverts:
				d.handle(a)
			case scanErr = <-done:
				d.handlePending()
				break loop
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		d.mu.Lock()
		d.done = nil
		d.mu.Unlock()
	}

	if len(d.queue) > 0 {
		log.Debug().
			Array("Addresses", utils.ToZeroLogArray(d.Queued())).
			Msg("dispatcher: connecting to devices without beacon data")
	}

	queue := d.queue
	d.queue = nil

	for _, addr := range queue {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		reading, err := d.fallback.Process(ctx, addr)
		elapsed := time.Since(start)

		if err != nil {
			decodeFailuresCounter.WithLabelValues(model.KindConnect.String()).Inc()
			d.results = append(d.results, model.Result{Kind: model.KindConnect, Addr: addr, Error: err})

			log.Warn().
				Err(err).
				Str("Addr", addr).
				Dur("ElapsedSec", elapsed).
				Msg("Failed to read data from device")

			continue
		}

		d.results = append(d.results, model.Stored(model.KindConnect, addr, reading))

		log.Info().
			Str("Addr", addr).
			Stringer("Reading", reading).
			Dur("ElapsedSec", elapsed).
			Msg("Read data from device")
	}

	if scanErr != nil {
		return fmt.Errorf("scan failed: %w", scanErr)
	}

	return nil
}
