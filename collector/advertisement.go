package collector

import (
	"github.com/robertof/gravmon-gateway/ble"
	"github.com/robertof/gravmon-gateway/collector/model"
	"github.com/robertof/gravmon-gateway/device/gravitymon"
	"github.com/robertof/gravmon-gateway/device/tilt"
	"github.com/robertof/gravmon-gateway/registry"
	"github.com/rs/zerolog/log"
)

func serviceData(a ble.Advertisement, id uint16) ([]byte, bool) {
	u := ble.UUID16(id)

	for _, sd := range a.ServiceData() {
		if sd.UUID.Equal(u) {
			return sd.Data, true
		}
	}

	return nil, false
}

func (d *Dispatcher) handle(a ble.Advertisement) {
	addr := a.Addr().String()

	log.Trace().
		Str("Addr", addr).
		Str("LocalName", a.LocalName()).
		Hex("ManufacturerData", a.ManufacturerData()).
		Interface("ServiceData", a.ServiceData()).
		Msg("dispatcher: received advertisement")

	if a.LocalName() == gravitymon.LocalName {
		if frame, ok := serviceData(a, gravitymon.EddystoneServiceUUID); ok {
			reading, err := gravitymon.DecodeEddystoneFrame(frame)

			if err == nil {
				reading.Address = addr
				reading.RSSI = a.RSSI()
			}

			store(d, d.sensors, model.KindEddystone, addr, reading, err)
		} else if marker, _ := serviceData(a, gravitymon.MarkerServiceUUID); string(marker) == gravitymon.ExtBeaconMarker {
			data, _ := serviceData(a, gravitymon.DataServiceUUID)
			reading, err := gravitymon.DecodeExtBeaconJSON(data)

			if err == nil {
				reading.Address = addr

				if reading.RSSI == 0 {
					reading.RSSI = a.RSSI()
				}
			}

			store(d, d.sensors, model.KindExtBeacon, addr, reading, err)
		} else {
			log.Debug().Str("Addr", addr).Msg("dispatcher: gravitymon without beacon data, queueing connect")
			d.enqueue(addr)
		}
	}

	md := a.ManufacturerData()

	switch {
	case tilt.IsBeacon(md):
		reading, err := tilt.DecodeBeacon(md, a.RSSI())
		store(d, d.tilts, model.KindTiltBeacon, addr, reading, err)
	case gravitymon.IsBeacon(md):
		reading, err := gravitymon.DecodeIBeacon(md)

		if err == nil {
			reading.Address = addr
			reading.RSSI = a.RSSI()
		}

		store(d, d.sensors, model.KindIBeacon, addr, reading, err)
	}
}

func store[R interface{ ID() string; String() string }](
	d *Dispatcher,
	table *registry.Table[R],
	kind model.Kind,
	addr string,
	reading R,
	err error,
) {
	if err == nil {
		_, err = table.Put(reading.ID(), reading)

		if err != nil {
			log.Error().
				Err(err).
				Str("Table", table.Name).
				Str("ID", reading.ID()).
				Msg("No free slot for device, dropping reading")
		}
	} else {
		log.Debug().
			Err(err).
			Str("Addr", addr).
			Stringer("Kind", kind).
			Msg("dispatcher: rejected payload")
	}

	if err != nil {
		decodeFailuresCounter.WithLabelValues(kind.String()).Inc()
		d.results = append(d.results, model.Result{Kind: kind, Addr: addr, Error: err})
		return
	}

	log.Debug().
		Str("Addr", addr).
		Stringer("Reading", reading).
		Msg("dispatcher: stored reading")

	d.results = append(d.results, model.Stored(kind, addr, reading))
}
