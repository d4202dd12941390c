package collector

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/robertof/gravmon-gateway/ble"
	"github.com/robertof/gravmon-gateway/device"
	"github.com/robertof/gravmon-gateway/device/gravitymon"
	"github.com/robertof/gravmon-gateway/registry"
	"github.com/rs/zerolog/log"
)

var (
	ErrServiceNotFound = errors.New("data service not found")
	ErrCharacteristicNotFound = errors.New("data characteristic not found")
	ErrNotReadable = errors.New("data characteristic is not readable")
)

// Connector opens and tracks GATT clients. Implemented by *ble.Handle.
type Connector interface {
	Pooled(addr string) (ble.Client, bool)
	Release(addr string)
	Connections() int
	MaxConnections() int
	Dial(ctx context.Context, addr string) (ble.Client, error)
	Disconnect(addr string) error
}

type connState uint8

const (
	connStateIdle connState = iota
	connStateConnecting
	connStateServiceLookup
	connStateCharacteristicRead
	connStateDisconnected
)

func (s connState) String() string {
	switch s {
	case connStateIdle:
		return "Idle"
	case connStateConnecting:
		return "Connecting"
	case connStateServiceLookup:
		return "ServiceLookup"
	case connStateCharacteristicRead:
		return "CharacteristicRead"
	case connStateDisconnected:
		return "Disconnected"
	default:
		panic("unknown connState value: " + strconv.Itoa(int(s)))
	}
}

type connectDecision uint8

const (
	connectReuse connectDecision = iota
	connectDial
	connectFail
)

// A pooled client is reused only when its link is still up. Otherwise a new client is
// dialed if the connection limit allows it.
func decideConnect(hasHandle, reconnected, underLimit bool) connectDecision {
	switch {
	case hasHandle && reconnected:
		return connectReuse
	case underLimit:
		return connectDial
	default:
		return connectFail
	}
}

// FallbackClient reads the data characteristic of gravitymon devices which advertise
// neither a beacon nor JSON.
type FallbackClient struct {
	conn Connector
	sensors *registry.Table[device.SensorReading]

	state connState
	// invoked on every state change, if set.
	onTransition func(from, to connState)
}

func NewFallbackClient(conn Connector, sensors *registry.Table[device.SensorReading]) *FallbackClient {
	return &FallbackClient{
		conn: conn,
		sensors: sensors,
	}
}

func (f *FallbackClient) setState(s connState) {
	if f.onTransition != nil {
		f.onTransition(f.state, s)
	}

	log.Trace().
		Stringer("From", f.state).
		Stringer("To", s).
		Msg("fallback: state change")

	f.state = s
}

func (f *FallbackClient) connect(ctx context.Context, addr string) (ble.Client, error) {
	existing, hasHandle := f.conn.Pooled(addr)
	reconnected := hasHandle && ble.IsConnected(existing)

	if hasHandle && !reconnected {
		log.Debug().Str("Addr", addr).Msg("fallback: pooled client lost its link, dropping it")
		f.conn.Release(addr)
	}

	underLimit := f.conn.Connections() < f.conn.MaxConnections()

	switch decideConnect(hasHandle, reconnected, underLimit) {
	case connectReuse:
		return existing, nil
	case connectDial:
		return f.conn.Dial(ctx, addr)
	default:
		return nil, ble.ErrTooManyConnections
	}
}

func findCharacteristic(client ble.Client) (*ble.Characteristic, error) {
	svcUUID := ble.UUID16(gravitymon.DataServiceUUID)
	charUUID := ble.UUID16(gravitymon.DataCharacteristicUUID)

	services, err := client.DiscoverServices([]ble.UUID{svcUUID})

	if err != nil {
		return nil, fmt.Errorf("cannot discover services: %w", err)
	}

	var svc *ble.Service

	for _, s := range services {
		if s.UUID.Equal(svcUUID) {
			svc = s
			break
		}
	}

	if svc == nil {
		return nil, ErrServiceNotFound
	}

	chars, err := client.DiscoverCharacteristics([]ble.UUID{charUUID}, svc)

	if err != nil {
		return nil, fmt.Errorf("cannot discover characteristics: %w", err)
	}

	for _, c := range chars {
		if !c.UUID.Equal(charUUID) {
			continue
		}

		if c.Property & ble.CharRead == 0 {
			return nil, ErrNotReadable
		}

		return c, nil
	}

	return nil, ErrCharacteristicNotFound
}

// Read connects to addr, reads and decodes the data characteristic and disconnects.
func (f *FallbackClient) Read(ctx context.Context, addr string) (reading device.SensorReading, err error) {
	f.setState(connStateConnecting)

	client, err := f.connect(ctx, addr)

	if err != nil {
		f.setState(connStateIdle)
		return reading, fmt.Errorf("failed to connect to device: %w", err)
	}

	defer func() {
		f.setState(connStateDisconnected)

		if err := f.conn.Disconnect(addr); err != nil {
			log.Debug().Err(err).Str("Addr", addr).Msg("fallback: disconnect failed")
		}

		f.setState(connStateIdle)
	}()

	f.setState(connStateServiceLookup)

	c, err := findCharacteristic(client)

	if err != nil {
		return reading, err
	}

	f.setState(connStateCharacteristicRead)

	data, err := client.ReadCharacteristic(c)

	if err != nil {
		return reading, fmt.Errorf("failed to read characteristic '%v': %w", c.UUID, err)
	}

	log.Trace().Str("Addr", addr).Bytes("Data", data).Msg("fallback: read characteristic")

	reading, err = gravitymon.DecodeCharacteristicJSON(data)

	if err != nil {
		return reading, err
	}

	reading.Address = addr

	return reading, nil
}

// Process reads addr and stores the result in the sensor table.
func (f *FallbackClient) Process(ctx context.Context, addr string) (device.SensorReading, error) {
	reading, err := f.Read(ctx, addr)

	if err != nil {
		return reading, err
	}

	if _, err := f.sensors.Put(reading.ID(), reading); err != nil {
		return reading, fmt.Errorf("cannot store reading for %q: %w", reading.ID(), err)
	}

	return reading, nil
}
