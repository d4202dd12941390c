package collector

import (
	"context"
	"sync"
	"sync/atomic"

	ble_mod "github.com/go-ble/ble"
	"github.com/robertof/gravmon-gateway/ble"
)

type FakeAdvertisement struct {
	name string
	manufacturerData []byte
	serviceData []ble_mod.ServiceData
	addr ble_mod.Addr
	rssi int
}

func (f FakeAdvertisement) LocalName() string {
	return f.name
}

func (f FakeAdvertisement) ManufacturerData() []byte {
	return f.manufacturerData
}

func (f FakeAdvertisement) ServiceData() []ble_mod.ServiceData {
	return f.serviceData
}

func (f FakeAdvertisement) Services() []ble_mod.UUID {
	return nil
}

func (f FakeAdvertisement) OverflowService() []ble_mod.UUID {
	return nil
}

func (f FakeAdvertisement) TxPowerLevel() int {
	return 0
}

func (f FakeAdvertisement) Connectable() bool {
	return true
}

func (f FakeAdvertisement) SolicitedService() []ble_mod.UUID {
	return nil
}

func (f FakeAdvertisement) RSSI() int {
	return f.rssi
}

func (f FakeAdvertisement) Addr() ble_mod.Addr {
	return f.addr
}

// fakeClient only implements the calls made by the fallback client.
type fakeClient struct {
	ble_mod.Client

	services []*ble_mod.Service
	characteristics []*ble_mod.Characteristic
	data []byte
	readErr error

	reads int
	closeOnce sync.Once
	disconnected chan struct{}
}

func newFakeClient(data []byte, property ble_mod.Property) *fakeClient {
	svc := &ble_mod.Service{UUID: ble_mod.UUID16(0x180a)}

	return &fakeClient{
		services: []*ble_mod.Service{svc},
		characteristics: []*ble_mod.Characteristic{
			{UUID: ble_mod.UUID16(0x2ac4), Property: property},
		},
		data: data,
		disconnected: make(chan struct{}),
	}
}

func (c *fakeClient) DiscoverServices(filter []ble_mod.UUID) ([]*ble_mod.Service, error) {
	return c.services, nil
}

func (c *fakeClient) DiscoverCharacteristics(filter []ble_mod.UUID, s *ble_mod.Service) ([]*ble_mod.Characteristic, error) {
	return c.characteristics, nil
}

func (c *fakeClient) ReadCharacteristic(char *ble_mod.Characteristic) ([]byte, error) {
	c.reads += 1
	return c.data, c.readErr
}

func (c *fakeClient) CancelConnection() error {
	c.closeOnce.Do(func() { close(c.disconnected) })
	return nil
}

func (c *fakeClient) Disconnected() <-chan struct{} {
	return c.disconnected
}

type fakeConnector struct {
	pool map[string]ble.Client
	max int

	// clients handed out by Dial, by address.
	clients map[string]*fakeClient
	dialed []string
	released []string
	disconnected []string
}

func newFakeConnector(max int) *fakeConnector {
	return &fakeConnector{
		pool: make(map[string]ble.Client),
		max: max,
		clients: make(map[string]*fakeClient),
	}
}

func (f *fakeConnector) Pooled(addr string) (ble.Client, bool) {
	c, ok := f.pool[addr]
	return c, ok
}

func (f *fakeConnector) Release(addr string) {
	f.released = append(f.released, addr)
	delete(f.pool, addr)
}

func (f *fakeConnector) Connections() int {
	return len(f.pool)
}

func (f *fakeConnector) MaxConnections() int {
	return f.max
}

func (f *fakeConnector) Dial(ctx context.Context, addr string) (ble.Client, error) {
	f.dialed = append(f.dialed, addr)

	c, ok := f.clients[addr]

	if !ok {
		return nil, context.DeadlineExceeded
	}

	f.pool[addr] = c

	return c, nil
}

func (f *fakeConnector) Disconnect(addr string) error {
	f.disconnected = append(f.disconnected, addr)

	if c, ok := f.pool[addr]; ok {
		delete(f.pool, addr)
		return c.CancelConnection()
	}

	return nil
}

// fakeScanner reports its advertisements and then waits for the scan to time out.
type fakeScanner struct {
	adverts []ble.Advertisement
	scans atomic.Int32
}

func (s *fakeScanner) Scan(ctx context.Context, onAdvertisement func(ble.Advertisement)) error {
	s.scans.Add(1)

	for _, a := range s.adverts {
		onAdvertisement(a)
	}

	<-ctx.Done()

	return ctx.Err()
}
