package collector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	ble_mod "github.com/go-ble/ble"
	"github.com/robertof/gravmon-gateway/ble"
	"github.com/robertof/gravmon-gateway/collector/model"
	"github.com/robertof/gravmon-gateway/device"
	"github.com/robertof/gravmon-gateway/device/tilt"
	"github.com/robertof/gravmon-gateway/registry"
)

func tiltAdvertisement(addr string) FakeAdvertisement {
	u := tilt.ColorUUID(device.ColorRed)

	data := append([]byte{}, tilt.Preamble...)
	data = append(data, u[:]...)
	data = append(data, 0x00, 0x44, 0x04, 0x1a, 0xc5)

	return FakeAdvertisement{
		manufacturerData: data,
		addr: ble_mod.NewAddr(addr),
		rssi: -55,
	}
}

func iBeaconAdvertisement(addr string, chip byte) FakeAdvertisement {
	return FakeAdvertisement{
		manufacturerData: []byte{
			0x4c, 0x00, 0x03, 0x15,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0xfa, chip,
			0x0b, 0xb8,
			0x10, 0x04,
			0x29, 0x04,
			0x4e, 0x20,
		},
		addr: ble_mod.NewAddr(addr),
		rssi: -60,
	}
}

func eddystoneAdvertisement(addr string) FakeAdvertisement {
	return FakeAdvertisement{
		name: "gravitymon",
		serviceData: []ble_mod.ServiceData{{
			UUID: ble_mod.UUID16(0xfeaa),
			Data: []byte{
				0x20, 0x00,
				0x0c, 0x8b, // battery
				0x10, 0x8b, // temperature
				0x29, 0x04, // gravity
				0x30, 0x39, // angle
				0x00, 0x00, 0x16, 0x2e, // chip id
			},
		}},
		addr: ble_mod.NewAddr(addr),
		rssi: -65,
	}
}

func extBeaconAdvertisement(addr string) FakeAdvertisement {
	return FakeAdvertisement{
		name: "gravitymon",
		serviceData: []ble_mod.ServiceData{
			{UUID: ble_mod.UUID16(0x1801), Data: []byte("gravitymon_ext")},
			{UUID: ble_mod.UUID16(0x180a), Data: []byte(`{"ID":"ext1","temp":18.5,"temp_units":"C","gravity":1.02}`)},
		},
		addr: ble_mod.NewAddr(addr),
		rssi: -70,
	}
}

func newTestDispatcher(adverts ...ble.Advertisement) (*Dispatcher, *fakeScanner, *fakeConnector) {
	scanner := &fakeScanner{adverts: adverts}
	conn := newFakeConnector(3)

	d := NewDispatcher(
		scanner,
		conn,
		registry.NewTable[device.TiltReading]("tilt", device.MaxDevices),
		newSensorTable(),
	)
	d.ScanTime = 20 * time.Millisecond

	return d, scanner, conn
}

func runCycle(t *testing.T, d *Dispatcher) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.StartScan(ctx); err != nil {
		t.Fatalf("StartScan got error: %v", err)
	}

	if err := d.WaitForScanCompletion(ctx); err != nil {
		t.Fatalf("WaitForScanCompletion got error: %v", err)
	}
}

func TestDispatcherRoutesAdvertisements(t *testing.T) {
	plain := FakeAdvertisement{name: "gravitymon", addr: ble_mod.NewAddr(testAddr)}

	d, _, conn := newTestDispatcher(
		tiltAdvertisement("aa:bb:cc:00:00:01"),
		iBeaconAdvertisement("aa:bb:cc:00:00:02", 0x41),
		eddystoneAdvertisement("aa:bb:cc:00:00:03"),
		extBeaconAdvertisement("aa:bb:cc:00:00:04"),
		plain,
		plain,
		FakeAdvertisement{name: "someone else", manufacturerData: []byte{0x4c, 0x00, 0x02, 0x15}, addr: ble_mod.NewAddr("aa:bb:cc:00:00:05")},
	)
	conn.clients[testAddr] = newFakeClient(characteristicJSON, ble_mod.CharRead)

	runCycle(t, d)

	tilts := d.tilts.Occupied()

	if len(tilts) != 1 || tilts[0].ID != "Red" || tilts[0].Reading.TempF != 68 || tilts[0].Reading.RSSI != -55 {
		t.Fatalf("unexpected tilt table %+v", tilts)
	}

	got := make(map[string]device.SensorReading)

	for _, e := range d.sensors.Occupied() {
		got[e.ID] = e.Reading
	}

	want := map[string]device.SourceType{
		"  fa41": device.SourceBeacon,
		"  162e": device.SourceEddystone,
		"ext1": device.SourceExtBeacon,
		"fa41": device.SourceExtBeacon,
	}

	if len(got) != len(want) {
		t.Fatalf("got sensors %v, want ids %v", got, want)
	}

	for id, source := range want {
		r, ok := got[id]

		if !ok || r.Source != source {
			t.Errorf("sensor %q: got %+v (found %v), want source %v", id, r, ok, source)
		}
	}

	if got["  162e"].RSSI != -65 || got["  162e"].Address != "aa:bb:cc:00:00:03" {
		t.Errorf("eddystone reading misses transport data: %+v", got["  162e"])
	}

	if got["ext1"].RSSI != -70 || got["ext1"].TempC != 18.5 {
		t.Errorf("unexpected ext beacon reading %+v", got["ext1"])
	}

	if len(conn.dialed) != 1 || conn.dialed[0] != testAddr {
		t.Fatalf("expected one connection to %q, got %v", testAddr, conn.dialed)
	}

	var failures int

	for _, r := range d.Results() {
		if r.Error != nil {
			failures += 1
		}
	}

	// the short manufacturer data is ignored rather than rejected.
	if failures != 0 || len(d.Results()) != 5 {
		t.Fatalf("unexpected results %v", d.Results())
	}
}

func TestDispatcherStartScanIsIdempotent(t *testing.T) {
	d, scanner, _ := newTestDispatcher()
	d.ScanTime = 100 * time.Millisecond

	ctx := context.Background()

	if err := d.StartScan(ctx); err != nil {
		t.Fatalf("StartScan got error: %v", err)
	}

	if err := d.StartScan(ctx); err != nil {
		t.Fatalf("second StartScan got error: %v", err)
	}

	if err := d.WaitForScanCompletion(ctx); err != nil {
		t.Fatalf("WaitForScanCompletion got error: %v", err)
	}

	if n := scanner.scans.Load(); n != 1 {
		t.Fatalf("expected a single scan, got %d", n)
	}

	if d.Scanning() {
		t.Fatalf("still scanning after completion")
	}
}

func TestDispatcherResetsUpdatedFlags(t *testing.T) {
	d, _, _ := newTestDispatcher()

	d.sensors.Put("old", device.SensorReading{ChipID: "old"})
	d.tilts.Put("Blue", device.TiltReading{Color: device.ColorBlue})

	runCycle(t, d)

	for _, e := range d.sensors.Occupied() {
		if e.Updated {
			t.Fatalf("sensor %q still flagged as updated", e.ID)
		}
	}

	for _, e := range d.tilts.Occupied() {
		if e.Updated {
			t.Fatalf("tilt %q still flagged as updated", e.ID)
		}
	}
}

func TestDispatcherRegistryFull(t *testing.T) {
	d, _, _ := newTestDispatcher(iBeaconAdvertisement("aa:bb:cc:00:00:02", 0x41))

	for i := 0; i < device.MaxDevices; i++ {
		id := fmt.Sprintf("dev%d", i)
		d.sensors.Put(id, device.SensorReading{ChipID: id})
	}

	runCycle(t, d)

	results := d.Results()

	if len(results) != 1 || results[0].Kind != model.KindIBeacon || !errors.Is(results[0].Error, registry.ErrFull) {
		t.Fatalf("expected a registry full result, got %v", results)
	}

	for i, e := range d.sensors.Occupied() {
		if e.ID != fmt.Sprintf("dev%d", i) {
			t.Fatalf("slot %d was overwritten by %q", i, e.ID)
		}
	}
}

func TestCycleRunOncePushes(t *testing.T) {
	d, _, _ := newTestDispatcher(iBeaconAdvertisement("aa:bb:cc:00:00:02", 0x41))
	p := &countingPusher{}

	c := NewCycle(d, p)

	if err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce got error: %v", err)
	}

	if p.pushes != 1 {
		t.Fatalf("expected one push, got %d", p.pushes)
	}
}

func TestCycleRunStopsOnCancel(t *testing.T) {
	d, _, _ := newTestDispatcher()
	c := NewCycle(d, nil)
	c.Interval = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error)

	go func() {
		done <- c.Run(ctx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

type countingPusher struct {
	pushes int
}

func (p *countingPusher) Push(ctx context.Context) {
	p.pushes += 1
}
