package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"

	"github.com/robertof/gravmon-gateway/ble"
	"github.com/robertof/gravmon-gateway/device/gravitymon"
	"github.com/robertof/gravmon-gateway/device/tilt"
	"github.com/robertof/gravmon-gateway/utils"
)

const discoveryTime = 5 * time.Second

func newDiscoverCmd(opts *cliOptions) *cobra.Command {
  return &cobra.Command{
    Use: "discover",
    Short: "Discover nearby BLE devices and quit",
    Args: cobra.NoArgs,
    Run: func(cmd *cobra.Command, args []string) {
      doDeviceDiscovery(*opts)
    },
  }
}

// Tells what kind of hydrometer an advertisement belongs to, if any.
func classify(a ble.Advertisement) string {
  md := a.ManufacturerData()

  switch {
  case tilt.IsBeacon(md):
    return "tilt"
  case gravitymon.IsBeacon(md):
    return "gravitymon-ibeacon"
  case a.LocalName() == gravitymon.LocalName:
    return "gravitymon"
  }

  return ""
}

func doDeviceDiscovery(opts cliOptions) {
  log.Info().Msg("Starting in device discovery mode - collecting devices for 5 seconds...")

  handle, err := ble.Init(opts.BluetoothDeviceId, ble.FlagScanTypeActive)

  if err != nil {
    log.Fatal().Err(err).Msg("Failed to initialize Bluetooth device")
  }

  defer handle.Stop()

  ctx := ble.WrapContextWithSigHandler(
    context.WithTimeout(
      context.Background(),
      discoveryTime,
    ),
  )

  type deviceInfo struct {
    name string
    kind string
    rssi int
    connectable bool
    services []string
  }

  devices := make(map[string]deviceInfo)

  err = handle.ScanAll(ctx, func(a ble.Advertisement) {
    services := make(map[string]bool)

    for _, uuid := range a.Services() {
      services[uuid.String()] = true
    }

    for _, sd := range a.ServiceData() {
      services[sd.UUID.String()] = true
    }

    info, ok := devices[a.Addr().String()]

    if ok {
      // merge
      if info.name == "" {
        info.name = a.LocalName()
      }

      if info.kind == "" {
        info.kind = classify(a)
      }

      for _, uuid := range info.services {
        services[uuid] = true
      }
    } else {
      info = deviceInfo{
        name: a.LocalName(),
        kind: classify(a),
      }
    }

    info.rssi = a.RSSI()
    info.connectable = a.Connectable()
    info.services = maps.Keys(services)

    devices[a.Addr().String()] = info

    log.Debug().
      Str("Addr", a.Addr().String()).
      Str("Name", a.LocalName()).
      Bool("Connectable", a.Connectable()).
      Strs("Services", info.services).
      Hex("ManufacturerData", a.ManufacturerData()).
      Msg("Received device advertisement")
  })

  if err != nil && !utils.IsContextDone(err) {
    log.Fatal().Err(err).Msg("Failed to initiate scan")
  }

  log.Info().Int("Found", len(devices)).Msg("Finished device discovery")

  for addr, data := range devices {
    ev := log.Info()

    if data.kind != "" {
      ev = ev.Str("Hydrometer", data.kind)
    }

    ev.
      Str("Addr", addr).
      Str("Name", data.name).
      Int("RSSI", data.rssi).
      Bool("Connectable", data.connectable).
      Strs("Services", data.services).
      Msg("Found device")
  }
}
