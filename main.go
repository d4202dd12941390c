package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robertof/gravmon-gateway/api"
	"github.com/robertof/gravmon-gateway/ble"
	"github.com/robertof/gravmon-gateway/collector"
	"github.com/robertof/gravmon-gateway/config"
	"github.com/robertof/gravmon-gateway/device"
	"github.com/robertof/gravmon-gateway/metrics"
	"github.com/robertof/gravmon-gateway/push"
	"github.com/robertof/gravmon-gateway/registry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Set at build time with -ldflags "-X main.version=...".
var (
  version = "dev"
  build = "none"
)

const shutdownTimeout = 10 * time.Second

func main() {
  zerolog.DurationFieldUnit = time.Second
  zerolog.TimeFieldFormat = time.RFC3339Nano

  log.Logger = log.Output(zerolog.ConsoleWriter{
    Out: os.Stderr,
    TimeFormat: "15:04:05.000",
  })

  if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
    os.Exit(1)
  }
}

func setLogLevel(opts cliOptions) {
  if opts.Trace || os.Getenv("TRACE") != "" {
      zerolog.SetGlobalLevel(zerolog.TraceLevel)
  } else if opts.Debug || os.Getenv("DEBUG") != "" {
      zerolog.SetGlobalLevel(zerolog.DebugLevel)
  } else {
      zerolog.SetGlobalLevel(zerolog.InfoLevel)
  }
}

func initBle(cfg *config.Config, opts cliOptions) *ble.Handle {
  var bleFlags ble.Flags

  if cfg.BLE.ActiveScan {
    bleFlags |= ble.FlagScanTypeActive
  }

  if opts.PersistConnections {
    bleFlags |= ble.FlagPersistConnections
  }

  bleHandle, err := ble.InitWithConnParams(
    cfg.BLE.Device,
    cfg.BLE.ConnectionParams,
    cfg.BLE.MaxConnections,
    bleFlags,
  )

  if err != nil {
    log.Fatal().Err(err).Msg("Failed to initialize Bluetooth device")
  }

  return bleHandle
}

func runGateway(ctx context.Context, cfg *config.Config, opts cliOptions) error {
  log.Info().
    Str("ID", cfg.Gateway.ID).
    Str("Name", cfg.Gateway.Name).
    Str("BindAddr", cfg.API.Bind).
    Int("BluetoothDeviceID", cfg.BLE.Device).
    Bool("ActiveScan", cfg.BLE.ActiveScan).
    Dur("ScanTime", cfg.ScanTime()).
    Dur("ResendTime", cfg.ResendTime()).
    Msg("Starting with the specified configuration")

  bleHandle := initBle(cfg, opts)
  defer bleHandle.Stop()

  tilts := registry.NewTable[device.TiltReading]("tilt", device.MaxDevices)
  sensors := registry.NewTable[device.SensorReading]("gravitymon", device.MaxDevices)
  remote := registry.NewTable[device.SensorReading]("http", device.MaxDevices)

  reg := prometheus.NewRegistry()
  ble.RegisterMetrics(reg)
  collector.RegisterMetrics(reg)
  push.RegisterMetrics(reg)
  metrics.RegisterCollector(
    tilts,
    []metrics.SensorTable{
      {Endpoint: api.EndpointBLE, Table: sensors},
      {Endpoint: api.EndpointWifi, Table: remote},
    },
    reg,
  )

  dispatcher := collector.NewDispatcher(bleHandle, bleHandle, tilts, sensors)
  dispatcher.ScanTime = cfg.ScanTime()

  formatter := push.NewFormatter(
    push.Options{
      GatewayID: cfg.Gateway.ID,
      Name: cfg.Gateway.Name,
      Token: cfg.Gateway.Token,
      TempUnit: cfg.Gateway.TempUnit,
      GravityUnit: cfg.Gateway.GravityUnit,
      AppVersion: version,
      AppBuild: build,
    },
    push.NewStore(cfg.Push.TemplateDir, cfg.Templates()),
  )

  sinks := cfg.Sinks()
  defer closeSinks(sinks)

  for _, s := range sinks {
    log.Info().Str("Sink", s.Name()).Msg("Push target enabled")
  }

  controller := push.NewController(formatter, sinks, sensors, remote, tilts)
  controller.ResendTime = cfg.ResendTime()
  controller.PushTilts = cfg.Tilt.Push

  cycle := collector.NewCycle(dispatcher, controller)
  cycle.Interval = cfg.ScanInterval()

  server := &http.Server{
    Addr: cfg.API.Bind,
    Handler: api.NewRouter(api.Deps{
      Settings: api.Settings{
        ID: cfg.Gateway.ID,
        Name: cfg.Gateway.Name,
        TempUnit: cfg.Gateway.TempUnit,
        GravityUnit: cfg.Gateway.GravityUnit,
        ResendTime: cfg.ResendTime(),
        AppVersion: version,
      },
      Tilts: tilts,
      Sensors: sensors,
      Remote: remote,
      Controller: controller,
      Scanner: dispatcher,
      Gatherer: reg,
    }),
    ReadHeaderTimeout: 10 * time.Second,
  }

  ctx, cancel := context.WithCancel(ctx)
  defer cancel()

  g, ctx := errgroup.WithContext(ble.WrapContextWithSigHandler(ctx, cancel))

  g.Go(func() error {
    return cycle.Run(ctx)
  })

  g.Go(func() error {
    log.Info().
        Str("ListenAddress", cfg.API.Bind).
        Msg("Starting API server")

    if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
      return err
    }

    return nil
  })

  g.Go(func() error {
    <-ctx.Done()

    shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
    defer cancel()

    return server.Shutdown(shutdownCtx)
  })

  err := g.Wait()

  log.Info().Msg("Gateway stopped")

  return err
}

func closeSinks(sinks []push.Sink) {
  for _, s := range sinks {
    if c, ok := s.(interface{ Close() }); ok {
      c.Close()
    }
  }
}
