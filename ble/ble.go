package ble

import (
  "fmt"

  "github.com/go-ble/ble"
  "github.com/go-ble/ble/linux"
  "github.com/go-ble/ble/linux/hci/cmd"
  "github.com/prometheus/client_golang/prometheus"
  "github.com/rs/zerolog/log"
)

const (
  CharRead = ble.CharRead

  DefaultMaxConnections = 3
)

type Advertisement = ble.Advertisement
type Characteristic = ble.Characteristic
type Service = ble.Service
type ServiceData = ble.ServiceData
type Client = ble.Client
type UUID = ble.UUID
type Addr = ble.Addr

type Handle struct {
  dev *linux.Device
  connPool *connectionPool
  connParams ConnParams
}

func UUID16(i uint16) ble.UUID {
  return ble.UUID16(i)
}

func NewAddr(s string) ble.Addr {
  return ble.NewAddr(s)
}

func RegisterMetrics(reg prometheus.Registerer) {
  reg.MustRegister(
    successfulConnectionsCounter,
    failedConnectionsCounter,
    connectionsFromPoolCounter,
    disconnectsCounter,
  )
}

func Init(deviceId int, flags Flags) (*Handle, error) {
  return InitWithConnParams(
    deviceId,
    ConnParamsDefault,
    DefaultMaxConnections,
    flags,
  )
}

func InitWithConnParams(deviceId int, connParams ConnParams, maxConnections int, flags Flags) (*Handle, error) {
  var scanType scanType = scanTypePassive

  if flags & FlagScanTypeActive == FlagScanTypeActive {
    scanType = scanTypeActive
  }

  log.Debug().
    Stringer("ScanType", scanType).
    Stringer("ConnParams", &connParams).
    Stringer("Flags", flags).
    Int("DeviceID", deviceId).
    Int("MaxConnections", maxConnections).
    Msg("Initializing Bluetooth device")

  if connParams != ConnParamsDefault {
    log.Warn().
      Stringer("ConnParams", &connParams).
      Msg("Using non-default link parameters for device connections")
  }

  dev, err := linux.NewDevice(
    ble.OptDeviceID(deviceId),
    ble.OptScanParams(cmd.LESetScanParameters{
      LEScanType:           uint8(scanType), // 0x00: passive, 0x01: active
      LEScanInterval:       0x0004,          // 0x0004 - 0x4000; N * 0.625msec
      LEScanWindow:         0x0004,          // 0x0004 - 0x4000; N * 0.625msec
      OwnAddressType:       0x00,            // 0x00: public, 0x01: random
      ScanningFilterPolicy: 0x00,            // 0x00: accept all
    }),
    ble.OptConnParams(connParams.AdapterOptions()),
  )

  if err != nil {
    return nil, fmt.Errorf("failed to init bluetooth device: %w", err)
  }

  ble.SetDefaultDevice(dev)

  h := &Handle{
    dev: dev,
    connParams: connParams,
    connPool: initConnectionPool(maxConnections),
  }

  if flags & FlagPersistConnections != FlagPersistConnections {
    h.connPool.persist = false
  }

  return h, nil
}

func (h *Handle) Stop() {
  h.DisconnectAll()
  h.dev.Stop()
}
