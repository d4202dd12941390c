package main

import (
	"github.com/robertof/gravmon-gateway/ble"
	"github.com/robertof/gravmon-gateway/config"
	"github.com/spf13/cobra"
)

// Command line options. Bluetooth and bind flags override the config file when set.
type cliOptions struct {
  Debug, Trace bool
  ConfigPath string
  BindAddress string
  BluetoothDeviceId int
  BluetoothConnParams ble.ConnParams
  PersistConnections bool
}

func newRootCmd() *cobra.Command {
  opts := cliOptions{
    BluetoothConnParams: ble.ConnParamsDefault,
  }

  root := &cobra.Command{
    Use: "gravmon-gateway",
    Short: "Bluetooth gateway for Gravitymon and Tilt hydrometers",
    Long: `Scans for Gravitymon and Tilt hydrometers, reads the devices that only expose
their data over a connection and forwards the readings to HTTP, InfluxDB and MQTT.`,
    Version: version,
    SilenceUsage: true,
    PersistentPreRun: func(cmd *cobra.Command, args []string) {
      setLogLevel(opts)
    },
    RunE: func(cmd *cobra.Command, args []string) error {
      cfg, err := config.Load(opts.ConfigPath)
      if err != nil {
        return err
      }

      applyFlagOverrides(cmd, opts, cfg)

      return runGateway(cmd.Context(), cfg, opts)
    },
  }

  pf := root.PersistentFlags()
  pf.IntVar(&opts.BluetoothDeviceId, "bluetooth-device", 0, "Bluetooth (HCI) device ID")
  pf.BoolVar(&opts.Debug, "debug", false, "Enable debug logs")
  pf.BoolVar(&opts.Trace, "trace", false, "Enable trace logs")

  f := root.Flags()
  f.StringVarP(&opts.ConfigPath, "config", "c", "", "Path to the YAML configuration file")
  f.StringVar(&opts.BindAddress, "bind", "", "Where the API server will bind to (overrides api.bind)")
  f.Var(&opts.BluetoothConnParams, "bluetooth-connection-params",
    "Bluetooth connection parameters (one of 'default' or 'power-saving')")
  f.BoolVar(&opts.PersistConnections, "persist-connections", true,
    "Keep Bluetooth connections open until the device drops them")

  root.AddCommand(newDiscoverCmd(&opts))

  return root
}

func applyFlagOverrides(cmd *cobra.Command, opts cliOptions, cfg *config.Config) {
  if cmd.Flags().Changed("bind") {
    cfg.API.Bind = opts.BindAddress
  }

  if cmd.Flags().Changed("bluetooth-device") {
    cfg.BLE.Device = opts.BluetoothDeviceId
  }

  if cmd.Flags().Changed("bluetooth-connection-params") {
    cfg.BLE.ConnectionParams = opts.BluetoothConnParams
  }
}
