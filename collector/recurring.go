package collector

import (
  "context"
  "errors"
  "time"

  "github.com/robertof/gravmon-gateway/collector/model"
  "github.com/robertof/gravmon-gateway/utils"
  "github.com/rs/zerolog/log"
)

// Pusher delivers the fresh readings once a scan cycle is done.
type Pusher interface {
  Push(ctx context.Context)
}

// Cycle repeatedly scans, reads the devices found without beacon data and pushes.
type Cycle struct {
  // Pause between the end of a push and the next scan.
  Interval time.Duration

  dispatcher *Dispatcher
  pusher Pusher
}

func NewCycle(d *Dispatcher, p Pusher) *Cycle {
  return &Cycle{
    dispatcher: d,
    pusher: p,
  }
}

// RunOnce performs a single scan, connect and push round.
func (c *Cycle) RunOnce(ctx context.Context) error {
  if err := c.dispatcher.StartScan(ctx); err != nil {
    return err
  }

  err := c.dispatcher.WaitForScanCompletion(ctx)

  if err != nil && ctx.Err() != nil {
    return ctx.Err()
  }

  if err != nil {
    log.Warn().Err(err).Msg("Scan cycle finished with errors")
  }

  var stored, failed int

  results := c.dispatcher.Results()

  for _, r := range results {
    if r.Error != nil {
      failed += 1
    } else {
      stored += 1
    }
  }

  log.Debug().
    Int("Stored", stored).
    Int("Failed", failed).
    Dict("Kinds", utils.CountBy(results, func(r model.Result) string {
      return r.Kind.String()
    })).
    Msg("Scan cycle finished")

  if c.pusher != nil {
    c.pusher.Push(ctx)
  }

  return nil
}

// Run loops until ctx is canceled.
func (c *Cycle) Run(ctx context.Context) error {
  log.Info().
    Dur("ScanTimeSec", c.dispatcher.ScanTime).
    Dur("IntervalSec", c.Interval).
    Msg("Starting scan cycle")

  for {
    err := c.RunOnce(ctx)

    if errors.Is(err, context.Canceled) {
      log.Info().Msg("Scan cycle is shutting down")
      return nil
    }

    if err != nil {
      return err
    }

    select {
    case <-ctx.Done():
      log.Info().Msg("Scan cycle is shutting down")
      return nil
    case <-time.After(c.Interval):
    }
  }
}
