package ble

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"
)

func WrapContextWithSigHandler(ctx context.Context, cancel func()) context.Context {
  return ble.WithSigHandler(ctx, cancel)
}

// Perform an active or passive scan and return every advertisement found, duplicates
// included.
func (h *Handle) ScanAll(ctx context.Context, onDevice func(Advertisement)) error {
  err := h.dev.Scan(ctx, true, onDevice)

  if err != nil {
    return fmt.Errorf("failed to initiate scan: %w", err)
  }

  return nil
}

// Scan until ctx is done, reporting each advertising device once. The handler may still
// be invoked shortly after Scan returns.
func (h *Handle) Scan(ctx context.Context, onAdvertisement func(Advertisement)) error {
  err := h.dev.Scan(ctx, false, onAdvertisement)

  if err != nil {
    return fmt.Errorf("scan failed: %w", err)
  }

  return nil
}
