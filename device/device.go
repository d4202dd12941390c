package device

import (
	"errors"
)

var (
  ErrInvalidData = errors.New("invalid data")
  ErrCorruptedData = errors.New("corrupted data")
  ErrUnknownDevice = errors.New("unknown device")
)

// Fixed number of devices tracked per sensor family.
const MaxDevices = 8
