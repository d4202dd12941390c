package device

func ConvertCtoF(c float64) float64 {
  return c * 9.0 / 5.0 + 32.0
}

func ConvertFtoC(f float64) float64 {
  return (f - 32.0) * 5.0 / 9.0
}

func ConvertToPlato(sg float64) float64 {
  if sg == 0 {
    return 0
  }

  return -616.868 + 1111.14 * sg - 630.272 * sg * sg + 135.997 * sg * sg * sg
}

// voltage threshold (exclusive) -> charge percentage, highest first.
var batteryBreakpoints = []struct {
  volts float64
  percent int
}{
  {4.15, 100},
  {4.05, 90},
  {3.97, 80},
  {3.91, 70},
  {3.86, 60},
  {3.81, 50},
  {3.78, 40},
  {3.76, 30},
  {3.73, 20},
  {3.67, 10},
  {3.44, 5},
}

func BatteryPercent(volts float64) int {
  for _, bp := range batteryBreakpoints {
    if volts > bp.volts {
      return bp.percent
    }
  }

  return 0
}
