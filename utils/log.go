package utils

import (
	"fmt"

	"github.com/rs/zerolog"
)

func ToZeroLogArray[T fmt.Stringer](arr []T) (ret *zerolog.Array) {
	ret = zerolog.Arr()

	for _, elem := range arr {
		ret = ret.Str(elem.String())
	}

	return ret
}

// CountBy renders a count per label, e.g. the scan results per beacon kind.
func CountBy[T any](items []T, label func(T) string) *zerolog.Event {
	counts := make(map[string]int)

	for _, it := range items {
		counts[label(it)]++
	}

	d := zerolog.Dict()

	for k, n := range counts {
		d = d.Int(k, n)
	}

	return d
}
