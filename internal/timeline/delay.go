package timeline

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidArgument is returned for non-finite times, rates and delays.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidDelay is returned when a delay spec cannot be normalized.
	ErrInvalidDelay = fmt.Errorf("%w: malformed delay", ErrInvalidArgument)

	// ErrNilHandler is returned when a timer is scheduled without a handler.
	ErrNilHandler = fmt.Errorf("%w: nil handler", ErrInvalidArgument)
)

// Delay is a virtual delay in milliseconds, measured either in local time
// or in entropy.
type Delay struct {
	Value   float64
	Entropy bool
}

// LocalDelay returns a delay that elapses when local time has moved by ms.
func LocalDelay(ms float64) Delay {
	return Delay{Value: ms}
}

// EntropyDelay returns a delay that elapses after ms of entropy.
func EntropyDelay(ms float64) Delay {
	return Delay{Value: ms, Entropy: true}
}

func (d Delay) validate() error {
	if !finite(d.Value) {
		return fmt.Errorf("%w: %v", ErrInvalidDelay, d.Value)
	}
	return nil
}

// String returns a string representation of the delay.
func (d Delay) String() string {
	if d.Entropy {
		return fmt.Sprintf("%gms entropy", d.Value)
	}
	return fmt.Sprintf("%gms", d.Value)
}

// ParseDelay normalizes the loosely typed delay shapes found in scenario
// files and decoded JSON:
//
//	100                              local-time delay
//	{delay: 100}                     local-time delay
//	{delay: 100, isEntropy: true}    entropy delay
//	{entropy: 100}                   entropy delay
//	{time: 100}                      local-time delay
func ParseDelay(v any) (Delay, error) {
	switch x := v.(type) {
	case Delay:
		return x, x.validate()
	case map[string]any:
		return parseDelayMap(x)
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			ks, ok := k.(string)
			if !ok {
				return Delay{}, fmt.Errorf("%w: non-string key %v", ErrInvalidDelay, k)
			}
			m[ks] = val
		}
		return parseDelayMap(m)
	default:
		n, ok := toFloat(v)
		if !ok {
			return Delay{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidDelay, v)
		}
		d := LocalDelay(n)
		return d, d.validate()
	}
}

func parseDelayMap(m map[string]any) (Delay, error) {
	if raw, ok := m["entropy"]; ok {
		n, ok := toFloat(raw)
		if !ok {
			return Delay{}, fmt.Errorf("%w: entropy must be a number", ErrInvalidDelay)
		}
		d := EntropyDelay(n)
		return d, d.validate()
	}

	for _, key := range []string{"delay", "time"} {
		raw, ok := m[key]
		if !ok {
			continue
		}
		n, ok := toFloat(raw)
		if !ok {
			return Delay{}, fmt.Errorf("%w: %s must be a number", ErrInvalidDelay, key)
		}
		d := LocalDelay(n)
		if flag, ok := m["isEntropy"]; ok {
			b, ok := flag.(bool)
			if !ok {
				return Delay{}, fmt.Errorf("%w: isEntropy must be a boolean", ErrInvalidDelay)
			}
			d.Entropy = b
		}
		return d, d.validate()
	}

	return Delay{}, fmt.Errorf("%w: expected one of delay, entropy, time", ErrInvalidDelay)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
