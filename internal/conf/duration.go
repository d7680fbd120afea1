package conf

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads and writes as "30s" style strings
// in YAML, JSON and viper-decoded maps.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts "5m" strings or integer nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := parseDurationValue(v)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML accepts "5m" strings or bare integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected scalar duration value, got %v", value.Kind)
	}
	parsed, err := parseDurationValue(value.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func parseDurationValue(v any) (Duration, error) {
	switch value := v.(type) {
	case nil:
		return 0, nil
	case Duration:
		return value, nil
	case time.Duration:
		return Duration(value), nil
	case string:
		if parsed, err := time.ParseDuration(value); err == nil {
			return Duration(parsed), nil
		}
		if nanos, err := strconv.ParseInt(value, 10, 64); err == nil {
			return Duration(nanos), nil
		}
		return 0, fmt.Errorf("invalid duration %q: expected format like \"30s\" or \"5m\"", value)
	case float64:
		return Duration(int64(value)), nil
	case int:
		return Duration(int64(value)), nil
	case int64:
		return Duration(value), nil
	default:
		return 0, fmt.Errorf("invalid duration value: %v (type %T)", v, v)
	}
}

var durationType = reflect.TypeFor[Duration]()

// DurationDecodeHook lets viper decode strings into Duration fields while
// keeping the stock time.Duration and slice conversions.
func DurationDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.DecodeHookFuncType(func(_, to reflect.Type, data any) (any, error) {
			if to != durationType {
				return data, nil
			}
			return parseDurationValue(data)
		}),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}
