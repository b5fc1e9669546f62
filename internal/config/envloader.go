package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// LoadFromEnv overrides the fields of cfg that have their `env` variable
// set to a non-empty value.
func LoadFromEnv(cfg *Config) error {
	return apply(reflect.ValueOf(cfg), "env", func(key string) (string, bool) {
		v := os.Getenv(key)
		return v, v != ""
	})
}

var durationType = reflect.TypeOf(time.Duration(0))

// apply sets every field of the struct pointed to by ptr whose tagName key
// lookup resolves. Values are parsed the way the matching flag parses them.
func apply(ptr reflect.Value, tagName string, lookup func(key string) (string, bool)) error {
	v := ptr.Elem()
	t := v.Type()
	for i := range t.NumField() {
		sf := t.Field(i)
		key := tagKey(sf, tagName)
		if key == "" || !sf.IsExported() {
			continue
		}
		raw, ok := lookup(key)
		if !ok {
			continue
		}
		if err := decode(v.Field(i), strings.TrimSpace(raw), sf.Tag.Get("unit")); err != nil {
			return fmt.Errorf("%s (%s): %w", key, sf.Name, err)
		}
	}
	return nil
}

func tagKey(f reflect.StructField, tagName string) string {
	key, _, _ := strings.Cut(f.Tag.Get(tagName), ",")
	if key == "-" {
		return ""
	}
	return key
}

// decode parses raw into dst. unit is the unit of bare numbers for
// durations (us, ms, s); "bytes" enables humanized sizes.
func decode(dst reflect.Value, raw, unit string) error {
	if dst.Type() == durationType {
		d, err := ParseDuration(raw, unit)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		dst.SetInt(int64(d))
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		dst.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		dst.SetInt(n)
	case reflect.Uint64:
		parse := func(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) }
		if unit == "bytes" {
			parse = humanize.ParseBytes
		}
		n, err := parse(raw)
		if err != nil {
			return fmt.Errorf("invalid size: %w", err)
		}
		dst.SetUint(n)
	default:
		return fmt.Errorf("cannot decode into %s", dst.Type())
	}
	return nil
}

// ParseDuration parses a Go duration string, or a bare non-negative integer
// expressed in unit ("us", "ms" or "s").
func ParseDuration(value, unit string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration %q", value)
		}
		switch unit {
		case "us", "":
			return time.Duration(n) * time.Microsecond, nil
		case "ms":
			return time.Duration(n) * time.Millisecond, nil
		case "s":
			return time.Duration(n) * time.Second, nil
		default:
			return 0, fmt.Errorf("unknown unit %q", unit)
		}
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", value)
	}
	return d, nil
}
