package core

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// LookupFunc has the shape of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// envReader applies environment overrides onto config fields. Unset or
// blank variables leave the field alone; malformed ones are collected as
// ConfigErrors instead of being silently ignored.
type envReader struct {
	lookup LookupFunc
	errs   []error
}

func newEnvReader(lookup LookupFunc) *envReader {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &envReader{lookup: lookup}
}

func (r *envReader) get(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *envReader) String(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *envReader) Int(key string, dst *int) {
	if v, ok := r.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.errs = append(r.errs, errInvalidEnv(key, v, "an integer"))
			return
		}
		*dst = n
	}
}

func (r *envReader) Int64(key string, dst *int64) {
	if v, ok := r.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			r.errs = append(r.errs, errInvalidEnv(key, v, "an integer"))
			return
		}
		*dst = n
	}
}

func (r *envReader) Float(key string, dst *float64) {
	if v, ok := r.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.errs = append(r.errs, errInvalidEnv(key, v, "a number"))
			return
		}
		*dst = f
	}
}

// Bool accepts true/false, 1/0, yes/no and on/off in any case.
func (r *envReader) Bool(key string, dst *bool) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		*dst = true
	case "false", "0", "no", "off":
		*dst = false
	default:
		r.errs = append(r.errs, errInvalidEnv(key, v, "true or false"))
	}
}

func (r *envReader) Duration(key string, dst *Duration) {
	if v, ok := r.get(key); ok {
		d, err := ParseDuration(v)
		if err != nil {
			r.errs = append(r.errs, errInvalidEnv(key, v, `a duration such as "90s" or a number of seconds`))
			return
		}
		*dst = Duration(d)
	}
}

// List splits a comma separated value, dropping empty items.
func (r *envReader) List(key string, dst *[]string) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func (r *envReader) Err() error { return errors.Join(r.errs...) }
