package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time span that accepts the configuration shapes users
// write: a bare number of seconds, "HH:MM:SS", "MM:SS", or an object
// {"days": d, "hours": h, "minutes": m, "seconds": s}.
type Duration time.Duration

// Std returns the span as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON writes the span as fractional seconds.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Seconds())
}

// UnmarshalJSON accepts seconds, clock strings and the object form.
func (d *Duration) UnmarshalJSON(raw []byte) error {
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		*d = Duration(time.Duration(num * float64(time.Second)))
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		parsed, err := parseClockDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}

	var obj struct {
		Days         float64 `json:"days"`
		Hours        float64 `json:"hours"`
		Minutes      float64 `json:"minutes"`
		Seconds      float64 `json:"seconds"`
		Milliseconds float64 `json:"milliseconds"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("core: invalid duration %s", raw)
	}
	total := obj.Days*24*float64(time.Hour) +
		obj.Hours*float64(time.Hour) +
		obj.Minutes*float64(time.Minute) +
		obj.Seconds*float64(time.Second) +
		obj.Milliseconds*float64(time.Millisecond)
	*d = Duration(time.Duration(total))
	return nil
}

// parseClockDuration reads "HH:MM:SS" or "MM:SS".
func parseClockDuration(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("core: invalid duration %q", s)
	}
	var fields []float64
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil || f < 0 {
			return 0, fmt.Errorf("core: invalid duration %q", s)
		}
		fields = append(fields, f)
	}
	if len(fields) == 2 {
		fields = append([]float64{0}, fields...)
	}
	total := fields[0]*float64(time.Hour) + fields[1]*float64(time.Minute) + fields[2]*float64(time.Second)
	return time.Duration(total), nil
}

// StringList is a string-or-list-of-strings JSON field.
type StringList []string

// Contains reports whether s is in the list.
func (l StringList) Contains(s string) bool {
	for _, have := range l {
		if have == s {
			return true
		}
	}
	return false
}

func (l StringList) MarshalJSON() ([]byte, error) {
	if len(l) == 1 {
		return json.Marshal(l[0])
	}
	return json.Marshal([]string(l))
}

func (l *StringList) UnmarshalJSON(raw []byte) error {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		*l = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return fmt.Errorf("core: expected string or list of strings, got %s", raw)
	}
	*l = StringList(many)
	return nil
}
