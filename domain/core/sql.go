package core

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Value stores a Day as a DATE
func (d Day) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.t, nil
}

// Scan reads DATE, TIMESTAMP and YYYY-MM-DD text columns
func (d *Day) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = Day{}
	case time.Time:
		*d = Day{t: time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC)}
	case string:
		return d.UnmarshalText([]byte(v))
	case []byte:
		return d.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into Day", src)
	}
	return nil
}

func (t Timestamp) Value() (driver.Value, error) {
	return time.Time(t).UTC(), nil
}

func (t *Timestamp) Scan(src interface{}) error {
	v, ok := src.(time.Time)
	if !ok {
		return fmt.Errorf("cannot scan %T into Timestamp", src)
	}
	*t = Timestamp(v.UTC())
	return nil
}
