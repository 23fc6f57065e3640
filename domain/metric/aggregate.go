package metric

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"healthloop/domain/core"

	"github.com/montanaflynn/stats"
)

// Point is a single raw observation
type Point struct {
	At    time.Time `json:"at" db:"observed_at"`
	Value float64   `json:"value" db:"value"`
}

// DailyValue is the folded value for one UTC day
type DailyValue struct {
	Day   core.Day `json:"day"`
	Value float64  `json:"value"`
	Count int      `json:"count"`
}

// Series is an ascending, gap-tolerant sequence of daily values
type Series []DailyValue

// Values returns the raw values in order
func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = v.Value
	}
	return out
}

// ByDay indexes the series by day
func (s Series) ByDay() map[core.Day]float64 {
	out := make(map[core.Day]float64, len(s))
	for _, v := range s {
		out[v.Day] = v.Value
	}
	return out
}

// Until returns the days on or before d
func (s Series) Until(d core.Day) Series {
	i := sort.Search(len(s), func(i int) bool { return s[i].Day.After(d) })
	return s[:i]
}

// In returns the days that fall within w
func (s Series) In(w core.Window) Series {
	var out Series
	for _, v := range s {
		if w.Contains(v.Day) {
			out = append(out, v)
		}
	}
	return out
}

// Fingerprint hashes the days, values and counts, so any late or revised
// observation changes it
func (s Series) Fingerprint() core.Hash {
	buf := make([]byte, 0, len(s)*32)
	for _, v := range s {
		buf = append(buf, v.Day.String()...)
		buf = strconv.AppendUint(append(buf, '='), math.Float64bits(v.Value), 16)
		buf = strconv.AppendInt(append(buf, '/'), int64(v.Count), 10)
		buf = append(buf, ';')
	}
	return core.NewHash(buf)
}

// Tail returns at most the last n values
func (s Series) Tail(n int) Series {
	if n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

// Aggregate folds raw points into one value per UTC day. Duplicate
// timestamps keep the last write.
func Aggregate(points []Point, rule Aggregation) (Series, error) {
	if len(points) == 0 {
		return nil, nil
	}

	dedup := make(map[int64]float64, len(points))
	for _, p := range points {
		dedup[p.At.UnixNano()] = p.Value
	}
	stamps := make([]int64, 0, len(dedup))
	for ts := range dedup {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	buckets := make(map[core.Day][]float64)
	var days []core.Day
	for _, ts := range stamps {
		d := core.DayOf(time.Unix(0, ts))
		if _, ok := buckets[d]; !ok {
			days = append(days, d)
		}
		buckets[d] = append(buckets[d], dedup[ts])
	}

	out := make(Series, 0, len(days))
	for _, d := range days {
		v, err := fold(buckets[d], rule)
		if err != nil {
			return nil, err
		}
		out = append(out, DailyValue{Day: d, Value: v, Count: len(buckets[d])})
	}
	return out, nil
}

func fold(vals []float64, rule Aggregation) (float64, error) {
	switch rule {
	case AggMean:
		return stats.Mean(vals)
	case AggSum:
		return stats.Sum(vals)
	case AggLast:
		return vals[len(vals)-1], nil
	case AggMin:
		return stats.Min(vals)
	case AggMax:
		return stats.Max(vals)
	default:
		return 0, fmt.Errorf("unknown aggregation rule %q", rule)
	}
}
