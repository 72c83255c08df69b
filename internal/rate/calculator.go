// Package rate derives sliding-window QSO rates from a station's snapshot history.
package rate

import (
	"time"

	"github.com/lijuuu/ContestLivescoreService/internal/model"
)

const (
	DefaultLongWindow  = 60 * time.Minute
	DefaultShortWindow = 15 * time.Minute
)

// Source is the read side of the snapshot store the calculator needs.
type Source interface {
	Latest(key model.StationKey) (model.Snapshot, bool)
	SnapshotAt(key model.StationKey, t time.Time) (model.Snapshot, bool)
	Len(key model.StationKey) int
}

// Rates holds both windows for every band of a station plus the station totals.
type Rates struct {
	Long       map[string]model.Rate
	Short      map[string]model.Rate
	TotalLong  model.Rate
	TotalShort model.Rate
}

type Calculator struct {
	src   Source
	long  time.Duration
	short time.Duration
}

func NewCalculator(src Source, long, short time.Duration) *Calculator {
	if long <= 0 {
		long = DefaultLongWindow
	}
	if short <= 0 {
		short = DefaultShortWindow
	}
	return &Calculator{src: src, long: long, short: short}
}

func (c *Calculator) Windows() (long, short time.Duration) {
	return c.long, c.short
}

// Band returns the rate on one band over window w ending at now.
// The rate is undefined while the station has fewer than two snapshots.
func (c *Calculator) Band(key model.StationKey, band string, w time.Duration, now time.Time) model.Rate {
	return c.window(key, w, now, func(s model.Snapshot) int { return s.QSOs(band) })
}

// Total returns the all-band rate over window w ending at now.
func (c *Calculator) Total(key model.StationKey, w time.Duration, now time.Time) model.Rate {
	return c.window(key, w, now, model.Snapshot.TotalQSOs)
}

// Station computes every band rate of a station, with now taken as its latest snapshot.
func (c *Calculator) Station(key model.StationKey, bands []string) Rates {
	r := Rates{
		Long:  make(map[string]model.Rate, len(bands)),
		Short: make(map[string]model.Rate, len(bands)),
	}
	latest, ok := c.src.Latest(key)
	if !ok || c.src.Len(key) < 2 {
		for _, b := range bands {
			r.Long[b] = model.Rate{}
			r.Short[b] = model.Rate{}
		}
		return r
	}

	longBase, _ := c.src.SnapshotAt(key, latest.At.Add(-c.long))
	shortBase, _ := c.src.SnapshotAt(key, latest.At.Add(-c.short))
	for _, b := range bands {
		r.Long[b] = perHour(latest.QSOs(b)-longBase.QSOs(b), c.long)
		r.Short[b] = perHour(latest.QSOs(b)-shortBase.QSOs(b), c.short)
	}
	r.TotalLong = perHour(latest.TotalQSOs()-longBase.TotalQSOs(), c.long)
	r.TotalShort = perHour(latest.TotalQSOs()-shortBase.TotalQSOs(), c.short)
	return r
}

func (c *Calculator) window(key model.StationKey, w time.Duration, now time.Time, count func(model.Snapshot) int) model.Rate {
	if w <= 0 || c.src.Len(key) < 2 {
		return model.Rate{}
	}
	cur, ok := c.src.SnapshotAt(key, now)
	if !ok {
		return model.Rate{}
	}
	base, _ := c.src.SnapshotAt(key, now.Add(-w))
	return perHour(count(cur)-count(base), w)
}

// perHour scales a QSO delta over w to QSOs per hour, clamping regressions to zero.
func perHour(delta int, w time.Duration) model.Rate {
	if delta <= 0 {
		return model.RateOf(0)
	}
	return model.RateOf(int(int64(delta) * int64(time.Hour) / int64(w)))
}
