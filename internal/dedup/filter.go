// Package dedup decides whether a freshly scanned survey record represents
// enough movement to be worth persisting.
package dedup

import (
	"fmt"
	"sync"

	"networksurvey/uploader/internal/model"
)

const (
	DefaultDistanceMeters = 35.0
	DefaultAccuracyMeters = 100.0

	wifiTrack = "wifi"
)

// Thresholds configures the movement gate.
type Thresholds struct {
	DistanceMeters float64
	AccuracyMeters float64
}

// DefaultThresholds returns the 35 m / 100 m defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{DistanceMeters: DefaultDistanceMeters, AccuracyMeters: DefaultAccuracyMeters}
}

// ShouldWrite reports whether a record at candidate should be persisted given
// the last accepted location of its track. last may be model.NoLocation().
func (t Thresholds) ShouldWrite(candidate model.Location, complete bool, accuracy float64, last model.Location) bool {
	if accuracy <= 0 || accuracy > t.AccuracyMeters {
		return false
	}
	if candidate.Lat == 0 && candidate.Lon == 0 {
		return false
	}
	if !complete {
		return false
	}
	if !last.Valid() {
		return true
	}
	return HaversineDistance(candidate, last) >= t.DistanceMeters
}

type track struct {
	mu   sync.Mutex
	last model.Location
}

// Filter holds the last accepted location for every dedup track: one per
// cellular subscription and a single shared slot for Wi-Fi.
type Filter struct {
	thresholds Thresholds

	mu     sync.Mutex
	tracks map[string]*track
}

// NewFilter returns a filter with no accepted locations.
func NewFilter(t Thresholds) *Filter {
	return &Filter{thresholds: t, tracks: make(map[string]*track)}
}

// Thresholds returns the active configuration.
func (f *Filter) Thresholds() Thresholds {
	return f.thresholds
}

func (f *Filter) track(key string) *track {
	f.mu.Lock()
	defer f.mu.Unlock()

	tr, ok := f.tracks[key]
	if !ok {
		tr = &track{last: model.NoLocation()}
		f.tracks[key] = tr
	}
	return tr
}

// check runs the movement gate for one track and records the candidate when it passes.
func (f *Filter) check(key string, obs *model.Observation, complete bool) bool {
	tr := f.track(key)
	tr.mu.Lock()
	defer tr.mu.Unlock()

	loc := obs.Location()
	if !f.thresholds.ShouldWrite(loc, complete, obs.Accuracy, tr.last) {
		return false
	}
	tr.last = loc
	return true
}

// Last returns the last accepted location for a cellular subscription.
func (f *Filter) Last(subscriptionID int) model.Location {
	return f.lastFor(cellTrack(subscriptionID))
}

// LastWifi returns the last accepted Wi-Fi location.
func (f *Filter) LastWifi() model.Location {
	return f.lastFor(wifiTrack)
}

func (f *Filter) lastFor(key string) model.Location {
	tr := f.track(key)
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.last
}

// Reset forgets every accepted location.
func (f *Filter) Reset() {
	f.mu.Lock()
	f.tracks = make(map[string]*track)
	f.mu.Unlock()
}

// AcceptCellular filters one scan cycle of a single subscription. CDMA and
// incomplete (typically neighbor) records are dropped. The movement gate is
// evaluated once, on the first complete record, since a scan cycle shares one
// fix. It returns the records to persist.
func (f *Filter) AcceptCellular(subscriptionID int, records []model.CellRecord) []model.CellRecord {
	var complete []model.CellRecord
	for _, r := range records {
		if r.Kind() == model.RecordCdma || !r.Complete() {
			continue
		}
		complete = append(complete, r)
	}
	if len(complete) == 0 {
		return nil
	}

	if !f.check(cellTrack(subscriptionID), complete[0].Base(), true) {
		return nil
	}
	return complete
}

// AcceptWifi filters one beacon scan batch. All records in the batch share a
// fix, so the first record decides for the whole batch. Records without a
// BSSID are dropped individually.
func (f *Filter) AcceptWifi(records []*model.WifiRecord) []*model.WifiRecord {
	if len(records) == 0 {
		return nil
	}
	if !f.check(wifiTrack, records[0].Base(), true) {
		return nil
	}

	accepted := make([]*model.WifiRecord, 0, len(records))
	for _, r := range records {
		if r.Complete() {
			accepted = append(accepted, r)
		}
	}
	return accepted
}

func cellTrack(subscriptionID int) string {
	return fmt.Sprintf("cell:%d", subscriptionID)
}
