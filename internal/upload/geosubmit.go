package upload

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"networksurvey/uploader/internal/model"
)

type geosubmitRequest struct {
	Items []geosubmitItem `json:"items"`
}

type geosubmitItem struct {
	Timestamp        int64             `json:"timestamp"`
	Position         geosubmitPosition `json:"position"`
	CellTowers       []cellTower       `json:"cellTowers,omitempty"`
	WifiAccessPoints []wifiAccessPoint `json:"wifiAccessPoints,omitempty"`
}

type geosubmitPosition struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Altitude  float64 `json:"altitude"`
	Speed     float64 `json:"speed"`
	Age       *int64  `json:"age,omitempty"`
}

type cellTower struct {
	RadioType             string `json:"radioType"`
	MobileCountryCode     int    `json:"mobileCountryCode"`
	MobileNetworkCode     int    `json:"mobileNetworkCode"`
	LocationAreaCode      int    `json:"locationAreaCode"`
	CellID                int64  `json:"cellId"`
	PrimaryScramblingCode *int   `json:"primaryScramblingCode,omitempty"`
	SignalStrength        int    `json:"signalStrength"`
	TimingAdvance         *int   `json:"timingAdvance,omitempty"`
	Serving               int    `json:"serving"`
}

type wifiAccessPoint struct {
	SSID               string `json:"ssid"`
	MacAddress         string `json:"macAddress"`
	Channel            *int   `json:"channel,omitempty"`
	Frequency          *int   `json:"frequency,omitempty"`
	RadioType          string `json:"radioType,omitempty"`
	SignalStrength     *int   `json:"signalStrength,omitempty"`
	SignalToNoiseRatio *int   `json:"signalToNoiseRatio,omitempty"`
}

// FormatGeosubmit renders records as a geosubmit v2 request body. Every item
// carries the submission time rather than the device time. Incomplete and
// CDMA records are skipped; the item count is returned alongside the payload.
func FormatGeosubmit(records []model.Record, now time.Time) ([]byte, int, error) {
	req := geosubmitRequest{Items: make([]geosubmitItem, 0, len(records))}
	submitted := now.UnixMilli()

	for _, r := range records {
		item, ok := geosubmitItemFor(r, submitted)
		if !ok {
			continue
		}
		req.Items = append(req.Items, item)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("encode geosubmit: %w", err)
	}
	return payload, len(req.Items), nil
}

func geosubmitItemFor(r model.Record, submitted int64) (geosubmitItem, bool) {
	obs := r.Base()
	item := geosubmitItem{
		Timestamp: submitted,
		Position: geosubmitPosition{
			Latitude:  obs.Latitude,
			Longitude: obs.Longitude,
			Accuracy:  obs.Accuracy,
			Altitude:  obs.Altitude,
			Speed:     obs.Speed,
		},
	}
	if obs.LocationAge != 0 {
		age := obs.LocationAge
		item.Position.Age = &age
	}

	switch v := r.(type) {
	case *model.WifiRecord:
		if !v.Complete() {
			return item, false
		}
		item.WifiAccessPoints = []wifiAccessPoint{{
			SSID:               v.SSID,
			MacAddress:         v.BSSID,
			Channel:            v.Channel,
			Frequency:          v.Frequency,
			RadioType:          v.Standard,
			SignalStrength:     roundPtr(v.Signal),
			SignalToNoiseRatio: roundPtr(v.SNR),
		}}
		return item, true
	case model.CellRecord:
		tower, ok := cellTowerFor(v)
		if !ok {
			return item, false
		}
		item.CellTowers = []cellTower{tower}
		return item, true
	default:
		panic(fmt.Sprintf("upload: unhandled record variant %T", r))
	}
}

func cellTowerFor(r model.CellRecord) (cellTower, bool) {
	if !r.Complete() {
		return cellTower{}, false
	}

	cell := r.CellInfo()
	tower := cellTower{
		MobileCountryCode: *cell.MCC,
		MobileNetworkCode: *cell.MNC,
	}
	if cell.ServingCell {
		tower.Serving = 1
	}

	switch v := r.(type) {
	case *model.GsmRecord:
		tower.RadioType = "gsm"
		tower.LocationAreaCode = *v.LAC
		tower.CellID = *v.CI
		tower.SignalStrength = round(*v.Signal)
		tower.TimingAdvance = v.TA
	case *model.UmtsRecord:
		tower.RadioType = "wcdma"
		tower.LocationAreaCode = *v.LAC
		tower.CellID = *v.CID
		tower.PrimaryScramblingCode = v.PSC
		tower.SignalStrength = round(*v.RSCP)
	case *model.LteRecord:
		tower.RadioType = "lte"
		tower.LocationAreaCode = *v.TAC
		tower.CellID = *v.ECI
		tower.PrimaryScramblingCode = v.PCI
		tower.SignalStrength = round(*v.RSRP)
		tower.TimingAdvance = v.TA
	case *model.NrRecord:
		tower.RadioType = "nr"
		tower.LocationAreaCode = *v.TAC
		tower.CellID = *v.NCI
		tower.PrimaryScramblingCode = v.PCI
		tower.SignalStrength = round(*v.SSRSRP)
		tower.TimingAdvance = v.TA
	default:
		return cellTower{}, false
	}
	return tower, true
}

func round(v float64) int {
	return int(math.Round(v))
}

func roundPtr(v *float64) *int {
	if v == nil {
		return nil
	}
	n := round(*v)
	return &n
}
