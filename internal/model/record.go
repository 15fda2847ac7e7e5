package model

import (
	"fmt"
	"math"
	"time"
)

// RecordType identifies the radio technology of a survey record.
type RecordType int

const (
	RecordGsm RecordType = iota
	RecordCdma
	RecordUmts
	RecordLte
	RecordNr
	RecordWifi
)

// UploadOrder is the order in which record types consume batch capacity.
var UploadOrder = []RecordType{RecordGsm, RecordCdma, RecordUmts, RecordLte, RecordNr, RecordWifi}

var recordTypeNames = map[RecordType]string{
	RecordGsm:  "gsm",
	RecordCdma: "cdma",
	RecordUmts: "umts",
	RecordLte:  "lte",
	RecordNr:   "nr",
	RecordWifi: "wifi",
}

func (t RecordType) String() string {
	if n, ok := recordTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("RecordType(%d)", int(t))
}

// ParseRecordType maps a lowercase technology name back to its RecordType.
func ParseRecordType(s string) (RecordType, bool) {
	for t, n := range recordTypeNames {
		if n == s {
			return t, true
		}
	}
	return 0, false
}

// Cellular reports whether the type is one of the cellular technologies.
func (t RecordType) Cellular() bool {
	return t != RecordWifi
}

// Targets lists the upload targets whose markers apply to records of this type.
func (t RecordType) Targets() []UploadTarget {
	switch t {
	case RecordCdma:
		return nil
	case RecordWifi:
		return []UploadTarget{TargetBeaconDB}
	default:
		return []UploadTarget{TargetOpenCelliD, TargetBeaconDB}
	}
}

// Location is a WGS84 fix in degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NoLocation returns the sentinel used for a track that has no accepted fix yet.
func NoLocation() Location {
	return Location{Lat: math.NaN(), Lon: math.NaN()}
}

// Valid is false for the NoLocation sentinel.
func (l Location) Valid() bool {
	return !math.IsNaN(l.Lat) && !math.IsNaN(l.Lon)
}

// Observation holds the fields every survey record carries.
type Observation struct {
	ID               int64     `json:"id,omitempty"`
	DeviceSerial     string    `json:"device_serial"`
	DeviceModel      string    `json:"device_model"`
	DeviceTime       time.Time `json:"device_time,omitempty"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	Altitude         float64   `json:"altitude"`
	Accuracy         float64   `json:"accuracy"`
	LocationAge      int64     `json:"location_age,omitempty"`
	Speed            float64   `json:"speed"`
	OcidUploaded     bool      `json:"ocid_uploaded"`
	BeaconDBUploaded bool      `json:"beacondb_uploaded"`
}

// Location returns the record's fix.
func (o *Observation) Location() Location {
	return Location{Lat: o.Latitude, Lon: o.Longitude}
}

// Uploaded reports the marker for a target. Targets that do not apply to t read as true.
func (o *Observation) Uploaded(t RecordType, target UploadTarget) bool {
	if !t.AppliesTo(target) {
		return true
	}
	switch target {
	case TargetOpenCelliD:
		return o.OcidUploaded
	case TargetBeaconDB:
		return o.BeaconDBUploaded
	default:
		panic(fmt.Sprintf("model: unknown upload target %d", int(target)))
	}
}

// AppliesTo reports whether target keeps an upload marker for records of type t.
func (t RecordType) AppliesTo(target UploadTarget) bool {
	for _, candidate := range t.Targets() {
		if candidate == target {
			return true
		}
	}
	return false
}

// Cell holds the fields shared by the cellular record types.
type Cell struct {
	SubscriptionID int  `json:"subscription_id"`
	ServingCell    bool `json:"serving_cell"`
	GroupNumber    int  `json:"group_number"`
	MCC            *int `json:"mcc,omitempty"`
	MNC            *int `json:"mnc,omitempty"`
}

// Record is a closed sum over the survey record variants. Only types in this
// package implement it.
type Record interface {
	Kind() RecordType
	Base() *Observation
	isRecord()
}

// CellRecord is implemented by every cellular variant.
type CellRecord interface {
	Record
	CellInfo() *Cell
	// Complete is true when the record carries MCC, MNC, area code, cell id
	// and its primary signal field. Neighbor cells usually do not.
	Complete() bool
}

// GsmRecord is a GSM cell observation.
type GsmRecord struct {
	Observation
	Cell
	LAC    *int     `json:"lac,omitempty"`
	CI     *int64   `json:"ci,omitempty"`
	ARFCN  *int     `json:"arfcn,omitempty"`
	BSIC   *int     `json:"bsic,omitempty"`
	Signal *float64 `json:"signal,omitempty"`
	TA     *int     `json:"ta,omitempty"`
}

// CdmaRecord is a CDMA cell observation. CDMA is never uploaded.
type CdmaRecord struct {
	Observation
	Cell
	SID    *int     `json:"sid,omitempty"`
	NID    *int     `json:"nid,omitempty"`
	BID    *int     `json:"bid,omitempty"`
	Signal *float64 `json:"signal,omitempty"`
}

// UmtsRecord is a UMTS (WCDMA) cell observation.
type UmtsRecord struct {
	Observation
	Cell
	LAC    *int     `json:"lac,omitempty"`
	CID    *int64   `json:"cid,omitempty"`
	UARFCN *int     `json:"uarfcn,omitempty"`
	PSC    *int     `json:"psc,omitempty"`
	RSCP   *float64 `json:"rscp,omitempty"`
	Signal *float64 `json:"signal,omitempty"`
}

// LteRecord is an LTE cell observation.
type LteRecord struct {
	Observation
	Cell
	TAC    *int     `json:"tac,omitempty"`
	ECI    *int64   `json:"eci,omitempty"`
	EARFCN *int     `json:"earfcn,omitempty"`
	PCI    *int     `json:"pci,omitempty"`
	RSRP   *float64 `json:"rsrp,omitempty"`
	RSRQ   *float64 `json:"rsrq,omitempty"`
	TA     *int     `json:"ta,omitempty"`
}

// NrRecord is a 5G NR cell observation.
type NrRecord struct {
	Observation
	Cell
	TAC    *int     `json:"tac,omitempty"`
	NCI    *int64   `json:"nci,omitempty"`
	NARFCN *int     `json:"narfcn,omitempty"`
	PCI    *int     `json:"pci,omitempty"`
	SSRSRP *float64 `json:"ss_rsrp,omitempty"`
	SSRSRQ *float64 `json:"ss_rsrq,omitempty"`
	TA     *int     `json:"ta,omitempty"`
}

// WifiRecord is a single Wi-Fi beacon observation.
type WifiRecord struct {
	Observation
	BSSID     string   `json:"bssid"`
	SSID      string   `json:"ssid"`
	Channel   *int     `json:"channel,omitempty"`
	Frequency *int     `json:"frequency,omitempty"`
	Signal    *float64 `json:"signal,omitempty"`
	SNR       *float64 `json:"snr,omitempty"`
	Standard  string   `json:"standard,omitempty"`
}

func (r *GsmRecord) Kind() RecordType  { return RecordGsm }
func (r *CdmaRecord) Kind() RecordType { return RecordCdma }
func (r *UmtsRecord) Kind() RecordType { return RecordUmts }
func (r *LteRecord) Kind() RecordType  { return RecordLte }
func (r *NrRecord) Kind() RecordType   { return RecordNr }
func (r *WifiRecord) Kind() RecordType { return RecordWifi }

func (r *GsmRecord) Base() *Observation  { return &r.Observation }
func (r *CdmaRecord) Base() *Observation { return &r.Observation }
func (r *UmtsRecord) Base() *Observation { return &r.Observation }
func (r *LteRecord) Base() *Observation  { return &r.Observation }
func (r *NrRecord) Base() *Observation   { return &r.Observation }
func (r *WifiRecord) Base() *Observation { return &r.Observation }

func (*GsmRecord) isRecord()  {}
func (*CdmaRecord) isRecord() {}
func (*UmtsRecord) isRecord() {}
func (*LteRecord) isRecord()  {}
func (*NrRecord) isRecord()   {}
func (*WifiRecord) isRecord() {}

func (r *GsmRecord) CellInfo() *Cell  { return &r.Cell }
func (r *CdmaRecord) CellInfo() *Cell { return &r.Cell }
func (r *UmtsRecord) CellInfo() *Cell { return &r.Cell }
func (r *LteRecord) CellInfo() *Cell  { return &r.Cell }
func (r *NrRecord) CellInfo() *Cell   { return &r.Cell }

func (c *Cell) hasNetwork() bool {
	return c.MCC != nil && c.MNC != nil
}

func (r *GsmRecord) Complete() bool {
	return r.hasNetwork() && r.LAC != nil && r.CI != nil && r.Signal != nil
}

// Complete is always false: CDMA records never qualify for upload.
func (r *CdmaRecord) Complete() bool {
	return false
}

func (r *UmtsRecord) Complete() bool {
	return r.hasNetwork() && r.LAC != nil && r.CID != nil && r.RSCP != nil
}

func (r *LteRecord) Complete() bool {
	return r.hasNetwork() && r.TAC != nil && r.ECI != nil && r.RSRP != nil
}

func (r *NrRecord) Complete() bool {
	return r.hasNetwork() && r.TAC != nil && r.NCI != nil && r.SSRSRP != nil
}

// Complete is true when the access point has a BSSID.
func (r *WifiRecord) Complete() bool {
	return r.BSSID != ""
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
