package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"networksurvey/uploader/internal/model"
)

type column struct {
	name string
	ddl  string
}

var commonColumns = []column{
	{"device_serial", "TEXT NOT NULL DEFAULT ''"},
	{"device_model", "TEXT NOT NULL DEFAULT ''"},
	{"device_time", "TEXT"},
	{"latitude", "REAL NOT NULL"},
	{"longitude", "REAL NOT NULL"},
	{"altitude", "REAL NOT NULL DEFAULT 0"},
	{"accuracy", "REAL NOT NULL"},
	{"location_age", "INTEGER NOT NULL DEFAULT 0"},
	{"speed", "REAL NOT NULL DEFAULT 0"},
	{"beacondb_uploaded", "INTEGER NOT NULL DEFAULT 0"},
}

var cellColumns = []column{
	{"subscription_id", "INTEGER NOT NULL DEFAULT 0"},
	{"serving_cell", "INTEGER NOT NULL DEFAULT 0"},
	{"group_number", "INTEGER NOT NULL DEFAULT 0"},
	{"mcc", "INTEGER"},
	{"mnc", "INTEGER"},
	{"ocid_uploaded", "INTEGER NOT NULL DEFAULT 0"},
}

// table describes how one record type maps onto SQLite.
type table struct {
	kind     model.RecordType
	name     string
	specific []column
}

var tables = []table{
	{kind: model.RecordGsm, name: "gsm_records", specific: []column{
		{"lac", "INTEGER"}, {"ci", "INTEGER"}, {"arfcn", "INTEGER"}, {"bsic", "INTEGER"}, {"signal", "REAL"}, {"ta", "INTEGER"},
	}},
	{kind: model.RecordUmts, name: "umts_records", specific: []column{
		{"lac", "INTEGER"}, {"cid", "INTEGER"}, {"uarfcn", "INTEGER"}, {"psc", "INTEGER"}, {"rscp", "REAL"}, {"signal", "REAL"},
	}},
	{kind: model.RecordLte, name: "lte_records", specific: []column{
		{"tac", "INTEGER"}, {"eci", "INTEGER"}, {"earfcn", "INTEGER"}, {"pci", "INTEGER"}, {"rsrp", "REAL"}, {"rsrq", "REAL"}, {"ta", "INTEGER"},
	}},
	{kind: model.RecordNr, name: "nr_records", specific: []column{
		{"tac", "INTEGER"}, {"nci", "INTEGER"}, {"narfcn", "INTEGER"}, {"pci", "INTEGER"}, {"ss_rsrp", "REAL"}, {"ss_rsrq", "REAL"}, {"ta", "INTEGER"},
	}},
	{kind: model.RecordWifi, name: "wifi_records", specific: []column{
		{"bssid", "TEXT NOT NULL"}, {"ssid", "TEXT NOT NULL DEFAULT ''"}, {"channel", "INTEGER"}, {"frequency", "INTEGER"}, {"signal", "REAL"}, {"snr", "REAL"}, {"standard", "TEXT NOT NULL DEFAULT ''"},
	}},
}

func tableFor(kind model.RecordType) (table, error) {
	for _, t := range tables {
		if t.kind == kind {
			return t, nil
		}
	}
	return table{}, fmt.Errorf("%s: %w", kind, ErrNotStored)
}

func (t table) columns() []column {
	cols := append([]column{}, commonColumns...)
	if t.kind.Cellular() {
		cols = append(cols, cellColumns...)
	}
	return append(cols, t.specific...)
}

func (t table) columnNames() []string {
	cols := t.columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}

func (t table) createStatement() string {
	defs := []string{"id INTEGER PRIMARY KEY AUTOINCREMENT"}
	for _, c := range t.columns() {
		defs = append(defs, c.name+" "+c.ddl)
	}
	defs = append(defs, "recorded_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))")
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n);", t.name, strings.Join(defs, ",\n\t"))
}

func (t table) pendingIndexColumns() string {
	if t.kind.Cellular() {
		return "ocid_uploaded, beacondb_uploaded"
	}
	return "beacondb_uploaded"
}

// pendingClause selects rows that still miss at least one applicable marker.
func (t table) pendingClause() string {
	if t.kind.Cellular() {
		return "ocid_uploaded = 0 OR beacondb_uploaded = 0"
	}
	return "beacondb_uploaded = 0"
}

// doneClause selects rows whose every applicable marker is set.
func (t table) doneClause() string {
	if t.kind.Cellular() {
		return "ocid_uploaded = 1 AND beacondb_uploaded = 1"
	}
	return "beacondb_uploaded = 1"
}

func (t table) markerColumn(target model.UploadTarget) (string, error) {
	if !t.kind.AppliesTo(target) {
		return "", fmt.Errorf("%s/%s: %w", t.kind, target, ErrTargetNotApplicable)
	}
	switch target {
	case model.TargetOpenCelliD:
		return "ocid_uploaded", nil
	case model.TargetBeaconDB:
		return "beacondb_uploaded", nil
	default:
		return "", fmt.Errorf("unknown upload target %d", int(target))
	}
}

func (t table) insertStatement() string {
	names := t.columnNames()
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s);`,
		t.name, strings.Join(names, ", "), placeholders(len(names)))
}

func (t table) selectStatement(where string) string {
	return fmt.Sprintf(`SELECT id, %s FROM %s WHERE %s ORDER BY id LIMIT ?;`,
		strings.Join(t.columnNames(), ", "), t.name, where)
}

// values returns the insert arguments in columnNames order.
func values(r model.Record) ([]any, error) {
	obs := r.Base()
	var deviceTime sql.NullString
	if !obs.DeviceTime.IsZero() {
		deviceTime = sql.NullString{String: obs.DeviceTime.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	args := []any{
		obs.DeviceSerial, obs.DeviceModel, deviceTime,
		obs.Latitude, obs.Longitude, obs.Altitude, obs.Accuracy,
		obs.LocationAge, obs.Speed, obs.BeaconDBUploaded,
	}

	if cr, ok := r.(model.CellRecord); ok {
		c := cr.CellInfo()
		args = append(args, c.SubscriptionID, c.ServingCell, c.GroupNumber, nullInt(c.MCC), nullInt(c.MNC), obs.OcidUploaded)
	}

	switch v := r.(type) {
	case *model.GsmRecord:
		return append(args, nullInt(v.LAC), nullInt64(v.CI), nullInt(v.ARFCN), nullInt(v.BSIC), nullFloat(v.Signal), nullInt(v.TA)), nil
	case *model.UmtsRecord:
		return append(args, nullInt(v.LAC), nullInt64(v.CID), nullInt(v.UARFCN), nullInt(v.PSC), nullFloat(v.RSCP), nullFloat(v.Signal)), nil
	case *model.LteRecord:
		return append(args, nullInt(v.TAC), nullInt64(v.ECI), nullInt(v.EARFCN), nullInt(v.PCI), nullFloat(v.RSRP), nullFloat(v.RSRQ), nullInt(v.TA)), nil
	case *model.NrRecord:
		return append(args, nullInt(v.TAC), nullInt64(v.NCI), nullInt(v.NARFCN), nullInt(v.PCI), nullFloat(v.SSRSRP), nullFloat(v.SSRSRQ), nullInt(v.TA)), nil
	case *model.WifiRecord:
		return append(args, v.BSSID, v.SSID, nullInt(v.Channel), nullInt(v.Frequency), nullFloat(v.Signal), nullFloat(v.SNR), v.Standard), nil
	case *model.CdmaRecord:
		return nil, fmt.Errorf("%s: %w", r.Kind(), ErrNotStored)
	default:
		panic(fmt.Sprintf("store: unhandled record variant %T", r))
	}
}

// rowScanner collects scan destinations for one row of a table and builds
// the record once the row has been scanned.
type rowScanner struct {
	rec        model.Record
	deviceTime sql.NullString
	mcc, mnc   sql.NullInt64
	dests      []any
	finish     func()
}

func newRowScanner(kind model.RecordType) *rowScanner {
	s := &rowScanner{}

	var rec model.Record
	var specific []any
	switch kind {
	case model.RecordGsm:
		r := &model.GsmRecord{}
		var lac, ci, arfcn, bsic, ta sql.NullInt64
		var signal sql.NullFloat64
		specific = []any{&lac, &ci, &arfcn, &bsic, &signal, &ta}
		s.finish = func() {
			r.LAC, r.CI, r.ARFCN, r.BSIC, r.Signal, r.TA = intPtr(lac), int64Ptr(ci), intPtr(arfcn), intPtr(bsic), floatPtr(signal), intPtr(ta)
		}
		rec = r
	case model.RecordUmts:
		r := &model.UmtsRecord{}
		var lac, cid, uarfcn, psc sql.NullInt64
		var rscp, signal sql.NullFloat64
		specific = []any{&lac, &cid, &uarfcn, &psc, &rscp, &signal}
		s.finish = func() {
			r.LAC, r.CID, r.UARFCN, r.PSC, r.RSCP, r.Signal = intPtr(lac), int64Ptr(cid), intPtr(uarfcn), intPtr(psc), floatPtr(rscp), floatPtr(signal)
		}
		rec = r
	case model.RecordLte:
		r := &model.LteRecord{}
		var tac, eci, earfcn, pci, ta sql.NullInt64
		var rsrp, rsrq sql.NullFloat64
		specific = []any{&tac, &eci, &earfcn, &pci, &rsrp, &rsrq, &ta}
		s.finish = func() {
			r.TAC, r.ECI, r.EARFCN, r.PCI, r.RSRP, r.RSRQ, r.TA = intPtr(tac), int64Ptr(eci), intPtr(earfcn), intPtr(pci), floatPtr(rsrp), floatPtr(rsrq), intPtr(ta)
		}
		rec = r
	case model.RecordNr:
		r := &model.NrRecord{}
		var tac, nci, narfcn, pci, ta sql.NullInt64
		var rsrp, rsrq sql.NullFloat64
		specific = []any{&tac, &nci, &narfcn, &pci, &rsrp, &rsrq, &ta}
		s.finish = func() {
			r.TAC, r.NCI, r.NARFCN, r.PCI, r.SSRSRP, r.SSRSRQ, r.TA = intPtr(tac), int64Ptr(nci), intPtr(narfcn), intPtr(pci), floatPtr(rsrp), floatPtr(rsrq), intPtr(ta)
		}
		rec = r
	case model.RecordWifi:
		r := &model.WifiRecord{}
		var channel, frequency sql.NullInt64
		var signal, snr sql.NullFloat64
		specific = []any{&r.BSSID, &r.SSID, &channel, &frequency, &signal, &snr, &r.Standard}
		s.finish = func() {
			r.Channel, r.Frequency, r.Signal, r.SNR = intPtr(channel), intPtr(frequency), floatPtr(signal), floatPtr(snr)
		}
		rec = r
	default:
		panic(fmt.Sprintf("store: no table for %s", kind))
	}

	s.rec = rec
	obs := rec.Base()
	s.dests = []any{
		&obs.ID,
		&obs.DeviceSerial, &obs.DeviceModel, &s.deviceTime,
		&obs.Latitude, &obs.Longitude, &obs.Altitude, &obs.Accuracy,
		&obs.LocationAge, &obs.Speed, &obs.BeaconDBUploaded,
	}
	if cr, ok := rec.(model.CellRecord); ok {
		c := cr.CellInfo()
		s.dests = append(s.dests, &c.SubscriptionID, &c.ServingCell, &c.GroupNumber, &s.mcc, &s.mnc, &obs.OcidUploaded)
	}
	s.dests = append(s.dests, specific...)
	return s
}

func (s *rowScanner) record() model.Record {
	s.finish()
	obs := s.rec.Base()
	if s.deviceTime.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, s.deviceTime.String); err == nil {
			obs.DeviceTime = ts
		}
	}
	if cr, ok := s.rec.(model.CellRecord); ok {
		c := cr.CellInfo()
		c.MCC, c.MNC = intPtr(s.mcc), intPtr(s.mnc)
	}
	return s.rec
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
