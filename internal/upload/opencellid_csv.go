package upload

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"networksurvey/uploader/internal/model"
)

// OpenCelliDColumns is the fixed header of the OpenCelliD CSV upload format.
var OpenCelliDColumns = []string{
	"lat", "lon", "mcc", "mnc", "sid", "lac", "tac", "nid", "cellid", "bid",
	"psc", "pci", "signal", "ta", "measured_at", "rating", "speed", "direction", "act", "devn",
}

const (
	colLat = iota
	colLon
	colMCC
	colMNC
	colSID
	colLAC
	colTAC
	colNID
	colCellID
	colBID
	colPSC
	colPCI
	colSignal
	colTA
	colMeasuredAt
	colRating
	colSpeed
	colDirection
	colAct
	colDevn
)

// MeasuredAtLayout formats measured_at in UTC with millisecond precision.
const MeasuredAtLayout = "2006-01-02 15:04:05.000Z"

// FormatOpenCelliDCSV renders the header and one row per complete cellular
// record. Wi-Fi, CDMA and incomplete records are skipped. It returns the
// payload and the number of rows written.
func FormatOpenCelliDCSV(records []model.Record, now time.Time) ([]byte, int) {
	var buf bytes.Buffer
	buf.WriteString(strings.Join(OpenCelliDColumns, ","))
	buf.WriteString("\n")

	rows := 0
	for _, r := range records {
		row, ok := openCelliDRow(r, now)
		if !ok {
			continue
		}
		buf.WriteString(strings.Join(row, ","))
		buf.WriteString("\n")
		rows++
	}
	return buf.Bytes(), rows
}

func openCelliDRow(r model.Record, now time.Time) ([]string, bool) {
	cr, ok := r.(model.CellRecord)
	if !ok || !cr.Complete() {
		return nil, false
	}

	row := make([]string, len(OpenCelliDColumns))
	obs := r.Base()
	cell := cr.CellInfo()

	row[colLat] = formatFloat(obs.Latitude)
	row[colLon] = formatFloat(obs.Longitude)
	row[colMCC] = optInt(cell.MCC)
	row[colMNC] = optInt(cell.MNC)

	measured := obs.DeviceTime
	if measured.IsZero() {
		measured = now
	}
	row[colMeasuredAt] = measured.UTC().Format(MeasuredAtLayout)
	row[colRating] = formatFloat(obs.Accuracy)
	row[colSpeed] = formatFloat(obs.Speed)
	row[colDevn] = quote(obs.DeviceModel)

	switch v := r.(type) {
	case *model.GsmRecord:
		row[colLAC] = optInt(v.LAC)
		row[colCellID] = optInt64(v.CI)
		row[colSignal] = optFloat(v.Signal)
		row[colTA] = optInt(v.TA)
		row[colAct] = "GSM"
	case *model.UmtsRecord:
		row[colLAC] = optInt(v.LAC)
		row[colCellID] = optInt64(v.CID)
		row[colPSC] = optInt(v.PSC)
		row[colSignal] = optFloat(v.RSCP)
		row[colAct] = "UMTS"
	case *model.LteRecord:
		row[colTAC] = optInt(v.TAC)
		row[colCellID] = optInt64(v.ECI)
		row[colPCI] = optInt(v.PCI)
		row[colSignal] = optFloat(v.RSRP)
		row[colTA] = optInt(v.TA)
		row[colAct] = "LTE"
	case *model.NrRecord:
		row[colTAC] = optInt(v.TAC)
		row[colCellID] = optInt64(v.NCI)
		row[colPCI] = optInt(v.PCI)
		row[colSignal] = optFloat(v.SSRSRP)
		row[colTA] = optInt(v.TA)
		row[colAct] = "NR"
	default:
		return nil, false
	}
	return row, true
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optInt64(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
