// Package ingest turns scan payloads into stored survey records, gating every
// write through the dedup filter.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"networksurvey/uploader/internal/model"
)

var (
	ErrUnknownRecordType = errors.New("unknown record type")
	ErrWrongChannel      = errors.New("record type not accepted on this channel")
)

// Channel is the kind of scan a payload carries.
type Channel string

const (
	ChannelCellular Channel = "cellular"
	ChannelWifi     Channel = "wifi"
)

// ParseChannel accepts "cellular" or "wifi".
func ParseChannel(s string) (Channel, bool) {
	switch Channel(strings.ToLower(s)) {
	case ChannelCellular:
		return ChannelCellular, true
	case ChannelWifi:
		return ChannelWifi, true
	default:
		return "", false
	}
}

// ScanPayload is the wire format of one scan cycle. Each entry in Records
// is a record object with a "type" discriminator.
type ScanPayload struct {
	DeviceSerial string            `json:"device_serial"`
	DeviceModel  string            `json:"device_model"`
	Records      []json.RawMessage `json:"records"`
}

// Scan is a decoded payload split by channel.
type Scan struct {
	Cellular []model.CellRecord
	Wifi     []*model.WifiRecord
}

// Len is the number of records in the scan.
func (s Scan) Len() int {
	return len(s.Cellular) + len(s.Wifi)
}

type envelope struct {
	Type string `json:"type"`
}

// DecodeScan parses a payload received on channel. deviceSerial fills records
// that carry neither their own serial nor a payload-level one.
func DecodeScan(data []byte, channel Channel, deviceSerial string) (Scan, error) {
	var payload ScanPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Scan{}, fmt.Errorf("decode payload: %w", err)
	}
	if payload.DeviceSerial == "" {
		payload.DeviceSerial = deviceSerial
	}

	var scan Scan
	for i, raw := range payload.Records {
		rec, err := decodeRecord(raw)
		if err != nil {
			return Scan{}, fmt.Errorf("record %d: %w", i, err)
		}

		obs := rec.Base()
		if obs.DeviceSerial == "" {
			obs.DeviceSerial = payload.DeviceSerial
		}
		if obs.DeviceModel == "" {
			obs.DeviceModel = payload.DeviceModel
		}
		// Upload markers are owned by the store.
		obs.ID = 0
		obs.OcidUploaded = false
		obs.BeaconDBUploaded = false

		switch v := rec.(type) {
		case *model.WifiRecord:
			if channel != ChannelWifi {
				return Scan{}, fmt.Errorf("record %d (%s): %w", i, v.Kind(), ErrWrongChannel)
			}
			scan.Wifi = append(scan.Wifi, v)
		case model.CellRecord:
			if channel != ChannelCellular {
				return Scan{}, fmt.Errorf("record %d (%s): %w", i, v.Kind(), ErrWrongChannel)
			}
			scan.Cellular = append(scan.Cellular, v)
		}
	}
	return scan, nil
}

func decodeRecord(raw json.RawMessage) (model.Record, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode record type: %w", err)
	}

	kind, ok := model.ParseRecordType(strings.ToLower(env.Type))
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownRecordType, env.Type)
	}

	var rec model.Record
	switch kind {
	case model.RecordGsm:
		rec = &model.GsmRecord{}
	case model.RecordCdma:
		rec = &model.CdmaRecord{}
	case model.RecordUmts:
		rec = &model.UmtsRecord{}
	case model.RecordLte:
		rec = &model.LteRecord{}
	case model.RecordNr:
		rec = &model.NrRecord{}
	case model.RecordWifi:
		rec = &model.WifiRecord{}
	default:
		panic(fmt.Sprintf("ingest: unhandled record type %s", kind))
	}

	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", kind, err)
	}
	return rec, nil
}
