package upload

import (
	"time"

	"networksurvey/uploader/internal/model"
)

var surveyTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func lteRecord(lat float64) *model.LteRecord {
	return &model.LteRecord{
		Observation: model.Observation{
			DeviceSerial: "dev-1",
			DeviceModel:  "Pixel 8",
			DeviceTime:   surveyTime,
			Latitude:     lat,
			Longitude:    -105,
			Altitude:     1600,
			Accuracy:     12.5,
			Speed:        3,
		},
		Cell: model.Cell{SubscriptionID: 1, ServingCell: true, MCC: model.Int(310), MNC: model.Int(260)},
		TAC:  model.Int(11),
		ECI:  model.Int64(26411009),
		PCI:  model.Int(301),
		RSRP: model.Float(-101),
		RSRQ: model.Float(-11),
		TA:   model.Int(3),
	}
}

func gsmRecord() *model.GsmRecord {
	return &model.GsmRecord{
		Observation: model.Observation{Latitude: 40, Longitude: -105, Accuracy: 5, DeviceModel: `Moto "G"`},
		Cell:        model.Cell{MCC: model.Int(310), MNC: model.Int(260)},
		LAC:         model.Int(100),
		CI:          model.Int64(2000),
		Signal:      model.Float(-70.6),
		TA:          model.Int(1),
	}
}

func umtsRecord() *model.UmtsRecord {
	return &model.UmtsRecord{
		Observation: model.Observation{Latitude: 40, Longitude: -105, Accuracy: 5, DeviceTime: surveyTime},
		Cell:        model.Cell{MCC: model.Int(310), MNC: model.Int(410)},
		LAC:         model.Int(200),
		CID:         model.Int64(123456789),
		PSC:         model.Int(42),
		RSCP:        model.Float(-88),
	}
}

func nrRecord() *model.NrRecord {
	return &model.NrRecord{
		Observation: model.Observation{Latitude: 40, Longitude: -105, Accuracy: 5, DeviceTime: surveyTime},
		Cell:        model.Cell{MCC: model.Int(310), MNC: model.Int(260), ServingCell: true},
		TAC:         model.Int(12),
		NCI:         model.Int64(68719476735),
		PCI:         model.Int(500),
		SSRSRP:      model.Float(-95),
	}
}

func wifiRecord(bssid string) *model.WifiRecord {
	return &model.WifiRecord{
		Observation: model.Observation{Latitude: 40, Longitude: -105, Accuracy: 5, LocationAge: 1500},
		BSSID:       bssid,
		SSID:        "cafe",
		Channel:     model.Int(6),
		Frequency:   model.Int(2437),
		Signal:      model.Float(-55.4),
		Standard:    "802.11ax",
	}
}
