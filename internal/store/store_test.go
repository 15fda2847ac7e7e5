package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"networksurvey/uploader/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "survey.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func lteRecord(lat float64) *model.LteRecord {
	return &model.LteRecord{
		Observation: model.Observation{
			DeviceSerial: "dev-1",
			DeviceModel:  "Pixel 8",
			DeviceTime:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			Latitude:     lat,
			Longitude:    -105,
			Altitude:     1600,
			Accuracy:     12.5,
			Speed:        3,
		},
		Cell: model.Cell{SubscriptionID: 1, ServingCell: true, GroupNumber: 4, MCC: model.Int(310), MNC: model.Int(260)},
		TAC:  model.Int(11),
		ECI:  model.Int64(26411009),
		PCI:  model.Int(301),
		RSRP: model.Float(-101),
		TA:   model.Int(3),
	}
}

func gsmRecord() *model.GsmRecord {
	return &model.GsmRecord{
		Observation: model.Observation{Latitude: 40, Longitude: -105, Accuracy: 5},
		Cell:        model.Cell{MCC: model.Int(310), MNC: model.Int(260)},
		LAC:         model.Int(100),
		CI:          model.Int64(2000),
		Signal:      model.Float(-70),
	}
}

func wifiRecord(bssid string) *model.WifiRecord {
	return &model.WifiRecord{
		Observation: model.Observation{Latitude: 40, Longitude: -105, Accuracy: 5},
		BSSID:       bssid,
		SSID:        "cafe",
		Channel:     model.Int(6),
		Frequency:   model.Int(2437),
		Signal:      model.Float(-55),
		Standard:    "802.11ax",
	}
}

func TestStore(t *testing.T) {
	Convey("A record store", t, func() {
		ctx := context.Background()
		s := openTestStore(t)

		Convey("round-trips records with nullable fields", func() {
			rec := lteRecord(40)
			rec.RSRQ = nil
			So(s.InsertRecords(ctx, []model.Record{rec}), ShouldBeNil)
			So(rec.ID, ShouldBeGreaterThan, 0)

			got, err := s.SelectForUpload(ctx, model.RecordLte, 10)
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 1)

			lte := got[0].(*model.LteRecord)
			So(lte.ID, ShouldEqual, rec.ID)
			So(lte.DeviceModel, ShouldEqual, "Pixel 8")
			So(lte.DeviceTime.Equal(rec.DeviceTime), ShouldBeTrue)
			So(*lte.MCC, ShouldEqual, 310)
			So(*lte.ECI, ShouldEqual, 26411009)
			So(*lte.RSRP, ShouldEqual, -101)
			So(lte.RSRQ, ShouldBeNil)
			So(lte.ServingCell, ShouldBeTrue)
			So(lte.GroupNumber, ShouldEqual, 4)
		})

		Convey("rejects CDMA records", func() {
			err := s.InsertRecords(ctx, []model.Record{&model.CdmaRecord{}})
			So(errors.Is(err, ErrNotStored), ShouldBeTrue)
		})

		Convey("rolls back a failed batch insert", func() {
			err := s.InsertRecords(ctx, []model.Record{gsmRecord(), &model.CdmaRecord{}})
			So(err, ShouldNotBeNil)
			n, err := s.Count(ctx, model.RecordGsm)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})

		Convey("selects at most limit unmarked rows", func() {
			var recs []model.Record
			for i := 0; i < 5; i++ {
				recs = append(recs, lteRecord(40+float64(i)))
			}
			So(s.InsertRecords(ctx, recs), ShouldBeNil)

			got, err := s.SelectForUpload(ctx, model.RecordLte, 3)
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 3)
			So(got[0].Base().ID, ShouldEqual, recs[0].Base().ID)

			none, err := s.SelectForUpload(ctx, model.RecordCdma, 3)
			So(err, ShouldBeNil)
			So(none, ShouldBeEmpty)
		})

		Convey("keeps partially marked cellular rows pending", func() {
			recs := []model.Record{gsmRecord(), gsmRecord()}
			So(s.InsertRecords(ctx, recs), ShouldBeNil)
			ids := []int64{recs[0].Base().ID, recs[1].Base().ID}

			So(s.MarkUploaded(ctx, model.RecordGsm, model.TargetOpenCelliD, ids), ShouldBeNil)
			pending, err := s.CountForUpload(ctx, model.RecordGsm)
			So(err, ShouldBeNil)
			So(pending, ShouldEqual, 2)

			deleted, err := s.DeleteFullyUploaded(ctx)
			So(err, ShouldBeNil)
			So(deleted, ShouldEqual, 0)

			So(s.MarkUploaded(ctx, model.RecordGsm, model.TargetBeaconDB, ids[:1]), ShouldBeNil)
			deleted, err = s.DeleteFullyUploaded(ctx)
			So(err, ShouldBeNil)
			So(deleted, ShouldEqual, 1)

			total, err := s.Count(ctx, model.RecordGsm)
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 1)

			left, err := s.SelectForUpload(ctx, model.RecordGsm, 10)
			So(err, ShouldBeNil)
			So(left, ShouldHaveLength, 1)
			So(left[0].Base().OcidUploaded, ShouldBeTrue)
			So(left[0].Base().BeaconDBUploaded, ShouldBeFalse)
		})

		Convey("deletes Wi-Fi once BeaconDB is marked", func() {
			recs := []model.Record{wifiRecord("00:11:22:33:44:55")}
			So(s.InsertRecords(ctx, recs), ShouldBeNil)

			err := s.MarkUploaded(ctx, model.RecordWifi, model.TargetOpenCelliD, []int64{recs[0].Base().ID})
			So(errors.Is(err, ErrTargetNotApplicable), ShouldBeTrue)

			So(s.MarkUploaded(ctx, model.RecordWifi, model.TargetBeaconDB, []int64{recs[0].Base().ID}), ShouldBeNil)
			deleted, err := s.DeleteFullyUploaded(ctx)
			So(err, ShouldBeNil)
			So(deleted, ShouldEqual, 1)
		})

		Convey("marks more ids than one statement binds", func() {
			var recs []model.Record
			for i := 0; i < markChunkSize+20; i++ {
				recs = append(recs, wifiRecord("aa:bb:cc:00:00:01"))
			}
			So(s.InsertRecords(ctx, recs), ShouldBeNil)

			ids := make([]int64, len(recs))
			for i, r := range recs {
				ids[i] = r.Base().ID
			}
			So(s.MarkUploaded(ctx, model.RecordWifi, model.TargetBeaconDB, ids), ShouldBeNil)

			pending, err := s.CountForUpload(ctx, model.RecordWifi)
			So(err, ShouldBeNil)
			So(pending, ShouldEqual, 0)
		})

		Convey("reports counts per type", func() {
			So(s.InsertRecords(ctx, []model.Record{gsmRecord(), lteRecord(40), wifiRecord("aa")}), ShouldBeNil)
			counts, err := s.Counts(ctx)
			So(err, ShouldBeNil)
			So(counts, ShouldHaveLength, 5)
			So(counts[0], ShouldResemble, TypeCounts{Type: "gsm", Total: 1, Pending: 1})
			So(counts[4], ShouldResemble, TypeCounts{Type: "wifi", Total: 1, Pending: 1})
		})

		Convey("wipes every record table", func() {
			So(s.InsertRecords(ctx, []model.Record{gsmRecord(), wifiRecord("aa")}), ShouldBeNil)
			So(s.WipeRecords(ctx), ShouldBeNil)
			n, err := s.Count(ctx, model.RecordWifi)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})

		Convey("stores run history newest first", func() {
			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			for i, id := range []string{"a", "b"} {
				So(s.InsertUploadRun(ctx, UploadRun{
					RunID:      id,
					Outcome:    "success",
					StartedAt:  base.Add(time.Duration(i) * time.Hour),
					FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
					Results:    map[string]string{"opencellid": "success"},
				}), ShouldBeNil)
			}
			runs, err := s.RecentUploadRuns(ctx, 10)
			So(err, ShouldBeNil)
			So(runs, ShouldHaveLength, 2)
			So(runs[0].RunID, ShouldEqual, "b")
			So(runs[0].Results["opencellid"], ShouldEqual, "success")
		})
	})
}
