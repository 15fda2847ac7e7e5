package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"networksurvey/uploader/internal/model"
	"networksurvey/uploader/internal/upload"
)

func scrape(m *Metrics) string {
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	So(rec.Code, ShouldEqual, 200)
	body, err := io.ReadAll(rec.Body)
	So(err, ShouldBeNil)
	return string(body)
}

func TestMetrics(t *testing.T) {
	Convey("Metrics", t, func() {
		m := New()

		Convey("split offered records into stored and rejected", func() {
			m.RecordsOffered(model.RecordLte, 5, 3)
			body := scrape(m)
			So(body, ShouldContainSubstring, `survey_uploader_records_received_total{type="lte"} 5`)
			So(body, ShouldContainSubstring, `survey_uploader_records_stored_total{type="lte"} 3`)
			So(body, ShouldContainSubstring, `survey_uploader_records_rejected_total{type="lte"} 2`)
		})

		Convey("observe upload runs", func() {
			start := time.Unix(1700000000, 0)
			m.UploadFinished(model.TargetBeaconDB, model.RecordWifi, upload.ResultSuccess, 7)
			m.RunFinished(upload.Report{
				Outcome:    upload.OutcomeSuccess,
				Deleted:    7,
				StartedAt:  start,
				FinishedAt: start.Add(2 * time.Second),
			})

			body := scrape(m)
			So(body, ShouldContainSubstring, `survey_uploader_upload_sub_batches_total{result="success",target="beacondb",type="wifi"} 1`)
			So(body, ShouldContainSubstring, `survey_uploader_upload_records_total{result="success",target="beacondb"} 7`)
			So(body, ShouldContainSubstring, `survey_uploader_upload_runs_total{outcome="success"} 1`)
			So(body, ShouldContainSubstring, `survey_uploader_records_deleted_total 7`)
			So(body, ShouldContainSubstring, `survey_uploader_upload_run_duration_seconds_count 1`)
		})

		Convey("count ingest errors by source", func() {
			m.IngestError("mqtt")
			m.IngestError("mqtt")
			So(scrape(m), ShouldContainSubstring, `survey_uploader_ingest_errors_total{source="mqtt"} 2`)
		})
	})
}
