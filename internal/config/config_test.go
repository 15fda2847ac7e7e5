package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoad(t *testing.T) {
	Convey("Load", t, func() {
		Reset(func() {
			for _, key := range []string{FileEnv, "SURVEY_BATCH_SIZE", "SURVEY_OCID_ANONYMOUS",
				"SURVEY_HTTP_PORT", "SURVEY_RETRY_ENABLED", "SURVEY_DISTANCE_THRESHOLD"} {
				os.Unsetenv(key)
			}
		})

		Convey("returns the defaults with an empty environment", func() {
			cfg, err := Load()
			So(err, ShouldBeNil)
			So(cfg, ShouldResemble, Default())
			So(cfg.BatchSize, ShouldEqual, 100)
			So(cfg.DistanceThresholdMeters, ShouldEqual, 35)
			So(cfg.AccuracyThresholdMeters, ShouldEqual, 100)
			So(cfg.OpenCelliD.BaseURL, ShouldEqual, "https://opencellid.org")
			So(cfg.BeaconDB.BaseURL, ShouldEqual, "https://api.beacondb.net")
		})

		Convey("overlays a YAML file and then the environment", func() {
			path := filepath.Join(t.TempDir(), "uploader.yaml")
			So(os.WriteFile(path, []byte(`
http_port: 8181
batch_size: 250
upload_interval: 5m
opencellid:
  enabled: false
  api_key: from-file
beacondb:
  base_url: http://localhost:9999
`), 0o600), ShouldBeNil)

			t.Setenv(FileEnv, path)
			t.Setenv("SURVEY_BATCH_SIZE", "50")
			t.Setenv("SURVEY_OCID_ANONYMOUS", "true")

			cfg, err := Load()
			So(err, ShouldBeNil)
			So(cfg.HTTPPort, ShouldEqual, 8181)
			So(cfg.BatchSize, ShouldEqual, 50)
			So(cfg.UploadInterval, ShouldEqual, 5*time.Minute)
			So(cfg.OpenCelliD.Enabled, ShouldBeFalse)
			So(cfg.OpenCelliD.APIKey, ShouldEqual, "from-file")
			So(cfg.OpenCelliD.Anonymous, ShouldBeTrue)
			So(cfg.OpenCelliD.BaseURL, ShouldEqual, "https://opencellid.org")
			So(cfg.BeaconDB.Enabled, ShouldBeTrue)
			So(cfg.BeaconDB.BaseURL, ShouldEqual, "http://localhost:9999")
		})

		Convey("reports malformed environment values", func() {
			t.Setenv("SURVEY_HTTP_PORT", "eighty")
			t.Setenv("SURVEY_RETRY_ENABLED", "sometimes")

			_, err := Load()
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "SURVEY_HTTP_PORT")
			So(err.Error(), ShouldContainSubstring, "SURVEY_RETRY_ENABLED")
		})

		Convey("reports a missing config file", func() {
			t.Setenv(FileEnv, filepath.Join(t.TempDir(), "missing.yaml"))
			_, err := Load()
			So(err, ShouldNotBeNil)
		})

		Convey("rejects values out of range", func() {
			t.Setenv("SURVEY_BATCH_SIZE", "0")
			t.Setenv("SURVEY_DISTANCE_THRESHOLD", "-1")

			_, err := Load()
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "batch_size")
			So(err.Error(), ShouldContainSubstring, "distance_threshold_meters")
		})
	})
}
