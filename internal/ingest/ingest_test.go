package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	. "github.com/smartystreets/goconvey/convey"

	"networksurvey/uploader/internal/dedup"
	"networksurvey/uploader/internal/model"
	"networksurvey/uploader/internal/store"
	"networksurvey/uploader/internal/upload"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "survey.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type countingObserver struct {
	offered map[model.RecordType]int
	stored  map[model.RecordType]int
	errors  map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		offered: map[model.RecordType]int{},
		stored:  map[model.RecordType]int{},
		errors:  map[string]int{},
	}
}

func (o *countingObserver) RecordsOffered(kind model.RecordType, offered, stored int) {
	o.offered[kind] += offered
	o.stored[kind] += stored
}

func (o *countingObserver) IngestError(source string) { o.errors[source]++ }

const metersPerDegree = dedup.EarthRadiusMeters * 3.141592653589793 / 180

func ltePayload(sub int, lat float64, extra ...string) []byte {
	records := []string{fmt.Sprintf(`{
		"type": "lte", "latitude": %f, "longitude": -105, "accuracy": 20,
		"subscription_id": %d, "serving_cell": true, "mcc": 310, "mnc": 260,
		"tac": 11, "eci": 26411009, "pci": 301, "rsrp": -101
	}`, lat, sub)}
	records = append(records, extra...)

	payload := `{"device_model": "Pixel 8", "records": [`
	for i, r := range records {
		if i > 0 {
			payload += ","
		}
		payload += r
	}
	return []byte(payload + "]}")
}

const neighborLte = `{"type": "lte", "latitude": 40, "longitude": -105, "accuracy": 20, "subscription_id": 1, "pci": 17, "rsrp": -115}`

func wifiPayload(lat float64, bssids ...string) []byte {
	payload := `{"device_serial": "dev-9", "records": [`
	for i, b := range bssids {
		if i > 0 {
			payload += ","
		}
		payload += fmt.Sprintf(`{"type": "wifi", "latitude": %f, "longitude": -105, "accuracy": 10, "bssid": %q, "ssid": "net", "signal": -60, "standard": "802.11n"}`, lat, b)
	}
	return []byte(payload + "]}")
}

func TestDecodeScan(t *testing.T) {
	Convey("DecodeScan", t, func() {
		Convey("decodes cellular records and fills device identity", func() {
			scan, err := DecodeScan(ltePayload(2, 40, neighborLte), ChannelCellular, "dev-from-topic")
			So(err, ShouldBeNil)
			So(scan.Len(), ShouldEqual, 2)

			lte := scan.Cellular[0].(*model.LteRecord)
			So(lte.DeviceSerial, ShouldEqual, "dev-from-topic")
			So(lte.DeviceModel, ShouldEqual, "Pixel 8")
			So(lte.SubscriptionID, ShouldEqual, 2)
			So(*lte.ECI, ShouldEqual, 26411009)
			So(lte.Complete(), ShouldBeTrue)
			So(scan.Cellular[1].Complete(), ShouldBeFalse)
		})

		Convey("ignores upload markers on the wire", func() {
			scan, err := DecodeScan([]byte(`{"records":[{"type":"wifi","bssid":"x","beacondb_uploaded":true,"id":7}]}`), ChannelWifi, "d")
			So(err, ShouldBeNil)
			So(scan.Wifi[0].BeaconDBUploaded, ShouldBeFalse)
			So(scan.Wifi[0].ID, ShouldEqual, 0)
		})

		Convey("rejects unknown record types", func() {
			_, err := DecodeScan([]byte(`{"records":[{"type":"tdscdma"}]}`), ChannelCellular, "d")
			So(errors.Is(err, ErrUnknownRecordType), ShouldBeTrue)
		})

		Convey("rejects records sent on the wrong channel", func() {
			_, err := DecodeScan(wifiPayload(40, "aa"), ChannelCellular, "d")
			So(errors.Is(err, ErrWrongChannel), ShouldBeTrue)
		})

		Convey("rejects malformed JSON", func() {
			_, err := DecodeScan([]byte(`{"records":`), ChannelCellular, "d")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestRecorder(t *testing.T) {
	Convey("Recorder", t, func() {
		ctx := context.Background()
		s := openStore(t)
		obs := newCountingObserver()
		rec := NewRecorder(dedup.NewFilter(dedup.DefaultThresholds()), s, obs, nil)

		Convey("stores complete cellular records that moved far enough", func() {
			n, err := rec.RecordPayload(ctx, "test", ChannelCellular, "dev-1", ltePayload(1, 40, neighborLte))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)

			n, err = rec.RecordPayload(ctx, "test", ChannelCellular, "dev-1", ltePayload(1, 40+10/metersPerDegree))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)

			n, err = rec.RecordPayload(ctx, "test", ChannelCellular, "dev-1", ltePayload(1, 40+100/metersPerDegree))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)

			total, err := s.Count(ctx, model.RecordLte)
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 2)
			So(obs.offered[model.RecordLte], ShouldEqual, 4)
			So(obs.stored[model.RecordLte], ShouldEqual, 2)
		})

		Convey("keeps a separate track per subscription", func() {
			_, err := rec.RecordPayload(ctx, "test", ChannelCellular, "dev-1", ltePayload(1, 40))
			So(err, ShouldBeNil)
			n, err := rec.RecordPayload(ctx, "test", ChannelCellular, "dev-1", ltePayload(2, 40))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
		})

		Convey("gates a Wi-Fi batch on its shared fix", func() {
			n, err := rec.RecordPayload(ctx, "test", ChannelWifi, "", wifiPayload(40, "aa:01", "aa:02", "aa:03"))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 3)

			n, err = rec.RecordPayload(ctx, "test", ChannelWifi, "", wifiPayload(40, "aa:04"))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)

			total, err := s.Count(ctx, model.RecordWifi)
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 3)
		})

		Convey("logs undecodable payloads as ingestion errors", func() {
			_, err := rec.RecordPayload(ctx, "mqtt", ChannelCellular, "dev-1", []byte("not json"))
			So(err, ShouldNotBeNil)
			So(obs.errors["mqtt"], ShouldEqual, 1)

			var logged int
			So(s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM ingestion_errors WHERE source = 'mqtt'`).Scan(&logged), ShouldBeNil)
			So(logged, ShouldEqual, 1)
		})
	})
}

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient implements the parts of mqtt.Client the subscriber uses.
type fakeClient struct {
	mqtt.Client

	mu        sync.Mutex
	filters   map[string]byte
	handler   mqtt.MessageHandler
	published []published
}

func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = filters
	c.handler = cb
	return &fakeToken{}
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return &fakeToken{}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func TestSubscriber(t *testing.T) {
	Convey("Subscriber", t, func() {
		ctx := context.Background()
		s := openStore(t)
		obs := newCountingObserver()
		rec := NewRecorder(dedup.NewFilter(dedup.DefaultThresholds()), s, obs, nil)
		client := &fakeClient{}
		sub := newSubscriberWithClient(client, "/survey/", rec, discardLogger())

		So(sub.subscribe(), ShouldBeNil)

		Convey("subscribes to both channels", func() {
			So(client.filters, ShouldResemble, map[string]byte{"survey/+/cellular": 1, "survey/+/wifi": 1})
		})

		Convey("stores scans using the device from the topic", func() {
			client.handler(client, &fakeMessage{topic: "survey/phone-7/cellular", payload: ltePayload(1, 40)})

			records, err := s.SelectForUpload(ctx, model.RecordLte, 10)
			So(err, ShouldBeNil)
			So(records, ShouldHaveLength, 1)
			So(records[0].Base().DeviceSerial, ShouldEqual, "phone-7")
		})

		Convey("ignores unrelated topics", func() {
			client.handler(client, &fakeMessage{topic: "survey/phone-7/bluetooth", payload: ltePayload(1, 40)})
			client.handler(client, &fakeMessage{topic: "other/phone-7/cellular", payload: ltePayload(1, 40)})

			total, err := s.Count(ctx, model.RecordLte)
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 0)
			So(obs.errors, ShouldBeEmpty)
		})

		Convey("publishes the run report as retained status", func() {
			var results upload.Bundle
			results.SetAll(upload.ResultSuccess)
			So(sub.PublishStatus(upload.Report{RunID: "run-1", Outcome: upload.OutcomeSuccess, Results: results}), ShouldBeNil)

			So(client.published, ShouldHaveLength, 1)
			msg := client.published[0]
			So(msg.topic, ShouldEqual, "survey/uploader/status")
			So(msg.retained, ShouldBeTrue)

			var body map[string]any
			So(json.Unmarshal(msg.payload, &body), ShouldBeNil)
			So(body["state"], ShouldEqual, "online")
			So(body["run_id"], ShouldEqual, "run-1")
			So(body["results"], ShouldResemble, map[string]any{"opencellid": "success", "beacondb": "success"})
		})
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
