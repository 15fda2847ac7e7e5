package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const metersPerDegreeLat = 111195.0

type scanPayload struct {
	DeviceSerial string           `json:"device_serial"`
	DeviceModel  string           `json:"device_model"`
	Records      []map[string]any `json:"records"`
}

type walker struct {
	lat, lon float64
	heading  float64
	speed    float64
	rng      *rand.Rand
}

func (w *walker) step(d time.Duration) {
	meters := w.speed * d.Seconds()
	w.heading += (w.rng.Float64() - 0.5) * 0.6
	w.lat += meters * math.Cos(w.heading) / metersPerDegreeLat
	w.lon += meters * math.Sin(w.heading) / (metersPerDegreeLat * math.Cos(w.lat*math.Pi/180))
}

func (w *walker) base() map[string]any {
	return map[string]any{
		"latitude":    w.lat,
		"longitude":   w.lon,
		"altitude":    1600 + w.rng.Float64()*5,
		"accuracy":    5 + w.rng.Float64()*20,
		"speed":       w.speed,
		"device_time": time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func (w *walker) cellScan(sub int) []map[string]any {
	serving := w.base()
	serving["type"] = "lte"
	serving["subscription_id"] = sub
	serving["serving_cell"] = true
	serving["mcc"] = 310
	serving["mnc"] = 260
	serving["tac"] = 11 + sub
	serving["eci"] = 26411000 + w.rng.Intn(16)
	serving["pci"] = w.rng.Intn(504)
	serving["earfcn"] = 5230
	serving["rsrp"] = -80 - w.rng.Float64()*40
	serving["rsrq"] = -5 - w.rng.Float64()*10
	serving["ta"] = w.rng.Intn(20)

	neighbor := w.base()
	neighbor["type"] = "lte"
	neighbor["subscription_id"] = sub
	neighbor["pci"] = w.rng.Intn(504)
	neighbor["rsrp"] = -110 - w.rng.Float64()*10

	return []map[string]any{serving, neighbor}
}

func (w *walker) wifiScan(n int) []map[string]any {
	out := make([]map[string]any, 0, n)
	shared := w.base()
	for i := 0; i < n; i++ {
		ap := map[string]any{"type": "wifi"}
		for k, v := range shared {
			ap[k] = v
		}
		ap["bssid"] = fmt.Sprintf("02:00:00:%02x:%02x:%02x", w.rng.Intn(256), w.rng.Intn(256), i)
		ap["ssid"] = fmt.Sprintf("sim-net-%d", i)
		ap["channel"] = 1 + 5*(i%3)
		ap["frequency"] = 2412 + 25*(i%3)
		ap["signal"] = -40 - w.rng.Float64()*50
		ap["standard"] = "802.11ax"
		out = append(out, ap)
	}
	return out
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	prefix := flag.String("prefix", "networksurvey", "Topic prefix the uploader subscribes to")
	device := flag.String("device", "sim-device-1", "Device serial used in the topic")
	deviceModel := flag.String("model", "Survey Simulator", "Device model reported in the payload")
	lat := flag.Float64("lat", 39.7392, "Starting latitude")
	lon := flag.Float64("lon", -104.9903, "Starting longitude")
	speed := flag.Float64("speed", 12, "Walking speed in meters per second")
	subs := flag.Int("subscriptions", 1, "Number of SIM subscriptions to simulate")
	aps := flag.Int("wifi-aps", 4, "Wi-Fi access points per scan, 0 to disable")
	interval := flag.Duration("interval", 5*time.Second, "Interval between scans")

	flag.Parse()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	w := &walker{lat: *lat, lon: *lon, speed: *speed, heading: rng.Float64() * 2 * math.Pi, rng: rng}

	clientID := fmt.Sprintf("%s-simulator-%d", *device, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

	statusTopic := *prefix + "/uploader/status"
	client.Subscribe(statusTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		log.Printf("uploader status: %s", msg.Payload())
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	publish := func(channel string, records []map[string]any) {
		payload, err := json.Marshal(scanPayload{DeviceSerial: *device, DeviceModel: *deviceModel, Records: records})
		if err != nil {
			log.Printf("failed to encode payload: %v", err)
			return
		}

		topic := fmt.Sprintf("%s/%s/%s", *prefix, *device, channel)
		token := client.Publish(topic, 1, false, payload)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("publish error: %v", err)
			return
		}
		log.Printf("published %s records=%d lat=%.6f lon=%.6f", topic, len(records), w.lat, w.lon)
	}

	scan := func() {
		var cells []map[string]any
		for sub := 1; sub <= *subs; sub++ {
			cells = append(cells, w.cellScan(sub)...)
		}
		publish("cellular", cells)
		if *aps > 0 {
			publish("wifi", w.wifiScan(*aps))
		}
	}

	scan()

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, disconnecting")
			client.Disconnect(250)
			return
		case <-ticker.C:
			w.step(*interval)
			scan()
		}
	}
}
