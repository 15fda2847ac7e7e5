package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_survey-uploader._tcp"
	mdnsDomain      = "local."
	mdnsMaxLabel    = 63
)

// startMDNS advertises the HTTP API so survey devices on the LAN can find it.
func (a *App) startMDNS(port int) error {
	if port <= 0 {
		return fmt.Errorf("invalid port %d", port)
	}

	a.stopMDNS()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "survey-uploader"
	}

	instance := mdnsInstanceName(fmt.Sprintf("%s Uploader (%s)", a.cfg.AppName, hostname))
	txt := mdnsTXT(a.cfg.AppVersion, port, a.cfg.MetricsPort, a.cfg.MQTTTopicPrefix, mdnsHostLabel(hostname))

	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}

	a.mdns = server
	a.logger.Info("mDNS advertisement started", "instance", instance, "port", port)
	return nil
}

func (a *App) stopMDNS() {
	if a.mdns == nil {
		return
	}

	a.mdns.Shutdown()
	a.logger.Info("mDNS advertisement stopped")
	a.mdns = nil
}

func mdnsTXT(version string, httpPort, metricsPort int, topicPrefix, host string) []string {
	txt := []string{
		"version=" + version,
		fmt.Sprintf("http_port=%d", httpPort),
		"api=/api",
	}
	if metricsPort > 0 {
		txt = append(txt, fmt.Sprintf("metrics_port=%d", metricsPort))
	}
	if topicPrefix != "" {
		txt = append(txt, "mqtt_prefix="+topicPrefix)
	}
	if !strings.Contains(host, ".") {
		host += ".local"
	}
	return append(txt, "host="+host)
}

func mdnsInstanceName(name string) string {
	cleaned := strings.NewReplacer("\n", " ", "\r", " ", ".", " ", "_", " ").Replace(strings.TrimSpace(name))
	if cleaned == "" {
		cleaned = "Survey Uploader"
	}
	return truncateRunes(cleaned, mdnsMaxLabel)
}

func mdnsHostLabel(name string) string {
	cleaned := strings.NewReplacer(" ", "-", "_", "-", "\n", "", "\r", "").Replace(strings.TrimSpace(strings.ToLower(name)))
	if cleaned == "" {
		cleaned = "survey-uploader"
	}
	return truncateRunes(cleaned, mdnsMaxLabel)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
