package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"

	"ttufish/tank-monitor/internal/ingest"
)

const (
	mdnsServiceType = "_fishtank._tcp"
	mdnsDomain      = "local."
	mdnsMaxLabel    = 63
	defaultInstance = "Tank Monitor"
)

// startMDNS advertises the dashboard so it can be found on the LAN.
func (a *App) startMDNS(port int) error {
	if port <= 0 {
		return fmt.Errorf("invalid port %d", port)
	}

	a.stopMDNS()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "tank-monitor"
	}

	instance := sanitizeMDNSInstance(fmt.Sprintf("%s (%s)", defaultInstance, hostname))
	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, mdnsTXT(port), nil)
	if err != nil {
		return err
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

func mdnsTXT(port int) []string {
	return []string{
		"path=/",
		fmt.Sprintf("http_port=%d", port),
		"video=/video_feed",
		"sensors=" + ingest.SensorTopic,
		"proto=v1",
	}
}

func sanitizeMDNSInstance(name string) string {
	cleaned := strings.TrimSpace(name)
	cleaned = strings.NewReplacer("\n", " ", "\r", " ", ".", " ", "_", " ").Replace(cleaned)
	if cleaned == "" {
		cleaned = defaultInstance
	}
	if runes := []rune(cleaned); len(runes) > mdnsMaxLabel {
		cleaned = string(runes[:mdnsMaxLabel])
	}
	return cleaned
}
