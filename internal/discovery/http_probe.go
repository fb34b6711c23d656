package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// httpClient is a shared client with reasonable timeouts to prevent hanging on unreachable devices.
var httpClient = &http.Client{
	Timeout: 5 * time.Second,
	Transport: &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 3 * time.Second}).DialContext,
		IdleConnTimeout: 30 * time.Second,
	},
}

const (
	descriptionPort = 60006
	descriptionPath = "/upnp/desc/aios_device/aios_device.xml"
)

// RawDevice is a network device that answered discovery and whose
// description names an AiosServices device.
type RawDevice struct {
	Name         string        `json:"name"`
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Type         string        `json:"type"`
	BaseURL      string        `json:"base_url"`
	Manufacturer string        `json:"manufacturer,omitempty"`
	Model        string        `json:"model,omitempty"`
	ModelNumber  string        `json:"model_number,omitempty"`
	SerialNumber string        `json:"serial_number,omitempty"`
	UDN          string        `json:"udn,omitempty"`
	Services     []ServiceInfo `json:"services"`
	DiscoveredAt time.Time     `json:"discovered_at"`
}

// DescriptionURL is where a HEOS player serves its UPnP description.
func DescriptionURL(host string) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(descriptionPort)) + descriptionPath
}

// ProbeLocation fetches and parses the description at location. A nil
// device with a nil error means the host answered but is not a HEOS player.
func ProbeLocation(ctx context.Context, location string) (*RawDevice, error) {
	parsed, err := url.Parse(location)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("description %s: status %d", location, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	desc, err := ParseDeviceDescription(body)
	if err != nil || desc == nil || !desc.IsHeos() {
		return nil, err
	}

	port, _ := strconv.Atoi(parsed.Port())
	services := desc.Services
	if services == nil {
		services = []ServiceInfo{}
	}
	return &RawDevice{
		Name:         desc.FriendlyName,
		Host:         strings.TrimSpace(parsed.Hostname()),
		Port:         port,
		Type:         desc.DeviceType,
		BaseURL:      parsed.Scheme + "://" + parsed.Host,
		Manufacturer: desc.Manufacturer,
		Model:        desc.ModelName,
		ModelNumber:  desc.ModelNumber,
		SerialNumber: desc.SerialNumber,
		UDN:          desc.UDN,
		Services:     services,
		DiscoveredAt: time.Now(),
	}, nil
}
