package discovery

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var quietLogger = log.New(io.Discard, "", 0)

const aiosDescription = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-denon-com:device:AiosDevice:1</deviceType>
    <friendlyName>Living Room</friendlyName>
    <manufacturer>Denon</manufacturer>
    <modelName>HEOS 7</modelName>
    <modelNumber>DWSHEOS7</modelNumber>
    <serialNumber>ABC123</serialNumber>
    <UDN>uuid:1111-2222</UDN>
    <deviceList>
      <device>
        <deviceType>urn:schemas-denon-com:device:AiosServices:1</deviceType>
        <friendlyName>AiosServices</friendlyName>
        <UDN>uuid:3333</UDN>
        <serviceList>
          <service>
            <serviceType>urn:schemas-denon-com:service:ErrorHandler:1</serviceType>
            <serviceId>urn:denon-com:serviceId:ErrorHandler</serviceId>
            <controlURL>/upnp/control/AiosServicesDvc/ErrorHandler</controlURL>
          </service>
          <service>
            <serviceType>urn:schemas-denon-com:service:ZoneControl:2</serviceType>
            <serviceId>urn:denon-com:serviceId:ZoneControl</serviceId>
            <controlURL>/upnp/control/AiosServicesDvc/ZoneControl</controlURL>
          </service>
        </serviceList>
      </device>
    </deviceList>
  </device>
</root>`

const rendererDescription = `<?xml version="1.0"?>
<root><device><deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType><friendlyName>TV</friendlyName></device></root>`

func TestParseDeviceDescription_Heos(t *testing.T) {
	desc, err := ParseDeviceDescription([]byte(aiosDescription))
	require.NoError(t, err)
	require.NotNil(t, desc)

	require.True(t, desc.IsHeos())
	require.Equal(t, "Living Room", desc.FriendlyName)
	require.Equal(t, "urn:schemas-denon-com:device:AiosDevice:1", desc.DeviceType)
	require.Equal(t, "HEOS 7", desc.ModelName)
	require.Equal(t, "ABC123", desc.SerialNumber)
	require.Equal(t, "1111-2222", desc.UDN)
	require.Len(t, desc.Services, 2)
	require.Equal(t, ServiceInfo{
		Service:    "ZoneControl",
		Type:       "urn:schemas-denon-com:service:ZoneControl:2",
		Version:    "2",
		ControlURL: "/upnp/control/AiosServicesDvc/ZoneControl",
	}, desc.Services[1])
}

func TestParseDeviceDescription_NotHeos(t *testing.T) {
	desc, err := ParseDeviceDescription([]byte(rendererDescription))
	require.NoError(t, err)
	require.False(t, desc.IsHeos())

	desc, err = ParseDeviceDescription([]byte("not xml"))
	require.NoError(t, err)
	require.Nil(t, desc)
}

func TestParseResponse(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n" +
		"CACHE-CONTROL: max-age=180\r\n" +
		"LOCATION: http://192.168.1.20:60006/upnp/desc/aios_device/aios_device.xml\r\n" +
		"ST: urn:schemas-denon-com:device:ACT-Denon:1\r\n" +
		"usn: uuid:abcd::urn:schemas-denon-com:device:ACT-Denon:1\r\n" +
		"\r\n"

	resp := parseResponse(raw)
	require.Equal(t, "http://192.168.1.20:60006/upnp/desc/aios_device/aios_device.xml", resp.Location)
	require.Equal(t, "uuid:abcd::urn:schemas-denon-com:device:ACT-Denon:1", resp.USN)
	require.Equal(t, "max-age=180", resp.Headers["CACHE-CONTROL"])
}

func TestSearchMessage(t *testing.T) {
	msg := searchMessage(SearchTarget)
	require.True(t, strings.HasPrefix(msg, "M-SEARCH * HTTP/1.1\r\n"))
	require.Contains(t, msg, "ST: urn:schemas-denon-com:device:ACT-Denon:1\r\n")
	require.True(t, strings.HasSuffix(msg, "\r\n\r\n"))
}

func TestDescriptionURL(t *testing.T) {
	require.Equal(t, "http://10.0.0.5:60006/upnp/desc/aios_device/aios_device.xml", DescriptionURL("10.0.0.5"))
}

func TestProbeLocation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/heos.xml":
			_, _ = w.Write([]byte(aiosDescription))
		case "/tv.xml":
			_, _ = w.Write([]byte(rendererDescription))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	device, err := ProbeLocation(context.Background(), server.URL+"/heos.xml")
	require.NoError(t, err)
	require.NotNil(t, device)
	require.Equal(t, "Living Room", device.Name)
	require.Equal(t, "127.0.0.1", device.Host)
	require.Equal(t, server.URL, device.BaseURL)
	require.NotZero(t, device.Port)
	require.Len(t, device.Services, 2)

	device, err = ProbeLocation(context.Background(), server.URL+"/tv.xml")
	require.NoError(t, err)
	require.Nil(t, device)

	_, err = ProbeLocation(context.Background(), server.URL+"/missing.xml")
	require.Error(t, err)
}

func fakeSearch(responses []Response, err error) SearchFunc {
	return func(ctx context.Context, target string, passes int, passInterval, timeout time.Duration) ([]Response, error) {
		return responses, err
	}
}

func fakeProbe(devices map[string]*RawDevice) ProbeFunc {
	return func(ctx context.Context, location string) (*RawDevice, error) {
		device, ok := devices[location]
		if !ok {
			return nil, errors.New("connection refused")
		}
		return device, nil
	}
}

func TestService_Discover(t *testing.T) {
	service := NewService(Options{
		StaticHosts: []string{"10.0.0.9", "10.0.0.1"},
		Logger:      quietLogger,
		Search: fakeSearch([]Response{
			{Location: "http://10.0.0.1:60006/d.xml", USN: "a"},
			{Location: "http://10.0.0.2:60006/d.xml", USN: "b"},
			{Location: "http://10.0.0.3:60006/d.xml", USN: "c"},
		}, nil),
		Probe: fakeProbe(map[string]*RawDevice{
			"http://10.0.0.1:60006/d.xml": {Name: "Kitchen", Host: "10.0.0.1"},
			"http://10.0.0.2:60006/d.xml": nil,
		}),
	})

	require.True(t, service.LastDiscovery().IsZero())
	hosts, err := service.Discover(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1", "10.0.0.9"}, hosts)

	devices := service.Devices()
	require.Len(t, devices, 1)
	require.Equal(t, "Kitchen", devices[0].Name)
	require.False(t, service.LastDiscovery().IsZero())
}

func TestService_DiscoverSearchFailure(t *testing.T) {
	searchErr := errors.New("no multicast")

	service := NewService(Options{
		StaticHosts: []string{"10.0.0.9"},
		Logger:      quietLogger,
		Search:      fakeSearch(nil, searchErr),
		Probe:       fakeProbe(nil),
	})
	hosts, err := service.Discover(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.9"}, hosts)

	service = NewService(Options{Logger: quietLogger, Search: fakeSearch(nil, searchErr), Probe: fakeProbe(nil)})
	_, err = service.Discover(context.Background())
	require.ErrorIs(t, err, searchErr)
}

func TestService_RemembersByName(t *testing.T) {
	probe := map[string]*RawDevice{
		"http://10.0.0.1/d.xml": {Name: "Kitchen", Host: "10.0.0.1"},
	}
	service := NewService(Options{
		Logger: quietLogger,
		Search: fakeSearch([]Response{{Location: "http://10.0.0.1/d.xml", USN: "a"}}, nil),
		Probe:  fakeProbe(probe),
	})
	_, err := service.Discover(context.Background())
	require.NoError(t, err)

	probe["http://10.0.0.1/d.xml"] = &RawDevice{Name: "Kitchen", Host: "10.0.0.7"}
	_, err = service.Discover(context.Background())
	require.NoError(t, err)

	devices := service.Devices()
	require.Len(t, devices, 1)
	require.Equal(t, "10.0.0.7", devices[0].Host)
}
