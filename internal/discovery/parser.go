package discovery

import (
	"bytes"
	"encoding/xml"
	"strings"
)

// AiosDeviceType marks a description as belonging to a HEOS player.
const AiosDeviceType = "urn:schemas-denon-com:device:AiosServices:1"

// ServiceInfo is one <service> entry of a UPnP description.
type ServiceInfo struct {
	Service    string `json:"service"`
	Type       string `json:"type"`
	Version    string `json:"version"`
	ControlURL string `json:"control_url"`
}

type DeviceDescription struct {
	FriendlyName string
	DeviceType   string
	Manufacturer string
	ModelName    string
	ModelNumber  string
	SerialNumber string
	UDN          string
	DeviceTypes  []string
	Services     []ServiceInfo
}

// IsHeos reports whether any (sub)device in the description is an
// AiosServices device.
func (d *DeviceDescription) IsHeos() bool {
	for _, deviceType := range d.DeviceTypes {
		if deviceType == AiosDeviceType {
			return true
		}
	}
	return false
}

func ParseDeviceDescription(xmlPayload []byte) (*DeviceDescription, error) {
	decoder := xml.NewDecoder(bytes.NewReader(xmlPayload))
	var desc DeviceDescription

	text := func(se *xml.StartElement) string {
		var value string
		if err := decoder.DecodeElement(&value, se); err != nil {
			return ""
		}
		return strings.TrimSpace(value)
	}

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "deviceType":
			value := text(&se)
			desc.DeviceTypes = append(desc.DeviceTypes, value)
			if desc.DeviceType == "" {
				desc.DeviceType = value
			}
		// the root device comes first; embedded devices repeat these fields
		case "friendlyName":
			if value := text(&se); desc.FriendlyName == "" {
				desc.FriendlyName = value
			}
		case "manufacturer":
			if value := text(&se); desc.Manufacturer == "" {
				desc.Manufacturer = value
			}
		case "modelName":
			if value := text(&se); desc.ModelName == "" {
				desc.ModelName = value
			}
		case "modelNumber":
			if value := text(&se); desc.ModelNumber == "" {
				desc.ModelNumber = value
			}
		case "serialNumber":
			if value := text(&se); desc.SerialNumber == "" {
				desc.SerialNumber = value
			}
		case "UDN":
			if value := text(&se); desc.UDN == "" {
				desc.UDN = strings.TrimPrefix(value, "uuid:")
			}
		case "service":
			var raw struct {
				ServiceType string `xml:"serviceType"`
				ServiceID   string `xml:"serviceId"`
				ControlURL  string `xml:"controlURL"`
			}
			if err := decoder.DecodeElement(&raw, &se); err == nil {
				desc.Services = append(desc.Services, parseService(raw.ServiceType, raw.ServiceID, raw.ControlURL))
			}
		}
	}

	if desc.DeviceType == "" {
		return nil, nil
	}
	return &desc, nil
}

// parseService splits urn:domain:service:Name:Version.
func parseService(serviceType, serviceID, controlURL string) ServiceInfo {
	info := ServiceInfo{Type: strings.TrimSpace(serviceType), ControlURL: strings.TrimSpace(controlURL)}
	parts := strings.Split(info.Type, ":")
	if len(parts) >= 5 {
		info.Service = parts[3]
		info.Version = parts[4]
	} else {
		info.Service = strings.TrimSpace(serviceID)
	}
	return info
}
