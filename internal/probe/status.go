package probe

import (
	"fmt"
	"strings"
)

// Status is the sensor runtime's last known device status.
type Status int

const (
	StatusUndefined             Status = -1
	StatusSuccess               Status = 0
	StatusInitializing          Status = 1
	StatusNotConnected          Status = 2
	StatusNotGenuine            Status = 3
	StatusNotSupported          Status = 4
	StatusInsufficientBandwidth Status = 5
	StatusNotPowered            Status = 6
	StatusNotReady              Status = 7
)

var statusNames = map[Status]string{
	StatusSuccess:               "success",
	StatusInitializing:          "initializing",
	StatusNotConnected:          "not-connected",
	StatusNotGenuine:            "not-genuine",
	StatusNotSupported:          "not-supported",
	StatusInsufficientBandwidth: "insufficient-bandwidth",
	StatusNotPowered:            "not-powered",
	StatusNotReady:              "not-ready",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("undefined(%d)", int(s))
}

func (s Status) Defined() bool {
	_, ok := statusNames[s]
	return ok
}

// LocaleKey is the string table key describing s to the user.
func (s Status) LocaleKey() string {
	if !s.Defined() {
		return "status.undefined"
	}
	return "status." + s.String()
}

const docsBase = "https://docs.k2vr.tech"

// DocsURL returns the troubleshooting page for s in the given documentation
// language. Statuses without a dedicated page link to the troubleshooting
// index.
func (s Status) DocsURL(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		lang = "en"
	}
	base := fmt.Sprintf("%s/%s/360/troubleshooting/", docsBase, lang)
	switch s {
	case StatusNotPowered:
		return base + "notpowered/"
	case StatusNotReady:
		return base + "notready/"
	case StatusNotGenuine:
		return base + "notgenuine/"
	case StatusInsufficientBandwidth:
		return base + "insufficientbandwidth/"
	default:
		return base
	}
}
