package email

import (
	"strings"

	"github.com/nhle/mailwatch/internal/model"
)

// ProviderCustom is reported for addresses matching no known provider.
const ProviderCustom = "custom"

// Preset is the IMAP endpoint of a well-known mail provider.
type Preset struct {
	Name   string
	Host   string
	Port   int
	Secure bool

	// Domains are matched as substrings of the address' domain part.
	Domains []string
}

// presets is checked in order; the first domain match wins.
var presets = []Preset{
	{Name: "gmail", Host: "imap.gmail.com", Port: 993, Secure: true, Domains: []string{"gmail.", "googlemail."}},
	{Name: "outlook", Host: "outlook.office365.com", Port: 993, Secure: true, Domains: []string{"outlook.", "hotmail.", "live."}},
	{Name: "qq", Host: "imap.qq.com", Port: 993, Secure: true, Domains: []string{"qq.com", "foxmail.com"}},
	{Name: "163", Host: "imap.163.com", Port: 993, Secure: true, Domains: []string{"163.com"}},
	{Name: "126", Host: "imap.126.com", Port: 993, Secure: true, Domains: []string{"126.com"}},
	{Name: "yahoo", Host: "imap.mail.yahoo.com", Port: 993, Secure: true, Domains: []string{"yahoo."}},
	{Name: "icloud", Host: "imap.mail.me.com", Port: 993, Secure: true, Domains: []string{"icloud.com", "me.com", "mac.com"}},
}

// LookupPreset returns the preset registered under name.
func LookupPreset(name string) (Preset, bool) {
	for _, p := range presets {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}

// DetectProvider guesses the provider of an email address from its
// domain. Unknown domains return ProviderCustom.
func DetectProvider(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ProviderCustom
	}
	domain := strings.ToLower(address[at+1:])
	for _, p := range presets {
		for _, d := range p.Domains {
			if strings.Contains(domain, d) {
				return p.Name
			}
		}
	}
	return ProviderCustom
}

// ApplyPreset fills the unset host and port of cfg from the preset
// matching address, and defaults the username to the address. Values
// already present are never overwritten. It returns the detected
// provider name.
func ApplyPreset(cfg *model.ConnectionConfig, address string) string {
	if cfg.Username == "" {
		cfg.Username = address
	}

	provider := DetectProvider(address)
	p, ok := LookupPreset(provider)
	if !ok {
		return provider
	}
	if cfg.Host == "" {
		cfg.Host = p.Host
		// Security follows the preset only when the endpoint does too.
		cfg.Secure = p.Secure
	}
	if cfg.Port == 0 {
		cfg.Port = p.Port
	}
	return provider
}
