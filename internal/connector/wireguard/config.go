package wireguard

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/chiquitav2/erebrus-connector/pkg/crypto"
	apperrors "github.com/chiquitav2/erebrus-connector/pkg/errors"
)

// Local policy. These never come from the gateway.
const (
	DefaultServerPort          = 51820
	DefaultPersistentKeepalive = 16
	DefaultMTU                 = 1280
)

// FullTunnel routes all IPv4 and IPv6 traffic through the peer.
func FullTunnel() []string { return []string{"0.0.0.0/0", "::/0"} }

// DefaultDNS is used when the caller does not override it.
func DefaultDNS() []string { return []string{"1.1.1.1", "8.8.8.8"} }

// Policy holds the caller-overridable parts of a tunnel config.
type Policy struct {
	DNS []string
	MTU int
}

// DefaultPolicy returns the stock DNS servers and MTU.
func DefaultPolicy() Policy {
	return Policy{DNS: DefaultDNS(), MTU: DefaultMTU}
}

// TunnelConfig is everything the engine needs to bring a tunnel up.
// PublicKey is this device's key; ServerPublicKey identifies the peer.
type TunnelConfig struct {
	PrivateKey          string
	PublicKey           string
	Address             string
	ServerPublicKey     string
	ServerAddress       string
	ServerPort          int
	AllowedIPs          []string
	DNS                 []string
	MTU                 int
	PresharedKey        string
	PersistentKeepalive int
}

// Endpoint returns host:port, bracketing IPv6 hosts.
func (c TunnelConfig) Endpoint() string {
	return net.JoinHostPort(c.ServerAddress, strconv.Itoa(c.ServerPort))
}

// Render returns the canonical exportable configuration text.
// Only the first DNS server is written.
func Render(c TunnelConfig) string {
	dns := ""
	if len(c.DNS) > 0 {
		dns = c.DNS[0]
	}

	return fmt.Sprintf(`[Interface]
Address = %s
PrivateKey = %s
DNS = %s

[Peer]
PublicKey = %s
PresharedKey = %s
AllowedIPs = %s
Endpoint = %s
PersistentKeepalive = %d`,
		c.Address,
		c.PrivateKey,
		dns,
		c.ServerPublicKey,
		c.PresharedKey,
		strings.Join(c.AllowedIPs, ", "),
		c.Endpoint(),
		c.PersistentKeepalive,
	)
}

// RenderQuick returns a wg-quick file carrying every DNS server and the MTU.
func RenderQuick(c TunnelConfig) string {
	var b strings.Builder

	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", c.PrivateKey)
	if c.Address != "" {
		fmt.Fprintf(&b, "Address = %s\n", c.Address)
	}
	if len(c.DNS) > 0 {
		fmt.Fprintf(&b, "DNS = %s\n", strings.Join(c.DNS, ", "))
	}
	if c.MTU > 0 {
		fmt.Fprintf(&b, "MTU = %d\n", c.MTU)
	}

	b.WriteString("\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", c.ServerPublicKey)
	if c.PresharedKey != "" {
		fmt.Fprintf(&b, "PresharedKey = %s\n", c.PresharedKey)
	}
	fmt.Fprintf(&b, "AllowedIPs = %s\n", strings.Join(c.AllowedIPs, ", "))
	fmt.Fprintf(&b, "Endpoint = %s\n", c.Endpoint())
	if c.PersistentKeepalive > 0 {
		fmt.Fprintf(&b, "PersistentKeepalive = %d\n", c.PersistentKeepalive)
	}

	return b.String()
}

// ParseConfig reads configuration text back into a TunnelConfig.
// The device public key is derived from the private key. Exactly one
// [Peer] section is accepted.
func ParseConfig(text string) (TunnelConfig, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		AllowNonUniqueSections: true,
		KeyValueDelimiters:     "=",
		IgnoreInlineComment:    true,
	}, []byte(text))
	if err != nil {
		return TunnelConfig{}, invalidConfig("configuration is not key = value text", err)
	}

	var cfg TunnelConfig
	iface := file.Section("Interface")
	if addrs := iface.Key("Address").Strings(","); len(addrs) > 0 {
		cfg.Address = addrs[0]
	}
	cfg.PrivateKey = iface.Key("PrivateKey").String()
	cfg.DNS = iface.Key("DNS").Strings(",")
	if cfg.MTU, err = intKey(iface, "MTU"); err != nil {
		return TunnelConfig{}, err
	}

	peers, _ := file.SectionsByName("Peer")
	if len(peers) > 1 {
		return TunnelConfig{}, invalidConfig(fmt.Sprintf("expected one peer, found %d", len(peers)), nil)
	}
	if len(peers) == 1 {
		peer := peers[0]
		cfg.ServerPublicKey = peer.Key("PublicKey").String()
		cfg.PresharedKey = peer.Key("PresharedKey").String()
		cfg.AllowedIPs = peer.Key("AllowedIPs").Strings(",")
		if endpoint := peer.Key("Endpoint").String(); endpoint != "" {
			var port string
			if cfg.ServerAddress, port, err = net.SplitHostPort(endpoint); err != nil {
				return TunnelConfig{}, invalidConfig("invalid Endpoint", err)
			}
			if cfg.ServerPort, err = strconv.Atoi(port); err != nil {
				return TunnelConfig{}, invalidConfig("invalid Endpoint port", err)
			}
		}
		if cfg.PersistentKeepalive, err = intKey(peer, "PersistentKeepalive"); err != nil {
			return TunnelConfig{}, err
		}
	}

	if cfg.PrivateKey != "" {
		pub, err := crypto.DerivePublicKey(cfg.PrivateKey)
		if err != nil {
			return TunnelConfig{}, invalidConfig("invalid private key", err)
		}
		cfg.PublicKey = pub
	}

	return cfg, Validate(cfg)
}

// intKey returns 0 for a missing key.
func intKey(section *ini.Section, name string) (int, error) {
	if !section.HasKey(name) {
		return 0, nil
	}
	n, err := section.Key(name).Int()
	if err != nil {
		return 0, invalidConfig("invalid "+name, err)
	}
	return n, nil
}

// Validate checks that c can be handed to an engine.
func Validate(c TunnelConfig) error {
	switch {
	case c.PrivateKey == "" || c.PublicKey == "":
		return invalidConfig("configuration missing key material", nil)
	case !crypto.IsValidWireGuardKey(c.PrivateKey):
		return invalidConfig("invalid private key format", nil)
	case !crypto.IsValidWireGuardKey(c.ServerPublicKey):
		return invalidConfig("invalid server public key format", nil)
	case c.PresharedKey != "" && !crypto.IsValidWireGuardKey(c.PresharedKey):
		return invalidConfig("invalid preshared key format", nil)
	case c.ServerAddress == "":
		return invalidConfig("configuration missing endpoint", nil)
	case c.ServerPort <= 0 || c.ServerPort > 65535:
		return invalidConfig(fmt.Sprintf("invalid endpoint port %d", c.ServerPort), nil)
	case len(c.AllowedIPs) == 0:
		return invalidConfig("configuration missing allowed IPs", nil)
	}

	for _, cidr := range c.AllowedIPs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return invalidConfig("invalid allowed IP "+cidr, err)
		}
	}
	return nil
}

// WriteConfigFile writes content to path with owner-only permissions.
// The file is replaced atomically.
func WriteConfigFile(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions on temp file: %w", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to move config file into place: %w", err)
	}
	return nil
}

func invalidConfig(msg string, cause error) error {
	return apperrors.NewSystemError(apperrors.ErrCodeValidation, msg, false, cause)
}
