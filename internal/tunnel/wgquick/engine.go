// Package wgquick is a tunnel engine backed by the wg-quick script, with
// live status read from the kernel device through wgctrl.
package wgquick

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/chiquitav2/erebrus-connector/internal/connector/wireguard"
	"github.com/chiquitav2/erebrus-connector/internal/tunnel"
	"github.com/chiquitav2/erebrus-connector/pkg/logger"
)

const (
	DefaultInterface = "wg0"

	// A peer whose last handshake is older than this is reported as stale.
	handshakeWindow = 3 * time.Minute
)

var interfaceName = regexp.MustCompile(`^[a-zA-Z0-9_=+.-]{1,15}$`)

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

// DeviceReader reads WireGuard device state. *wgctrl.Client satisfies it.
type DeviceReader interface {
	Device(name string) (*wgtypes.Device, error)
	Close() error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

func openWgctrl() (DeviceReader, error) {
	c, err := wgctrl.New()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Options configures an Engine. Zero values select the real system tools.
type Options struct {
	Interface string
	ConfigDir string

	Runner      Runner
	OpenDevices func() (DeviceReader, error)
	LookPath    func(file string) (string, error)
	Now         func() time.Time
}

// Engine drives a single wg-quick interface.
type Engine struct {
	iface     string
	configDir string
	runner    Runner
	open      func() (DeviceReader, error)
	lookPath  func(string) (string, error)
	now       func() time.Time
	logger    *logger.Logger

	mu         sync.Mutex
	configPath string
	effective  string
}

var _ tunnel.Engine = (*Engine)(nil)

// New creates an Engine.
func New(opts Options, log *logger.Logger) *Engine {
	e := &Engine{
		iface:     opts.Interface,
		configDir: opts.ConfigDir,
		runner:    opts.Runner,
		open:      opts.OpenDevices,
		lookPath:  opts.LookPath,
		now:       opts.Now,
		logger:    log.WithComponent("wgquick"),
	}
	if e.iface == "" {
		e.iface = DefaultInterface
	}
	if e.configDir == "" {
		e.configDir = filepath.Join(os.TempDir(), "erebrus")
	}
	if e.runner == nil {
		e.runner = execRunner{}
	}
	if e.open == nil {
		e.open = openWgctrl
	}
	if e.lookPath == nil {
		e.lookPath = exec.LookPath
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Interface returns the interface name wg-quick reported, or the requested
// name when the tunnel is down.
func (e *Engine) Interface() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.effective != "" {
		return e.effective
	}
	return e.iface
}

// Initialize checks that wg-quick is installed and the config directory is
// usable.
func (e *Engine) Initialize(ctx context.Context) error {
	if !interfaceName.MatchString(e.iface) {
		return fmt.Errorf("invalid interface name %q", e.iface)
	}
	path, err := e.lookPath("wg-quick")
	if err != nil {
		return fmt.Errorf("wg-quick not found: %w", err)
	}
	if err := os.MkdirAll(e.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	e.logger.DebugContext(ctx, "wg-quick engine ready", "wg_quick", path, "config_dir", e.configDir)
	return nil
}

// Connect writes cfg as a wg-quick file and brings the interface up.
func (e *Engine) Connect(ctx context.Context, cfg wireguard.TunnelConfig) error {
	if err := wireguard.Validate(cfg); err != nil {
		return fmt.Errorf("invalid tunnel config: %w", err)
	}

	path := e.defaultPath()
	if err := wireguard.WriteConfigFile(path, wireguard.RenderQuick(cfg)); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "applying WireGuard configuration", "interface", e.iface, "config_path", path)

	output, err := e.runner.Run(ctx, []string{
		"WG_INTERFACE_NAME=" + e.iface,
		"WG_ENDPOINT_RESOLUTION_RETRIES=5",
	}, "wg-quick", "up", path)
	if err != nil {
		os.Remove(path)
		return commandError("wg-quick up", err, output)
	}

	effective := effectiveInterface(string(output))
	if effective == "" {
		effective = e.iface
	} else if effective != e.iface {
		e.logger.InfoContext(ctx, "WireGuard interface name changed during setup",
			"requested", e.iface, "effective", effective)
	}

	e.mu.Lock()
	e.configPath = path
	e.effective = effective
	e.mu.Unlock()
	return nil
}

// Disconnect brings the interface down and removes the config file.
func (e *Engine) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	path := e.configPath
	e.mu.Unlock()

	if path == "" {
		path = e.defaultPath()
	}

	e.logger.InfoContext(ctx, "removing WireGuard configuration", "interface", e.iface, "config_path", path)

	output, err := e.runner.Run(ctx, nil, "wg-quick", "down", path)
	if err != nil {
		return commandError("wg-quick down", err, output)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.logger.WarnCtx(ctx, "failed to remove config file", err, "config_path", path)
	}

	e.mu.Lock()
	e.configPath = ""
	e.effective = ""
	e.mu.Unlock()
	return nil
}

// Status reads the live device. A missing device is reported as down.
// A config file left by another process is treated as a possibly live
// tunnel on the requested interface.
func (e *Engine) Status(ctx context.Context) (tunnel.Status, error) {
	e.mu.Lock()
	up := e.configPath != ""
	name := e.effective
	e.mu.Unlock()

	if !up {
		if _, err := os.Stat(e.defaultPath()); err != nil {
			return tunnel.Status{TunnelState: "down"}, nil
		}
		name = e.iface
	}

	devices, err := e.open()
	if err != nil {
		return tunnel.Status{}, fmt.Errorf("failed to open wgctrl: %w", err)
	}
	defer devices.Close()

	dev, err := devices.Device(name)
	if errors.Is(err, os.ErrNotExist) {
		return tunnel.Status{TunnelState: "down", Error: "interface " + name + " not found"}, nil
	}
	if err != nil {
		return tunnel.Status{}, fmt.Errorf("failed to read device %s: %w", name, err)
	}

	return tunnel.Status{Connected: true, TunnelState: e.peerState(dev)}, nil
}

func (e *Engine) defaultPath() string {
	return filepath.Join(e.configDir, e.iface+".conf")
}

func (e *Engine) peerState(dev *wgtypes.Device) string {
	if len(dev.Peers) == 0 {
		return "no-peer"
	}
	var latest time.Time
	for _, p := range dev.Peers {
		if p.LastHandshakeTime.After(latest) {
			latest = p.LastHandshakeTime
		}
	}
	switch {
	case latest.IsZero():
		return "handshaking"
	case e.now().Sub(latest) > handshakeWindow:
		return "stale"
	default:
		return "up"
	}
}

// effectiveInterface extracts the real interface name from wg-quick output,
// e.g. "Interface for wg0 is utun6" on macOS.
func effectiveInterface(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "Interface for ") || !strings.Contains(line, " is ") {
			continue
		}
		parts := strings.Split(line, " is ")
		if cand := strings.TrimSpace(parts[len(parts)-1]); cand != "" {
			return cand
		}
	}
	return ""
}

func commandError(what string, err error, output []byte) error {
	out := strings.TrimSpace(string(output))
	if out == "" {
		return fmt.Errorf("%s failed: %w", what, err)
	}
	return fmt.Errorf("%s failed: %w, output: %s", what, err, out)
}
