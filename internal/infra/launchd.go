package infra

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"text/template"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// plistTemplate renders a LaunchAgent (user) or LaunchDaemon (system) job that
// runs "applimit start" at login.
const plistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>start</string>{{if .ConfigPath}}
        <string>--config</string>
        <string>{{.ConfigPath}}</string>{{end}}
    </array>

    <key>RunAtLoad</key>
    <true/>
{{if .System}}
    <key>KeepAlive</key>
    <true/>
{{else}}
    <key>KeepAlive</key>
    <dict>
        <key>Crashed</key>
        <true/>
    </dict>

    <key>ProcessType</key>
    <string>Interactive</string>
{{end}}
    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.ErrorLogPath}}</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>
`

var plistTmpl = template.Must(template.New("plist").Parse(plistTemplate))

type plistData struct {
	Label          string
	ExecutablePath string
	ConfigPath     string
	LogPath        string
	ErrorLogPath   string
	System         bool
}

// LaunchdOptions carries the values rendered into the plist besides the binary.
type LaunchdOptions struct {
	ConfigPath   string
	LogPath      string
	ErrorLogPath string
}

// LaunchdManagerImpl implements domain.LaunchAgentManager for both modes.
type LaunchdManagerImpl struct {
	mode      ExecMode
	plistDir  string
	plistPath string
	opts      LaunchdOptions
	runner    CommandRunner
}

// NewLaunchdManager creates a launchd manager for the given execution mode.
func NewLaunchdManager(config *ExecModeConfig, opts LaunchdOptions) domain.LaunchAgentManager {
	return NewLaunchdManagerWithRunner(config, opts, &RealCommandRunner{})
}

// NewLaunchdManagerWithRunner lets tests replace launchctl.
func NewLaunchdManagerWithRunner(config *ExecModeConfig, opts LaunchdOptions, runner CommandRunner) *LaunchdManagerImpl {
	if opts.LogPath == "" {
		opts.LogPath = "/var/tmp/applimit.log"
	}
	if opts.ErrorLogPath == "" {
		opts.ErrorLogPath = "/var/tmp/applimit.error.log"
	}
	return &LaunchdManagerImpl{
		mode:      config.Mode,
		plistDir:  config.PlistDir,
		plistPath: config.PlistPath,
		opts:      opts,
		runner:    runner,
	}
}

func (m *LaunchdManagerImpl) render(execPath string) ([]byte, error) {
	var buf bytes.Buffer
	err := plistTmpl.Execute(&buf, plistData{
		Label:          GetLaunchdLabel(),
		ExecutablePath: execPath,
		ConfigPath:     m.opts.ConfigPath,
		LogPath:        m.opts.LogPath,
		ErrorLogPath:   m.opts.ErrorLogPath,
		System:         m.mode == ExecModeSystem,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render plist: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes and loads the plist.
func (m *LaunchdManagerImpl) Install(execPath string) error {
	if err := os.MkdirAll(m.plistDir, 0755); err != nil {
		return err
	}
	content, err := m.render(execPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.plistPath, content, 0644); err != nil {
		return err
	}
	return m.launchctl("load")
}

// Uninstall unloads and removes the plist.
func (m *LaunchdManagerImpl) Uninstall() error {
	_ = m.launchctl("unload") // Ignore errors if not loaded
	err := os.Remove(m.plistPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsInstalled checks if the plist exists.
func (m *LaunchdManagerImpl) IsInstalled() bool {
	_, err := os.Stat(m.plistPath)
	return err == nil
}

// NeedsUpdate reports whether an installed plist differs from what would be rendered now.
func (m *LaunchdManagerImpl) NeedsUpdate(execPath string) bool {
	if !m.IsInstalled() {
		return false // Needs install, not update
	}
	current, err := os.ReadFile(m.plistPath)
	if err != nil {
		return true
	}
	expected, err := m.render(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// Update unloads, rewrites, and reloads the plist.
func (m *LaunchdManagerImpl) Update(execPath string) error {
	_ = m.launchctl("unload")
	content, err := m.render(execPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.plistPath, content, 0644); err != nil {
		return err
	}
	return m.launchctl("load")
}

// GetPlistPath returns the plist file path.
func (m *LaunchdManagerImpl) GetPlistPath() string {
	return m.plistPath
}

// GetMode returns the execution mode.
func (m *LaunchdManagerImpl) GetMode() ExecMode {
	return m.mode
}

// launchctl runs "launchctl load|unload <plist>". load is deprecated but still
// works for both the gui and system domains.
func (m *LaunchdManagerImpl) launchctl(verb string) error {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	return m.runner.Run(ctx, "launchctl", verb, m.plistPath)
}

var _ domain.LaunchAgentManager = (*LaunchdManagerImpl)(nil)
