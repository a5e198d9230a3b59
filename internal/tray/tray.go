package tray

import (
	"context"
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/yok-tottii/beatkeeper/internal/sound"
)

// State selects the tray icon
type State int

const (
	StateStopped State = iota
	StatePlaying
	StateCountingIn
	StateListening
)

// View is what the tray shows. The app pushes a new one on every beat or
// settings change.
type View struct {
	Playing       bool
	CountingIn    bool
	Listening     bool
	Tempo         int
	Signature     string
	Voice         sound.Voice
	DetectedTempo int // 0 until the listener has an estimate
}

// State returns the icon state; transport wins over listening
func (v View) State() State {
	switch {
	case v.CountingIn:
		return StateCountingIn
	case v.Playing:
		return StatePlaying
	case v.Listening:
		return StateListening
	}
	return StateStopped
}

// Translator supplies localized menu text
type Translator interface {
	Translate(key string) string
	TranslateWithFormat(key string, params map[string]string) string
}

// Config holds tray manager configuration
type Config struct {
	AppName         string
	Signatures      []string
	Translator      Translator
	OnReady         func() // Called when systray is ready for initialization
	OnToggle        func()
	OnCountIn       func()
	OnTap           func()
	OnTempoStep     func(delta int)
	OnListen        func()
	OnApplyTempo    func()
	OnTimeSignature func(signature string)
	OnSound         func(v sound.Voice)
	OnDeviceChange  func(deviceID int) // Called when user selects an input device
	OnSettings      func()
	OnQuit          func()
}

// Manager manages the system tray icon and menu
type Manager struct {
	cfg Config

	mu    sync.Mutex
	view  View
	ready bool

	menuTitle      *systray.MenuItem
	menuToggle     *systray.MenuItem
	menuCountIn    *systray.MenuItem
	menuTap        *systray.MenuItem
	menuTempoUp    *systray.MenuItem
	menuTempoDown  *systray.MenuItem
	menuListen     *systray.MenuItem
	menuApply      *systray.MenuItem
	menuSignatures *systray.MenuItem
	menuSounds     *systray.MenuItem
	menuDevices    *systray.MenuItem
	menuSettings   *systray.MenuItem
	menuQuit       *systray.MenuItem

	signatureItems    map[string]*systray.MenuItem
	soundItems        map[sound.Voice]*systray.MenuItem
	deviceMenuItems   []*systray.MenuItem
	deviceCancelFuncs []context.CancelFunc

	icons map[State][]byte
}

// NewManager creates a new tray manager
func NewManager(config Config) *Manager {
	if config.AppName == "" {
		config.AppName = "Beatkeeper"
	}

	m := &Manager{
		cfg:            config,
		view:           View{Tempo: 120, Signature: "4/4", Voice: sound.VoiceClassic},
		signatureItems: make(map[string]*systray.MenuItem),
		soundItems:     make(map[sound.Voice]*systray.MenuItem),
	}

	// Load icons once at initialization
	m.icons = map[State][]byte{
		StateStopped:    loadIconData("stopped.png", drawIcon(colorStopped, true)),
		StatePlaying:    loadIconData("playing.png", drawIcon(colorPlaying, false)),
		StateCountingIn: loadIconData("countin.png", drawIcon(colorCountingIn, false)),
		StateListening:  loadIconData("listening.png", drawIcon(colorListening, true)),
	}

	return m
}

// Run starts the system tray (blocking call)
func (m *Manager) Run() {
	systray.Run(m.onReady, m.onExit)
}

func (m *Manager) t(key string) string {
	if m.cfg.Translator == nil {
		return key
	}
	return m.cfg.Translator.Translate(key)
}

func (m *Manager) tf(key string, params map[string]string) string {
	if m.cfg.Translator == nil {
		return key
	}
	return m.cfg.Translator.TranslateWithFormat(key, params)
}

// onReady is called when systray is ready
func (m *Manager) onReady() {
	systray.SetTooltip(m.cfg.AppName)

	m.menuTitle = systray.AddMenuItem("", m.cfg.AppName)
	m.menuTitle.Disable()
	systray.AddSeparator()

	m.menuToggle = systray.AddMenuItem(m.t("menu.start"), "Start or stop the metronome")
	m.menuCountIn = systray.AddMenuItem(m.t("menu.count_in"), "Count in, then start")
	m.menuTap = systray.AddMenuItem(m.t("menu.tap"), "Tap to set the tempo")
	m.menuTempoUp = systray.AddMenuItem(m.t("menu.tempo_up"), "")
	m.menuTempoDown = systray.AddMenuItem(m.t("menu.tempo_down"), "")

	systray.AddSeparator()

	m.menuListen = systray.AddMenuItem(m.t("menu.listen"), "Detect tempo from the microphone")
	m.menuApply = systray.AddMenuItem(m.t("menu.apply_tempo"), "Use the detected tempo")
	m.menuApply.Disable()

	systray.AddSeparator()

	m.menuSignatures = systray.AddMenuItem(m.t("menu.time_sig"), "")
	for _, sig := range m.cfg.Signatures {
		item := m.menuSignatures.AddSubMenuItem(sig, "")
		m.signatureItems[sig] = item
		go m.watch(item, func() {
			if m.cfg.OnTimeSignature != nil {
				m.cfg.OnTimeSignature(sig)
			}
		})
	}

	m.menuSounds = systray.AddMenuItem(m.t("menu.sound"), "")
	for _, v := range sound.Voices {
		item := m.menuSounds.AddSubMenuItem(m.t("sound."+string(v)), "")
		m.soundItems[v] = item
		go m.watch(item, func() {
			if m.cfg.OnSound != nil {
				m.cfg.OnSound(v)
			}
		})
	}

	m.menuDevices = systray.AddMenuItem(m.t("permission.microphone"), "Select input device")

	systray.AddSeparator()

	m.menuSettings = systray.AddMenuItem(m.t("menu.settings"), "Open settings page")
	m.menuQuit = systray.AddMenuItem(m.t("menu.quit"), "Quit the application")

	m.mu.Lock()
	m.ready = true
	m.applyLocked()
	m.mu.Unlock()

	// Start event loop
	go m.handleMenuEvents()

	// Call the OnReady callback if provided
	if m.cfg.OnReady != nil {
		m.cfg.OnReady()
	}
}

// onExit is called when systray is exiting
func (m *Manager) onExit() {
	for _, cancel := range m.deviceCancelFuncs {
		cancel()
	}
}

// watch runs fn for every click on a static submenu item
func (m *Manager) watch(item *systray.MenuItem, fn func()) {
	for range item.ClickedCh {
		fn()
	}
}

// handleMenuEvents handles menu item clicks
func (m *Manager) handleMenuEvents() {
	call := func(fn func()) {
		if fn != nil {
			fn()
		}
	}

	for {
		select {
		case <-m.menuToggle.ClickedCh:
			call(m.cfg.OnToggle)
		case <-m.menuCountIn.ClickedCh:
			call(m.cfg.OnCountIn)
		case <-m.menuTap.ClickedCh:
			call(m.cfg.OnTap)
		case <-m.menuTempoUp.ClickedCh:
			if m.cfg.OnTempoStep != nil {
				m.cfg.OnTempoStep(10)
			}
		case <-m.menuTempoDown.ClickedCh:
			if m.cfg.OnTempoStep != nil {
				m.cfg.OnTempoStep(-10)
			}
		case <-m.menuListen.ClickedCh:
			call(m.cfg.OnListen)
		case <-m.menuApply.ClickedCh:
			call(m.cfg.OnApplyTempo)
		case <-m.menuSettings.ClickedCh:
			call(m.cfg.OnSettings)
		case <-m.menuQuit.ClickedCh:
			call(m.cfg.OnQuit)
			systray.Quit()
			return
		}
	}
}

// menuText holds the dynamic labels for a view
type menuText struct {
	title        string
	tooltip      string
	toggle       string
	listen       string
	apply        string
	applyEnabled bool
}

func (m *Manager) textFor(v View) menuText {
	txt := menuText{
		title: m.tf("menu.tempo_display", map[string]string{
			"bpm": fmt.Sprint(v.Tempo),
			"sig": v.Signature,
		}),
		toggle: m.t("menu.start"),
		listen: m.t("menu.listen"),
		apply:  m.tf("menu.apply_tempo", map[string]string{"bpm": "–"}),
	}

	status := m.t("status.stopped")
	switch v.State() {
	case StatePlaying:
		status = m.t("status.playing")
	case StateCountingIn:
		status = m.t("status.counting_in")
	case StateListening:
		status = m.t("status.listening")
	}
	txt.tooltip = fmt.Sprintf("%s - %s", m.cfg.AppName, status)

	if v.Playing || v.CountingIn {
		txt.toggle = m.t("menu.stop")
	}
	if v.Listening {
		txt.listen = m.t("menu.stop_listen")
	}
	if v.DetectedTempo > 0 {
		txt.apply = m.tf("menu.apply_tempo", map[string]string{"bpm": fmt.Sprint(v.DetectedTempo)})
		txt.applyEnabled = true
	}
	return txt
}

// Update shows a new view. Calls before the tray is ready are kept and
// applied once the menu exists.
func (m *Manager) Update(v View) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.view = v
	if m.ready {
		m.applyLocked()
	}
}

// GetView returns the last view pushed to the tray
func (m *Manager) GetView() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

func (m *Manager) applyLocked() {
	v := m.view
	txt := m.textFor(v)

	systray.SetIcon(m.icons[v.State()])
	systray.SetTooltip(txt.tooltip)

	m.menuTitle.SetTitle(txt.title)
	m.menuToggle.SetTitle(txt.toggle)
	m.menuListen.SetTitle(txt.listen)
	m.menuApply.SetTitle(txt.apply)
	if txt.applyEnabled {
		m.menuApply.Enable()
	} else {
		m.menuApply.Disable()
	}

	for sig, item := range m.signatureItems {
		if sig == v.Signature {
			item.Check()
		} else {
			item.Uncheck()
		}
	}
	for voice, item := range m.soundItems {
		if voice == v.Voice {
			item.Check()
		} else {
			item.Uncheck()
		}
	}
}

// Device represents an audio device for the menu
type Device struct {
	ID        int
	Name      string
	IsDefault bool
	IsCurrent bool
}

// UpdateDeviceMenu updates the device submenu with available devices
func (m *Manager) UpdateDeviceMenu(devices []Device) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready {
		return
	}

	// Cancel existing device menu goroutines
	for _, cancel := range m.deviceCancelFuncs {
		if cancel != nil {
			cancel()
		}
	}
	m.deviceCancelFuncs = nil

	// Remove existing device menu items
	for _, item := range m.deviceMenuItems {
		item.Hide()
	}
	m.deviceMenuItems = nil

	for _, device := range devices {
		prefix := ""
		if device.IsCurrent {
			prefix = "✓ "
		}

		tooltip := ""
		if device.IsDefault {
			tooltip = "System default device"
		}

		menuItem := m.menuDevices.AddSubMenuItem(prefix+device.Name, tooltip)
		m.deviceMenuItems = append(m.deviceMenuItems, menuItem)

		ctx, cancel := context.WithCancel(context.Background())
		m.deviceCancelFuncs = append(m.deviceCancelFuncs, cancel)

		go func(id int, item *systray.MenuItem, ctx context.Context) {
			for {
				select {
				case <-ctx.Done():
					return
				case <-item.ClickedCh:
					if m.cfg.OnDeviceChange != nil {
						m.cfg.OnDeviceChange(id)
					}
				}
			}
		}(device.ID, menuItem, ctx)
	}
}

// Quit quits the system tray
func (m *Manager) Quit() {
	systray.Quit()
}
