package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yok-tottii/beatkeeper/internal/audio"
	"github.com/yok-tottii/beatkeeper/internal/config"
	"github.com/yok-tottii/beatkeeper/internal/detector"
	"github.com/yok-tottii/beatkeeper/internal/features"
	"github.com/yok-tottii/beatkeeper/internal/history"
	"github.com/yok-tottii/beatkeeper/internal/metronome"
	"github.com/yok-tottii/beatkeeper/internal/microphone"
	"github.com/yok-tottii/beatkeeper/internal/permissions"
	"github.com/yok-tottii/beatkeeper/internal/sound"
	"github.com/yok-tottii/beatkeeper/internal/wizard"
)

type nopPlayer struct{}

func (nopPlayer) PlayBeat(sound.Voice, int, bool, bool) {}
func (nopPlayer) PlayCountIn(int, int)                  {}

type fakeListener struct {
	startErr  error
	listening bool
	resets    int
	detected  int
	cfg       detector.Config
}

func (l *fakeListener) StartListening() error {
	if l.startErr != nil {
		return l.startErr
	}
	l.listening = true
	return nil
}

func (l *fakeListener) StopListening() { l.listening = false }
func (l *fakeListener) Reset()         { l.resets++ }

func (l *fakeListener) Status() microphone.Status {
	return microphone.Status{IsListening: l.listening, DetectedTempo: l.detected}
}

func (l *fakeListener) DetectedTempo() int { return l.detected }

func (l *fakeListener) DetectionConfig() detector.Config { return l.cfg }

func (l *fakeListener) SetDetectionConfig(c detector.Config) { l.cfg, _ = c.Normalize() }

type fakeOutput struct{ volume float64 }

func (o *fakeOutput) Status() sound.Status { return sound.Status{Ready: true, Volume: o.volume} }
func (o *fakeOutput) SetVolume(v float64)  { o.volume = v }

type fakeDevices struct{ err error }

func (f fakeDevices) ListDevices(dir audio.Direction) ([]audio.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	if dir == audio.Output {
		return []audio.Device{{ID: 2, Name: "Speakers", OutputChannels: 2}}, nil
	}
	return []audio.Device{{ID: 0, Name: "Built-in Mic", IsDefault: true, InputChannels: 1}}, nil
}

type fakePerms struct{ status permissions.PermissionStatus }

func (f fakePerms) CheckMicrophonePermission() permissions.PermissionStatus { return f.status }

type testEnv struct {
	handler  *Handler
	mux      *http.ServeMux
	cfg      *config.Config
	cfgPath  string
	met      *metronome.Metronome
	listener *fakeListener
	output   *fakeOutput
	wiz      *wizard.SetupWizard
	store    *history.Store
	reloads  int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	env := &testEnv{
		cfg:      config.DefaultConfig(),
		cfgPath:  filepath.Join(dir, "config.json"),
		listener: &fakeListener{cfg: detector.DefaultConfig()},
		output:   &fakeOutput{volume: 0.5},
	}
	env.met = metronome.New(metronome.DefaultSettings(), nopPlayer{}, nil)
	t.Cleanup(env.met.Close)

	wiz, err := wizard.NewSetupWizard(env.cfgPath)
	if err != nil {
		t.Fatalf("Failed to create wizard: %v", err)
	}
	env.wiz = wiz

	store, err := history.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("Failed to open history: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	env.store = store

	env.handler = New(Deps{
		Config:      env.cfg,
		ConfigPath:  env.cfgPath,
		Metronome:   env.met,
		Listener:    env.listener,
		Output:      env.output,
		Devices:     fakeDevices{},
		History:     store,
		Permissions: fakePerms{status: permissions.PermissionAuthorized},
		Wizard:      wiz,
		OnHotkeyChanged: func() error {
			env.reloads++
			return nil
		},
	})
	env.mux = http.NewServeMux()
	env.handler.RegisterRoutes(env.mux)
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
}

func TestGetSettings(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/settings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}

	var cfg config.Config
	decode(t, w, &cfg)
	if cfg.Metronome.Tempo != metronome.DefaultTempo {
		t.Errorf("Expected default tempo, got %d", cfg.Metronome.Tempo)
	}
	if cfg.UILanguage != "ja" {
		t.Errorf("Expected ja, got %s", cfg.UILanguage)
	}
}

func TestPutSettings_Metronome(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPut, "/api/settings", `{"metronome":{"tempo":96,"timeSignature":{"numerator":3,"denominator":4}},"ui_language":"en"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	snap := env.met.Snapshot()
	if snap.Tempo != 96 || snap.BeatsPerBar != 3 {
		t.Errorf("Expected 96 BPM in 3/4, got %d / %d", snap.Tempo, snap.BeatsPerBar)
	}
	if env.cfg.GetMetronome().Tempo != 96 {
		t.Error("Expected config to track the applied metronome settings")
	}
	if env.cfg.UILanguage != "en" {
		t.Errorf("Expected ui_language en, got %s", env.cfg.UILanguage)
	}

	loaded, err := config.Load(env.cfgPath)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if loaded.Metronome.Tempo != 96 {
		t.Errorf("Expected saved tempo 96, got %d", loaded.Metronome.Tempo)
	}

	if !env.wiz.IsSetupCompleted() {
		t.Error("Expected setup to be marked completed")
	}
	if env.reloads != 0 {
		t.Error("Hotkeys should not reload when they did not change")
	}
}

func TestPutSettings_ReportsFixedFields(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPut, "/api/settings", `{"metronome":{"tempo":999}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	decode(t, w, &resp)
	fixed, ok := resp["fixed"].([]interface{})
	if !ok || len(fixed) == 0 {
		t.Fatalf("Expected fixed fields, got %v", resp)
	}
	if env.met.Snapshot().Tempo == 999 {
		t.Error("Out of range tempo must not be applied")
	}
}

func TestPutSettings_DetectionAndAudio(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPut, "/api/settings", `{"detection":{"mode":"drums","sensitivity":0.8},"audio":{"volume":0.25}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	if env.listener.cfg.Mode != features.ModeDrums {
		t.Errorf("Expected listener mode drums, got %s", env.listener.cfg.Mode)
	}
	if env.output.volume != 0.25 {
		t.Errorf("Expected volume 0.25, got %f", env.output.volume)
	}
}

func TestPutSettings_Hotkeys(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPut, "/api/settings", `{"hotkeys":{"tap":{"ctrl":true,"shift":true,"key":"K"}}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if env.reloads != 1 {
		t.Errorf("Expected one hotkey reload, got %d", env.reloads)
	}
	if !env.wiz.GetProgress().HotkeyConfigured {
		t.Error("Expected hotkey step to be recorded")
	}
}

func TestPutSettings_HotkeyReloadFails(t *testing.T) {
	env := newTestEnv(t)
	env.handler.d.OnHotkeyChanged = func() error { return errors.New("already registered") }

	w := env.do(http.MethodPut, "/api/settings", `{"hotkeys":{"tap":{"ctrl":true,"key":"K"}}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	decode(t, w, &resp)
	if resp["status"] != "partial" {
		t.Errorf("Expected partial status, got %v", resp["status"])
	}
}

func TestPutSettings_Invalid(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{`},
		{"bad metronome", `{"metronome":"fast"}`},
		{"bad language", `{"ui_language":"fr"}`},
		{"bad port", `{"server_port":80}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(http.MethodPut, "/api/settings", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestSettings_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(http.MethodDelete, "/api/settings", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/api/transport/start", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	env.listener.detected = 128

	w := env.do(http.MethodGet, "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var s Status
	decode(t, w, &s)
	if s.Metronome.StateName != "Stopped" {
		t.Errorf("Expected Stopped, got %s", s.Metronome.StateName)
	}
	if s.Microphone == nil || s.Microphone.DetectedTempo != 128 {
		t.Errorf("Expected microphone status, got %+v", s.Microphone)
	}
	if s.Output == nil || !s.Output.Ready {
		t.Errorf("Expected output status, got %+v", s.Output)
	}
}

func TestTransport(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/transport/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var snap metronome.Snapshot
	decode(t, w, &snap)
	if snap.StateName != "Playing" {
		t.Errorf("Expected Playing, got %s", snap.StateName)
	}
	if !env.wiz.GetProgress().PlaybackTested {
		t.Error("Expected playback step to be recorded")
	}

	// Count-in while playing is rejected
	if w := env.do(http.MethodPost, "/api/transport/countin", ""); w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}

	env.do(http.MethodPost, "/api/transport/toggle", "")
	if env.met.IsActive() {
		t.Error("Expected toggle to stop playback")
	}

	env.do(http.MethodPost, "/api/transport/start", "")
	env.do(http.MethodPost, "/api/transport/stop", "")
	if env.met.IsActive() {
		t.Error("Expected stop to stop playback")
	}

	if w := env.do(http.MethodPost, "/api/transport/rewind", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestTransportTap(t *testing.T) {
	env := newTestEnv(t)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	i := 0
	env.handler.now = func() time.Time {
		ts := base.Add(time.Duration(i) * 500 * time.Millisecond)
		i++
		return ts
	}

	var resp struct {
		Tempo   int  `json:"tempo"`
		Applied bool `json:"applied"`
	}

	decode(t, env.do(http.MethodPost, "/api/transport/tap", ""), &resp)
	if resp.Applied {
		t.Error("A single tap must not set the tempo")
	}

	decode(t, env.do(http.MethodPost, "/api/transport/tap", ""), &resp)
	if !resp.Applied || resp.Tempo != 120 {
		t.Errorf("Expected 120 BPM applied, got %+v", resp)
	}
}

func TestTempo(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(http.MethodPost, "/api/tempo", `{"tempo":140}`); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := env.met.Snapshot().Tempo; got != 140 {
		t.Errorf("Expected 140, got %d", got)
	}

	env.do(http.MethodPost, "/api/tempo", `{"delta":-10}`)
	if got := env.met.Snapshot().Tempo; got != 130 {
		t.Errorf("Expected 130, got %d", got)
	}

	if w := env.do(http.MethodPost, "/api/tempo", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestTempoApply(t *testing.T) {
	env := newTestEnv(t)

	var resp struct {
		Tempo   int  `json:"tempo"`
		Applied bool `json:"applied"`
	}

	// Nothing detected yet
	decode(t, env.do(http.MethodPost, "/api/tempo/apply", ""), &resp)
	if resp.Applied {
		t.Error("Expected no change without a detected tempo")
	}

	env.listener.detected = 88
	decode(t, env.do(http.MethodPost, "/api/tempo/apply", ""), &resp)
	if !resp.Applied || env.met.Snapshot().Tempo != 88 {
		t.Errorf("Expected 88 BPM applied, got %+v", resp)
	}
}

func TestMicrophone(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(http.MethodPost, "/api/microphone/start", ""); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !env.listener.listening {
		t.Error("Expected listener to start")
	}
	if !env.wiz.GetProgress().MicrophoneReady {
		t.Error("Expected microphone step to be recorded")
	}

	env.do(http.MethodPost, "/api/microphone/reset", "")
	env.do(http.MethodPost, "/api/microphone/stop", "")
	if env.listener.listening || env.listener.resets != 1 {
		t.Errorf("Unexpected listener state: %+v", env.listener)
	}
}

func TestMicrophone_StartErrors(t *testing.T) {
	env := newTestEnv(t)

	env.listener.startErr = audio.ErrPermissionDenied
	w := env.do(http.MethodPost, "/api/microphone/start", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), microphone.ErrorMessage) {
		t.Errorf("Expected error message, got %q", w.Body.String())
	}

	env.listener.startErr = errors.New("no input device")
	if w := env.do(http.MethodPost, "/api/microphone/start", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestMicrophone_Unavailable(t *testing.T) {
	env := newTestEnv(t)
	env.handler.d.Listener = nil

	for _, path := range []string{"/api/microphone/start", "/api/tempo/apply"} {
		if w := env.do(http.MethodPost, path, ""); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected status 503, got %d", path, w.Code)
		}
	}
}

func TestDetection(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPut, "/api/detection", `{"mode":"guitar","onsetThreshold":0.5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var cfg detector.Config
	decode(t, w, &cfg)
	if cfg.Mode != features.ModeGuitar || cfg.OnsetThreshold != 0.5 {
		t.Errorf("Unexpected detection config %+v", cfg)
	}
	if env.cfg.GetDetection().Mode != features.ModeGuitar {
		t.Error("Expected config to follow the detection settings")
	}

	w = env.do(http.MethodGet, "/api/detection", "")
	decode(t, w, &cfg)
	if cfg.Mode != features.ModeGuitar {
		t.Errorf("Expected guitar, got %s", cfg.Mode)
	}
}

func TestCommand(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/command", `{"text":"set tempo 100"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if env.met.Snapshot().Tempo != 100 {
		t.Errorf("Expected tempo 100, got %d", env.met.Snapshot().Tempo)
	}

	env.do(http.MethodPost, "/api/command", `{"text":"time signature 6 8"}`)
	if got := env.met.Settings().TimeSignature.String(); got != "6/8" {
		t.Errorf("Expected 6/8, got %s", got)
	}

	w = env.do(http.MethodPost, "/api/command", `{"text":"make it groovy"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422, got %d", w.Code)
	}
	var resp struct {
		Recognized bool     `json:"recognized"`
		Commands   []string `json:"commands"`
	}
	decode(t, w, &resp)
	if resp.Recognized || len(resp.Commands) == 0 {
		t.Errorf("Expected help for an unrecognized command, got %+v", resp)
	}
}

func TestDevices(t *testing.T) {
	env := newTestEnv(t)

	var devices []audio.Device
	decode(t, env.do(http.MethodGet, "/api/devices", ""), &devices)
	if len(devices) != 1 || devices[0].Name != "Built-in Mic" {
		t.Errorf("Unexpected input devices %+v", devices)
	}

	decode(t, env.do(http.MethodGet, "/api/devices?direction=output", ""), &devices)
	if len(devices) != 1 || devices[0].Name != "Speakers" {
		t.Errorf("Unexpected output devices %+v", devices)
	}

	if w := env.do(http.MethodGet, "/api/devices?direction=sideways", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}

	env.handler.d.Devices = fakeDevices{err: errors.New("portaudio not initialized")}
	if w := env.do(http.MethodGet, "/api/devices", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}

	env.handler.d.Devices = nil
	decode(t, env.do(http.MethodGet, "/api/devices", ""), &devices)
	if len(devices) != 1 || devices[0].ID != -1 {
		t.Errorf("Expected only the system default, got %+v", devices)
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.store.BeginSession("drums", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := env.store.RecordDetection(id, 120, 0.9, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := env.store.EndSession(id, 42, time.Now()); err != nil {
		t.Fatal(err)
	}

	var sessions []history.Session
	decode(t, env.do(http.MethodGet, "/api/history?limit=5", ""), &sessions)
	if len(sessions) != 1 || sessions[0].ID != id {
		t.Fatalf("Unexpected sessions %+v", sessions)
	}

	var detail struct {
		Session    history.Session     `json:"session"`
		Detections []history.Detection `json:"detections"`
	}
	decode(t, env.do(http.MethodGet, "/api/history/"+id, ""), &detail)
	if detail.Session.Beats != 42 || len(detail.Detections) != 1 {
		t.Errorf("Unexpected session detail %+v", detail)
	}

	if w := env.do(http.MethodGet, "/api/history/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/api/history?limit=-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestHotkeyValidate(t *testing.T) {
	env := newTestEnv(t)

	var resp struct {
		Conflicts []string `json:"conflicts"`
		Display   string   `json:"display"`
		Error     string   `json:"error"`
	}

	decode(t, env.do(http.MethodPost, "/api/hotkey/validate", `{"cmd":true,"key":"Space"}`), &resp)
	if len(resp.Conflicts) != 1 || resp.Conflicts[0] != "Spotlight" {
		t.Errorf("Expected Spotlight conflict, got %v", resp.Conflicts)
	}
	if resp.Error != "" {
		t.Errorf("Expected a valid binding, got %q", resp.Error)
	}

	resp.Error = ""
	decode(t, env.do(http.MethodPost, "/api/hotkey/validate", `{"key":"B"}`), &resp)
	if resp.Error == "" {
		t.Error("Expected an error for a binding without modifiers")
	}
}

func TestPermissions(t *testing.T) {
	env := newTestEnv(t)
	env.handler.d.Permissions = fakePerms{status: permissions.PermissionDenied}

	var resp map[string]Permission
	decode(t, env.do(http.MethodGet, "/api/permissions", ""), &resp)

	mic := resp["microphone"]
	if mic.Granted || mic.Status != permissions.PermissionDenied.String() || mic.Message == "" {
		t.Errorf("Unexpected permission %+v", mic)
	}
}

func TestSetup(t *testing.T) {
	env := newTestEnv(t)

	var progress wizard.SetupProgress
	decode(t, env.do(http.MethodGet, "/api/setup", ""), &progress)
	if progress.Completed {
		t.Error("Fresh setup should not be completed")
	}

	var buf bytes.Buffer
	buf.WriteString(`{"ui_language":"ja"}`)
	env.do(http.MethodPut, "/api/settings", buf.String())

	decode(t, env.do(http.MethodGet, "/api/setup", ""), &progress)
	if !progress.Completed {
		t.Error("Expected setup completed after saving settings")
	}
}
