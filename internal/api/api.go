package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yok-tottii/beatkeeper/internal/audio"
	"github.com/yok-tottii/beatkeeper/internal/command"
	"github.com/yok-tottii/beatkeeper/internal/config"
	"github.com/yok-tottii/beatkeeper/internal/detector"
	"github.com/yok-tottii/beatkeeper/internal/history"
	"github.com/yok-tottii/beatkeeper/internal/hotkey"
	"github.com/yok-tottii/beatkeeper/internal/logger"
	"github.com/yok-tottii/beatkeeper/internal/metronome"
	"github.com/yok-tottii/beatkeeper/internal/microphone"
	"github.com/yok-tottii/beatkeeper/internal/permissions"
	"github.com/yok-tottii/beatkeeper/internal/sound"
	"github.com/yok-tottii/beatkeeper/internal/wizard"
)

// Metronome is the transport the API drives
type Metronome interface {
	command.Target
	TogglePlayback()
	StartCountIn() error
	Tap(now time.Time) (int, bool)
	ApplyDetectedTempo(tempo int) bool
	Apply(s metronome.Settings)
	Snapshot() metronome.Snapshot
}

// Listener is the live beat detector
type Listener interface {
	StartListening() error
	StopListening()
	Reset()
	Status() microphone.Status
	DetectedTempo() int
	DetectionConfig() detector.Config
	SetDetectionConfig(cfg detector.Config)
}

// Output is the click renderer
type Output interface {
	Status() sound.Status
	SetVolume(v float64)
}

// DeviceLister lists audio devices
type DeviceLister interface {
	ListDevices(dir audio.Direction) ([]audio.Device, error)
}

// History is the listening-session log
type History interface {
	Sessions(limit int) ([]history.Session, error)
	Session(id string) (history.Session, error)
	Detections(sessionID string) ([]history.Detection, error)
}

// PermissionChecker reports the microphone permission status
type PermissionChecker interface {
	CheckMicrophonePermission() permissions.PermissionStatus
}

// Deps wires the handler. Metronome and Config are required; the rest may be
// nil and their routes answer 503.
type Deps struct {
	Config          *config.Config
	ConfigPath      string
	Metronome       Metronome
	Listener        Listener
	Output          Output
	Devices         DeviceLister
	History         History
	Permissions     PermissionChecker
	Wizard          *wizard.SetupWizard
	OnHotkeyChanged func() error // Callback to reload hotkeys in main app
	Log             *logger.Logger
}

// Handler manages API endpoints
type Handler struct {
	d   Deps
	now func() time.Time
}

// New creates a new API handler
func New(d Deps) *Handler {
	if d.ConfigPath == "" {
		d.ConfigPath = config.GetConfigPath()
	}
	return &Handler{d: d, now: time.Now}
}

// RegisterRoutes registers all API routes on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/settings", h.handleSettings)
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/transport/", h.handleTransport)
	mux.HandleFunc("/api/tempo", h.handleTempo)
	mux.HandleFunc("/api/tempo/apply", h.handleTempoApply)
	mux.HandleFunc("/api/microphone/", h.handleMicrophone)
	mux.HandleFunc("/api/detection", h.handleDetection)
	mux.HandleFunc("/api/command", h.handleCommand)
	mux.HandleFunc("/api/devices", h.handleDevices)
	mux.HandleFunc("/api/history", h.handleHistory)
	mux.HandleFunc("/api/history/", h.handleHistorySession)
	mux.HandleFunc("/api/hotkey/validate", h.handleHotkeyValidate)
	mux.HandleFunc("/api/permissions", h.handlePermissions)
	mux.HandleFunc("/api/setup", h.handleSetup)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("Failed to encode response: %v", err), http.StatusInternalServerError)
	}
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (h *Handler) markStep(step wizard.Step) {
	if h.d.Wizard == nil {
		return
	}
	if err := h.d.Wizard.MarkStep(step); err != nil {
		h.d.Log.Warn("Failed to record setup step %s: %v", step, err)
	}
}

// saveConfig persists the config; failures are logged, not returned, since
// the running state already changed
func (h *Handler) saveConfig() error {
	if err := h.d.Config.Save(h.d.ConfigPath); err != nil {
		h.d.Log.Error("Failed to save config: %v", err)
		return err
	}
	return nil
}

// handleSettings handles GET and PUT /api/settings
func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getSettings(w, r)
	case http.MethodPut:
		h.putSettings(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// getSettings returns the current configuration
func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.d.Config.Clone())
}

// putSettings updates the configuration. A "metronome" object is merged over
// the current metronome settings and applied to the running transport.
func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var settings *metronome.Settings
	if raw, ok := updates["metronome"]; ok {
		s := h.d.Metronome.Snapshot().Settings.Clone()
		if err := json.Unmarshal(raw, &s); err != nil {
			http.Error(w, fmt.Sprintf("Invalid metronome settings: %v", err), http.StatusBadRequest)
			return
		}
		settings = &s
		delete(updates, "metronome")
	}

	generic := make(map[string]interface{}, len(updates))
	for k, raw := range updates {
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		generic[k] = v
	}

	if err := h.d.Config.Update(generic); err != nil {
		http.Error(w, fmt.Sprintf("Failed to update config: %v", err), http.StatusBadRequest)
		return
	}

	var fixed []string
	if settings != nil {
		*settings, fixed = settings.Normalize()
		h.d.Metronome.Apply(*settings)
		h.d.Config.SetMetronome(h.d.Metronome.Snapshot().Settings)
	}
	if _, ok := generic["detection"]; ok && h.d.Listener != nil {
		h.d.Listener.SetDetectionConfig(h.d.Config.GetDetection())
	}
	if _, ok := generic["audio"]; ok && h.d.Output != nil {
		h.d.Output.SetVolume(h.d.Config.Clone().Audio.Volume)
	}

	if err := h.saveConfig(); err != nil {
		http.Error(w, fmt.Sprintf("Failed to save config: %v", err), http.StatusInternalServerError)
		return
	}

	status := map[string]interface{}{"status": "success"}
	if len(fixed) > 0 {
		status["fixed"] = fixed
	}

	if _, ok := generic["hotkeys"]; ok {
		h.markStep(wizard.StepHotkeys)
		if h.d.OnHotkeyChanged != nil {
			if err := h.d.OnHotkeyChanged(); err != nil {
				h.d.Log.Warn("Failed to reload hotkeys: %v", err)
				status["status"] = "partial"
				status["message"] = fmt.Sprintf("Settings saved but hotkey reload failed: %v", err)
			}
		}
	}

	// 初回設定完了フラグを立てる
	if h.d.Wizard != nil {
		if err := h.d.Wizard.MarkSetupCompleted(); err != nil {
			h.d.Log.Warn("Failed to mark setup completed: %v", err)
		}
	}

	writeJSON(w, status)
}

// Status is the combined GET /api/status response
type Status struct {
	Metronome  metronome.Snapshot `json:"metronome"`
	Microphone *microphone.Status `json:"microphone,omitempty"`
	Output     *sound.Status      `json:"output,omitempty"`
}

func (h *Handler) status() Status {
	s := Status{Metronome: h.d.Metronome.Snapshot()}
	if h.d.Listener != nil {
		ms := h.d.Listener.Status()
		s.Microphone = &ms
	}
	if h.d.Output != nil {
		out := h.d.Output.Status()
		s.Output = &out
	}
	return s
}

// handleStatus handles GET /api/status
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, h.status())
}

// handleTransport handles POST /api/transport/{start,stop,toggle,countin,tap}
func (h *Handler) handleTransport(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	action := strings.TrimPrefix(r.URL.Path, "/api/transport/")
	switch action {
	case "start":
		h.d.Metronome.Start()
		h.markStep(wizard.StepPlayback)
	case "stop":
		h.d.Metronome.Stop()
	case "toggle":
		h.d.Metronome.TogglePlayback()
	case "countin":
		if err := h.d.Metronome.StartCountIn(); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, metronome.ErrAlreadyActive) {
				code = http.StatusConflict
			}
			http.Error(w, err.Error(), code)
			return
		}
		h.markStep(wizard.StepPlayback)
	case "tap":
		bpm, applied := h.d.Metronome.Tap(h.now())
		writeJSON(w, map[string]interface{}{
			"tempo":   bpm,
			"applied": applied,
		})
		return
	default:
		http.NotFound(w, r)
		return
	}

	writeJSON(w, h.d.Metronome.Snapshot())
}

// handleTempo handles POST /api/tempo {"tempo": 96} or {"delta": -10}
func (h *Handler) handleTempo(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Tempo *int `json:"tempo"`
		Delta int  `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	switch {
	case req.Tempo != nil:
		h.d.Metronome.SetTempo(*req.Tempo)
	case req.Delta != 0:
		h.d.Metronome.AdjustTempo(req.Delta)
	default:
		http.Error(w, "tempo or delta is required", http.StatusBadRequest)
		return
	}

	writeJSON(w, h.d.Metronome.Snapshot())
}

// handleTempoApply handles POST /api/tempo/apply
func (h *Handler) handleTempoApply(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if h.d.Listener == nil {
		http.Error(w, "Microphone not available", http.StatusServiceUnavailable)
		return
	}

	bpm := h.d.Listener.DetectedTempo()
	applied := h.d.Metronome.ApplyDetectedTempo(bpm)
	writeJSON(w, map[string]interface{}{
		"tempo":   bpm,
		"applied": applied,
	})
}

// handleMicrophone handles POST /api/microphone/{start,stop,reset}
func (h *Handler) handleMicrophone(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if h.d.Listener == nil {
		http.Error(w, "Microphone not available", http.StatusServiceUnavailable)
		return
	}

	switch strings.TrimPrefix(r.URL.Path, "/api/microphone/") {
	case "start":
		if err := h.d.Listener.StartListening(); err != nil {
			code := http.StatusServiceUnavailable
			if errors.Is(err, audio.ErrPermissionDenied) {
				code = http.StatusForbidden
			}
			http.Error(w, microphone.ErrorMessage, code)
			return
		}
		h.markStep(wizard.StepMicrophone)
	case "stop":
		h.d.Listener.StopListening()
	case "reset":
		h.d.Listener.Reset()
	default:
		http.NotFound(w, r)
		return
	}

	writeJSON(w, h.d.Listener.Status())
}

// handleDetection handles GET and PUT /api/detection
func (h *Handler) handleDetection(w http.ResponseWriter, r *http.Request) {
	if h.d.Listener == nil {
		http.Error(w, "Microphone not available", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, h.d.Listener.DetectionConfig())
	case http.MethodPut:
		cfg := h.d.Listener.DetectionConfig()
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		h.d.Listener.SetDetectionConfig(cfg)

		applied := h.d.Listener.DetectionConfig()
		h.d.Config.SetDetection(applied)
		h.saveConfig()

		writeJSON(w, applied)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCommand handles POST /api/command {"text": "tempo 96"}
func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]interface{}{"commands": command.Help()})
		return
	case http.MethodPost:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	cmd, ok := command.Parse(req.Text)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"recognized": false,
			"commands":   command.Help(),
		})
		return
	}

	if err := cmd.Apply(h.d.Metronome); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.d.Log.Info("Command applied: %s", cmd.Kind)
	writeJSON(w, map[string]interface{}{
		"recognized": true,
		"command":    cmd.Kind.String(),
		"metronome":  h.d.Metronome.Snapshot(),
	})
}

// handleDevices handles GET /api/devices?direction=input|output
func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	dir := audio.Input
	switch r.URL.Query().Get("direction") {
	case "", "input":
	case "output":
		dir = audio.Output
	default:
		http.Error(w, "direction must be input or output", http.StatusBadRequest)
		return
	}

	// Without a driver only the system default is offered
	if h.d.Devices == nil {
		writeJSON(w, []audio.Device{{ID: -1, Name: "System Default", IsDefault: true}})
		return
	}

	devices, err := h.d.Devices.ListDevices(dir)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list audio devices: %v", err), http.StatusInternalServerError)
		return
	}
	if devices == nil {
		devices = []audio.Device{}
	}
	writeJSON(w, devices)
}

// handleHistory handles GET /api/history?limit=N
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if h.d.History == nil {
		http.Error(w, "History is disabled", http.StatusServiceUnavailable)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	sessions, err := h.d.History.Sessions(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []history.Session{}
	}
	writeJSON(w, sessions)
}

// handleHistorySession handles GET /api/history/{id}
func (h *Handler) handleHistorySession(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if h.d.History == nil {
		http.Error(w, "History is disabled", http.StatusServiceUnavailable)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/history/")
	session, err := h.d.History.Session(id)
	if errors.Is(err, history.ErrSessionNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	detections, err := h.d.History.Detections(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if detections == nil {
		detections = []history.Detection{}
	}

	writeJSON(w, map[string]interface{}{
		"session":    session,
		"detections": detections,
	})
}

// handleHotkeyValidate handles POST /api/hotkey/validate
func (h *Handler) handleHotkeyValidate(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	var b hotkey.Binding
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	conflictNames := []string{}
	for _, c := range hotkey.CheckConflicts(b) {
		conflictNames = append(conflictNames, c.Name)
	}

	resp := map[string]interface{}{
		"conflicts": conflictNames,
		"display":   hotkey.FormatHotkey(b),
	}
	if err := b.Validate(); err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, resp)
}

// Permission represents a permission status
type Permission struct {
	Granted bool   `json:"granted"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// handlePermissions handles GET /api/permissions
func (h *Handler) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	status := permissions.PermissionAuthorized
	if h.d.Permissions != nil {
		status = h.d.Permissions.CheckMicrophonePermission()
	}

	writeJSON(w, map[string]Permission{
		"microphone": {
			Granted: status == permissions.PermissionAuthorized,
			Status:  status.String(),
			Message: permissions.GetPermissionStatusMessage(status),
		},
	})
}

// handleSetup handles GET /api/setup
func (h *Handler) handleSetup(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if h.d.Wizard == nil {
		writeJSON(w, wizard.SetupProgress{Completed: true})
		return
	}
	writeJSON(w, h.d.Wizard.GetProgress())
}
