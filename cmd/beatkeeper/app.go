package main

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/yok-tottii/beatkeeper/internal/api"
	"github.com/yok-tottii/beatkeeper/internal/audio"
	"github.com/yok-tottii/beatkeeper/internal/config"
	"github.com/yok-tottii/beatkeeper/internal/history"
	"github.com/yok-tottii/beatkeeper/internal/hotkey"
	"github.com/yok-tottii/beatkeeper/internal/i18n"
	"github.com/yok-tottii/beatkeeper/internal/logger"
	"github.com/yok-tottii/beatkeeper/internal/metronome"
	"github.com/yok-tottii/beatkeeper/internal/microphone"
	"github.com/yok-tottii/beatkeeper/internal/notification"
	"github.com/yok-tottii/beatkeeper/internal/permissions"
	"github.com/yok-tottii/beatkeeper/internal/server"
	"github.com/yok-tottii/beatkeeper/internal/sound"
	"github.com/yok-tottii/beatkeeper/internal/wizard"
)

// historyRetention is how long listening sessions are kept
const historyRetention = 90 * 24 * time.Hour

// App holds the application state shared by the tray and terminal front ends
type App struct {
	configPath string
	config     *config.Config
	logger     *logger.Logger
	translator *i18n.Translator
	notifier   *notification.NotificationManager
	wizard     *wizard.SetupWizard
	perms      *permissions.PermissionChecker

	engine     *sound.Engine
	output     *audio.PortAudioOutput
	metronome  *metronome.Metronome
	driver     *audio.PortAudioDriver
	listener   *microphone.Listener
	history    *history.Store
	hotkeyMgr  *hotkey.Manager
	httpServer *server.Server

	mu           sync.Mutex
	lastNotified int
	closeOnce    sync.Once
}

// newApp loads the configuration and builds every component except the
// front end. Audio devices that fail to open leave the app running without
// them.
func newApp(g *Globals, echo io.Writer) (*App, error) {
	a := &App{configPath: g.Config}
	if a.configPath == "" {
		a.configPath = config.GetConfigPath()
	}

	loggerConfig := logger.DefaultConfig()
	loggerConfig.Echo = echo
	log, err := logger.New(loggerConfig)
	if err != nil {
		return nil, fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	a.logger = log
	a.logger.Info("Beatkeeper v%s 起動", version)

	a.config, err = config.Load(a.configPath)
	if err != nil {
		a.logger.Error("設定ファイルの読み込みに失敗: %v", err)
		a.logger.Close()
		return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	a.logger.Info("設定ファイルを読み込みました: %s", a.configPath)

	level := a.config.LogLevel
	if g.LogLevel != "" {
		level = g.LogLevel
	}
	a.logger.SetLevel(logger.ParseLevel(level))

	lang := i18n.Language(a.config.UILanguage)
	if !i18n.ValidateLanguage(a.config.UILanguage) {
		lang = i18n.DetectSystemLanguage()
	}
	a.translator = i18n.NewDefault(lang)
	a.notifier = notification.NewNotificationManager(config.AppName, a.translator)

	if fixed := a.config.FixedFields(); len(fixed) > 0 {
		a.logger.Warn("不正な設定値を既定値に戻しました: %v", fixed)
		a.notify(a.notifier.SettingsReset(fixed))
	}

	a.wizard, err = wizard.NewSetupWizard(a.configPath)
	if err != nil {
		a.logger.Error("セットアップウィザード初期化エラー: %v", err)
	}

	a.perms = permissions.NewPermissionChecker()
	if a.perms.IsMicrophoneAuthorized() {
		a.logger.Info("マイク権限: 許可済み")
	} else {
		a.logger.Warn("マイク権限: 未許可 - テンポ検出が無効化されます")
	}

	a.setupOutput()

	a.metronome = metronome.New(a.config.GetMetronome(), a.engine, a.logger)
	a.metronome.OnSettingsChanged(a.onSettingsChanged)

	a.setupHistory()
	a.setupListener()

	return a, nil
}

// setupOutput builds the click engine and opens the output stream
func (a *App) setupOutput() {
	cfg := a.config.Clone()

	bank := sound.NewBank()
	if dir, err := a.config.GetSampleDir(); err != nil {
		a.logger.Warn("サンプルディレクトリの展開に失敗: %v", err)
	} else if n, err := bank.LoadDir(dir); err != nil {
		a.logger.Warn("サンプルの読み込みに失敗: %v", err)
	} else if n > 0 {
		a.logger.Info("サンプルを読み込みました: %d 件 (%s)", n, dir)
	}

	a.engine = sound.NewEngine(sound.Config{
		SampleRate: cfg.Audio.SampleRate,
		Volume:     cfg.Audio.Volume,
	}, bank, a.logger)

	out, err := audio.NewPortAudioOutput()
	if err != nil {
		a.outputFailed(fmt.Errorf("PortAudio出力の作成に失敗: %w", err))
		return
	}

	audioCfg := audio.DefaultConfig()
	audioCfg.DeviceID = cfg.Audio.OutputDeviceID
	audioCfg.SampleRate = cfg.Audio.SampleRate
	if err := out.Initialize(audioCfg, a.engine); err != nil {
		out.Close()
		a.outputFailed(err)
		return
	}
	if err := out.Start(); err != nil {
		out.Close()
		a.outputFailed(err)
		return
	}

	a.output = out
	a.logger.Info("オーディオ出力初期化完了 (device=%d, %d Hz)", audioCfg.DeviceID, audioCfg.SampleRate)
}

func (a *App) outputFailed(err error) {
	a.logger.Error("オーディオ出力の初期化に失敗: %v", err)
	a.engine.Fail(err)
	a.notify(a.notifier.OutputUnavailable())
}

func (a *App) setupHistory() {
	path, err := a.config.GetHistoryPath()
	if err != nil {
		a.logger.Warn("履歴パスの展開に失敗: %v", err)
		return
	}
	if path == "" {
		a.logger.Info("履歴は無効です")
		return
	}

	store, err := history.Open(path)
	if err != nil {
		a.logger.Error("履歴データベースのオープンに失敗: %v", err)
		return
	}
	a.history = store

	if n, err := store.Prune(time.Now().Add(-historyRetention)); err != nil {
		a.logger.Warn("古い履歴の削除に失敗: %v", err)
	} else if n > 0 {
		a.logger.Info("古い履歴を削除しました: %d 件", n)
	}
}

func (a *App) setupListener() {
	driver, err := audio.NewPortAudioDriver()
	if err != nil {
		a.logger.Error("PortAudioドライバの作成に失敗: %v", err)
		return
	}
	a.driver = driver

	cfg := a.config.Clone()
	micCfg := microphone.DefaultConfig()
	micCfg.Audio.DeviceID = cfg.Audio.InputDeviceID
	micCfg.Audio.SampleRate = cfg.Audio.SampleRate
	micCfg.Detection = cfg.Detection
	a.logger.Info("設定から入力デバイスIDを適用: %d", micCfg.Audio.DeviceID)

	var rec microphone.Recorder
	if a.history != nil {
		rec = a.history
	}
	a.listener = microphone.New(driver, a.perms, rec, micCfg, a.logger)
}

// onSettingsChanged persists metronome settings after every change
func (a *App) onSettingsChanged(s metronome.Settings) {
	a.config.SetMetronome(s)
	if err := a.config.Save(a.configPath); err != nil {
		a.logger.Error("設定の保存に失敗: %v", err)
	}
}

// onTempoDetected posts a notification when the estimate moves noticeably
func (a *App) onTempoDetected(bpm int, confidence float64) {
	a.mu.Lock()
	last := a.lastNotified
	changed := confidence >= 60 && (last == 0 || abs(bpm-last) >= 3)
	if changed {
		a.lastNotified = bpm
	}
	a.mu.Unlock()

	if changed {
		a.logger.Info("テンポ検出: %d BPM (信頼度 %.0f%%)", bpm, confidence)
		a.notify(a.notifier.TempoDetected(bpm))
	}
}

// toggleListening starts or stops the microphone listener
func (a *App) toggleListening() error {
	if a.listener == nil {
		return audio.ErrNoInputDevice
	}
	if a.listener.IsListening() {
		a.listener.StopListening()
		a.logger.Info("マイク入力を停止しました")
		return nil
	}

	a.mu.Lock()
	a.lastNotified = 0
	a.mu.Unlock()

	if err := a.listener.StartListening(); err != nil {
		a.logger.Error("マイク入力の開始に失敗: %v", err)
		if errors.Is(err, audio.ErrPermissionDenied) {
			if err := a.perms.RequestMicrophonePermission(); err != nil {
				a.logger.Warn("システム設定を開けませんでした: %v", err)
			}
		}
		return err
	}
	a.logger.Info("マイク入力を開始しました")
	if a.wizard != nil {
		if err := a.wizard.MarkStep(wizard.StepMicrophone); err != nil {
			a.logger.Warn("セットアップ進捗の保存に失敗: %v", err)
		}
	}
	return nil
}

// applyDetectedTempo copies the listener's estimate onto the metronome
func (a *App) applyDetectedTempo() {
	if a.listener == nil {
		return
	}
	bpm := a.listener.DetectedTempo()
	if !a.metronome.ApplyDetectedTempo(bpm) {
		a.logger.Warn("適用できる検出テンポがありません")
		return
	}
	a.logger.Info("検出テンポを適用: %d BPM", bpm)
	a.notify(a.notifier.TempoApplied(bpm))
}

// selectInputDevice switches the capture device and remembers the choice
func (a *App) selectInputDevice(id int) {
	a.logger.Info("入力デバイス変更要求: %d", id)
	if a.listener != nil {
		if err := a.listener.SetInputDevice(id); err != nil {
			a.logger.Error("入力デバイスの切り替えに失敗: %v", err)
			a.notify(a.notifier.MicrophoneUnavailable())
			return
		}
	}

	updates := map[string]interface{}{
		"audio": map[string]interface{}{"input_device_id": float64(id)},
	}
	if err := a.config.Update(updates); err != nil {
		a.logger.Error("設定の更新に失敗: %v", err)
		return
	}
	if err := a.config.Save(a.configPath); err != nil {
		a.logger.Error("設定の保存に失敗: %v", err)
	}
}

// inputDevices lists capture devices, marking the configured one
func (a *App) inputDevices() ([]audio.Device, int, error) {
	if a.driver == nil {
		return nil, -1, audio.ErrNoInputDevice
	}
	devices, err := a.driver.ListDevices(audio.Input)
	return devices, a.config.Clone().Audio.InputDeviceID, err
}

// hotkeyBindings converts the configured shortcuts
func (a *App) hotkeyBindings() map[hotkey.Action]hotkey.Binding {
	cfg := a.config.Clone()
	return map[hotkey.Action]hotkey.Binding{
		hotkey.ActionToggle: hotkey.Binding(cfg.Hotkeys.Toggle),
		hotkey.ActionTap:    hotkey.Binding(cfg.Hotkeys.Tap),
	}
}

// registerHotkeys registers the global shortcuts and starts the event loop
func (a *App) registerHotkeys() {
	a.hotkeyMgr = hotkey.New()
	bindings := a.hotkeyBindings()
	a.warnConflicts(bindings)

	if err := a.hotkeyMgr.Register(bindings); err != nil {
		a.logger.Error("ホットキーの登録に失敗: %v", err)
		a.notify(a.notifier.HotkeyRegistrationFailed(hotkey.FormatHotkey(bindings[hotkey.ActionToggle])))
		return
	}
	a.logger.Info("ホットキー登録完了: %s / %s",
		hotkey.FormatHotkey(bindings[hotkey.ActionToggle]),
		hotkey.FormatHotkey(bindings[hotkey.ActionTap]))

	go a.hotkeyEventLoop()
}

func (a *App) warnConflicts(bindings map[hotkey.Action]hotkey.Binding) {
	for action, b := range bindings {
		for _, c := range hotkey.CheckConflicts(b) {
			a.logger.Warn("ホットキー競合 (%s): %s は %s と重複しています", action, hotkey.FormatHotkey(b), c.Name)
			a.notify(a.notifier.HotkeyConflict(hotkey.FormatHotkey(b), c.Name))
		}
	}
}

// hotkeyEventLoop runs until the manager closes its event channel
func (a *App) hotkeyEventLoop() {
	events := a.hotkeyMgr.Events()
	if events == nil {
		return
	}

	a.logger.Info("ホットキーイベントループ開始")
	for ev := range events {
		switch ev.Action {
		case hotkey.ActionToggle:
			a.logger.Debug("ホットキー押下検出 - 再生切り替え")
			a.metronome.TogglePlayback()
		case hotkey.ActionTap:
			if bpm, ok := a.metronome.Tap(ev.At); ok {
				a.logger.Debug("タップテンポ: %d BPM", bpm)
			}
		}
	}
	a.logger.Info("ホットキーイベントループ終了")
}

// ReloadHotkey re-registers the shortcuts from the current configuration
func (a *App) ReloadHotkey() error {
	a.logger.Info("ホットキー再登録要求")

	if a.hotkeyMgr == nil {
		a.logger.Warn("ホットキー再登録: ホットキーマネージャーが初期化されていません")
		return fmt.Errorf("hotkey manager not initialized")
	}

	bindings := a.hotkeyBindings()
	a.warnConflicts(bindings)

	err := a.hotkeyMgr.Reload(bindings)
	if a.hotkeyMgr.IsRunning() {
		go a.hotkeyEventLoop()
	}
	if err != nil {
		a.logger.Error("新しいホットキー登録に失敗: %v", err)
		a.notify(a.notifier.HotkeyRegistrationFailed(hotkey.FormatHotkey(bindings[hotkey.ActionToggle])))
		return fmt.Errorf("failed to register new hotkey: %w", err)
	}

	a.logger.Info("ホットキー再登録完了: %s", hotkey.FormatHotkey(bindings[hotkey.ActionToggle]))
	return nil
}

// startServer mounts the control API and starts the settings server
func (a *App) startServer() error {
	srvCfg := server.DefaultConfig()
	srvCfg.Port = a.config.Clone().ServerPort
	a.httpServer = server.New(srvCfg, a.logger)

	deps := api.Deps{
		Config:      a.config,
		ConfigPath:  a.configPath,
		Metronome:   a.metronome,
		Output:      a.engine,
		Permissions: a.perms,
		Wizard:      a.wizard,
		Log:         a.logger,
	}
	// Leave optional deps as untyped nil so the API reports them unavailable
	if a.listener != nil {
		deps.Listener = a.listener
	}
	if a.driver != nil {
		deps.Devices = a.driver
	}
	if a.history != nil {
		deps.History = a.history
	}
	if a.hotkeyMgr != nil {
		deps.OnHotkeyChanged = a.ReloadHotkey
	}

	api.New(deps).RegisterRoutes(a.httpServer.GetMux())
	a.logger.Info("APIルート登録完了")

	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("HTTPサーバーの起動に失敗: %v", err)
		return err
	}
	return nil
}

// openSettings opens the settings page in the default browser
func (a *App) openSettings() {
	a.logger.Info("設定画面を開く要求")

	if a.httpServer == nil || !a.httpServer.IsRunning() {
		a.logger.Error("HTTPサーバーが起動していません")
		return
	}

	url := a.httpServer.URL()
	a.logger.Info("ブラウザを開きます: %s", url)

	// goroutineで非同期実行
	go func() {
		if err := browserCommand(url).Run(); err != nil {
			a.logger.Error("ブラウザの起動に失敗: %v", err)

			// フォールバック: ターミナルにURLを表示
			fmt.Printf("\n[警告] ブラウザが自動で開きませんでした\n")
			fmt.Printf("[情報] 設定画面URL: %s\n", url)
			fmt.Printf("[ヒント] 上記URLをブラウザで開いてください\n\n")
		}
	}()
}

func browserCommand(url string) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url)
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return exec.Command("xdg-open", url)
	}
}

// openWizardIfFirstRun opens the settings page once on first launch
func (a *App) openWizardIfFirstRun() {
	if a.wizard == nil || !a.wizard.ShouldShowWizard() {
		return
	}
	a.logger.Info("初回起動検出 - セットアップ画面を開きます")
	a.openSettings()
}

func (a *App) notify(err error) {
	if err != nil {
		a.logger.Debug("通知の送信に失敗: %v", err)
	}
}

// Close stops every component; safe to call more than once
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.logger.Info("終了要求")

		// HTTPサーバーを停止
		if a.httpServer != nil && a.httpServer.IsRunning() {
			if err := a.httpServer.Stop(); err != nil {
				a.logger.Error("HTTPサーバーの停止に失敗: %v", err)
			}
		}

		// ホットキーマネージャーをクローズ
		if a.hotkeyMgr != nil {
			a.hotkeyMgr.Close()
		}

		if a.listener != nil {
			if err := a.listener.Close(); err != nil {
				a.logger.Warn("マイク入力のクローズに失敗: %v", err)
			}
		}
		a.metronome.Close()
		if a.output != nil {
			a.output.Close()
		}
		if a.history != nil {
			a.history.Close()
		}

		a.logger.Info("アプリケーション終了")
		a.logger.Close()
	})
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
