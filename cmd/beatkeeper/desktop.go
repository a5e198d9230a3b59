package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yok-tottii/beatkeeper/internal/command"
	"github.com/yok-tottii/beatkeeper/internal/config"
	"github.com/yok-tottii/beatkeeper/internal/hotkey"
	"github.com/yok-tottii/beatkeeper/internal/metronome"
	"github.com/yok-tottii/beatkeeper/internal/microphone"
	"github.com/yok-tottii/beatkeeper/internal/sound"
	"github.com/yok-tottii/beatkeeper/internal/tray"
)

// TrayCmd runs the menu bar app with global hotkeys and the settings server
type TrayCmd struct{}

// Run starts the tray; it blocks on the main thread until quit
func (c *TrayCmd) Run(g *Globals) error {
	app, err := newApp(g, os.Stderr)
	if err != nil {
		return err
	}
	defer app.Close()

	d := &desktop{App: app}
	d.trayMgr = tray.NewManager(tray.Config{
		AppName:    config.AppName,
		Signatures: command.Signatures,
		Translator: app.translator,
		OnReady:    d.onReady,
		OnToggle:   app.metronome.TogglePlayback,
		OnCountIn: func() {
			if err := app.metronome.StartCountIn(); err != nil {
				app.logger.Warn("カウントインを開始できません: %v", err)
			}
		},
		OnTap: func() {
			app.metronome.Tap(time.Now())
		},
		OnTempoStep: app.metronome.AdjustTempo,
		OnListen: func() {
			if err := app.toggleListening(); err != nil {
				app.notify(app.notifier.MicrophoneUnavailable())
			}
			d.refresh()
		},
		OnApplyTempo: app.applyDetectedTempo,
		OnTimeSignature: func(signature string) {
			if err := app.metronome.SetTimeSignature(signature); err != nil {
				app.logger.Warn("拍子の変更に失敗: %v", err)
			}
		},
		OnSound: func(v sound.Voice) {
			if err := app.metronome.SetBeatSound(v); err != nil {
				app.logger.Warn("音色の変更に失敗: %v", err)
			}
		},
		OnDeviceChange: func(id int) {
			app.selectInputDevice(id)
			d.refreshDevices()
		},
		OnSettings: app.openSettings,
		OnQuit:     app.Close,
	})

	app.metronome.OnBeatChanged(func(s metronome.Snapshot) {
		d.trayMgr.Update(d.view(s))
	})
	if app.listener != nil {
		app.listener.SetHandlers(microphone.Handlers{
			TempoDetected: func(bpm int, confidence float64) {
				app.onTempoDetected(bpm, confidence)
				d.refresh()
			},
			Error: func(message string) {
				app.logger.Error("マイク入力エラー: %s", message)
				app.notify(app.notifier.MicrophoneUnavailable())
				d.refresh()
			},
		})
	}

	app.logger.Info("systray初期化開始")
	d.trayMgr.Run()
	return nil
}

// desktop binds the app to the tray
type desktop struct {
	*App
	trayMgr *tray.Manager
}

func (d *desktop) onReady() {
	d.logger.Info("systray初期化完了 - アプリケーション初期化開始")

	d.refresh()
	d.refreshDevices()
	d.registerHotkeys()

	if err := d.startServer(); err != nil {
		d.notify(d.notifier.SendError(config.AppName, err.Error()))
	}

	d.openWizardIfFirstRun()
	d.logger.Info("アプリケーション初期化完了")

	// 終了シグナルを処理
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		d.logger.Info("終了シグナルを受信しました")
		d.Close()
		d.trayMgr.Quit()
	}()

	d.printBanner()
}

func (d *desktop) printBanner() {
	bindings := d.hotkeyBindings()

	fmt.Println("\n" + "==========================================================")
	fmt.Println("[起動] Beatkeeper が起動しました")
	fmt.Println("==========================================================")
	if d.httpServer != nil && d.httpServer.IsRunning() {
		fmt.Printf("[設定] 設定画面URL: %s\n", d.httpServer.URL())
	}
	fmt.Printf("[操作] メニューバーのアイコンをクリックしてメニューを開けます\n")
	fmt.Printf("[設定] 再生/停止: %s  タップ: %s\n",
		hotkey.FormatHotkey(bindings[hotkey.ActionToggle]),
		hotkey.FormatHotkey(bindings[hotkey.ActionTap]))
	fmt.Printf("[終了] Ctrl+C またはメニューから「終了」\n")
	fmt.Println("==========================================================" + "\n")
}

func (d *desktop) view(s metronome.Snapshot) tray.View {
	v := tray.View{
		Playing:    s.State == metronome.Playing,
		CountingIn: s.State == metronome.CountingIn,
		Tempo:      s.Tempo,
		Signature:  s.Settings.TimeSignature.String(),
		Voice:      s.Settings.BeatSound,
	}
	if d.listener != nil {
		v.Listening = d.listener.IsListening()
		v.DetectedTempo = d.listener.DetectedTempo()
	}
	return v
}

// refresh pushes the current state to the tray outside a beat
func (d *desktop) refresh() {
	d.trayMgr.Update(d.view(d.metronome.Snapshot()))
}

func (d *desktop) refreshDevices() {
	devices, current, err := d.inputDevices()
	if err != nil {
		d.logger.Warn("入力デバイスの取得に失敗: %v", err)
		return
	}

	items := make([]tray.Device, 0, len(devices))
	for _, dev := range devices {
		items = append(items, tray.Device{
			ID:        dev.ID,
			Name:      dev.Name,
			IsDefault: dev.IsDefault,
			IsCurrent: dev.ID == current || (current < 0 && dev.IsDefault),
		})
	}
	d.trayMgr.UpdateDeviceMenu(items)
}
