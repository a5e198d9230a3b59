package main

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/yok-tottii/beatkeeper/internal/metronome"
	"github.com/yok-tottii/beatkeeper/internal/microphone"
	"github.com/yok-tottii/beatkeeper/internal/tui"
)

// TUICmd runs the terminal front end. Global hotkeys stay off here; they need
// the tray's event loop on macOS.
type TUICmd struct {
	NoServer bool `help:"Do not start the settings server"`
}

func (c *TUICmd) Run(g *Globals) error {
	// Logs go to the file only so they do not tear the screen
	app, err := newApp(g, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	if !c.NoServer {
		if err := app.startServer(); err != nil {
			app.logger.Warn("設定画面なしで続行します: %v", err)
		}
	}

	var listener tui.Listener
	if app.listener != nil {
		listener = app.listener
	}
	model := tui.NewModel(app.metronome, listener)

	app.metronome.OnBeatChanged(func(s metronome.Snapshot) {
		model.Send(tui.BeatMsg(s))
	})
	if app.listener != nil {
		app.listener.SetHandlers(microphone.Handlers{
			BeatDetected: func(int64) {
				model.Send(tui.PulseMsg{})
			},
			TempoDetected: func(bpm int, confidence float64) {
				app.onTempoDetected(bpm, confidence)
				model.Send(tui.TempoMsg{Tempo: bpm, Confidence: confidence})
			},
			VolumeUpdate: func(level float64) {
				model.Send(tui.VolumeMsg(level))
			},
			Error: func(message string) {
				app.logger.Error("マイク入力エラー: %s", message)
				model.Send(tui.ErrorMsg(message))
			},
		})
	}

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}
