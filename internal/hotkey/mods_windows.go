package hotkey

import "golang.design/x/hotkey"

func modifiers(b Binding) []hotkey.Modifier {
	var mods []hotkey.Modifier
	if b.Ctrl {
		mods = append(mods, hotkey.ModCtrl)
	}
	if b.Shift {
		mods = append(mods, hotkey.ModShift)
	}
	if b.Alt {
		mods = append(mods, hotkey.ModAlt)
	}
	if b.Cmd {
		mods = append(mods, hotkey.ModWin)
	}
	return mods
}
