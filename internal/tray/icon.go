package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"log"
	"os"
	"path/filepath"
)

const iconSize = 22

var (
	colorStopped    = color.NRGBA{0xE3, 0xE3, 0xE3, 0xFF}
	colorPlaying    = color.NRGBA{0x4C, 0xC2, 0x5B, 0xFF}
	colorCountingIn = color.NRGBA{0xF1, 0x9E, 0x39, 0xFF}
	colorListening  = color.NRGBA{0x39, 0x8B, 0xF1, 0xFF}
)

// drawIcon renders a filled disc. hollow leaves a ring, used for the stopped
// state so it reads as "off" in a dark menu bar.
func drawIcon(c color.NRGBA, hollow bool) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, iconSize, iconSize))
	center := float64(iconSize-1) / 2
	outer := center - 1
	inner := outer - 3

	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			d2 := dx*dx + dy*dy
			if d2 > outer*outer {
				continue
			}
			if hollow && d2 < inner*inner {
				continue
			}
			img.SetNRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		log.Printf("警告: アイコンを生成できませんでした: %v", err)
		return nil
	}
	return buf.Bytes()
}

// loadIconData loads an icon from assets/icon next to the executable.
// If the file cannot be loaded, it returns the generated fallback.
func loadIconData(filename string, fallback []byte) []byte {
	exe, err := os.Executable()
	if err != nil {
		return fallback
	}

	iconPath := filepath.Join(filepath.Dir(exe), "assets", "icon", filename)
	data, err := os.ReadFile(iconPath)
	if err != nil {
		return fallback
	}

	return data
}
