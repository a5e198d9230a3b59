package i18n

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Language represents a supported language
type Language string

const (
	// Japanese language
	LanguageJapanese Language = "ja"
	// English language
	LanguageEnglish Language = "en"
)

// Translator manages translations for the application
type Translator struct {
	currentLanguage Language
	translations    map[Language]map[string]string
	mu              sync.RWMutex
}

// NewTranslator creates a new translator without any tables loaded
func NewTranslator(language Language) *Translator {
	return &Translator{
		currentLanguage: language,
		translations:    make(map[Language]map[string]string),
	}
}

// NewDefault creates a translator with the built-in Japanese and English tables
func NewDefault(language Language) *Translator {
	t := NewTranslator(language)
	t.translations[LanguageEnglish] = DefaultEnglishTranslations()
	t.translations[LanguageJapanese] = DefaultJapaneseTranslations()
	return t
}

// LoadTranslations merges translations from JSON data over the current table
func (t *Translator) LoadTranslations(language Language, data []byte) error {
	var translations map[string]string
	if err := json.Unmarshal(data, &translations); err != nil {
		return fmt.Errorf("failed to unmarshal translations: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	table := t.translations[language]
	if table == nil {
		table = make(map[string]string, len(translations))
		t.translations[language] = table
	}
	for k, v := range translations {
		table[k] = v
	}
	return nil
}

// LoadTranslationsFromFile loads translations from a JSON file
func (t *Translator) LoadTranslationsFromFile(language Language, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read translation file: %w", err)
	}

	return t.LoadTranslations(language, data)
}

// SetLanguage sets the current language
func (t *Translator) SetLanguage(language Language) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentLanguage = language
}

// GetLanguage returns the current language
func (t *Translator) GetLanguage() Language {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentLanguage
}

// Translate translates a key in the current language, falling back to
// English and then to the key itself
func (t *Translator) Translate(key string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if text, ok := t.translations[t.currentLanguage][key]; ok {
		return text
	}

	if t.currentLanguage != LanguageEnglish {
		if text, ok := t.translations[LanguageEnglish][key]; ok {
			return text
		}
	}

	return key
}

// TranslateWithFormat translates a key and replaces {name} placeholders
func (t *Translator) TranslateWithFormat(key string, params map[string]string) string {
	text := t.Translate(key)

	for param, value := range params {
		placeholder := fmt.Sprintf("{%s}", param)
		text = strings.ReplaceAll(text, placeholder, value)
	}

	return text
}

// GetAllTranslations returns all translations for the current language
func (t *Translator) GetAllTranslations() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	// Return a copy to prevent external modifications
	result := make(map[string]string)
	for k, v := range t.translations[t.currentLanguage] {
		result[k] = v
	}
	return result
}

// HasTranslation checks if a translation key exists in the current language
func (t *Translator) HasTranslation(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.translations[t.currentLanguage][key]
	return ok
}

// ValidateLanguage validates that a language is supported
func ValidateLanguage(language string) bool {
	return language == string(LanguageJapanese) || language == string(LanguageEnglish)
}

// DetectSystemLanguage reads the POSIX locale variables. A Japanese locale
// selects Japanese; anything else selects English.
func DetectSystemLanguage() Language {
	for _, env := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(v), "ja") {
			return LanguageJapanese
		}
		return LanguageEnglish
	}
	return LanguageEnglish
}

// GetSupportedLanguages returns a list of supported languages
func GetSupportedLanguages() []Language {
	return []Language{LanguageJapanese, LanguageEnglish}
}

// DefaultEnglishTranslations returns default English translations
func DefaultEnglishTranslations() map[string]string {
	return map[string]string{
		// Menu items
		"menu.start":         "Start",
		"menu.stop":          "Stop",
		"menu.count_in":      "Count In",
		"menu.tap":           "Tap Tempo",
		"menu.tempo_up":      "Tempo +10",
		"menu.tempo_down":    "Tempo −10",
		"menu.listen":        "Listen for Tempo",
		"menu.stop_listen":   "Stop Listening",
		"menu.apply_tempo":   "Apply Detected Tempo ({bpm} BPM)",
		"menu.time_sig":      "Time Signature",
		"menu.sound":         "Sound",
		"menu.settings":      "Open Settings...",
		"menu.about":         "About",
		"menu.quit":          "Quit",
		"menu.tempo_display": "♩ = {bpm}  {sig}",

		// Sounds
		"sound.classic": "Classic",
		"sound.wood":    "Wood",
		"sound.bass":    "Bass",
		"sound.piano":   "Piano",

		// Permissions
		"permission.microphone": "Microphone",
		"permission.granted":    "✓ Granted",
		"permission.denied":     "✗ Denied",
		"permission.request":    "Open Settings",

		// Errors
		"error.mic_unavailable":  "Microphone access denied or not available",
		"error.no_output":        "No audio output device. The metronome keeps time silently.",
		"error.hotkey_conflict":  "Shortcut {hotkey} is already used by {name}",
		"error.hotkey_register":  "Could not register shortcut {hotkey}",
		"error.settings_invalid": "Some settings were invalid and were reset: {fields}",

		// Notifications
		"notification.tempo_detected": "Detected tempo: {bpm} BPM",
		"notification.tempo_applied":  "Tempo set to {bpm} BPM",

		// Status
		"status.stopped":     "Stopped",
		"status.playing":     "Playing",
		"status.counting_in": "Counting in",
		"status.listening":   "Listening",
	}
}

// DefaultJapaneseTranslations returns default Japanese translations
func DefaultJapaneseTranslations() map[string]string {
	return map[string]string{
		// Menu items
		"menu.start":         "スタート",
		"menu.stop":          "ストップ",
		"menu.count_in":      "カウントイン",
		"menu.tap":           "タップテンポ",
		"menu.tempo_up":      "テンポ +10",
		"menu.tempo_down":    "テンポ −10",
		"menu.listen":        "テンポを検出",
		"menu.stop_listen":   "検出を停止",
		"menu.apply_tempo":   "検出テンポを適用 ({bpm} BPM)",
		"menu.time_sig":      "拍子",
		"menu.sound":         "音色",
		"menu.settings":      "設定を開く...",
		"menu.about":         "バージョン情報",
		"menu.quit":          "終了",
		"menu.tempo_display": "♩ = {bpm}  {sig}",

		// Sounds
		"sound.classic": "クラシック",
		"sound.wood":    "ウッド",
		"sound.bass":    "ベース",
		"sound.piano":   "ピアノ",

		// Permissions
		"permission.microphone": "マイク",
		"permission.granted":    "✓ 許可済み",
		"permission.denied":     "✗ 拒否",
		"permission.request":    "設定を開く",

		// Errors
		"error.mic_unavailable":  "マイクへのアクセスが拒否されたか、利用できません",
		"error.no_output":        "オーディオ出力デバイスがありません。無音でテンポを刻み続けます。",
		"error.hotkey_conflict":  "ショートカット {hotkey} は {name} と競合しています",
		"error.hotkey_register":  "ショートカット {hotkey} を登録できませんでした",
		"error.settings_invalid": "無効な設定をリセットしました: {fields}",

		// Notifications
		"notification.tempo_detected": "検出テンポ: {bpm} BPM",
		"notification.tempo_applied":  "テンポを {bpm} BPM に設定しました",

		// Status
		"status.stopped":     "停止中",
		"status.playing":     "再生中",
		"status.counting_in": "カウントイン中",
		"status.listening":   "検出中",
	}
}
