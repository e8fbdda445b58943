package main

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lang/*.yaml
var langFS embed.FS

type Locale struct {
	translations map[string]string
	locale       string
}

var globalLocale *Locale

// InitLocale loads the requested locale, or the system one when locale is
// empty, falling back to en_US.
func InitLocale(locale string) error {
	if locale == "" {
		locale = DetectSystemLocale()
	}

	l, err := LoadLocale(locale)
	if err != nil {
		fmt.Printf("Warning: Failed to load locale '%s', falling back to en_US: %v\n", locale, err)
		l, err = LoadLocale("en_US")
		if err != nil {
			return fmt.Errorf("failed to load fallback locale en_US: %w", err)
		}
	}

	globalLocale = l
	return nil
}

// DetectSystemLocale reads LANG, LC_ALL and LC_MESSAGES in that order and
// strips the encoding suffix ("es_MX.UTF-8" -> "es_MX").
func DetectSystemLocale() string {
	for _, env := range []string{"LANG", "LC_ALL", "LC_MESSAGES"} {
		value := os.Getenv(env)
		if value == "" {
			continue
		}
		name := strings.SplitN(value, ".", 2)[0]
		name = strings.SplitN(name, "@", 2)[0]
		if name != "" && name != "C" && name != "POSIX" {
			return name
		}
	}
	return "en_US"
}

// AvailableLocales lists the bundled locale names, sorted.
func AvailableLocales() []string {
	entries, err := fs.ReadDir(langFS, "lang")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if ext := path.Ext(e.Name()); ext == ".yaml" {
			names = append(names, strings.TrimSuffix(e.Name(), ext))
		}
	}
	sort.Strings(names)
	return names
}

// LoadLocale loads a bundled locale. An unknown region falls back to another
// region of the same language, so es_ES gets es_MX.
func LoadLocale(locale string) (*Locale, error) {
	name, ok := resolveLocale(locale)
	if !ok {
		return nil, fmt.Errorf("no bundled locale for %q (have %s)", locale, strings.Join(AvailableLocales(), ", "))
	}

	file := "lang/" + name + ".yaml"
	data, err := langFS.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read locale file %s: %w", file, err)
	}

	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse locale file %s: %w", file, err)
	}

	return &Locale{
		translations: translations,
		locale:       name,
	}, nil
}

func resolveLocale(locale string) (string, bool) {
	available := AvailableLocales()
	for _, name := range available {
		if strings.EqualFold(name, locale) {
			return name, true
		}
	}

	lang := strings.SplitN(strings.ReplaceAll(locale, "-", "_"), "_", 2)[0]
	for _, name := range available {
		if strings.EqualFold(strings.SplitN(name, "_", 2)[0], lang) {
			return name, true
		}
	}
	return "", false
}

// T translates a key with optional parameters
// Usage: T("offers_filtering", "Largos Puebla")
func T(key string, params ...interface{}) string {
	if globalLocale == nil {
		return key
	}

	translation, ok := globalLocale.translations[key]
	if !ok {
		return key
	}

	if len(params) > 0 {
		return fmt.Sprintf(translation, params...)
	}

	return translation
}

// GetLocale returns the current locale code (e.g., "en_US", "es_MX")
func GetLocale() string {
	if globalLocale == nil {
		return "en_US"
	}
	return globalLocale.locale
}
