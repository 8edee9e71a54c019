// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package i18n

import (
	"testing"

	"golang.org/x/text/language"
)

func TestNew(t *testing.T) {
	t.Run("new i18n provider with empty locale string succeeds", func(t *testing.T) {
		provider, err := New("")
		if err != nil {
			t.Fatalf("failed to create i18n provider: %s", err)
		}
		if provider == nil {
			t.Fatal("expected i18n provider to be non-nil")
		}
	})
	t.Run("german catalog is embedded", func(t *testing.T) {
		provider, err := New("de")
		if err != nil {
			t.Fatalf("failed to create i18n provider: %s", err)
		}
		if got := provider.Get("Approaching destination"); got != "Ziel in Reichweite" {
			t.Errorf("expected german translation, got %q", got)
		}
	})
	t.Run("japanese catalog is embedded", func(t *testing.T) {
		provider, err := New("ja")
		if err != nil {
			t.Fatalf("failed to create i18n provider: %s", err)
		}
		if got := provider.Getf("You are %s away from your destination.", "900 m"); got != "目的地まであと900 mです。" {
			t.Errorf("expected japanese translation, got %q", got)
		}
	})
	t.Run("unknown locale falls back to english", func(t *testing.T) {
		provider, err := New("fr")
		if err != nil {
			t.Fatalf("failed to create i18n provider: %s", err)
		}
		if got := provider.Get("Approaching destination"); got != "Approaching destination" {
			t.Errorf("expected source text, got %q", got)
		}
	})
}

func TestTag(t *testing.T) {
	if tag := Tag("de-DE"); tag != language.MustParse("de-DE") {
		t.Errorf("expected de-DE, got %s", tag)
	}
	if tag := Tag(""); tag == language.Und {
		t.Error("expected detected or fallback tag, got und")
	}
}

func TestNewHumanizer(t *testing.T) {
	for _, loc := range []string{"", "en", "de", "ja"} {
		h, err := NewHumanizer(loc)
		if err != nil {
			t.Fatalf("failed to create humanizer for %q: %s", loc, err)
		}
		if h == nil {
			t.Fatalf("expected humanizer for %q to be non-nil", loc)
		}
	}
}
