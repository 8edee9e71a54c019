// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package template

import (
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/vorlif/humanize"
	"github.com/vorlif/spreak"
	"github.com/vorlif/spreak/localize"
)

// Config holds the template sources.
type Config struct {
	Text    string
	AltText string
	Tooltip string
}

type Templates struct {
	Text      *template.Template
	AltText   *template.Template
	Tooltip   *template.Template
	localizer *spreak.Localizer
	humanizer *humanize.Humanizer
}

var i18nVars = map[string]localize.MsgID{
	"waiting":  "Waiting for position",
	"notarget": "No target set",
	"inside":   "Inside",
	"outside":  "Outside",
	"error":    "Error",
	"target":   "Target",
	"position": "Position",
	"distance": "Distance",
	"updated":  "Updated",
	"notified": "Notification sent",
}

// New parses the text, alt text and tooltip templates. The humanizer may be nil, in which case
// localizedTime falls back to a fixed layout.
func New(conf Config, loc *spreak.Localizer, hum *humanize.Humanizer) (*Templates, error) {
	tpls := &Templates{localizer: loc, humanizer: hum}

	tpl, err := template.New("text").Funcs(tpls.templateFuncMap()).Parse(conf.Text)
	if err != nil {
		return tpls, fmt.Errorf("failed to parse text template: %w", err)
	}
	tpls.Text = tpl

	tpl, err = template.New("alt_text").Funcs(tpls.templateFuncMap()).Parse(conf.AltText)
	if err != nil {
		return tpls, fmt.Errorf("failed to parse alt text template: %w", err)
	}
	tpls.AltText = tpl

	tpl, err = template.New("tooltip").Funcs(tpls.templateFuncMap()).Parse(conf.Tooltip)
	if err != nil {
		return tpls, fmt.Errorf("failed to parse tooltip template: %w", err)
	}
	tpls.Tooltip = tpl

	return tpls, nil
}

func (t *Templates) templateFuncMap() template.FuncMap {
	return template.FuncMap{
		"timeFormat":    timeFormat,
		"localizedTime": t.localizedTime,
		"floatFormat":   floatFormat,
		"distance":      Distance,
		"iconWithSpace": IconWithSpace,
		"loc":           t.loc,
		"lc":            strings.ToLower,
		"uc":            strings.ToUpper,
	}
}

func (t *Templates) loc(val string) string {
	if raw, ok := i18nVars[strings.ToLower(val)]; ok && t.localizer != nil {
		return t.localizer.Get(raw)
	}
	return val
}

func (t *Templates) localizedTime(val time.Time) string {
	if t.humanizer == nil {
		return val.Format(time.TimeOnly)
	}
	return t.humanizer.FormatTime(val, humanize.TimeFormat)
}

func timeFormat(val time.Time, fmt string) string {
	return val.Format(fmt)
}

func floatFormat(val float64, precision int) string {
	return fmt.Sprintf("%.*f", precision, val)
}

// Distance renders meters as "850 m" below one kilometer and as "1.2 km" above.
func Distance(meters float64) string {
	switch {
	case math.IsNaN(meters) || meters < 0:
		return "-"
	case meters < 1000:
		return fmt.Sprintf("%.0f m", meters)
	case meters < 100000:
		return fmt.Sprintf("%.1f km", meters/1000)
	}
	return fmt.Sprintf("%.0f km", meters/1000)
}

// IconWithSpace pads an icon so that wide glyphs do not overlap the following text.
func IconWithSpace(icon string) string {
	if icon == "" {
		return ""
	}
	width := runewidth.StringWidth(icon)
	return icon + strings.Repeat(" ", max(2-width, 0)+1)
}
