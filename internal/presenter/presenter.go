// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/geocode"
	"github.com/wneessen/waybar-geofence/internal/geofence"
	"github.com/wneessen/waybar-geofence/internal/template"
)

const OutputClass = "waybar-geofence"

// Status is the display state of the module. It doubles as the waybar CSS class and "alt" value.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusInside  Status = "inside"
	StatusOutside Status = "outside"
	StatusError   Status = "error"
)

// StatusIcons maps each status to the icon shown in front of the module text.
var StatusIcons = map[Status]string{
	StatusWaiting: "⏳",
	StatusInside:  "🎯",
	StatusOutside: "📍",
	StatusError:   "⚠️",
}

var ErrNoTemplates = errors.New("templates are required")

// State is a snapshot of the service taken for one rendering.
type State struct {
	Target     *geobus.Coordinate
	Threshold  float64
	Sample     *geobus.Result
	Evaluation *geofence.Evaluation
	Notified   bool
	LastError  error
	Address    geocode.Address
}

// TemplateContext is the data the text, alt text and tooltip templates are executed with.
type TemplateContext struct {
	Status      string
	Icon        string
	HasTarget   bool
	HasPosition bool
	HasDistance bool

	Target    geobus.Coordinate
	Position  geobus.Coordinate
	Accuracy  float64
	Source    string
	Distance  float64
	Threshold float64
	Notified  bool
	LastError string

	UpdateTime time.Time
	Address    geocode.Address
}

// Output is a single line of the waybar custom module protocol.
type Output struct {
	Text    string   `json:"text"`
	Alt     string   `json:"alt"`
	Tooltip string   `json:"tooltip"`
	Class   []string `json:"class"`
}

type Presenter struct {
	templates *template.Templates
}

func New(tpls *template.Templates) (*Presenter, error) {
	if tpls == nil {
		return nil, ErrNoTemplates
	}
	return &Presenter{templates: tpls}, nil
}

// BuildContext derives the display status from a state snapshot. An error wins over everything
// else; without a target or an evaluated sample the module is waiting.
func (p *Presenter) BuildContext(state State) TemplateContext {
	ctx := TemplateContext{
		Threshold: state.Threshold,
		Notified:  state.Notified,
		Address:   state.Address,
	}
	if state.Target != nil {
		ctx.HasTarget = true
		ctx.Target = *state.Target
	}
	if state.Sample != nil && !state.Sample.IsError() {
		ctx.HasPosition = true
		ctx.Position = state.Sample.Coordinate
		ctx.Source = state.Sample.Source
		ctx.UpdateTime = state.Sample.At
		if acc := state.Sample.Accuracy.ValueOr(0); acc > 0 {
			ctx.Accuracy = acc
		}
	}
	if state.Evaluation != nil && ctx.HasTarget {
		ctx.HasDistance = true
		ctx.Distance = state.Evaluation.Distance
		ctx.Threshold = state.Evaluation.Threshold
	}

	status := StatusOutside
	switch {
	case state.LastError != nil:
		status = StatusError
		ctx.LastError = state.LastError.Error()
	case !ctx.HasDistance:
		status = StatusWaiting
	case state.Evaluation.Inside:
		status = StatusInside
	}
	ctx.Status = string(status)
	ctx.Icon = StatusIcons[status]

	return ctx
}

// Render executes the templates. With alt set, the alternative text template is used for the
// module text.
func (p *Presenter) Render(ctx TemplateContext, alt bool) (Output, error) {
	textTpl := p.templates.Text
	if alt {
		textTpl = p.templates.AltText
	}

	textBuf := bytes.NewBuffer(nil)
	if err := textTpl.Execute(textBuf, ctx); err != nil {
		return Output{}, fmt.Errorf("failed to render text template: %w", err)
	}
	tooltipBuf := bytes.NewBuffer(nil)
	if err := p.templates.Tooltip.Execute(tooltipBuf, ctx); err != nil {
		return Output{}, fmt.Errorf("failed to render tooltip template: %w", err)
	}

	return Output{
		Text:    textBuf.String(),
		Alt:     ctx.Status,
		Tooltip: tooltipBuf.String(),
		Class:   []string{OutputClass, ctx.Status},
	}, nil
}
