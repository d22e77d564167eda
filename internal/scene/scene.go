// Package scene loads a layer stack description from YAML and applies it to
// a display.
//
//	layers:
//	  - name: background
//	    composition: client
//	    blend: none
//	  - name: badge
//	    composition: solid-color
//	    color: "#ff000080"
//	    frame: [16, 16, 116, 116]
//	    alpha: 0.5
package scene

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/matjam/hwcsession/internal/hwc"
	"github.com/matjam/hwcsession/internal/types"
	"gopkg.in/yaml.v3"
)

type Scene struct {
	Layers []Layer `yaml:"layers"`
}

// Layer describes one layer. Rectangles are [left, top, right, bottom] and
// default to the whole display.
type Layer struct {
	Name        string    `yaml:"name"`
	Composition string    `yaml:"composition"`
	Blend       string    `yaml:"blend"`
	Alpha       *float32  `yaml:"alpha"`
	Dataspace   string    `yaml:"dataspace"`
	Transform   string    `yaml:"transform"`
	Color       string    `yaml:"color"`
	Frame       []int32   `yaml:"frame"`
	Crop        []float32 `yaml:"crop"`
	Visible     []int32   `yaml:"visible"`
}

// Default is a single full screen client-composed layer.
func Default() *Scene {
	return &Scene{Layers: []Layer{{Name: "main", Composition: "client", Blend: "none"}}}
}

func Load(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", path, err)
	}
	return s, nil
}

func Parse(data []byte) (*Scene, error) {
	var s Scene
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks every value without touching a display.
func (s *Scene) Validate() error {
	if len(s.Layers) == 0 {
		return errors.New("no layers")
	}
	for i, l := range s.Layers {
		if _, err := l.resolve(1, 1); err != nil {
			return fmt.Errorf("layer %d (%s): %w", i, l.Name, err)
		}
	}
	return nil
}

type resolved struct {
	comp      types.Composition
	blend     types.BlendMode
	alpha     float32
	dataspace types.Dataspace
	transform types.Transform
	color     types.Color
	frame     types.Rect
	crop      types.FRect
	visible   types.Rect
}

func (l Layer) resolve(width, height int32) (resolved, error) {
	r := resolved{
		comp:      types.CompositionClient,
		blend:     types.BlendModeNone,
		alpha:     1,
		dataspace: types.DataspaceSRGB,
	}

	var err error
	if l.Composition != "" {
		if r.comp, err = types.ParseComposition(l.Composition); err != nil {
			return r, err
		}
	}
	if l.Blend != "" {
		if r.blend, err = types.ParseBlendMode(l.Blend); err != nil {
			return r, err
		}
	}
	if l.Dataspace != "" {
		if r.dataspace, err = types.ParseDataspace(l.Dataspace); err != nil {
			return r, err
		}
	}
	if l.Transform != "" {
		if r.transform, err = types.ParseTransform(l.Transform); err != nil {
			return r, err
		}
	}
	if l.Color != "" {
		if r.color, err = types.ParseColor(l.Color); err != nil {
			return r, err
		}
	}
	if l.Alpha != nil {
		if *l.Alpha < 0 || *l.Alpha > 1 {
			return r, fmt.Errorf("alpha %v out of range", *l.Alpha)
		}
		r.alpha = *l.Alpha
	}

	full := types.Rect{Right: width, Bottom: height}
	if r.frame, err = rect("frame", l.Frame, full); err != nil {
		return r, err
	}
	if r.visible, err = rect("visible", l.Visible, r.frame); err != nil {
		return r, err
	}
	switch len(l.Crop) {
	case 0:
		r.crop = types.FRect{Right: float32(r.frame.Width()), Bottom: float32(r.frame.Height())}
	case 4:
		r.crop = types.FRect{Left: l.Crop[0], Top: l.Crop[1], Right: l.Crop[2], Bottom: l.Crop[3]}
	default:
		return r, fmt.Errorf("crop needs 4 values, got %d", len(l.Crop))
	}
	return r, nil
}

func rect(name string, v []int32, def types.Rect) (types.Rect, error) {
	switch len(v) {
	case 0:
		return def, nil
	case 4:
		return types.Rect{Left: v[0], Top: v[1], Right: v[2], Bottom: v[3]}, nil
	default:
		return types.Rect{}, fmt.Errorf("%s needs 4 values, got %d", name, len(v))
	}
}

// Apply creates the layers on d in order and sets their attributes. Values
// the device rejects are logged and skipped; any other failure destroys the
// layers created so far.
func (s *Scene) Apply(d *hwc.Display, width, height int32) ([]*hwc.Layer, error) {
	var layers []*hwc.Layer
	fail := func(err error) ([]*hwc.Layer, error) {
		for _, l := range layers {
			d.DestroyLayer(l)
		}
		return nil, err
	}

	for i, spec := range s.Layers {
		r, err := spec.resolve(width, height)
		if err != nil {
			return fail(fmt.Errorf("layer %d (%s): %w", i, spec.Name, err))
		}

		l, err := d.CreateLayer()
		if err != nil {
			return fail(err)
		}
		layers = append(layers, l)

		for _, set := range []struct {
			attr string
			err  error
		}{
			{"composition", l.SetCompositionType(r.comp)},
			{"blend", l.SetBlendMode(r.blend)},
			{"alpha", l.SetPlaneAlpha(r.alpha)},
			{"dataspace", l.SetDataspace(r.dataspace)},
			{"transform", l.SetTransform(r.transform)},
			{"color", l.SetColor(r.color)},
			{"frame", l.SetDisplayFrame(r.frame)},
			{"crop", l.SetSourceCrop(r.crop)},
			{"visible", l.SetVisibleRegion(r.visible)},
		} {
			if set.err == nil {
				continue
			}
			if !hwc.Retryable(set.err) {
				return fail(set.err)
			}
			log.Warnf("scene: layer %s %s: %v", spec.Name, set.attr, set.err)
		}
		log.Debugf("scene: layer %s (%d) %s", spec.Name, l.ID(), r.comp)
	}
	return layers, nil
}
