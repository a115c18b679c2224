package artifact

import (
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/visual"
)

// Output is the serialized form of a MaskSet.
type Output struct {
	Phrase   string     `json:"phrase,omitempty"`
	Indices  []int      `json:"indices"`
	Boxes    []core.Box `json:"boxes"`
	Masks    []string   `json:"masks"`
	Scores   []float64  `json:"scores"`
	Height   int        `json:"orig_img_h,omitempty"`
	Width    int        `json:"orig_img_w,omitempty"`
	Selected []int      `json:"selected_mask_numbers,omitempty"`
}

// NewOutput serializes masks.
func NewOutput(phrase string, masks core.MaskSet) Output {
	out := Output{
		Phrase:  phrase,
		Indices: masks.Indices(),
		Boxes:   masks.Boxes(),
		Masks:   masks.RLEs(),
		Scores:  masks.Scores(),
	}
	if len(masks) > 0 {
		out.Height, out.Width = masks[0].Height, masks[0].Width
	}
	return out
}

// Writer persists the artifacts of a run through its RunContext: a JSON
// document and, when the source image is given, a PNG overlay.
type Writer struct {
	renderer *visual.Renderer
}

// NewWriter creates a Writer. A nil renderer uses visual.New().
func NewWriter(renderer *visual.Renderer) *Writer {
	if renderer == nil {
		renderer = visual.New()
	}
	return &Writer{renderer: renderer}
}

// Renderer returns the overlay renderer.
func (w *Writer) Renderer() *visual.Renderer { return w.renderer }

// WriteRound stores round-<k>.json and round-<k>.png.
func (w *Writer) WriteRound(rc *core.RunContext, round int, phrase string, masks core.MaskSet, image []byte) (map[string]string, error) {
	return w.write(rc, fmt.Sprintf("round-%d", round), NewOutput(phrase, masks), masks, image)
}

// WriteFinal stores final.json and final.png.
func (w *Writer) WriteFinal(rc *core.RunContext, masks core.MaskSet, image []byte) (map[string]string, error) {
	out := NewOutput(rc.Run.Query.Phrase, masks)
	out.Selected = masks.Indices()
	return w.write(rc, "final", out, masks, image)
}

func (w *Writer) write(rc *core.RunContext, base string, out Output, masks core.MaskSet, image []byte) (map[string]string, error) {
	var (
		jsonKey string
		pngKey  string
	)

	g, _ := errgroup.WithContext(rc.Context)

	g.Go(func() error {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal %s.json: %w", base, err)
		}
		jsonKey, err = rc.SaveArtifact(base+".json", data)
		return err
	})

	if len(image) > 0 {
		g.Go(func() error {
			data, err := w.renderer.RenderPNG(image, masks)
			if err != nil {
				return err
			}
			pngKey, err = rc.SaveArtifact(base+".png", data)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	refs := map[string]string{base + ".json": jsonKey}
	if pngKey != "" {
		refs[base+".png"] = pngKey
	}
	return refs, nil
}
