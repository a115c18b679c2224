// Package rle encodes binary masks as run lengths.
//
// An encoding is a comma separated list of run lengths over the row-major
// flattened grid, alternating background and foreground and always starting
// with background (a leading 0 when the first pixel is foreground). The
// encoding is shape agnostic; height and width travel next to it.
//
// DecodeCOCO reads the compressed column-major counts produced by
// pycocotools into the same row-major Grid.
package rle

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxPixels bounds the area of a decoded grid.
const MaxPixels = 1 << 28

// ErrDecode is matched by every DecodeError.
var ErrDecode = errors.New("rle decode error")

// DecodeError reports an encoding that does not describe a grid of the
// declared shape.
type DecodeError struct {
	Height, Width int
	Reason        string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("rle decode %dx%d: %s", e.Height, e.Width, e.Reason)
}

// Is matches ErrDecode.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Grid is a dense row-major boolean mask.
type Grid struct {
	Height int
	Width  int
	Bits   []bool
}

// NewGrid allocates an empty grid.
func NewGrid(height, width int) Grid {
	if height < 0 || width < 0 {
		height, width = 0, 0
	}
	return Grid{Height: height, Width: width, Bits: make([]bool, height*width)}
}

// At reports the pixel at row y, column x.
func (g Grid) At(y, x int) bool { return g.Bits[y*g.Width+x] }

// Set assigns the pixel at row y, column x.
func (g Grid) Set(y, x int, v bool) { g.Bits[y*g.Width+x] = v }

// Area counts foreground pixels.
func (g Grid) Area() int {
	n := 0
	for _, b := range g.Bits {
		if b {
			n++
		}
	}
	return n
}

// Bounds returns the tight bounding box of the foreground as x, y, width,
// height. ok is false for an empty mask.
func (g Grid) Bounds() (x, y, w, h int, ok bool) {
	minX, minY, maxX, maxY := g.Width, g.Height, -1, -1
	for i, b := range g.Bits {
		if !b {
			continue
		}
		py, px := i/g.Width, i%g.Width
		minX, maxX = min(minX, px), max(maxX, px)
		minY, maxY = min(minY, py), max(maxY, py)
	}
	if maxX < 0 {
		return 0, 0, 0, 0, false
	}
	return minX, minY, maxX - minX + 1, maxY - minY + 1, true
}

// Equal reports whether two grids have the same shape and pixels.
func (g Grid) Equal(o Grid) bool {
	if g.Height != o.Height || g.Width != o.Width || len(g.Bits) != len(o.Bits) {
		return false
	}
	for i := range g.Bits {
		if g.Bits[i] != o.Bits[i] {
			return false
		}
	}
	return true
}

// Encode returns the run-length encoding of g.
func Encode(g Grid) string {
	if len(g.Bits) == 0 {
		return "0"
	}

	var sb strings.Builder
	current := false
	count := 0
	for _, b := range g.Bits {
		if b == current {
			count++
			continue
		}
		sb.WriteString(strconv.Itoa(count))
		sb.WriteByte(',')
		current = b
		count = 1
	}
	sb.WriteString(strconv.Itoa(count))

	return sb.String()
}

// Counts parses an encoding into its run lengths without shape checks.
func Counts(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	counts := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("run %d: %q is not an integer", i, f)
		}
		if n < 0 {
			return nil, fmt.Errorf("run %d: negative length %d", i, n)
		}
		counts[i] = n
	}
	return counts, nil
}

// Decode expands an encoding into a grid of the declared shape.
func Decode(s string, height, width int) (Grid, error) {
	if err := checkShape(height, width); err != nil {
		return Grid{}, err
	}

	counts, err := Counts(s)
	if err != nil {
		return Grid{}, &DecodeError{Height: height, Width: width, Reason: err.Error()}
	}

	return expand(counts, height, width, false)
}

func checkShape(height, width int) error {
	if height <= 0 || width <= 0 {
		return &DecodeError{Height: height, Width: width, Reason: "shape must be positive"}
	}
	if height > math.MaxInt/width || height*width > MaxPixels {
		return &DecodeError{Height: height, Width: width, Reason: fmt.Sprintf("shape exceeds %d pixels", MaxPixels)}
	}
	return nil
}

// expand paints counts into a grid whose shape passed checkShape. With
// columnMajor set the runs walk the grid column by column.
func expand(counts []int, height, width int, columnMajor bool) (Grid, error) {
	total := height * width
	sum := 0
	for _, n := range counts {
		if n > total-sum {
			sum = total + 1
			break
		}
		sum += n
	}
	if sum != total {
		covered := fmt.Sprintf("%d", sum)
		if sum > total {
			covered = "more than " + strconv.Itoa(total)
		}
		return Grid{}, &DecodeError{
			Height: height,
			Width:  width,
			Reason: fmt.Sprintf("run lengths cover %s pixels, want %d", covered, total),
		}
	}

	g := NewGrid(height, width)
	pos := 0
	for i, n := range counts {
		if i%2 == 1 {
			for j := pos; j < pos+n; j++ {
				if columnMajor {
					g.Bits[(j%height)*width+j/height] = true
				} else {
					g.Bits[j] = true
				}
			}
		}
		pos += n
	}

	return g, nil
}
