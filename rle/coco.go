package rle

import "fmt"

// DecodeCOCO expands a pycocotools compressed counts string. Runs walk the
// grid column by column; the returned Grid is row-major like every other.
func DecodeCOCO(s string, height, width int) (Grid, error) {
	if err := checkShape(height, width); err != nil {
		return Grid{}, err
	}

	counts, err := COCOCounts(s)
	if err != nil {
		return Grid{}, &DecodeError{Height: height, Width: width, Reason: err.Error()}
	}

	return expand(counts, height, width, true)
}

// DecodeColumnMajor expands uncompressed column-major COCO counts.
func DecodeColumnMajor(counts []int, height, width int) (Grid, error) {
	if err := checkShape(height, width); err != nil {
		return Grid{}, err
	}
	for i, n := range counts {
		if n < 0 {
			return Grid{}, &DecodeError{Height: height, Width: width, Reason: fmt.Sprintf("run %d: negative length %d", i, n)}
		}
	}

	return expand(counts, height, width, true)
}

// COCOCounts unpacks the compressed counts alphabet: each value is a
// little-endian sequence of 5-bit groups offset by '0', bit 0x20 marks a
// continuation and bit 0x10 of the last group is the sign. From the third
// value on, values are deltas to the value two positions back.
func COCOCounts(s string) ([]int, error) {
	var counts []int
	for p := 0; p < len(s); {
		var x int64
		k := 0
		for more := true; more; k++ {
			if p >= len(s) {
				return nil, fmt.Errorf("run %d: truncated value", len(counts))
			}
			if k > 12 {
				return nil, fmt.Errorf("run %d: value too long", len(counts))
			}
			c := int64(s[p]) - 48
			if c < 0 || c > 63 {
				return nil, fmt.Errorf("run %d: invalid character %q", len(counts), s[p])
			}
			p++
			x |= (c & 0x1f) << (5 * k)
			more = c&0x20 != 0
			if !more && c&0x10 != 0 {
				x |= -1 << (5 * (k + 1))
			}
		}
		if n := len(counts); n > 2 {
			x += int64(counts[n-2])
		}
		if x < 0 {
			return nil, fmt.Errorf("run %d: negative length %d", len(counts), x)
		}
		counts = append(counts, int(x))
	}
	return counts, nil
}
