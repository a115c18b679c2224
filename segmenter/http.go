package segmenter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/logging"
	"github.com/hupe1980/segmesh/rle"
)

const serviceName = "segmentation"

// HTTPOptions configures an HTTP Segmenter.
type HTTPOptions struct {
	// Timeout bounds one Segment call including retries.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts on transient failures.
	MaxRetries uint
	// RatePerSecond and Burst throttle outgoing requests; zero disables it.
	RatePerSecond float64
	Burst         int
	// SendImage inlines the image bytes (base64) when the request carries them.
	SendImage  bool
	HTTPClient *http.Client
	Logger     logging.Logger
}

// HTTP calls a remote Segmentation Service. The service receives
// {"image_path", "text_prompt", "image"?} and answers with
// {orig_img_h, orig_img_w, pred_masks, pred_scores}, optionally wrapped in
// {"result": {"outputs": ...}}.
type HTTP struct {
	endpoint string
	limiter  *rate.Limiter
	opts     HTTPOptions
}

var _ Segmenter = (*HTTP)(nil)

// NewHTTP creates a Segmenter posting to endpoint.
func NewHTTP(endpoint string, optFns ...func(o *HTTPOptions)) *HTTP {
	opts := HTTPOptions{
		Timeout:    120 * time.Second,
		MaxRetries: 2,
		SendImage:  true,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	s := &HTTP{endpoint: endpoint, opts: opts}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	return s
}

type segmentRequest struct {
	ImagePath  string `json:"image_path"`
	TextPrompt string `json:"text_prompt"`
	Image      string `json:"image,omitempty"`
}

// Segment implements Segmenter.
func (s *HTTP) Segment(ctx context.Context, req Request) ([]core.Mask, error) {
	body := segmentRequest{ImagePath: req.Image.Key, TextPrompt: req.Phrase}
	if s.opts.SendImage && len(req.Data) > 0 {
		body.Image = base64.StdEncoding.EncodeToString(req.Data)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode segmentation request: %w", err)
	}

	callCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	masks, err := backoff.Retry(callCtx, func() ([]core.Mask, error) {
		return s.do(callCtx, payload)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(s.opts.MaxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.opts.Logger.Warn("segmentation request failed, retrying",
				"phrase", req.Phrase, "error", err, "backoff", next)
		}),
	)
	logging.Segmentation(s.opts.Logger, req.Phrase, len(masks), false, time.Since(start), err)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &core.ServiceTimeoutError{Service: serviceName, Timeout: s.opts.Timeout}
		}
		var unavailable *core.ServiceUnavailableError
		if errors.As(err, &unavailable) {
			return nil, unavailable
		}
		return nil, &core.ServiceUnavailableError{Service: serviceName, Err: err}
	}

	return masks, nil
}

func (s *HTTP) do(ctx context.Context, payload []byte) ([]core.Mask, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.opts.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data))
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(&core.ServiceUnavailableError{
			Service: serviceName,
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data)),
		})
	}

	masks, err := Decode(data, s.opts.Logger)
	if err != nil {
		return nil, backoff.Permanent(&core.ServiceUnavailableError{Service: serviceName, Err: err})
	}

	return masks, nil
}

// Decode parses a segmentation response body into normalized candidates.
// Candidates with a non-positive score, an undecodable RLE or an empty mask
// are dropped. Boxes are derived from the decoded mask in pixels.
func Decode(body []byte, logger logging.Logger) ([]core.Mask, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON response")
	}

	doc := gjson.ParseBytes(body)
	for _, path := range []string{"result.outputs", "outputs", "result"} {
		if r := doc.Get(path); r.IsObject() && r.Get("pred_masks").Exists() {
			doc = r
			break
		}
	}

	if !doc.Get("pred_masks").IsArray() {
		return nil, fmt.Errorf("response has no pred_masks")
	}

	height := int(doc.Get("orig_img_h").Int())
	width := int(doc.Get("orig_img_w").Int())
	scores := doc.Get("pred_scores").Array()

	var out []core.Mask
	for i, m := range doc.Get("pred_masks").Array() {
		var score float64
		if i < len(scores) {
			score = scores[i].Float()
		}
		if score <= 0 {
			logger.Debug("dropping candidate with non-positive score", "index", i, "score", score)
			continue
		}

		grid, h, w, err := decodeMask(m, height, width)
		if err != nil {
			logger.Warn("dropping undecodable candidate", "index", i, "error", err)
			continue
		}

		x, y, bw, bh, ok := grid.Bounds()
		if !ok {
			logger.Debug("dropping empty candidate", "index", i)
			continue
		}

		out = append(out, core.Mask{
			RLE:    rle.Encode(grid),
			Height: h,
			Width:  w,
			Box:    core.Box{float64(x), float64(y), float64(bw), float64(bh)},
			Score:  score,
		})
	}

	return out, nil
}

// decodeMask reads one pred_masks entry. Entries are either a bare counts
// string or a {"size": [h, w], "counts": ...} object. Counts holding a comma
// are row-major run lengths; any other string is pycocotools compressed
// counts and an array is uncompressed column-major counts.
func decodeMask(m gjson.Result, height, width int) (rle.Grid, int, int, error) {
	counts := m
	if m.IsObject() {
		counts = m.Get("counts")
		if size := m.Get("size").Array(); len(size) == 2 {
			height, width = int(size[0].Int()), int(size[1].Int())
		}
	}

	var (
		grid rle.Grid
		err  error
	)
	switch {
	case counts.IsArray():
		runs := make([]int, 0, len(counts.Array()))
		for _, c := range counts.Array() {
			runs = append(runs, int(c.Int()))
		}
		grid, err = rle.DecodeColumnMajor(runs, height, width)
	case strings.Contains(counts.String(), ","):
		grid, err = rle.Decode(counts.String(), height, width)
	default:
		grid, err = rle.DecodeCOCO(counts.String(), height, width)
	}

	return grid, height, width, err
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
