// Package imgopt shrinks images to fit a byte budget. Downstream APIs refuse
// uploads above a hard size ceiling, so anything bigger is re-encoded as JPEG
// at descending quality until it fits. The search is deterministic and
// bounded: fixed quality steps, no pixel-dimension reduction, and a hard
// failure when even the lowest quality is too big.
package imgopt

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	// Decoders for the formats uploads arrive in. Encoding is always JPEG.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/stable-delusion/imagestore/go/skerr"
	"github.com/stable-delusion/imagestore/go/sklog"
)

const (
	// qualityStart is the first (highest) JPEG quality tried.
	qualityStart = 95
	// qualityStep is subtracted between attempts.
	qualityStep = 5
	// qualityFloor is the lowest quality tried before giving up.
	qualityFloor = 5

	// MaxAttempts is the largest number of encodes one Optimize call can
	// perform: (95-5)/5 + 1.
	MaxAttempts = (qualityStart-qualityFloor)/qualityStep + 1
)

// UnoptimizableError means no attempted encoding fit the budget, or the input
// could not be decoded for re-encoding at all.
type UnoptimizableError struct {
	// Budget is the byte ceiling that could not be met.
	Budget int
	// BestSize is the smallest encoding produced, or 0 if decoding failed.
	BestSize int
	// Attempts is the number of encodes performed.
	Attempts int
	// Err is the decode error, if that is what stopped us.
	Err error
}

func (e *UnoptimizableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("image cannot be re-encoded: %s", e.Err)
	}
	return fmt.Sprintf("image still %d bytes over the %d byte budget at quality %d after %d attempts",
		e.BestSize-e.Budget, e.Budget, qualityFloor, e.Attempts)
}

func (e *UnoptimizableError) Unwrap() error {
	return e.Err
}

// Result describes the outcome of one Optimize call.
type Result struct {
	// Bytes is the encoding that fits the budget. It aliases the input if
	// no re-encode was needed.
	Bytes []byte
	// Format is the wire format of Bytes: the source format when untouched,
	// "jpeg" after a re-encode.
	Format string
	// Quality is the winning JPEG quality, or 0 when the input was
	// returned unchanged.
	Quality int
	// OriginalSize and FinalSize are len() of input and output bytes.
	OriginalSize int
	FinalSize    int
	// Attempts counts the encodes actually performed, including the
	// winning one.
	Attempts int
}

// Optimize returns b re-encoded to at most budget bytes. Input already within
// the budget is returned as-is without decoding it.
//
// Oversized input is flattened to an opaque three-channel image first:
// palette, grayscale and alpha-carrying images are composited over a white
// background. That normalization is lossy and one-way, as is the JPEG
// re-encode itself. Every attempt re-encodes the normalized source, never the
// previous attempt's output, so artifacts do not compound across steps.
func Optimize(b []byte, budget int) (Result, error) {
	if budget <= 0 {
		return Result{}, skerr.Fmt("byte budget must be positive, got %d", budget)
	}
	if len(b) <= budget {
		format := ""
		if _, f, err := image.DecodeConfig(bytes.NewReader(b)); err == nil {
			format = f
		}
		return Result{
			Bytes:        b,
			Format:       format,
			OriginalSize: len(b),
			FinalSize:    len(b),
		}, nil
	}

	src, srcFormat, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return Result{}, skerr.Wrap(&UnoptimizableError{Budget: budget, Err: err})
	}
	flattened := flatten(src)

	attempts := 0
	bestSize := 0
	var buf bytes.Buffer
	for q := qualityStart; q >= qualityFloor; q -= qualityStep {
		buf.Reset()
		if err := jpeg.Encode(&buf, flattened, &jpeg.Options{Quality: q}); err != nil {
			return Result{}, skerr.Wrapf(err, "encoding JPEG at quality %d", q)
		}
		attempts++
		if bestSize == 0 || buf.Len() < bestSize {
			bestSize = buf.Len()
		}
		if buf.Len() <= budget {
			sklog.Infof("Optimized %s image from %d to %d bytes at quality %d (%d attempts, budget %d)",
				srcFormat, len(b), buf.Len(), q, attempts, budget)
			out := make([]byte, buf.Len())
			copy(out, buf.Bytes())
			return Result{
				Bytes:        out,
				Format:       "jpeg",
				Quality:      q,
				OriginalSize: len(b),
				FinalSize:    len(out),
				Attempts:     attempts,
			}, nil
		}
	}
	return Result{}, skerr.Wrap(&UnoptimizableError{
		Budget:   budget,
		BestSize: bestSize,
		Attempts: attempts,
	})
}

// flatten composites img over an opaque white background, returning a
// three-channel image the JPEG encoder handles predictably.
func flatten(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, image.White, image.Point{}, draw.Src)
	draw.Draw(out, bounds, img, bounds.Min, draw.Over)
	return out
}
