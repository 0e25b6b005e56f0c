package vibecheck

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// maxDimension caps either side of a normalised image; larger submissions
// are scaled down before the model call.
const maxDimension = 2048

// normalized is image bytes plus their detected MIME type.
type normalized struct {
	data []byte
	mime string
}

// normalize re-encodes a submission to JPEG: transparency is flattened
// against white and oversized images are scaled down. A JPEG that already
// fits passes through. Decode or encode failures keep the original bytes.
func (p *Pipeline) normalize(in normalized) normalized {
	img, format, err := image.Decode(bytes.NewReader(in.data))
	if err != nil {
		p.logger.Warn("Photo decode failed, keeping original bytes", "error", err)
		return in
	}

	bounds := img.Bounds()
	fits := bounds.Dx() <= maxDimension && bounds.Dy() <= maxDimension
	if format == "jpeg" && fits {
		return normalized{data: in.data, mime: "image/jpeg"}
	}

	if !fits {
		img = scaleDown(img)
	}

	flat := flattenOnWhite(img)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: p.opts.JPEGQuality}); err != nil {
		p.logger.Warn("JPEG re-encode failed, keeping original bytes", "error", err)
		return in
	}
	return normalized{data: buf.Bytes(), mime: "image/jpeg"}
}

// scaleDown resizes so the longer side equals maxDimension, preserving
// aspect ratio.
func scaleDown(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w >= h {
		h = h * maxDimension / w
		w = maxDimension
	} else {
		w = w * maxDimension / h
		h = maxDimension
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}

// flattenOnWhite composites the image over a white background so
// transparency survives the JPEG encode.
func flattenOnWhite(img image.Image) image.Image {
	bounds := img.Bounds()
	flat := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, bounds.Min, draw.Over)
	return flat
}
