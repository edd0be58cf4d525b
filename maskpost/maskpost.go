// Package maskpost holds the CPU-side mask postprocessing stages:
// thresholding for binary-mask models, edge-smoothing blur, and upscale
// back to frame resolution. The data here is small (a single-channel
// mask at network resolution), so these deliberately stay on the CPU.
package maskpost

import (
	"image"

	"github.com/disintegration/imaging"
)

// Threshold binarizes a mask in place: values at or above t become 1,
// the rest 0. Models that output a continuous alpha matte skip this.
func Threshold(mask []float32, t float32) {
	for i, v := range mask {
		if v >= t {
			mask[i] = 1
		} else {
			mask[i] = 0
		}
	}
}

// toGray converts a [0,1] float mask into an 8-bit grayscale image.
func toGray(mask []float32, w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i, v := range mask {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		img.Pix[i] = uint8(v*255 + 0.5)
	}
	return img
}

// fromGray converts an 8-bit grayscale image back to [0,1] floats.
func fromGray(img *image.Gray, w, h int) []float32 {
	mask := make([]float32, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			mask[y*w+x] = float32(row[x]) / 255
		}
	}
	return mask
}

// Blur applies a gaussian blur with the given sigma and returns the
// smoothed mask. Sigma <= 0 returns the input unchanged.
func Blur(mask []float32, w, h int, sigma float64) []float32 {
	if sigma <= 0 || w <= 0 || h <= 0 {
		return mask
	}
	blurred := imaging.Blur(toGray(mask, w, h), sigma)
	return fromGray(toGrayImage(blurred), w, h)
}

// Upscale resizes a mask to the target resolution with bilinear
// filtering, typically back to the source frame size.
func Upscale(mask []float32, w, h, dstW, dstH int) []float32 {
	if w == dstW && h == dstH {
		return mask
	}
	resized := imaging.Resize(toGray(mask, w, h), dstW, dstH, imaging.Linear)
	return fromGray(toGrayImage(resized), dstW, dstH)
}

// toGrayImage collapses an NRGBA result from imaging back to grayscale.
// imaging always returns *image.NRGBA; the channels are equal for
// grayscale input, so the red channel is taken.
func toGrayImage(img *image.NRGBA) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(b)
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[y*img.Stride:]
		dst := gray.Pix[y*gray.Stride:]
		for x := 0; x < b.Dx(); x++ {
			dst[x] = src[x*4]
		}
	}
	return gray
}
