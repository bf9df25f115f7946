// Package media holds the frame, timing and audio arithmetic behind clip
// preparation. Nothing here shells out; the ffmpeg service turns these plans
// into filter graphs.
package media

import "fmt"

// Crop is a cover fit: scale the source to ScaleW x ScaleH (aspect
// preserved, both sides at least the target) then cut a centred W x H window.
type Crop struct {
	ScaleW, ScaleH int
	X, Y           int
	W, H           int
}

// FitCover computes the cover fit of a srcW x srcH frame into dstW x dstH.
// The scaled frame always covers the target, so the output never has bars.
func FitCover(srcW, srcH, dstW, dstH int) (Crop, error) {
	if srcW <= 0 || srcH <= 0 {
		return Crop{}, fmt.Errorf("invalid source size %dx%d", srcW, srcH)
	}
	if dstW <= 0 || dstH <= 0 {
		return Crop{}, fmt.Errorf("invalid target size %dx%d", dstW, dstH)
	}

	var c Crop
	c.W, c.H = dstW, dstH

	// Compare aspect ratios with integer cross-multiplication.
	if int64(srcW)*int64(dstH) >= int64(dstW)*int64(srcH) {
		// Source is wider (or equal): match height, overflow width.
		c.ScaleH = dstH
		c.ScaleW = ceilDiv(int64(srcW)*int64(dstH), int64(srcH))
	} else {
		// Source is taller: match width, overflow height.
		c.ScaleW = dstW
		c.ScaleH = ceilDiv(int64(srcH)*int64(dstW), int64(srcW))
	}

	if c.ScaleW < dstW {
		c.ScaleW = dstW
	}
	if c.ScaleH < dstH {
		c.ScaleH = dstH
	}

	c.X = (c.ScaleW - dstW) / 2
	c.Y = (c.ScaleH - dstH) / 2
	return c, nil
}

// Filter renders the crop as an ffmpeg filter chain.
func (c Crop) Filter() string {
	return fmt.Sprintf("scale=%d:%d,crop=%d:%d:%d:%d,setsar=1", c.ScaleW, c.ScaleH, c.W, c.H, c.X, c.Y)
}

func ceilDiv(a, b int64) int {
	return int((a + b - 1) / b)
}
