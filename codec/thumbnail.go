package codec

import (
	"github.com/nfnt/resize"

	"github.com/chaos-io/cutout/pixel"
)

// Thumbnail 缩放（最长边 <= maxSize），保持宽高比；本身够小时返回拷贝
func Thumbnail(buf *pixel.Buffer, maxSize int) *pixel.Buffer {
	longest := max(buf.Width, buf.Height)
	if maxSize <= 0 || longest <= maxSize {
		return buf.Clone()
	}

	scale := float64(maxSize) / float64(longest)
	newW := max(1, int(float64(buf.Width)*scale))
	newH := max(1, int(float64(buf.Height)*scale))

	resized := resize.Resize(uint(newW), uint(newH), buf.Image(), resize.Lanczos3)
	return pixel.FromImage(resized)
}

// Resize 缩放到指定宽高
func Resize(buf *pixel.Buffer, width, height int) *pixel.Buffer {
	if buf.Width == width && buf.Height == height {
		return buf.Clone()
	}
	resized := resize.Resize(uint(width), uint(height), buf.Image(), resize.Bilinear)
	return pixel.FromImage(resized)
}
