package composite

import (
	"errors"
	"image"

	"github.com/chaos-io/cutout/pixel"
)

// MaskFromAlpha 用图片自身的 alpha 通道生成 mask（RGB 置白）
func MaskFromAlpha(buf *pixel.Buffer) *pixel.Buffer {
	mask := pixel.New(buf.Width, buf.Height)
	mask.Fill(pixel.White, 0)
	for i := 3; i < len(mask.Pix); i += pixel.Channels {
		mask.Pix[i] = buf.Pix[i]
	}
	return mask
}

// MaskFromGray 把灰度图（模型输出）转成 mask，灰度值即 alpha
func MaskFromGray(gray *image.Gray) *pixel.Buffer {
	b := gray.Bounds()
	mask := pixel.New(b.Dx(), b.Dy())
	mask.Fill(pixel.White, 0)
	for y := 0; y < mask.Height; y++ {
		row := y * gray.Stride
		for x := 0; x < mask.Width; x++ {
			mask.Pix[mask.Offset(x, y)+3] = gray.Pix[row+x]
		}
	}
	return mask
}

// AlphaBBox 从 alpha 通道计算主体 bounding box
// 把 alpha > threshold * 255 的像素当作“主体”
func AlphaBBox(buf *pixel.Buffer, threshold float64) (image.Rectangle, error) {
	th := uint8(threshold * 255)

	minX, minY := buf.Width, buf.Height
	maxX, maxY := 0, 0
	found := false

	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			if buf.Alpha(x, y) <= th {
				continue
			}
			found = true
			minX = min(minX, x)
			minY = min(minY, y)
			maxX = max(maxX, x)
			maxY = max(maxY, y)
		}
	}

	if !found {
		return image.Rectangle{}, errors.New("no foreground found")
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), nil
}
