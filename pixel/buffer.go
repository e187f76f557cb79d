package pixel

import (
	"image"

	"golang.org/x/image/draw"
)

// Channels 每个像素的通道数（R、G、B、A）
const Channels = 4

// Buffer 非预乘 RGBA8 像素缓冲区，按行紧密排列
//
//	len(Pix) == Width * Height * 4
//
// 各流水线阶段都返回新的 Buffer，不修改传入的 Buffer。
type Buffer struct {
	Width  int
	Height int
	Pix    []uint8
}

// New 创建全透明的 Buffer
func New(width, height int) *Buffer {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Buffer{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*Channels),
	}
}

// FromImage 把任意 image.Image 转成 Buffer（拷贝）
func FromImage(img image.Image) *Buffer {
	b := img.Bounds()
	buf := New(b.Dx(), b.Dy())

	if nrgba, ok := img.(*image.NRGBA); ok {
		for y := 0; y < buf.Height; y++ {
			src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+buf.Width*Channels]
			copy(buf.Pix[y*buf.Width*Channels:], src)
		}
		return buf
	}

	dst := &image.NRGBA{Pix: buf.Pix, Stride: buf.Width * Channels, Rect: image.Rect(0, 0, buf.Width, buf.Height)}
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return buf
}

// Image 返回共享底层 Pix 的 *image.NRGBA，便于编码或交给 draw 包
func (b *Buffer) Image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    b.Pix,
		Stride: b.Width * Channels,
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}
}

func (b *Buffer) Clone() *Buffer {
	dst := &Buffer{Width: b.Width, Height: b.Height, Pix: make([]uint8, len(b.Pix))}
	copy(dst.Pix, b.Pix)
	return dst
}

// SameSize 判断两个 Buffer 宽高是否一致
func (b *Buffer) SameSize(o *Buffer) bool {
	return b.Width == o.Width && b.Height == o.Height
}

func (b *Buffer) Offset(x, y int) int {
	return (y*b.Width + x) * Channels
}

// RGBA 读取 (x, y) 处的四个通道
func (b *Buffer) RGBA(x, y int) (r, g, bl, a uint8) {
	i := b.Offset(x, y)
	return b.Pix[i], b.Pix[i+1], b.Pix[i+2], b.Pix[i+3]
}

// Set 写入 (x, y) 处的四个通道，每个值都先 clamp 到 [0,255]
func (b *Buffer) Set(x, y int, r, g, bl, a int) {
	i := b.Offset(x, y)
	b.Pix[i] = Clamp(r)
	b.Pix[i+1] = Clamp(g)
	b.Pix[i+2] = Clamp(bl)
	b.Pix[i+3] = Clamp(a)
}

// Alpha 读取 (x, y) 处的 alpha
func (b *Buffer) Alpha(x, y int) uint8 {
	return b.Pix[b.Offset(x, y)+3]
}

// Fill 用同一颜色填满整个缓冲区
func (b *Buffer) Fill(c Color, alpha uint8) {
	for i := 0; i < len(b.Pix); i += Channels {
		b.Pix[i] = c.R
		b.Pix[i+1] = c.G
		b.Pix[i+2] = c.B
		b.Pix[i+3] = alpha
	}
}

// HasUsefulAlpha 检查 alpha 通道是否真的包含透明信息
// 只要存在非 255（非完全不透明），就认为“已有抠图”
func (b *Buffer) HasUsefulAlpha() bool {
	for i := 3; i < len(b.Pix); i += Channels {
		if b.Pix[i] != 255 {
			return true
		}
	}
	return false
}

// Clamp 把 int 限制在 [0,255]
func Clamp(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
