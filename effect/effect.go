package effect

import (
	"fmt"
	"math"
	"strings"

	"github.com/chaos-io/cutout/pixel"
)

// Kind 整图滤镜，同一时刻只生效一个
type Kind int

const (
	None Kind = iota
	Blur
	Brighten
	Contrast
)

const (
	BrightenDelta  = 30
	ContrastFactor = 1.2
)

var names = map[Kind]string{
	None:     "none",
	Blur:     "blur",
	Brighten: "bright",
	Contrast: "contrast",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Parse 解析滤镜名，空字符串视为 none
func Parse(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "blur":
		return Blur, nil
	case "bright", "brighten":
		return Brighten, nil
	case "contrast":
		return Contrast, nil
	}
	return None, fmt.Errorf("unknown effect %q", s)
}

// Apply 对 buf 应用滤镜，返回新的 Buffer，buf 不变
func Apply(buf *pixel.Buffer, kind Kind) (*pixel.Buffer, error) {
	switch kind {
	case None:
		return buf.Clone(), nil
	case Blur:
		return blur(buf), nil
	case Brighten:
		return pointRGB(buf, &brightenLUT), nil
	case Contrast:
		return pointRGB(buf, &contrastLUT), nil
	}
	return nil, fmt.Errorf("unknown effect %d", int(kind))
}

var brightenLUT, contrastLUT [256]uint8

func init() {
	for i := 0; i < 256; i++ {
		brightenLUT[i] = pixel.Clamp(i + BrightenDelta)

		v := ((float64(i)/255-0.5)*ContrastFactor + 0.5) * 255
		contrastLUT[i] = pixel.Clamp(int(math.RoundToEven(v)))
	}
}

// pointRGB 逐像素查表，alpha 不变
func pointRGB(buf *pixel.Buffer, lut *[256]uint8) *pixel.Buffer {
	out := pixel.New(buf.Width, buf.Height)
	for i := 0; i < len(buf.Pix); i += pixel.Channels {
		out.Pix[i] = lut[buf.Pix[i]]
		out.Pix[i+1] = lut[buf.Pix[i+1]]
		out.Pix[i+2] = lut[buf.Pix[i+2]]
		out.Pix[i+3] = buf.Pix[i+3]
	}
	return out
}

// blur 只做水平方向、半径 1 的均值：每个像素与右侧相邻像素取平均，
// 每行最右一列保持不变，alpha 不变
func blur(buf *pixel.Buffer) *pixel.Buffer {
	out := buf.Clone()
	rowBytes := buf.Width * pixel.Channels
	for y := 0; y < buf.Height; y++ {
		row := y * rowBytes
		for x := 0; x < buf.Width-1; x++ {
			i := row + x*pixel.Channels
			for c := 0; c < 3; c++ {
				out.Pix[i+c] = halfEven(buf.Pix[i+c], buf.Pix[i+pixel.Channels+c])
			}
		}
	}
	return out
}

// halfEven 两数平均，.5 时取偶数
func halfEven(a, b uint8) uint8 {
	s := int(a) + int(b)
	q := s / 2
	if s%2 == 1 && q%2 == 1 {
		q++
	}
	return uint8(q)
}
