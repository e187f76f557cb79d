package composite

import (
	"errors"
	"fmt"
	"math"

	"github.com/chaos-io/cutout/pixel"
)

// ErrDimensionMismatch 源图与 mask 宽高不一致
var ErrDimensionMismatch = errors.New("dimension mismatch")

// ModeKind 背景模式
type ModeKind int

const (
	Transparent ModeKind = iota
	SolidColor
)

// Mode 背景替换方式：透明，或用纯色填充
type Mode struct {
	Kind  ModeKind
	Color pixel.Color
}

// Solid 纯色背景模式
func Solid(c pixel.Color) Mode {
	return Mode{Kind: SolidColor, Color: c}
}

func (m Mode) String() string {
	if m.Kind == SolidColor {
		return "solid(" + m.Color.Hex() + ")"
	}
	return "transparent"
}

// Compose 按 mask 的 alpha 把 source 与背景合成，返回新的 Buffer
//
//	a   = mask.alpha / 255
//	rgb = source.rgb * a + background * (1 - a)
//
// 纯色模式输出完全不透明；透明模式 RGB 保持源值，alpha 取 mask。
// source、mask 都不会被修改。
func Compose(source, mask *pixel.Buffer, mode Mode) (*pixel.Buffer, error) {
	if source == nil || mask == nil {
		return nil, fmt.Errorf("%w: nil buffer", ErrDimensionMismatch)
	}
	if !source.SameSize(mask) {
		return nil, fmt.Errorf("%w: source %dx%d, mask %dx%d",
			ErrDimensionMismatch, source.Width, source.Height, mask.Width, mask.Height)
	}

	if mode.Kind != SolidColor {
		return ApplyMask(source, mask), nil
	}

	bg := [3]float64{float64(mode.Color.R), float64(mode.Color.G), float64(mode.Color.B)}
	out := pixel.New(source.Width, source.Height)
	for i := 0; i < len(out.Pix); i += pixel.Channels {
		alpha := mask.Pix[i+3]
		if alpha == 255 {
			copy(out.Pix[i:i+3], source.Pix[i:i+3])
			out.Pix[i+3] = 255
			continue
		}

		a := float64(alpha) / 255
		for c := 0; c < 3; c++ {
			v := float64(source.Pix[i+c])*a + bg[c]*(1-a)
			out.Pix[i+c] = pixel.Clamp(int(math.Round(v)))
		}
		out.Pix[i+3] = 255
	}
	return out, nil
}

// ApplyMask 透明模式：RGB 取 source，alpha 取 mask（宽高由调用方保证一致）
func ApplyMask(source, mask *pixel.Buffer) *pixel.Buffer {
	out := source.Clone()
	for i := 3; i < len(out.Pix); i += pixel.Channels {
		out.Pix[i] = mask.Pix[i]
	}
	return out
}
