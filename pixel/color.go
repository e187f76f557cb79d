package pixel

import (
	"fmt"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Color 背景填充色，RGB 每个通道 [0,255]
type Color struct {
	R, G, B uint8
}

var (
	White     = Color{R: 0xff, G: 0xff, B: 0xff}
	Black     = Color{}
	Red       = Color{R: 0xff}
	Green     = Color{G: 0xff}
	Blue      = Color{B: 0xff}
	Yellow    = Color{R: 0xff, G: 0xff}
	Cyan      = Color{G: 0xff, B: 0xff}
	Magenta   = Color{R: 0xff, B: 0xff}
	Gray      = Color{R: 0x80, G: 0x80, B: 0x80}
	LightGray = Color{R: 0xc0, G: 0xc0, B: 0xc0}
)

// DefaultBackground 编辑器默认的纯色背景
var DefaultBackground = Red

// Palette 编辑器预设色板，顺序即展示顺序
var Palette = []Color{White, Black, Red, Green, Blue, Yellow, Cyan, Magenta, Gray, LightGray}

// ParseHex 解析 #rrggbb 或 #rgb（# 可省略）
func ParseHex(s string) (Color, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	c, err := colorful.Hex(strings.ToLower(s))
	if err != nil {
		return Color{}, fmt.Errorf("parse color %q: %w", s, err)
	}
	r, g, b := c.Clamped().RGB255()
	return Color{R: r, G: g, B: b}, nil
}

// Hex 返回 #rrggbb 形式
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c Color) String() string {
	return c.Hex()
}
