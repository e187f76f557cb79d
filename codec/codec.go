package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/chaos-io/cutout/pixel"
)

const MIMEPNG = "image/png"

// DefaultMaxPixels 解码前允许的最大像素数（宽 × 高）
const DefaultMaxPixels = 100_000_000

// ErrDecode 输入字节无法解码成图片
var ErrDecode = errors.New("decode image")

var maxPixels atomic.Int64

// SetMaxPixels 设置解码像素上限，n <= 0 时恢复默认值
func SetMaxPixels(n int64) {
	maxPixels.Store(n)
}

func pixelLimit() int64 {
	if n := maxPixels.Load(); n > 0 {
		return n
	}
	return DefaultMaxPixels
}

var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// Decode 按 MIME 解码图片，mimeType 为空或不是 image/* 时按内容嗅探
// 解码时会按 EXIF 方向摆正（手机拍摄的 JPEG）
func Decode(data []byte, mimeType string) (*pixel.Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = DetectMIME(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: unsupported content type %s", ErrDecode, mimeType)
	}

	// 先读头部尺寸，避免超大图片在完整解码时占满内存
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, mimeType, err)
	}
	if limit := pixelLimit(); int64(cfg.Width)*int64(cfg.Height) > limit {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, limit)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, mimeType, err)
	}
	return pixel.FromImage(img), nil
}

// DetectMIME 按内容嗅探 MIME 类型
func DetectMIME(data []byte) string {
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return mt
}

// EncodePNG 编码为 PNG，保留 alpha
func EncodePNG(buf *pixel.Buffer) ([]byte, error) {
	w := bufferPool.Get().(*bytes.Buffer)
	defer bufferPool.Put(w)
	w.Reset()

	if err := png.Encode(w, buf.Image()); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	out := make([]byte, w.Len())
	copy(out, w.Bytes())
	return out, nil
}
