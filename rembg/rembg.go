package rembg

import (
	"context"
	"errors"

	"github.com/chaos-io/cutout/codec"
	"github.com/chaos-io/cutout/composite"
	"github.com/chaos-io/cutout/pixel"
)

// ErrModelNotReady 模型尚未初始化完成
var ErrModelNotReady = errors.New("segmentation model not ready")

// Segmenter 抠图后端：输入编码后的图片，输出 mask 与透明背景合成图（均为 PNG）
type Segmenter interface {
	// Initialize 加载模型或检查后端可用，可重复调用
	Initialize(ctx context.Context) error
	Segment(ctx context.Context, data []byte, mimeType string) (*Result, error)
}

// Result 一次抠图的输出
type Result struct {
	// Mask alpha 通道即前景概率
	Mask []byte `json:"mask"`
	// Composited 原图 RGB + mask alpha
	Composited []byte `json:"composited"`
}

// InferenceError 后端对某张图片推理失败（图片损坏、格式不支持、模型内部错误等）
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	if e == nil || e.Err == nil {
		return "inference failed"
	}
	return "inference failed: " + e.Err.Error()
}

func (e *InferenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// buildResult 用 mask 生成透明背景合成图，并把两者编码为 PNG
func buildResult(src, mask *pixel.Buffer) (*Result, error) {
	composited, err := composite.Compose(src, mask, composite.Mode{Kind: composite.Transparent})
	if err != nil {
		return nil, err
	}

	maskPNG, err := codec.EncodePNG(mask)
	if err != nil {
		return nil, err
	}
	compositedPNG, err := codec.EncodePNG(composited)
	if err != nil {
		return nil, err
	}
	return &Result{Mask: maskPNG, Composited: compositedPNG}, nil
}
