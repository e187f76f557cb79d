package rembg

import (
	"context"
	"errors"

	"github.com/chaos-io/cutout/codec"
	"github.com/chaos-io/cutout/composite"
)

var errNoAlpha = errors.New("image has no transparency to use as mask")

// AlphaSegmenter 直接使用图片自带的 alpha 通道作为 mask，适用于已经抠好的图
type AlphaSegmenter struct{}

func NewAlphaSegmenter() *AlphaSegmenter {
	return &AlphaSegmenter{}
}

func (a *AlphaSegmenter) Initialize(ctx context.Context) error {
	return nil
}

func (a *AlphaSegmenter) Segment(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	src, err := codec.Decode(data, mimeType)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	if !src.HasUsefulAlpha() {
		return nil, &InferenceError{Err: errNoAlpha}
	}
	return buildResult(src, composite.MaskFromAlpha(src))
}
