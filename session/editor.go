package session

import (
	"sync"

	"github.com/chaos-io/cutout/codec"
	"github.com/chaos-io/cutout/composite"
	"github.com/chaos-io/cutout/effect"
	"github.com/chaos-io/cutout/pixel"
)

// Editor 在已提交结果上试背景和滤镜，Save 之前不改动会话
//
// 每次参数变化都从未改动的 base 重新合成再加滤镜，滤镜不会叠加。
// base 同时充当 source 和 mask（mask 信号取其 alpha）。
type Editor struct {
	session *Session
	base    *pixel.Buffer

	mu     sync.Mutex
	closed bool
	mode   composite.Mode
	effect effect.Kind
	output *pixel.Buffer
}

func newEditor(s *Session, base *pixel.Buffer) (*Editor, error) {
	e := &Editor{
		session: s,
		base:    base,
		mode:    composite.Solid(pixel.DefaultBackground),
		effect:  effect.None,
	}
	if err := e.render(); err != nil {
		return nil, err
	}
	return e, nil
}

// Set 同时更换背景和滤镜，只渲染一次，失败时两者都保持原样
func (e *Editor) Set(mode composite.Mode, kind effect.Kind) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEditorClosed
	}
	prevMode, prevEffect := e.mode, e.effect
	e.mode, e.effect = mode, kind
	if err := e.render(); err != nil {
		e.mode, e.effect = prevMode, prevEffect
		return err
	}
	return nil
}

// Settings 当前背景模式和滤镜
func (e *Editor) Settings() (composite.Mode, effect.Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode, e.effect
}

// Output 当前输出的拷贝
func (e *Editor) Output() (*pixel.Buffer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEditorClosed
	}
	return e.output.Clone(), nil
}

// Preview 当前输出的 PNG
func (e *Editor) Preview() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEditorClosed
	}
	return codec.EncodePNG(e.output)
}

// Save 把当前输出提交为会话结果并关闭编辑器
func (e *Editor) Save() error {
	data, err := e.close(true)
	if err != nil {
		return err
	}
	return e.session.commitEdit(e, data)
}

// Cancel 丢弃编辑结果
func (e *Editor) Cancel() error {
	if _, err := e.close(false); err != nil {
		return err
	}
	return e.session.cancelEdit(e)
}

// close 标记关闭；调用方在释放编辑器锁之后才能拿会话锁
func (e *Editor) close(encode bool) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEditorClosed
	}
	var data []byte
	if encode {
		var err error
		if data, err = codec.EncodePNG(e.output); err != nil {
			return nil, err
		}
	}
	e.closed = true
	return data, nil
}

func (e *Editor) render() error {
	composed, err := composite.Compose(e.base, e.base, e.mode)
	if err != nil {
		return err
	}
	out, err := effect.Apply(composed, e.effect)
	if err != nil {
		return err
	}
	e.output = out
	return nil
}

// markClosed 会话重置或重新上传时调用，此时会话锁已持有
func (e *Editor) markClosed() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}
