package session

import (
	"errors"
	"fmt"
)

// State 会话生命周期
type State int

const (
	Empty State = iota
	Uploaded
	Segmenting
	Composited
	Editing
)

var stateNames = map[State]string{
	Empty:      "empty",
	Uploaded:   "uploaded",
	Segmenting: "segmenting",
	Composited: "composited",
	Editing:    "editing",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrBusy 同一会话已有抠图在进行
	ErrBusy         = errors.New("segmentation already in progress")
	ErrNoResult     = errors.New("no composited result")
	ErrEditorClosed = errors.New("editor closed")
)

// 默认文件名
const (
	UploadName = "uploaded-image.png"
	SampleName = "sample-image.png"
	EditedName = "edited-image.png"
	ExportName = "removed-background.png"
	ExportMIME = "image/png"
)

func transitionError(op string, from State) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, from)
}
