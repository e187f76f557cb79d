package effect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/cutout/pixel"
)

func rowBuffer(t *testing.T, reds ...uint8) *pixel.Buffer {
	t.Helper()

	buf := pixel.New(len(reds), 1)
	for x, r := range reds {
		buf.Set(x, 0, int(r), int(r)+1, int(r)+2, 200)
	}
	return buf
}

func reds(buf *pixel.Buffer) []uint8 {
	out := make([]uint8, 0, buf.Width*buf.Height)
	for i := 0; i < len(buf.Pix); i += pixel.Channels {
		out = append(out, buf.Pix[i])
	}
	return out
}

func TestApplyNoneIsCopy(t *testing.T) {
	t.Parallel()

	src := rowBuffer(t, 1, 2, 3)
	got, err := Apply(src, None)
	require.NoError(t, err)
	assert.Equal(t, src.Pix, got.Pix)

	got.Pix[0] = 99
	assert.Equal(t, uint8(1), src.Pix[0])
}

func TestBrighten(t *testing.T) {
	t.Parallel()

	src := pixel.New(3, 1)
	src.Set(0, 0, 230, 0, 225, 17)
	src.Set(1, 0, 255, 100, 226, 0)
	src.Set(2, 0, 10, 20, 30, 255)

	got, err := Apply(src, Brighten)
	require.NoError(t, err)
	assert.Equal(t, []uint8{
		255, 30, 255, 17,
		255, 130, 255, 0,
		40, 50, 60, 255,
	}, got.Pix)
}

func TestContrast(t *testing.T) {
	t.Parallel()

	src := pixel.New(4, 1)
	src.Set(0, 0, 0, 255, 128, 9)
	src.Set(1, 0, 64, 192, 20, 9)
	src.Set(2, 0, 21, 22, 234, 9)
	src.Set(3, 0, 233, 235, 127, 9)

	got, err := Apply(src, Contrast)
	require.NoError(t, err)
	// ((v/255 - 0.5) * 1.2 + 0.5) * 255 = 1.2v - 25.5
	assert.Equal(t, []uint8{
		0, 255, 128, 9,
		51, 205, 0, 9,
		0, 1, 255, 9,
		254, 255, 127, 9,
	}, got.Pix)
}

func TestBlurEdge(t *testing.T) {
	t.Parallel()

	src := rowBuffer(t, 10, 20, 30, 40)
	got, err := Apply(src, Blur)
	require.NoError(t, err)

	assert.Equal(t, []uint8{15, 25, 35, 40}, reds(got))
	for i := 3; i < len(got.Pix); i += pixel.Channels {
		assert.Equal(t, uint8(200), got.Pix[i])
	}
	assert.Equal(t, []uint8{10, 20, 30, 40}, reds(src))
}

func TestBlurRoundsHalfToEven(t *testing.T) {
	t.Parallel()

	got, err := Apply(rowBuffer(t, 10, 11, 13, 0), Blur)
	require.NoError(t, err)
	// 10.5 -> 10, 12 -> 12, 6.5 -> 6
	assert.Equal(t, []uint8{10, 12, 6, 0}, reds(got))
}

func TestBlurPerRow(t *testing.T) {
	t.Parallel()

	src := pixel.New(2, 2)
	src.Set(0, 0, 0, 0, 0, 255)
	src.Set(1, 0, 100, 100, 100, 255)
	src.Set(0, 1, 200, 200, 200, 255)
	src.Set(1, 1, 50, 50, 50, 255)

	got, err := Apply(src, Blur)
	require.NoError(t, err)
	assert.Equal(t, []uint8{50, 100, 125, 50}, reds(got))
}

func TestApplyUnknown(t *testing.T) {
	t.Parallel()

	_, err := Apply(pixel.New(1, 1), Kind(42))
	assert.Error(t, err)
	assert.Equal(t, "Kind(42)", Kind(42).String())
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := map[string]Kind{
		"":         None,
		"none":     None,
		"Blur":     Blur,
		"bright":   Brighten,
		"brighten": Brighten,
		"contrast": Contrast,
	}
	for in, want := range tests {
		got, err := Parse(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := Parse("sepia")
	assert.Error(t, err)

	for k := range names {
		got, err := Parse(k.String())
		assert.NoError(t, err)
		assert.Equal(t, k, got)
	}
}
