package cvsource

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestToRGBA_ChannelOrder(t *testing.T) {
	// 2x1 BGR: a red pixel then a blue one.
	bgr, err := gocv.NewMatFromBytes(1, 2, gocv.MatTypeCV8UC3, []byte{
		0x10, 0x20, 0xe0,
		0xd0, 0x30, 0x05,
	})
	require.NoError(t, err)
	defer bgr.Close()

	img, err := toRGBA(bgr)
	require.NoError(t, err)
	require.IsType(t, &image.RGBA{}, img)

	assert.Equal(t, image.Pt(2, 1), img.Rect.Size())
	assert.Equal(t, color.RGBA{R: 0xe0, G: 0x20, B: 0x10, A: 0xff}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 0x05, G: 0x30, B: 0xd0, A: 0xff}, img.RGBAAt(1, 0))
}

func TestToRGBA_RejectsOtherTypes(t *testing.T) {
	gray := gocv.NewMatWithSize(2, 2, gocv.MatTypeCV8UC1)
	defer gray.Close()

	_, err := toRGBA(gray)
	assert.Error(t, err)
}
