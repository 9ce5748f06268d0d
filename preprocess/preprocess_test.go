package preprocess

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/james-fu/sagemaker-fastai-example/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: uint8((x + y) % 256),
				A: 0xff,
			})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uniform(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func normalized(c int, v uint8) float32 {
	return (float32(v)/255 - constants.NormMean[c]) / constants.NormStd[c]
}

func TestRunShape(t *testing.T) {
	inputs := map[string][]byte{
		"landscape": encodeJPEG(t, gradient(500, 375)),
		"portrait":  encodeJPEG(t, gradient(120, 400)),
		"tiny":      encodeJPEG(t, gradient(3, 2)),
		"square":    encodePNG(t, gradient(256, 256)),
	}

	for _, size := range []int{224, 299, 64} {
		p := New(size)
		for name, raw := range inputs {
			tensor, err := p.Run(raw)
			require.NoError(t, err, name)
			assert.Equal(t, [3]int{3, size, size}, tensor.Shape, name)
			assert.Len(t, tensor.Data, 3*size*size, name)
			assert.Equal(t, []int64{1, 3, int64(size), int64(size)}, tensor.Dims())
		}
	}
}

func TestRunDeterministic(t *testing.T) {
	raw := encodeJPEG(t, gradient(500, 375))
	p := New(constants.DefaultImageSize)

	first, err := p.Run(raw)
	require.NoError(t, err)
	second, err := p.Run(raw)
	require.NoError(t, err)

	require.Equal(t, len(first.Data), len(second.Data))
	for i := range first.Data {
		if math.Float32bits(first.Data[i]) != math.Float32bits(second.Data[i]) {
			t.Fatalf("value %d differs: %v != %v", i, first.Data[i], second.Data[i])
		}
	}
}

func TestRunNormalizesUniformImage(t *testing.T) {
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	tensor, err := New(224).Run(encodePNG(t, uniform(40, 30, white)))
	require.NoError(t, err)

	plane := 224 * 224
	for c := 0; c < 3; c++ {
		want := normalized(c, 255)
		assert.InDelta(t, want, tensor.Data[c*plane], 1e-6)
		assert.InDelta(t, want, tensor.Data[c*plane+plane-1], 1e-6)
	}
}

func TestRunPadsLargeCrop(t *testing.T) {
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	tensor, err := New(299).Run(encodePNG(t, uniform(256, 256, white)))
	require.NoError(t, err)

	plane := 299 * 299
	center := 150*299 + 150
	for c := 0; c < 3; c++ {
		// 모서리는 패딩 영역
		assert.InDelta(t, normalized(c, 0), tensor.Data[c*plane], 1e-6)
		assert.InDelta(t, normalized(c, 255), tensor.Data[c*plane+center], 1e-6)
	}

	// (299-256)/2 = 21 픽셀 패딩
	assert.InDelta(t, normalized(0, 0), tensor.Data[20*299+150], 1e-6)
	assert.InDelta(t, normalized(0, 255), tensor.Data[21*299+150], 1e-6)
}

func TestRunDropsAlpha(t *testing.T) {
	transparentRed := color.NRGBA{R: 255, A: 0}
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetNRGBA(x, y, transparentRed)
		}
	}

	decoded, err := Decode(encodePNG(t, img))
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, decoded.NRGBAAt(3, 3))
}

func TestRunDecodeError(t *testing.T) {
	_, err := New(224).Run([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrDecode)

	_, err = New(224).Run(nil)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestCropOffset(t *testing.T) {
	assert.Equal(t, 16, cropOffset(256, 224))
	assert.Equal(t, 0, cropOffset(224, 224))
	assert.Equal(t, -21, cropOffset(256, 299))
	// round half to even
	assert.Equal(t, 2, cropOffset(229, 224))
	assert.Equal(t, 4, cropOffset(231, 224))
}

func TestResizeShortSide(t *testing.T) {
	out := resizeShortSide(gradient(500, 375), 256)
	assert.Equal(t, 341, out.Bounds().Dx())
	assert.Equal(t, 256, out.Bounds().Dy())

	out = resizeShortSide(gradient(100, 300), 256)
	assert.Equal(t, 256, out.Bounds().Dx())
	assert.Equal(t, 768, out.Bounds().Dy())

	img := gradient(256, 400)
	assert.Same(t, img, resizeShortSide(img, 256))
}

// hugePNG IHDR의 크기만 w x h로 바꾼 png
func hugePNG(t *testing.T, w, h uint32) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))))
	raw := buf.Bytes()

	// signature(8) + length(4) + "IHDR"(4) 이후 width, height
	ihdr := raw[12 : 12+4+13]
	binary.BigEndian.PutUint32(ihdr[4:8], w)
	binary.BigEndian.PutUint32(ihdr[8:12], h)
	binary.BigEndian.PutUint32(raw[12+4+13:], crc32.ChecksumIEEE(ihdr))

	return raw
}

func TestDecodeTooLarge(t *testing.T) {
	_, err := Decode(hugePNG(t, 100000, 100000))
	assert.ErrorIs(t, err, ErrDecode)
	assert.Contains(t, err.Error(), "too large")

	_, err = New(constants.DefaultImageSize).Run(hugePNG(t, 8000, 6000))
	assert.ErrorIs(t, err, ErrDecode)
}
