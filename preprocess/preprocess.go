// Package preprocess 추론 입력 이미지를 정규화된 CHW 텐서로 변환
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/james-fu/sagemaker-fastai-example/constants"
	"github.com/nfnt/resize"
)

// ErrDecode 이미지 디코딩 실패
var ErrDecode = errors.New("cannot decode image")

const channels = 3

// MaxPixels 디코딩을 허용하는 최대 픽셀 수 (가로 x 세로)
const MaxPixels = 40 * 1000 * 1000

// Tensor (3, size, size) 크기의 CHW float32 텐서
type Tensor struct {
	Shape [3]int
	Data  []float32
}

// Dims 배치 차원을 포함한 텐서 크기
func (t Tensor) Dims() []int64 {
	return []int64{1, int64(t.Shape[0]), int64(t.Shape[1]), int64(t.Shape[2])}
}

// Pipeline 전처리 설정
type Pipeline struct {
	// Size center crop 크기
	Size int
	// ShortSide resize 후 짧은 변의 길이
	ShortSide int
}

// New 기본 resize(256)를 쓰는 전처리 파이프라인 생성
func New(size int) Pipeline {
	if size <= 0 {
		size = constants.DefaultImageSize
	}

	return Pipeline{
		Size:      size,
		ShortSide: constants.ResizeShortSide,
	}
}

// Run decode -> resize -> center crop -> [0, 1] -> ImageNet 정규화
func (p Pipeline) Run(raw []byte) (Tensor, error) {
	img, err := Decode(raw)
	if err != nil {
		return Tensor{}, err
	}

	resized := resizeShortSide(img, p.ShortSide)

	return toTensor(resized, p.Size), nil
}

// Decode 이미지 바이트를 알파가 제거된 3채널 이미지로 디코딩
func Decode(raw []byte) (*image.NRGBA, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecode, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: image too large %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecode, err)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrDecode, b.Dx(), b.Dy())
	}

	// 알파 채널은 합성하지 않고 버린다
	rgb := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			c.A = 0xff
			rgb.SetNRGBA(x, y, c)
		}
	}

	return rgb, nil
}

func resizeShortSide(img image.Image, short int) image.Image {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	if (w <= h && w == short) || (h <= w && h == short) {
		return img
	}

	var nw, nh int
	if w < h {
		nw = short
		nh = int(float64(short) * float64(h) / float64(w))
	} else {
		nh = short
		nw = int(float64(short) * float64(w) / float64(h))
	}

	return resize.Resize(uint(nw), uint(nh), img, resize.Bilinear)
}

// cropOffset crop 시작 위치, crop이 더 크면 음수(0으로 패딩)
func cropOffset(src, size int) int {
	if size > src {
		return -((size - src) / 2)
	}
	return int(math.RoundToEven(float64(src-size) / 2))
}

func toTensor(img image.Image, size int) Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	top := cropOffset(h, size)
	left := cropOffset(w, size)

	plane := size * size
	data := make([]float32, channels*plane)

	for y := 0; y < size; y++ {
		sy := y + top
		for x := 0; x < size; x++ {
			sx := x + left

			var px [channels]uint8
			if sy >= 0 && sy < h && sx >= 0 && sx < w {
				px = rgbAt(img, b.Min.X+sx, b.Min.Y+sy)
			}

			idx := y*size + x
			for c := 0; c < channels; c++ {
				v := float32(px[c]) / 255
				data[c*plane+idx] = (v - constants.NormMean[c]) / constants.NormStd[c]
			}
		}
	}

	return Tensor{
		Shape: [3]int{channels, size, size},
		Data:  data,
	}
}

func rgbAt(img image.Image, x, y int) [channels]uint8 {
	switch src := img.(type) {
	case *image.RGBA:
		i := src.PixOffset(x, y)
		return [channels]uint8{src.Pix[i], src.Pix[i+1], src.Pix[i+2]}
	case *image.NRGBA:
		i := src.PixOffset(x, y)
		return [channels]uint8{src.Pix[i], src.Pix[i+1], src.Pix[i+2]}
	default:
		r, g, b, _ := img.At(x, y).RGBA()
		return [channels]uint8{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)}
	}
}
