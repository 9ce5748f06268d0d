package arch

import "fmt"

const (
	headHidden = 512
	headDrop   = 0.5
)

// Head body 뒤에 붙는 분류 헤드 구성
type Head struct {
	// InFeatures concat pooling 이후 입력 크기 (body 채널 수 x 2)
	InFeatures int
	Hidden     int
	Out        int
	Dropout    [2]float64
}

// NewHead 메타정보와 라벨 수로 헤드 구성
func NewHead(m Meta, nLabels int) Head {
	return Head{
		InFeatures: m.Features * 2,
		Hidden:     headHidden,
		Out:        nLabels,
		Dropout:    [2]float64{headDrop / 2, headDrop},
	}
}

// Layers 헤드 레이어 설명
func (h Head) Layers() []string {
	in := "?"
	if h.InFeatures > 0 {
		in = fmt.Sprint(h.InFeatures)
	}

	return []string{
		"AdaptiveConcatPool2d",
		"Flatten",
		fmt.Sprintf("BatchNorm1d(%s)", in),
		fmt.Sprintf("Dropout(%g)", h.Dropout[0]),
		fmt.Sprintf("Linear(%s, %d)", in, h.Hidden),
		"ReLU",
		fmt.Sprintf("BatchNorm1d(%d)", h.Hidden),
		fmt.Sprintf("Dropout(%g)", h.Dropout[1]),
		fmt.Sprintf("Linear(%d, %d)", h.Hidden, h.Out),
	}
}
