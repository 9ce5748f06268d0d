// Package arch 백본 아키텍처 메타정보 (cut 위치, split 규칙, 헤드 구성)
package arch

import (
	"fmt"
	"strings"
)

// Family 백본 계열
type Family int

const (
	// FamilyDefault 알 수 없는 백본, 마지막 레이어 하나만 제거
	FamilyDefault Family = iota
	// FamilyResNet resnet 계열, 마지막 두 레이어(pool, fc) 제거
	FamilyResNet
)

func (f Family) String() string {
	switch f {
	case FamilyResNet:
		return "resnet"
	default:
		return "default"
	}
}

// Split 차등 학습을 위한 레이어 그룹 경계.
// BodyLayer < 0 이면 body 내부 경계 없이 head 앞에서만 나눈다.
type Split struct {
	BodyLayer int
}

// Groups 분할된 레이어 그룹 설명
func (s Split) Groups() []string {
	if s.BodyLayer < 0 {
		return []string{"body", "head"}
	}
	return []string{
		fmt.Sprintf("body[:%d]", s.BodyLayer),
		fmt.Sprintf("body[%d:]", s.BodyLayer),
		"head",
	}
}

// Meta 백본 메타정보
type Meta struct {
	Name   string
	Family Family
	// Cut 사전학습 백본에서 잘라낼 마지막 레이어 위치 (음수 인덱스)
	Cut   int
	Split Split
	// Features cut 이후 body가 출력하는 채널 수, 0이면 알 수 없음
	Features int
}

var defaultMeta = Meta{
	Family: FamilyDefault,
	Cut:    -1,
	Split:  Split{BodyLayer: -1},
}

var resnetMeta = Meta{
	Family: FamilyResNet,
	Cut:    -2,
	Split:  Split{BodyLayer: 6},
}

var resnetFeatures = map[string]int{
	"resnet18":  512,
	"resnet34":  512,
	"resnet50":  2048,
	"resnet101": 2048,
	"resnet152": 2048,
}

// Lookup 백본 이름으로 메타정보 반환, 모르는 이름은 기본 메타정보
func Lookup(name string) Meta {
	name = strings.ToLower(strings.TrimSpace(name))

	if features, ok := resnetFeatures[name]; ok {
		m := resnetMeta
		m.Name = name
		m.Features = features
		return m
	}

	m := defaultMeta
	m.Name = name
	return m
}

// Known 등록된 백본 이름인지 여부
func Known(name string) bool {
	return Lookup(name).Family != FamilyDefault
}

// Names 등록된 백본 이름 목록
func Names() []string {
	return []string{"resnet18", "resnet34", "resnet50", "resnet101", "resnet152"}
}
