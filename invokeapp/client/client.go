// Package client 배포된 SageMaker 엔드포인트에 이미지 분류 요청
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime/sagemakerruntimeiface"
	"github.com/james-fu/sagemaker-fastai-example/constants"
	"github.com/james-fu/sagemaker-fastai-example/inference"
)

// Args 엔드포인트 접속 설정
type Args struct {
	Region   string `arg:"--region,env:AWS_REGION,help:AWS region"`
	Endpoint string `arg:"--endpoint,env:ENDPOINT_NAME,required,help:SageMaker endpoint name"`
}

// Client SageMaker 런타임 클라이언트
type Client struct {
	endpoint string
	runtime  sagemakerruntimeiface.SageMakerRuntimeAPI
}

// Classify JPEG 이미지를 보내고 예측 결과 반환
func (c *Client) Classify(ctx context.Context, jpeg []byte) (*inference.Prediction, error) {
	if len(jpeg) == 0 {
		return nil, errors.New("Empty image")
	}

	out, err := c.runtime.InvokeEndpointWithContext(ctx, &sagemakerruntime.InvokeEndpointInput{
		Body:         jpeg,
		ContentType:  aws.String(constants.JPEGContentType),
		Accept:       aws.String(constants.JSONContentType),
		EndpointName: aws.String(c.endpoint),
	})
	if err != nil {
		return nil, fmt.Errorf("Fail to invoke endpoint %s: %w", c.endpoint, err)
	}

	var p inference.Prediction
	if err := json.Unmarshal(out.Body, &p); err != nil {
		return nil, fmt.Errorf("Fail to parse response: %w", err)
	}
	if p.Class == "" {
		return nil, fmt.Errorf("Invalid response: %s", out.Body)
	}

	return &p, nil
}

// New AWS 세션으로 클라이언트 생성
func New(args Args) *Client {
	sess := session.Must(session.NewSession(
		&aws.Config{
			Region:                        aws.String(args.Region),
			CredentialsChainVerboseErrors: aws.Bool(true),
		},
	))

	return NewWithRuntime(args.Endpoint, sagemakerruntime.New(sess))
}

// NewWithRuntime 주어진 런타임 API로 클라이언트 생성
func NewWithRuntime(endpoint string, runtime sagemakerruntimeiface.SageMakerRuntimeAPI) *Client {
	return &Client{
		endpoint: endpoint,
		runtime:  runtime,
	}
}
