package client

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime/sagemakerruntimeiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	sagemakerruntimeiface.SageMakerRuntimeAPI

	in   *sagemakerruntime.InvokeEndpointInput
	body string
	err  error
}

func (f *fakeRuntime) InvokeEndpointWithContext(ctx aws.Context, in *sagemakerruntime.InvokeEndpointInput, opts ...request.Option) (*sagemakerruntime.InvokeEndpointOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sagemakerruntime.InvokeEndpointOutput{
		Body:        []byte(f.body),
		ContentType: aws.String("application/json"),
	}, nil
}

func TestClassify(t *testing.T) {
	rt := &fakeRuntime{body: `{"class":"dogs","confidence":0.91}`}
	c := NewWithRuntime("dogscats", rt)

	p, err := c.Classify(context.Background(), []byte{0xff, 0xd8})
	require.NoError(t, err)
	assert.Equal(t, "dogs", p.Class)
	assert.InDelta(t, 0.91, p.Confidence, 1e-9)

	assert.Equal(t, "dogscats", aws.StringValue(rt.in.EndpointName))
	assert.Equal(t, "image/jpeg", aws.StringValue(rt.in.ContentType))
	assert.Equal(t, "application/json", aws.StringValue(rt.in.Accept))
}

func TestClassifyErrors(t *testing.T) {
	c := NewWithRuntime("dogscats", &fakeRuntime{err: errors.New("throttled")})
	_, err := c.Classify(context.Background(), []byte{1})
	assert.ErrorContains(t, err, "throttled")

	c = NewWithRuntime("dogscats", &fakeRuntime{body: `{"error":"bad"}`})
	_, err = c.Classify(context.Background(), []byte{1})
	assert.Error(t, err)

	_, err = c.Classify(context.Background(), nil)
	assert.Error(t, err)
}
