package learner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule(t *testing.T) {
	s := Schedule(4, 0.001)
	require.Len(t, s, 2)

	assert.False(t, s[0].Unfreeze)
	assert.Equal(t, 1, s[0].Epochs)
	assert.Equal(t, 0.001, s[0].LRMax)

	assert.True(t, s[1].Unfreeze)
	assert.Equal(t, 4, s[1].Epochs)
	assert.Equal(t, 1e-5, s[1].LRMin)
	assert.Equal(t, 3e-4, s[1].LRMax)
	assert.Equal(t, 0.05, s[1].PctStart)
}

func TestSubmit(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/train", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(Response{
			WeightsFile: "resnet34.onnx",
			Result:      Result{Epochs: 2, ValidationAccuracy: []float32{0.97, 0.98}},
		})
	}))
	defer srv.Close()

	c := New(Config{Host: strings.TrimPrefix(srv.URL, "http://")})
	res, err := c.Submit(context.Background(), Request{
		Arch:     "resnet34",
		Labels:   []string{"cats", "dogs"},
		Schedule: Schedule(2, 0.001),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, got.JobID)
	assert.Equal(t, got.JobID, res.JobID)
	assert.Equal(t, "resnet34", got.Arch)
	assert.Len(t, got.Schedule, 2)
	assert.Equal(t, "resnet34.onnx", res.WeightsFile)
	assert.Equal(t, []float32{0.97, 0.98}, res.Result.ValidationAccuracy)
}

func TestSubmitFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of memory", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{Host: strings.TrimPrefix(srv.URL, "http://")})
	_, err := c.Submit(context.Background(), Request{JobID: "job-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job-1")
	assert.Contains(t, err.Error(), "out of memory")
}
