package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/james-fu/sagemaker-fastai-example/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndList(t *testing.T) {
	am, err := New(Config{
		DriverName: "sqlite3",
		ConnInfo:   filepath.Join(t.TempDir(), "audit.db"),
	})
	require.NoError(t, err)
	defer am.Destroy()

	am.Record("r1", "resnet34", inference.Prediction{Class: "cats", Confidence: 0.8}, 100, 5*time.Millisecond)
	am.Record("r2", "resnet34", inference.Prediction{Class: "dogs", Confidence: 0.6}, 200, 7*time.Millisecond)
	am.Record("r3", "resnet34", inference.Prediction{Class: "cats", Confidence: 0.9}, 300, 9*time.Millisecond)

	result, err := am.List("", "", 0)
	require.NoError(t, err)

	infos := result.(map[string]interface{})["infos"].(map[string]interface{})
	assert.Equal(t, 3, infos["total"])
	assert.Equal(t, map[string]int64{"cats": 2, "dogs": 1}, infos["counts"])

	result, err = am.List("resnet34", "dogs", 10)
	require.NoError(t, err)
	infos = result.(map[string]interface{})["infos"].(map[string]interface{})
	assert.Equal(t, 1, infos["total"])
}
