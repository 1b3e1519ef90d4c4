package llamacpp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/object-detector/pkg/processing"
	"github.com/menta2k/object-detector/pkg/types"
)

func grayFrame(width, height int) types.AssembledFrame {
	data := make([]byte, processing.I420Size(width, height))
	for i := range data {
		data[i] = 128
	}
	return types.AssembledFrame{Data: data, Width: width, Height: height, Format: types.FormatYUV420Planar}
}

func completionServer(t *testing.T, status int, content interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		parts, _ := req.Messages[0].Content.([]interface{})
		require.Len(t, parts, 2)
		url := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})["url"].(string)
		assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(ChatCompletionResponse{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyzeStringContent(t *testing.T) {
	srv := completionServer(t, http.StatusOK, `{"objects":[{"box":{"x":0.5,"y":0,"w":0.5,"h":1},"labels":[{"text":"Place","confidence":0.5}]}]}`)

	c, err := NewClient(Config{URL: srv.URL + "/", Model: "minicpm", SendFormat: "png"}, types.DefaultDetectorOptions())
	require.NoError(t, err)
	defer c.Close()

	results, err := c.Analyze(context.Background(), grayFrame(20, 10))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.BoundingBox{Left: 10, Top: 0, Right: 20, Bottom: 10}, results[0].BoundingBox)
	assert.Equal(t, 3, results[0].Labels[0].Index)
}

func TestAnalyzePartContent(t *testing.T) {
	srv := completionServer(t, http.StatusOK, []interface{}{
		map[string]interface{}{"type": "text", "text": `{"objects": []}`},
	})

	c, err := NewClient(Config{URL: srv.URL, SendFormat: "png"}, types.DefaultDetectorOptions())
	require.NoError(t, err)

	results, err := c.Analyze(context.Background(), grayFrame(4, 4))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAnalyzeServerError(t *testing.T) {
	srv := completionServer(t, http.StatusInternalServerError, "")

	c, err := NewClient(Config{URL: srv.URL, SendFormat: "png"}, types.DefaultDetectorOptions())
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), grayFrame(4, 4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, fmt.Sprintf("%+v", err), "llamacpp.(*Client).sendRequest")
}
