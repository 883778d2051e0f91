package inference

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rensir56/SegTool-for-Jade/errors"
	"github.com/Rensir56/SegTool-for-Jade/handlers"
	"github.com/Rensir56/SegTool-for-Jade/pkg/codec"
	"github.com/Rensir56/SegTool-for-Jade/pkg/fingerprint"
	"github.com/Rensir56/SegTool-for-Jade/pkg/retry"
	"github.com/Rensir56/SegTool-for-Jade/pkg/tensor"
)

var fastRetry = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

func newClient(t *testing.T, srv *httptest.Server, encoding string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: srv.URL + "/", Encoding: encoding, Retry: fastRetry, Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func TestClient_EmbedJSON(t *testing.T) {
	emb, err := tensor.FromFloat32([]int{2}, []float32{1, 2})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathEmbed, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/img/a.png", req.ImagePath)
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: emb})
	}))
	defer srv.Close()

	got, err := newClient(t, srv, "").Embed(context.Background(), "/img/a.png")
	require.NoError(t, err)
	assert.Equal(t, emb.Data, got.Data)
	assert.Equal(t, []int{2}, got.Shape)
}

func TestClient_PredictCBOR(t *testing.T) {
	ser, err := codec.CBOR()
	require.NoError(t, err)
	mask := &tensor.Tensor{Version: tensor.Version, Shape: []int{1, 2}, DType: tensor.Uint8, Data: []byte{1, 0}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, codec.ContentTypeCBOR, r.Header.Get("Content-Type"))
		var req handlers.SegmentRequest
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, ser.Unmarshal(body, &req))
		assert.Len(t, req.Clicks, 1)
		assert.True(t, req.MultiMask)

		out, err := ser.Marshal(handlers.Prediction{Mask: mask, Score: 0.5})
		require.NoError(t, err)
		w.Header().Set("Content-Type", codec.ContentTypeCBOR)
		_, _ = w.Write(out)
	}))
	defer srv.Close()

	pred, err := newClient(t, srv, "cbor").Predict(context.Background(), handlers.SegmentRequest{
		ImagePath: "/img/a.png",
		Clicks:    []fingerprint.Point{{X: 1, Y: 2, Category: 1}},
		MultiMask: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.5, pred.Score)
	assert.Equal(t, mask.Data, pred.Mask.Data)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(handlers.DetectionResult{
			Detections: []handlers.Detection{{Class: "artifact", Confidence: 0.8}},
			PageID:     4,
		})
	}))
	defer srv.Close()

	res, err := newClient(t, srv, "json").Detect(context.Background(), "/p4.png", 4)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 4, res.PageID)
	require.Len(t, res.Detections, 1)
}

func TestClient_ErrorClassification(t *testing.T) {
	t.Run("client error is invalid and not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "image not found", http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := newClient(t, srv, "json").Detect(context.Background(), "/nope.png", 1)
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
		assert.Contains(t, err.Error(), "image not found")
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("persistent server error is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := newClient(t, srv, "json").Embed(context.Background(), "/a.png")
		require.Error(t, err)
		assert.True(t, errors.IsTransient(err))
	})

	t.Run("malformed embedding is invalid", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"embedding":{"v":1,"shape":[4],"dtype":"float32","data":"AAAA"}}`))
		}))
		defer srv.Close()

		_, err := newClient(t, srv, "json").Embed(context.Background(), "/a.png")
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})
}

func TestClient_Ping(t *testing.T) {
	healthy := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathHealth, r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()
	c := newClient(t, srv, "json")

	require.Error(t, c.Ping(context.Background()))
	healthy.Store(true)
	require.NoError(t, c.Ping(context.Background()))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	_, err = New(Config{BaseURL: "not a url"})
	require.Error(t, err)
	_, err = New(Config{BaseURL: "http://gpu:8000", Encoding: "xml"})
	require.Error(t, err)
}
