package answer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medichat-go/internal/config"
	"medichat-go/internal/model"
)

func TestSubmitReturnsContentAndCitations(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "<p>高血压随访建议…</p>"}},
			},
			"citations": []map[string]interface{}{
				{"id": "c1", "title": "Hypertension Guideline", "year": 2023},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(config.AnswerConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "test-model"})
	res, err := c.Submit(context.Background(), "血压控制目标？", nil)
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Equal(t, "<p>高血压随访建议…</p>", res.Content)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, "Hypertension Guideline", res.Citations[0].Title)

	// 非流式调用，病人为空时 system 消息声明无档案
	assert.False(t, gotReq.Stream)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Contains(t, gotReq.Messages[0].Content, "未关联病人档案")
}

func TestSubmitRendersPatientContext(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	patient := &model.PatientRecord{
		ID:       "p1",
		FullName: "张三",
		Age:      58,
		Sex:      "男",
		Medications: []model.Medication{
			{ID: "m1", Name: "氨氯地平", Dosage: "5mg", Frequency: "qd"},
		},
	}

	c := NewClient(config.AnswerConfig{BaseURL: srv.URL, Model: "test-model"})
	_, err := c.Submit(context.Background(), "用药有什么要注意的？", patient)
	require.NoError(t, err)

	sys := gotReq.Messages[0].Content
	assert.Contains(t, sys, "张三")
	assert.Contains(t, sys, "氨氯地平")
}

func TestSubmitGatewayErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "额度已用尽"},
		})
	}))
	defer srv.Close()

	c := NewClient(config.AnswerConfig{BaseURL: srv.URL})
	res, err := c.Submit(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "额度已用尽", res.Content)
}

func TestSubmitNon200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(config.AnswerConfig{BaseURL: srv.URL})
	_, err := c.Submit(context.Background(), "q", nil)
	assert.Error(t, err)
}

func TestSubmitHonoursCancellation(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(config.AnswerConfig{BaseURL: srv.URL})
	_, err := c.Submit(ctx, "q", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
