package testutils

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellego/evalpipe/internal/ports"
)

func TestScriptedLLMClient_Complete(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(c *ScriptedLLMClient)
		userMessage string
		want        string
		wantErr     string
	}{
		{
			name: "queued replies come first",
			setup: func(c *ScriptedLLMClient) {
				c.AddResponse(ScriptedReply{Text: "pattern"})
				c.Enqueue(ScriptedReply{Text: "queued"})
			},
			userMessage: "anything",
			want:        "queued",
		},
		{
			name: "pattern matching ignores case",
			setup: func(c *ScriptedLLMClient) {
				c.AddResponse(ScriptedReply{Pattern: "Adjust", Text: "adjustment"})
				c.AddResponse(ScriptedReply{Text: "fallback"})
			},
			userMessage: "please ADJUST this",
			want:        "adjustment",
		},
		{
			name: "empty pattern is a catch-all",
			setup: func(c *ScriptedLLMClient) {
				c.AddResponse(ScriptedReply{Pattern: "adjust", Text: "adjustment"})
				c.AddResponse(ScriptedReply{Text: "fallback"})
			},
			userMessage: "score this",
			want:        "fallback",
		},
		{
			name:        "nothing scripted",
			setup:       func(*ScriptedLLMClient) {},
			userMessage: "score this",
			wantErr:     "no scripted reply",
		},
		{
			name:    "empty request",
			setup:   func(c *ScriptedLLMClient) { c.AddResponse(ScriptedReply{Text: "x"}) },
			wantErr: "prompt cannot be empty",
		},
		{
			name: "scripted error",
			setup: func(c *ScriptedLLMClient) {
				c.Enqueue(ScriptedReply{Err: errors.New("boom")})
			},
			userMessage: "score this",
			wantErr:     "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewScriptedLLMClient("test-model")
			tt.setup(client)

			resp, err := client.Complete(context.Background(), ports.CompletionRequest{UserMessage: tt.userMessage})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Text)
			assert.Equal(t, "test-model", resp.Model)
		})
	}
}

func TestScriptedLLMClient_RecordsRequests(t *testing.T) {
	client := NewScriptedLLMClient("m")
	client.AddResponse(ScriptedReply{Text: "ok", Usage: ports.TokenUsage{Input: 3, Output: 1}})

	req := ports.CompletionRequest{UserMessage: "one", MaxTokens: 10}
	resp, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Usage.Total())

	last, ok := client.LastRequest()
	require.True(t, ok)
	assert.Equal(t, req, last)
	assert.Equal(t, 1, client.CallCount())

	client.Reset()
	_, ok = client.LastRequest()
	assert.False(t, ok)
	assert.Empty(t, client.Requests())
}

func TestScriptedLLMClient_CancelledContext(t *testing.T) {
	client := NewScriptedLLMClient("m")
	client.AddResponse(ScriptedReply{Text: "ok"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Complete(ctx, ports.CompletionRequest{UserMessage: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, client.CallCount())
}

func TestScriptedLLMClient_Concurrent(t *testing.T) {
	client := NewScriptedLLMClient("m")
	client.AddResponse(ScriptedReply{Text: "ok"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Complete(context.Background(), ports.CompletionRequest{UserMessage: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, client.CallCount())
}

func TestScriptedLLMClient_EstimateTokens(t *testing.T) {
	client := NewScriptedLLMClient("m")
	for text, want := range map[string]int{"": 0, "ab": 1, "abcdefgh": 2} {
		n, err := client.EstimateTokens(text)
		require.NoError(t, err)
		assert.Equal(t, want, n, text)
	}
}
