package adapter_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/lakeagent/pkg/adapter"
	"google.golang.org/genai"
)

func newTestGemini(t *testing.T) *adapter.GeminiClient {
	t.Helper()
	ctx := context.Background()

	if key := os.Getenv("TEST_GEMINI_API_KEY"); key != "" {
		client, err := adapter.NewGemini(ctx, "", "", adapter.WithGeminiAPIKey(key))
		gt.NoError(t, err)
		return client
	}

	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT or TEST_GEMINI_API_KEY is not set")
	}
	client, err := adapter.NewGemini(ctx, projectID, "us-central1")
	gt.NoError(t, err)
	return client
}

func TestGeminiListTablesPrompt(t *testing.T) {
	client := newTestGemini(t)
	gt.Equal(t, client.Model(), adapter.DefaultGeminiModel)

	contents := []*genai.Content{
		genai.NewContentFromText("Reply with one SQL statement that lists tables in PostgreSQL.", genai.RoleUser),
	}
	temp := float32(0)
	resp, err := client.GenerateContent(context.Background(), contents, &genai.GenerateContentConfig{Temperature: &temp})
	gt.NoError(t, err)

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		t.Fatal("empty response")
	}
	t.Log("response:", resp.Text())
}

func TestNewGeminiRequiresProject(t *testing.T) {
	_, err := adapter.NewGemini(context.Background(), "", "us-central1")
	gt.Error(t, err)
}

func TestGenerativeModelOverride(t *testing.T) {
	// An API key avoids the Vertex AI project check; no request is sent.
	client, err := adapter.NewGemini(context.Background(), "", "",
		adapter.WithGeminiAPIKey("dummy"),
		adapter.WithGenerativeModel("gemini-2.5-pro"),
		adapter.WithGenerativeModel(""),
	)
	gt.NoError(t, err)
	gt.Equal(t, client.Model(), "gemini-2.5-pro")
}
