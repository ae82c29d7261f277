package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arenabench/arena/pkg/errdefs"
	"github.com/arenabench/arena/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFiles() map[string]string {
	return map[string]string{
		"package.json": `{"scripts":{"build":"next build","start":"next start"}}`,
		"app/page.tsx": "export default function Page() {}",
	}
}

func TestValidateFiles(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[string]string)
		wantErr string
	}{
		{
			name:   "valid set",
			mutate: func(f map[string]string) {},
		},
		{
			name:    "empty set",
			mutate:  func(f map[string]string) { delete(f, "package.json"); delete(f, "app/page.tsx") },
			wantErr: "missing required file",
		},
		{
			name:    "no manifest",
			mutate:  func(f map[string]string) { delete(f, "package.json") },
			wantErr: "missing required file",
		},
		{
			name:    "malformed manifest",
			mutate:  func(f map[string]string) { f["package.json"] = "{not json" },
			wantErr: "malformed",
		},
		{
			name: "missing build script",
			mutate: func(f map[string]string) {
				f["package.json"] = `{"scripts":{"start":"next start"}}`
			},
			wantErr: `missing script "build"`,
		},
		{
			name: "missing start script",
			mutate: func(f map[string]string) {
				f["package.json"] = `{"scripts":{"build":"next build"}}`
			},
			wantErr: `missing script "start"`,
		},
		{
			name:    "no page file",
			mutate:  func(f map[string]string) { delete(f, "app/page.tsx") },
			wantErr: "no page-level source file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := validFiles()
			tt.mutate(files)
			err := ValidateFiles(files)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errdefs.IsValidation(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsPageFile(t *testing.T) {
	assert.True(t, isPageFile("app/page.tsx"))
	assert.True(t, isPageFile("app/about/page.jsx"))
	assert.True(t, isPageFile("pages/index.js"))
	assert.False(t, isPageFile("lib/page.go"))
	assert.False(t, isPageFile("styles/globals.css"))
	assert.False(t, isPageFile("package.json"))
}

func TestGatewayClientGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generate", r.URL.Path)
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "openai", req.Provider)
		assert.Equal(t, "gpt-4o", req.Model)

		_ = json.NewEncoder(w).Encode(generateResponse{Files: validFiles()})
	}))
	defer server.Close()

	g := NewGatewayClient(server.URL, "sekrit")
	files, err := g.Generate(context.Background(), "build a landing page", types.ProviderOpenAI, "gpt-4o")
	require.NoError(t, err)
	assert.Contains(t, files, "package.json")
}

func TestGatewayClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream model unavailable"))
	}))
	defer server.Close()

	g := NewGatewayClient(server.URL, "")
	_, err := g.Generate(context.Background(), "prompt", types.ProviderMeta, "llama-4")
	require.Error(t, err)
	assert.True(t, errdefs.IsGeneration(err))
	assert.Contains(t, err.Error(), "upstream model unavailable")
}

func TestGatewayClientCancelable(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := NewGatewayClient(server.URL, "")
	_, err := g.Generate(ctx, "prompt", types.ProviderGoogle, "gemini-2.5-pro")
	assert.Error(t, err)
}
