package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dharani-backend/internal/lifecycle"
	"dharani-backend/internal/models"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	DefaultModel = "gemini-2.0-flash"

	// maxAnalysisImages bounds how many request images are sent for analysis.
	maxAnalysisImages = 3
	maxImageBytes     = 8 << 20
)

// Gemini generates timeline messages and waste analyses with Google's
// Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	http   *http.Client
	logger *zap.Logger
}

func NewGemini(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  model,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}, nil
}

// TimelineMessage implements lifecycle.MessageGenerator.
func (g *Gemini) TimelineMessage(ctx context.Context, p lifecycle.MessagePrompt) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(TimelinePrompt(p), genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.7),
		MaxOutputTokens: 100,
	})
	if err != nil {
		return "", fmt.Errorf("Gemini generate failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("Gemini returned no text")
	}
	g.logger.Debug("✅ [AI] Timeline message generated", zap.String("role", p.Role), zap.String("step", p.Step))
	return text, nil
}

// AnalyzeWaste implements lifecycle.WasteAnalyzer. Images are fetched from
// their public URLs; unreachable images are skipped.
func (g *Gemini) AnalyzeWaste(ctx context.Context, req *models.ServiceRequest) (*models.WasteAnalysis, error) {
	parts := []*genai.Part{genai.NewPartFromText(fmt.Sprintf(analysisPrompt, req.Description))}

	for _, url := range req.Images {
		if len(parts) > maxAnalysisImages {
			break
		}
		data, mime, err := g.fetchImage(ctx, url)
		if err != nil {
			g.logger.Warn("⚠️  [AI] Skipping image", zap.String("url", url), zap.Error(err))
			continue
		}
		parts = append(parts, genai.NewPartFromBytes(data, mime))
	}
	if len(parts) == 1 {
		return nil, errors.New("no images could be loaded for analysis")
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature:      genai.Ptr[float32](0.2),
			ResponseMIMEType: "application/json",
		})
	if err != nil {
		return nil, fmt.Errorf("Gemini vision failed: %w", err)
	}
	return ParseAnalysis(resp.Text(), models.SourceAI)
}

func (g *Gemini) fetchImage(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image fetch status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", err
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}
