package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"google.golang.org/genai"

	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
)

type GeminiConfig struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

// Gemini asks a Gemini model for the country a location string most likely refers to.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &core.ConfigurationError{Stage: "gemini", Missing: []string{"GEMINI_API_KEY"}}
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, &core.ConfigurationError{Stage: "gemini", Missing: []string{"GEMINI_MODEL"}}
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Gemini{client: client, model: strings.TrimSpace(cfg.Model)}, nil
}

type countryAnswer struct {
	CountryCode string `json:"country_code"`
	Confidence  string `json:"confidence"`
}

var countrySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"country_code": {Type: genai.TypeString},
		"confidence":   {Type: genai.TypeString},
	},
	Required: []string{"country_code", "confidence"},
}

var alpha2 = regexp.MustCompile(`^[a-z]{2}$`)

func (g *Gemini) Resolve(ctx context.Context, location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", ErrNotFound
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(buildPrompt(location)), &genai.GenerateContentConfig{
		CandidateCount:   1,
		ResponseMIMEType: "application/json",
		ResponseSchema:   countrySchema,
	})
	if err != nil {
		return "", classifyErr(err)
	}
	return parseAnswer(resp.Text())
}

func parseAnswer(text string) (string, error) {
	var ans countryAnswer
	if err := json.Unmarshal([]byte(text), &ans); err != nil {
		return "", fmt.Errorf("gemini: parse structured json: %w", err)
	}
	code := strings.ToLower(strings.TrimSpace(ans.CountryCode))
	if !alpha2.MatchString(code) || strings.EqualFold(strings.TrimSpace(ans.Confidence), "low") {
		return "", ErrNotFound
	}
	return code, nil
}

func buildPrompt(location string) string {
	return strings.TrimSpace(`
You map the free-text location field of a social media profile to a country.

Return ONLY a single JSON object with these keys:
- country_code (string; ISO 3166-1 alpha-2, lower case)
- confidence (string; one of: low, medium, high)

Rules:
- If the text is not a real place, or spans several countries, set country_code to an empty string.
- Do not include extra keys.

Location: ` + location + `
`)
}

// classifyErr marks failures worth retrying: quota, server errors, and network timeouts.
func classifyErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return &core.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &core.TransientError{Err: err}
	}
	return err
}
