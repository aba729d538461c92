package provider

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/teranos/tren/am"
	"github.com/teranos/tren/errors"
)

// Params is the JSON object stored in a model's params. Every field is
// optional and falls back to the backend section of the configuration.
type Params struct {
	BaseURL     string   `json:"base_url,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	APIKeyEnv   string   `json:"api_key_env,omitempty"`
}

// ParseParams decodes raw model params. Empty input yields zero Params.
func ParseParams(raw string) (Params, error) {
	var p Params
	if strings.TrimSpace(raw) == "" {
		return p, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Params{}, errors.Wrap(err, "invalid model params")
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
		return Params{}, errors.Newf("invalid model params: temperature must be within [0, 2], got %g", *p.Temperature)
	}
	if p.MaxTokens != nil && *p.MaxTokens <= 0 {
		return Params{}, errors.Newf("invalid model params: max_tokens must be > 0, got %d", *p.MaxTokens)
	}
	return p, nil
}

// Endpoint is a fully resolved backend call target
type Endpoint struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature *float64
	MaxTokens   *int
}

// Resolve fills unset params from the backend defaults. The backend model
// falls back to the tren model id when neither names one.
func (p Params) Resolve(modelID string, backend am.BackendConfig) (Endpoint, error) {
	ep := Endpoint{
		BaseURL:     backend.BaseURL,
		APIKey:      backend.APIKey,
		Model:       backend.Model,
		Temperature: backend.Temperature,
		MaxTokens:   backend.MaxTokens,
	}
	if p.BaseURL != "" {
		ep.BaseURL = p.BaseURL
	}
	if p.Model != "" {
		ep.Model = p.Model
	}
	if ep.Model == "" {
		ep.Model = modelID
	}
	if p.Temperature != nil {
		ep.Temperature = p.Temperature
	}
	if p.MaxTokens != nil {
		ep.MaxTokens = p.MaxTokens
	}
	if p.APIKeyEnv != "" {
		key, ok := os.LookupEnv(p.APIKeyEnv)
		if !ok || key == "" {
			return Endpoint{}, errors.WithHint(
				errors.Newf("api key variable %s is not set", p.APIKeyEnv),
				"export the variable in the environment of the pulse daemon",
			)
		}
		ep.APIKey = key
	}
	if ep.BaseURL == "" {
		return Endpoint{}, errors.New("no base_url in model params or backend config")
	}
	return ep, nil
}
