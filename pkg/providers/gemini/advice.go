package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/agrivoice/pkg/core/advice"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
)

const systemPrompt = `You are an agronomy data assistant for smallholder farmers.
Answer only with a single JSON object that validates against the JSON schema you are given.
Do not add prose, markdown, or comments. Use metric units.`

// FetchForecast implements orchestrator.DataService.
func (c *Client) FetchForecast(ctx context.Context, location string, lang i18n.Language) (advice.Forecast, error) {
	var out advice.Forecast
	prompt := fmt.Sprintf("Give the 7-day weather forecast for %s. Name days in %s.", location, lang.Name())
	cites, err := c.fetch(ctx, advice.KindForecast, prompt, &out)
	if err != nil {
		return advice.Forecast{}, err
	}
	out.Citations = advice.MergeCitations(out.Citations, cites)
	return out, nil
}

// FetchSoil implements orchestrator.DataService.
func (c *Client) FetchSoil(ctx context.Context, location string, lang i18n.Language) (advice.SoilReport, error) {
	var out advice.SoilReport
	prompt := fmt.Sprintf("Report typical topsoil properties for farmland around %s: available nitrogen, "+
		"phosphorus and potassium in kg/ha, pH, volumetric moisture percent, organic carbon percent, "+
		"clay and sand percent, and the USDA texture class in %s.", location, lang.Name())
	cites, err := c.fetch(ctx, advice.KindSoil, prompt, &out)
	if err != nil {
		return advice.SoilReport{}, err
	}
	out.Citations = advice.MergeCitations(out.Citations, cites)
	return out, nil
}

// FetchMarket implements orchestrator.DataService.
func (c *Client) FetchMarket(ctx context.Context, location string, lang i18n.Language) (advice.Market, error) {
	var out advice.Market
	prompt := fmt.Sprintf("List current wholesale prices per quintal for the main crops traded near %s, "+
		"in local currency, with the recent trend (rising, falling or stable), percent change over the "+
		"last month, and whether there is export demand. Crop names in %s.", location, lang.Name())
	cites, err := c.fetch(ctx, advice.KindMarket, prompt, &out)
	if err != nil {
		return advice.Market{}, err
	}
	out.Citations = advice.MergeCitations(out.Citations, cites)
	return out, nil
}

// Synthesize implements orchestrator.DataService.
func (c *Client) Synthesize(ctx context.Context, in advice.SynthesisInput) (advice.Advice, error) {
	data, err := json.Marshal(struct {
		Location string               `json:"location"`
		Forecast advice.Forecast      `json:"forecast"`
		Alert    advice.Alert         `json:"alert"`
		Soil     advice.SoilProfile   `json:"soil"`
		Market   advice.MarketOutlook `json:"market"`
	}{in.Location, in.Forecast, in.Alert, in.Soil, in.Market})
	if err != nil {
		return advice.Advice{}, err
	}
	prompt := fmt.Sprintf("Using only the data below, recommend crops for %s, a sowing plan, and soil "+
		"management tips. The summary is read aloud to the farmer: two or three short sentences, no lists. "+
		"Write every text field in %s.\n\nDATA:\n%s", in.Location, in.Language.Name(), data)

	var out advice.Advice
	if _, err := c.generateRecord(ctx, advice.KindAdvice, prompt, false, &out); err != nil {
		return advice.Advice{}, err
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, kind advice.Kind, prompt string, out any) ([]advice.Citation, error) {
	return c.generateRecord(ctx, kind, prompt, c.grounding, out)
}

// generateRecord asks the model for one record of kind and decodes it into
// out. With grounding, the schema goes into the prompt because search tools
// cannot be combined with JSON response mode.
func (c *Client) generateRecord(ctx context.Context, kind advice.Kind, prompt string, grounded bool, out any) ([]advice.Citation, error) {
	schema, err := advice.Schema(kind)
	if err != nil {
		return nil, err
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.2),
	}
	if grounded {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
		prompt += "\n\nJSON schema:\n" + string(schema)
	} else {
		var js map[string]any
		if err := json.Unmarshal(schema, &js); err != nil {
			return nil, err
		}
		delete(js, "$schema")
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = js
	}

	var resp *genai.GenerateContentResponse
	err = c.withRetry(ctx, func() error {
		var err error
		resp, err = c.gen.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
		return err
	})
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, &Error{Type: ErrEmptyResponse, Message: fmt.Sprintf("no %s record in response", kind)}
	}
	if err := advice.Decode(kind, []byte(text), out); err != nil {
		return nil, err
	}
	return citations(resp), nil
}

// citations extracts web sources from grounding metadata.
func citations(resp *genai.GenerateContentResponse) []advice.Citation {
	var out []advice.Citation
	for _, cand := range resp.Candidates {
		if cand == nil || cand.GroundingMetadata == nil {
			continue
		}
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			title := chunk.Web.Title
			if title == "" {
				title = chunk.Web.Domain
			}
			out = append(out, advice.Citation{Title: title, URI: chunk.Web.URI})
		}
	}
	return advice.MergeCitations(out)
}
