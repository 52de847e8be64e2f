package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"vimani/internal/config"
	"vimani/internal/errs"
	"vimani/internal/model"
)

const systemPrompt = "You are a planner. Return JSON only. Output must be either:\n" +
	"1) {'role':'assistant','type':'form','text':..., 'fields':[{'key':'<string>','label':'<string>','type':'text|number|select|textarea','required':true|false,'placeholder':null|'<string>','options':[]}...]}\n" +
	"2) {'role':'assistant','type':'plan','plan': {'plan_id':'<string>','tool_key':'<string>','objective':'<string>','steps':[{'step_id':'S1','op_id':'<string>','params':{},'depends_on':[]}]}}\n" +
	"For plans: params must always be present (use {} if none). step_id like 'S1','S2', depends_on as list of step_ids. " +
	"Only use op_id values from operation_registry. If validation_errors is not empty, return a corrected plan."

const defaultFormText = "Please provide the following details."

var fieldTypes = map[string]bool{
	model.FieldText:     true,
	model.FieldNumber:   true,
	model.FieldSelect:   true,
	model.FieldTextarea: true,
}

// LLM plans through the OpenAI Responses API.
type LLM struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	log     zerolog.Logger
}

// NewLLM requires an API key. A nil httpClient gets an instrumented default.
func NewLLM(cfg config.PlannerConfig, httpClient *http.Client, log zerolog.Logger) (*LLM, error) {
	if cfg.APIKey == "" {
		return nil, errs.New(model.SourcePlanner, errs.CodePlannerMissingAPIKey,
			"OPENAI_API_KEY is not set; cannot use the LLM planner")
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &LLM{
		client:  httpClient,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		log:     log.With().Str("component", "planner").Str("model", cfg.Model).Logger(),
	}, nil
}

func (p *LLM) Describe() string { return "planner=LLMPlanner model=" + p.model }

// Next calls the model once and, if the output cannot be used, once more with
// a corrective instruction. When both attempts fail the first error is returned.
func (p *LLM) Next(ctx context.Context, in Input) (Output, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return Output{}, fmt.Errorf("encode planner input: %w", err)
	}

	data, err := p.call(ctx, payload, "")
	if err != nil {
		return Output{}, err
	}
	out, firstErr := processOutput(data, in.ToolKey)
	if firstErr == nil {
		return out, nil
	}

	p.log.Warn().Err(firstErr).Msg("planner output rejected, retrying with corrective instruction")
	corrective := fmt.Sprintf("Previous output was invalid: %s. Please ensure the output matches the required format exactly.",
		errs.EnvelopeOf(firstErr, errs.CodePlannerInvalidOutput).Message)

	data, err = p.call(ctx, payload, corrective)
	if err != nil {
		return Output{}, firstErr
	}
	out, err = processOutput(data, in.ToolKey)
	if err != nil {
		return Output{}, firstErr
	}
	return out, nil
}

type responsesRequest struct {
	Model string          `json:"model"`
	Input []inputMessage  `json:"input"`
	Text  responsesFormat `json:"text"`
}

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesFormat struct {
	Format struct {
		Type string `json:"type"`
	} `json:"format"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

func (p *LLM) call(ctx context.Context, payload []byte, corrective string) (map[string]any, error) {
	system := systemPrompt
	if corrective != "" {
		system += "\n\nCORRECTIVE INSTRUCTION: " + corrective
	}

	reqBody := responsesRequest{
		Model: p.model,
		Input: []inputMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: string(payload)},
		},
	}
	reqBody.Text.Format.Type = "json_object"

	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode responses request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/responses", bytes.NewReader(raw))
	if err != nil {
		return nil, callFailed(err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	p.log.Debug().Bool("corrective", corrective != "").Msg("calling model")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, callFailed(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, callFailed(err)
	}
	if resp.StatusCode/100 != 2 {
		snippet := string(body)
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		return nil, callFailed(fmt.Errorf("status %d: %s", resp.StatusCode, snippet))
	}

	var rr responsesResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, invalidOutput(fmt.Sprintf("Planner LLM returned invalid JSON: %v", err))
	}
	text, ok := firstText(rr)
	if !ok {
		return nil, invalidOutput("Planner LLM returned invalid JSON: response has no text output")
	}

	var content any
	if err := json.Unmarshal([]byte(text), &content); err != nil {
		return nil, invalidOutput(fmt.Sprintf("Planner LLM returned invalid JSON: %v", err))
	}
	obj, ok := content.(map[string]any)
	if !ok {
		return nil, invalidOutput("Planner LLM output must be a JSON object.")
	}
	return obj, nil
}

func firstText(rr responsesResponse) (string, bool) {
	for _, item := range rr.Output {
		for _, c := range item.Content {
			if c.Text != "" {
				return c.Text, true
			}
		}
	}
	return "", false
}

func processOutput(data map[string]any, toolKey string) (Output, error) {
	switch data["type"] {
	case string(OutputForm):
		return processForm(data)
	case string(OutputPlan):
		return processPlan(data, toolKey)
	default:
		return Output{}, invalidOutput(fmt.Sprintf("Planner LLM output must have type 'form' or 'plan', got: %v", data["type"]))
	}
}

func processForm(data map[string]any) (Output, error) {
	text, ok := data["text"].(string)
	if !ok {
		return Output{}, invalidOutput("Planner form output must include 'text' as a string.")
	}
	if strings.TrimSpace(text) == "" {
		text = defaultFormText
	}

	fields, err := parseFields(data["fields"])
	if err != nil {
		return Output{}, err
	}
	return Output{Role: model.RoleAssistant, Type: OutputForm, Text: text, Fields: fields}, nil
}

func parseFields(raw any) ([]model.MessageField, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, invalidOutput("Planner form output must include 'fields' as a list.")
	}
	if len(list) == 0 {
		return nil, invalidOutput("Planner form output must include at least one field in 'fields'.")
	}

	fields := make([]model.MessageField, 0, len(list))
	for idx, item := range list {
		f, ok := item.(map[string]any)
		if !ok {
			return nil, fieldErr(idx, "must be an object.")
		}
		if _, ok := f["label"]; !ok {
			return nil, fieldErr(idx, "missing required key 'label'")
		}
		if _, ok := f["type"]; !ok {
			return nil, fieldErr(idx, "missing required key 'type'")
		}
		if _, ok := f["key"]; !ok {
			if id, ok := f["id"]; ok {
				f["key"] = id
			}
		}

		var field model.MessageField
		if field.Key, ok = f["key"].(string); !ok {
			return nil, fieldErr(idx, "must have 'key' or 'id' as a string.")
		}
		if field.Label, ok = f["label"].(string); !ok {
			return nil, fieldErr(idx, "'label' must be a string.")
		}
		if field.Type, ok = f["type"].(string); !ok || !fieldTypes[field.Type] {
			return nil, fieldErr(idx, "'type' must be one of: text, number, select, textarea")
		}
		if v, present := f["required"]; present {
			if field.Required, ok = v.(bool); !ok {
				return nil, fieldErr(idx, "'required' must be a boolean.")
			}
		}
		switch v := f["placeholder"].(type) {
		case nil:
		case string:
			field.Placeholder = model.StrPtr(v)
		default:
			return nil, fieldErr(idx, "'placeholder' must be a string or null.")
		}

		field.Options = []model.Choice{}
		if v, present := f["options"]; present && v != nil {
			opts, ok := v.([]any)
			if !ok {
				return nil, fieldErr(idx, "'options' must be an array.")
			}
			for optIdx, o := range opts {
				om, ok := o.(map[string]any)
				if !ok {
					return nil, optionErr(idx, optIdx, "must be an object.")
				}
				id, idOK := om["id"].(string)
				label, labelOK := om["label"].(string)
				if !idOK || !labelOK {
					return nil, optionErr(idx, optIdx, "must have 'id' and 'label' as strings.")
				}
				field.Options = append(field.Options, model.Choice{ID: id, Label: label})
			}
		}
		fields = append(fields, field)
	}
	return fields, nil
}

func processPlan(data map[string]any, toolKey string) (Output, error) {
	planObj, ok := data["plan"].(map[string]any)
	if !ok {
		if steps, present := data["steps"]; present {
			planObj, ok = map[string]any{"steps": steps}, true
		}
	}
	if !ok {
		return Output{}, invalidOutput("Planner plan output must include 'plan' as an object or 'steps' array.")
	}

	if _, ok := planObj["plan_id"]; !ok {
		planObj["plan_id"] = uuid.NewString()
	}
	if _, ok := planObj["tool_key"]; !ok {
		planObj["tool_key"] = toolKey
	}
	if _, ok := planObj["objective"]; !ok {
		planObj["objective"] = ""
	}
	if _, ok := planObj["steps"]; !ok {
		planObj["steps"] = []any{}
	}
	if steps, ok := planObj["steps"].([]any); ok {
		for _, s := range steps {
			if sm, ok := s.(map[string]any); ok {
				if _, ok := sm["params"]; !ok {
					sm["params"] = map[string]any{}
				}
			}
		}
	}

	raw, err := json.Marshal(planObj)
	if err != nil {
		return Output{}, invalidOutput(fmt.Sprintf("Planner LLM returned an invalid plan object: %v", err))
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var plan model.Plan
	if err := dec.Decode(&plan); err != nil {
		return Output{}, invalidOutput(fmt.Sprintf("Planner LLM returned an invalid plan object: %v", err))
	}
	plan.Normalize()
	return Output{Role: model.RoleAssistant, Type: OutputPlan, Plan: &plan}, nil
}

func invalidOutput(msg string) error {
	return errs.New(model.SourcePlanner, errs.CodePlannerInvalidOutput, msg).Retryable()
}

func callFailed(err error) error {
	return errs.Wrap(err, model.SourcePlanner, errs.CodePlannerCallFailed,
		fmt.Sprintf("Planner LLM call failed: %v", err)).Retryable()
}

func fieldErr(idx int, msg string) error {
	return invalidOutput(fmt.Sprintf("Planner form field at index %d: %s", idx, msg))
}

func optionErr(idx, optIdx int, msg string) error {
	return invalidOutput(fmt.Sprintf("Planner form field at index %d, option at index %d: %s", idx, optIdx, msg))
}
