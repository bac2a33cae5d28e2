package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"google.golang.org/genai"

	"github.com/PabloGalante/finadvisor/internal/app/tools"
	"github.com/PabloGalante/finadvisor/internal/domain"
)

type VertexConfig struct {
	Project  string
	Location string
	Model    string
}

type VertexClient struct {
	client    *genai.Client
	modelName string
}

// NewVertexClient creates an LLMClient based on Vertex AI (Gemini).
func NewVertexClient(ctx context.Context, cfg VertexConfig) (*VertexClient, error) {
	if cfg.Project == "" || cfg.Location == "" {
		return nil, fmt.Errorf("FINADVISOR_GCP_PROJECT and FINADVISOR_GCP_LOCATION must be set")
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  cfg.Project,
		Location: cfg.Location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}

	return &VertexClient{
		client:    client,
		modelName: modelName,
	}, nil
}

// Step implements domain.LLMClient using Vertex AI.
func (v *VertexClient) Step(ctx context.Context, req domain.StepRequest) (*domain.StepResult, error) {
	contents, err := toGenaiContents(req.History)
	if err != nil {
		return nil, err
	}

	decls, err := toFunctionDeclarations(req.Tools)
	if err != nil {
		return nil, err
	}

	temp := float32(0.4)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.Instructions, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   int32(8192),
	}
	if len(decls) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	res, err := v.client.Models.GenerateContent(ctx, v.modelName, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("vertex generate content: %w", err)
	}

	return fromGenaiResponse(res)
}

func fromGenaiResponse(res *genai.GenerateContentResponse) (*domain.StepResult, error) {
	out := &domain.StepResult{}
	for _, fc := range res.FunctionCalls() {
		args, err := json.Marshal(fc.Args)
		if err != nil {
			return nil, fmt.Errorf("encoding %s args: %w", fc.Name, err)
		}
		id := fc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{ID: id, Name: fc.Name, Arguments: args})
	}
	if len(out.ToolCalls) > 0 {
		return out, nil
	}

	out.Text = res.Text()
	if out.Text == "" {
		return nil, fmt.Errorf("vertex returned empty text")
	}
	return out, nil
}

// toGenaiContents maps the thread onto Gemini turns. Tool results travel as
// function responses in a user turn, right after the model turn that asked.
func toGenaiContents(history []domain.Exchange) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(history))
	for _, ex := range history {
		switch {
		case len(ex.ToolResults) > 0:
			parts := make([]*genai.Part, 0, len(ex.ToolResults))
			for _, r := range ex.ToolResults {
				var v any
				if err := json.Unmarshal([]byte(r.Output), &v); err != nil {
					v = r.Output
				}
				parts = append(parts, genai.NewPartFromFunctionResponse(r.Name, map[string]any{"output": v}))
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

		case len(ex.ToolCalls) > 0:
			var parts []*genai.Part
			if ex.Text != "" {
				parts = append(parts, genai.NewPartFromText(ex.Text))
			}
			for _, c := range ex.ToolCalls {
				args := map[string]any{}
				if len(c.Arguments) > 0 {
					if err := json.Unmarshal(c.Arguments, &args); err != nil {
						return nil, fmt.Errorf("decoding %s args: %w", c.Name, err)
					}
				}
				parts = append(parts, genai.NewPartFromFunctionCall(c.Name, args))
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))

		case ex.Role == domain.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(ex.Text, genai.RoleModel))

		default:
			contents = append(contents, genai.NewContentFromText(ex.Text, genai.RoleUser))
		}
	}
	return contents, nil
}

func toFunctionDeclarations(specs []domain.ToolSpec) ([]*genai.FunctionDeclaration, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		s, err := tools.ParseSchema(spec.Parameters)
		if err != nil {
			return nil, fmt.Errorf("parsing %s schema: %w", spec.Name, err)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  toGenaiSchema(s),
		})
	}
	return decls, nil
}

func toGenaiSchema(s *jsonschema.Schema) *genai.Schema {
	out := &genai.Schema{
		Type:        schemaType(s.Type),
		Description: s.Description,
		Required:    s.Required,
	}
	for _, e := range s.Enum {
		out.Enum = append(out.Enum, fmt.Sprint(e))
	}
	if s.Items != nil {
		out.Items = toGenaiSchema(s.Items)
	}
	if s.Properties != nil {
		out.Properties, out.PropertyOrdering = toGenaiProperties(s.Properties)
	}
	return out
}

// toGenaiProperties keeps declaration order so Gemini sees arguments the way the
// Go struct lists them.
func toGenaiProperties(props *orderedmap.OrderedMap[string, *jsonschema.Schema]) (map[string]*genai.Schema, []string) {
	out := make(map[string]*genai.Schema, props.Len())
	order := make([]string, 0, props.Len())
	for pair := props.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = toGenaiSchema(pair.Value)
		order = append(order, pair.Key)
	}
	return out, order
}

func schemaType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeUnspecified
	}
}
