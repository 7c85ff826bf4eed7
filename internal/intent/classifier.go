package intent

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"voyager-backend/internal/llm"
)

//go:embed prompts/intent.yaml
var defaultPrompt []byte

const apology = "Sorry, I didn't quite catch that. Could you say it another way?"

type PromptSpec struct {
	System  string `yaml:"system"`
	Intents []struct {
		Name        string            `yaml:"name"`
		Description string            `yaml:"description"`
		Parameters  ParamDocs `yaml:"parameters"`
	} `yaml:"intents"`
	Style struct {
		Temperature  float32 `yaml:"temperature"`
		MaxTokens    int     `yaml:"max_tokens"`
		HistoryTurns int     `yaml:"history_turns"`
	} `yaml:"style"`
}

// ParamDoc describes one parameter of an intent.
type ParamDoc struct {
	Name        string
	Description string
}

// ParamDocs keeps parameters in the order the prompt file lists them.
type ParamDocs []ParamDoc

func (p *ParamDocs) UnmarshalYAML(n *yaml.Node) error {
	if n.ShortTag() == "!!null" {
		*p = nil
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return errors.Errorf("line %d: parameters must be a mapping", n.Line)
	}
	out := make(ParamDocs, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		var d ParamDoc
		if err := n.Content[i].Decode(&d.Name); err != nil {
			return err
		}
		if err := n.Content[i+1].Decode(&d.Description); err != nil {
			return err
		}
		out = append(out, d)
	}
	*p = out
	return nil
}

// ParseError means the completion was empty or not the expected JSON object.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "intent parse: " + e.Err.Error()
	}
	return "intent parse: empty completion"
}

func (e *ParseError) Unwrap() error { return e.Err }

type Classification struct {
	Kind     Kind
	Params   Params
	Response string
	// Raw is the unparsed completion text.
	Raw string
}

type Classifier struct {
	spec   PromptSpec
	system string
	llm    llm.Completer
}

// LoadClassifier reads a prompt spec from path, or the embedded default when
// path is empty.
func LoadClassifier(path string, completer llm.Completer) (*Classifier, error) {
	b := defaultPrompt
	if path != "" {
		var err error
		b, err = os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read intent prompt")
		}
	}
	var spec PromptSpec
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return nil, errors.Wrap(err, "parse intent prompt")
	}
	return NewClassifier(spec, completer), nil
}

func NewClassifier(spec PromptSpec, completer llm.Completer) *Classifier {
	if spec.Style.Temperature <= 0 {
		spec.Style.Temperature = 0.1
	}
	if spec.Style.MaxTokens <= 0 {
		spec.Style.MaxTokens = 300
	}
	if spec.Style.HistoryTurns < 0 {
		spec.Style.HistoryTurns = 0
	}
	return &Classifier{spec: spec, system: buildSystem(spec), llm: completer}
}

func buildSystem(spec PromptSpec) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(spec.System))
	b.WriteString("\n\nIntents:\n")
	for _, in := range spec.Intents {
		fmt.Fprintf(&b, "- %s: %s\n", in.Name, in.Description)
		for _, p := range in.Parameters {
			fmt.Fprintf(&b, "    %s: %s\n", p.Name, p.Description)
		}
	}
	b.WriteString("\nOutput ONLY the JSON object.")
	return b.String()
}

// Classify asks the model for {intent, parameters, response}. history holds
// earlier exchanges, oldest first; only the most recent ones are sent.
func (c *Classifier) Classify(ctx context.Context, text string, history []llm.Message) (Classification, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Classification{}, &ParseError{Err: errors.New("empty utterance")}
	}
	if n := c.spec.Style.HistoryTurns * 2; len(history) > n {
		history = history[len(history)-n:]
	}
	messages := append(append([]llm.Message(nil), history...), llm.Message{Role: llm.RoleUser, Content: text})

	raw, err := c.llm.Complete(ctx, llm.Request{
		System:      c.system,
		Messages:    messages,
		Temperature: c.spec.Style.Temperature,
		MaxTokens:   c.spec.Style.MaxTokens,
		JSON:        true,
	})
	if err != nil {
		return Classification{}, err
	}
	cl, err := Parse(raw)
	if err != nil {
		return Classification{}, err
	}
	log.Debug().Str("intent", string(cl.Kind)).Interface("params", cl.Params).Msg("classified utterance")
	return cl, nil
}

type wireClassification struct {
	Intent     string         `json:"intent"`
	Parameters map[string]any `json:"parameters"`
	Response   string         `json:"response"`
}

// Parse decodes a completion. When the text is not bare JSON the outermost
// {...} span is tried before giving up.
func Parse(raw string) (Classification, error) {
	if strings.TrimSpace(raw) == "" {
		return Classification{}, &ParseError{Raw: raw}
	}
	var out wireClassification
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		first := strings.IndexByte(raw, '{')
		last := strings.LastIndexByte(raw, '}')
		if first < 0 || last <= first {
			return Classification{}, &ParseError{Raw: raw, Err: err}
		}
		out = wireClassification{}
		if err2 := json.Unmarshal([]byte(raw[first:last+1]), &out); err2 != nil {
			return Classification{}, &ParseError{Raw: raw, Err: err2}
		}
	}
	return Classification{
		Kind:     ParseKind(out.Intent),
		Params:   NormalizeParams(out.Parameters),
		Response: strings.TrimSpace(out.Response),
		Raw:      raw,
	}, nil
}

// Fallback is the classification used when Classify fails: a general
// question answered with the raw completion text, or an apology.
func Fallback(err error) Classification {
	resp := apology
	var pe *ParseError
	if errors.As(err, &pe) && strings.TrimSpace(pe.Raw) != "" {
		resp = strings.TrimSpace(pe.Raw)
	}
	return Classification{Kind: GeneralQuestion, Params: Params{}, Response: resp}
}
