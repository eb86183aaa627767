package chat

import (
	"context"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/ssestream"
)

// OpenAIModel streams chat completions from the OpenAI API.
type OpenAIModel struct {
	client openai.Client
	model  openai.ChatModel
}

func NewOpenAIModel(client openai.Client, model string) *OpenAIModel {
	if model == "" {
		model = string(openai.ChatModelGPT4o)
	}
	return &OpenAIModel{client: client, model: openai.ChatModel(model)}
}

func (m *OpenAIModel) Stream(ctx context.Context, req Request) (Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    m.model,
		Messages: toOpenAIMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		params.Tools = toOpenAITools(req.Tools)
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String(string(openai.ChatCompletionToolChoiceOptionAutoAuto)),
		}
	}

	s := m.client.Chat.Completions.NewStreaming(ctx, params)
	if err := s.Err(); err != nil {
		s.Close()
		return nil, err
	}
	return &openAIStream{s: s}, nil
}

type openAIStream struct {
	s   *ssestream.Stream[openai.ChatCompletionChunk]
	cur Chunk
}

func (o *openAIStream) Next() bool {
	for o.s.Next() {
		chunk := o.s.Current()
		if len(chunk.Choices) == 0 {
			// usage-only chunk
			continue
		}
		choice := chunk.Choices[0]

		c := Chunk{
			Text:         choice.Delta.Content,
			FinishReason: FinishReason(choice.FinishReason),
		}
		for _, tc := range choice.Delta.ToolCalls {
			c.ToolCalls = append(c.ToolCalls, ToolCallDelta{
				Index:     int(tc.Index),
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		o.cur = c
		return true
	}
	return false
}

func (o *openAIStream) Current() Chunk { return o.cur }
func (o *openAIStream) Err() error     { return o.s.Err() }
func (o *openAIStream) Close() error   { return o.s.Close() }

func toOpenAIMessages(turns []Turn) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(t.Text()))
		case RoleUser:
			out = append(out, openai.UserMessage(t.Text()))
		case RoleTool:
			out = append(out, openai.ToolMessage(t.Text(), t.ToolCallID))
		case RoleAssistant:
			if len(t.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(t.Text()))
				continue
			}
			msg := openai.ChatCompletionAssistantMessageParam{}
			if t.Content != nil {
				msg.Content.OfString = openai.String(*t.Content)
			}
			for _, c := range t.ToolCalls {
				args := c.Arguments
				if args == "" {
					args = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: c.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      c.Name,
							Arguments: args,
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
		}
	}
	return out
}

func toOpenAITools(specs []ToolSpec) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(specs))
	for _, s := range specs {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        s.Name,
			Description: openai.String(s.Description),
			Parameters:  openai.FunctionParameters(s.Parameters),
		}))
	}
	return out
}
