//go:build bedrock

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"steelwool/internal/domain"
	"steelwool/internal/infra/config"
	"steelwool/internal/infra/tracer"
)

var _ domain.StreamingProvider = (*BedrockProvider)(nil)

// bedrockConverseAPI abstracts the Bedrock runtime methods for testability.
type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockProvider talks to the AWS Bedrock Converse API.
type BedrockProvider struct {
	name        string
	model       string
	temperature *float64
	client      bedrockConverseAPI
	logger      *slog.Logger
}

// NewBedrockProvider creates a Bedrock provider using the default AWS credential chain.
func NewBedrockProvider(cfg config.ProviderConfig, logger *slog.Logger) (*BedrockProvider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	p := newBedrockProviderWithClient(cfg.Name, cfg.Model, bedrockruntime.NewFromConfig(awsCfg), logger)
	p.temperature = cfg.Temperature
	return p, nil
}

// newBedrockProviderWithClient creates a BedrockProvider with an injected client (for testing).
func newBedrockProviderWithClient(name, model string, client bedrockConverseAPI, logger *slog.Logger) *BedrockProvider {
	return &BedrockProvider{
		name:   name,
		model:  model,
		client: client,
		logger: logger,
	}
}

// Name implements domain.NamedProvider.
func (p *BedrockProvider) Name() string { return p.name }

// Prompt implements domain.ProviderAdapter.
func (p *BedrockProvider) Prompt(ctx context.Context, req domain.PromptRequest) (*domain.PromptResponse, error) {
	ctx, span := startPromptSpan(ctx, "llm.prompt", p.name, p.model, req)
	defer span.End()

	output, err := p.client.Converse(ctx, p.toConverseInput(req))
	if err != nil {
		err = mapBedrockError(err)
		tracer.RecordError(span, err)
		return nil, err
	}

	result := fromBedrockConverseOutput(output)
	setUsageAttrs(span, result)
	tracer.SetOK(span)
	logPromptCompleted(p.logger, p.name, p.model, result)

	return result, nil
}

// PromptStream implements domain.StreamProviderAdapter.
func (p *BedrockProvider) PromptStream(ctx context.Context, req domain.PromptRequest) iter.Seq2[domain.PromptResponseDelta, error] {
	return func(yield func(domain.PromptResponseDelta, error) bool) {
		ctx, span := startPromptSpan(ctx, "llm.stream", p.name, p.model, req)
		defer span.End()

		ci := p.toConverseInput(req)
		output, err := p.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
			ModelId:         ci.ModelId,
			Messages:        ci.Messages,
			System:          ci.System,
			InferenceConfig: ci.InferenceConfig,
			ToolConfig:      ci.ToolConfig,
		})
		if err != nil {
			err = mapBedrockError(err)
			tracer.RecordError(span, err)
			yield(domain.PromptResponseDelta{}, err)
			return
		}

		stream := output.GetStream()
		defer stream.Close()

		var asm bedrockStreamAssembler
		for {
			select {
			case <-ctx.Done():
				yield(domain.PromptResponseDelta{}, ctx.Err())
				return
			case evt, ok := <-stream.Events():
				if !ok {
					if err := stream.Err(); err != nil {
						err = mapBedrockError(err)
						tracer.RecordError(span, err)
						yield(domain.PromptResponseDelta{}, err)
						return
					}
					tracer.SetOK(span)
					return
				}
				delta, emit := asm.process(evt)
				if emit && !yield(delta, nil) {
					return
				}
			}
		}
	}
}

// --- Bedrock request/response conversion ---

func (p *BedrockProvider) toConverseInput(req domain.PromptRequest) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(p.model),
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	input.InferenceConfig = &types.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(maxTokens)),
	}
	if p.temperature != nil {
		input.InferenceConfig.Temperature = aws.Float32(float32(*p.temperature))
	}

	if sys := systemPrompt(req); sys != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: sys},
		}
	}

	for _, m := range req.Messages {
		role, content, ok := blockTurn(m)
		if !ok {
			continue
		}
		convRole := types.ConversationRoleUser
		if role == "assistant" {
			convRole = types.ConversationRoleAssistant
		}
		block := &types.ContentBlockMemberText{Value: content}

		// Converse rejects consecutive turns from the same role.
		if n := len(input.Messages); n > 0 && input.Messages[n-1].Role == convRole {
			input.Messages[n-1].Content = append(input.Messages[n-1].Content, block)
			continue
		}
		input.Messages = append(input.Messages, types.Message{
			Role:    convRole,
			Content: []types.ContentBlock{block},
		})
	}

	if len(req.Tools) > 0 {
		input.ToolConfig = toBedrockToolConfig(req.Tools)
	}

	return input
}

func toBedrockToolConfig(tools []domain.Tool) *types.ToolConfiguration {
	var bedrockTools []types.Tool
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.SchemaOrDefault(), &schema); err != nil || schema == nil {
			schema = map[string]any{"type": "object"}
		}

		bedrockTools = append(bedrockTools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schema),
				},
			},
		})
	}

	cfg := &types.ToolConfiguration{Tools: bedrockTools}
	if domain.AnyRequired(tools) {
		cfg.ToolChoice = &types.ToolChoiceMemberAny{Value: types.AnyToolChoice{}}
	}
	return cfg
}

func fromBedrockConverseOutput(output *bedrockruntime.ConverseOutput) *domain.PromptResponse {
	result := &domain.PromptResponse{
		StopReason: mapBedrockStopReason(output.StopReason),
	}
	if output.Usage != nil {
		result.TokenUsage = int(aws.ToInt32(output.Usage.InputTokens)) + int(aws.ToInt32(output.Usage.OutputTokens))
	}

	var text strings.Builder
	if outMsg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range outMsg.Value.Content {
			switch b := block.(type) {
			case *types.ContentBlockMemberText:
				text.WriteString(b.Value)
			case *types.ContentBlockMemberToolUse:
				result.ToolCalls = append(result.ToolCalls, domain.ToolCall{
					ID:        aws.ToString(b.Value.ToolUseId),
					Name:      aws.ToString(b.Value.Name),
					Arguments: documentArguments(b.Value.Input),
				})
			}
		}
	}
	result.Message = domain.ModelMessage(text.String())
	return result
}

// documentArguments decodes a Bedrock document into tool call arguments.
func documentArguments(doc document.Interface) map[string]any {
	if doc == nil {
		return map[string]any{}
	}
	var v any
	if err := doc.UnmarshalSmithyDocument(&v); err != nil {
		return map[string]any{}
	}
	if args, ok := v.(map[string]any); ok {
		return args
	}
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	return domain.ParseToolArguments(string(data))
}

func mapBedrockStopReason(reason types.StopReason) domain.StopReason {
	switch reason {
	case "":
		return domain.StopReasonNull
	case types.StopReasonEndTurn, types.StopReasonStopSequence:
		return domain.StopReasonStop
	case types.StopReasonMaxTokens:
		return domain.StopReasonLength
	case types.StopReasonToolUse:
		return domain.StopReasonToolCalls
	case types.StopReasonGuardrailIntervened, types.StopReasonContentFiltered:
		return domain.StopReasonContentFilter
	default:
		return domain.StopReason(reason)
	}
}

// bedrockStreamAssembler turns ConverseStream events into deltas. Tool use
// input arrives in fragments and is emitted once its block stops.
type bedrockStreamAssembler struct {
	pending *pendingCall
}

func (a *bedrockStreamAssembler) process(evt types.ConverseStreamOutput) (domain.PromptResponseDelta, bool) {
	switch e := evt.(type) {
	case *types.ConverseStreamOutputMemberContentBlockStart:
		if start, ok := e.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			a.pending = &pendingCall{
				id:   aws.ToString(start.Value.ToolUseId),
				name: aws.ToString(start.Value.Name),
			}
		}

	case *types.ConverseStreamOutputMemberContentBlockDelta:
		switch d := e.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			return domain.PromptResponseDelta{Content: d.Value}, d.Value != ""
		case *types.ContentBlockDeltaMemberToolUse:
			if a.pending != nil {
				a.pending.args.WriteString(aws.ToString(d.Value.Input))
			}
		}

	case *types.ConverseStreamOutputMemberContentBlockStop:
		if a.pending == nil {
			break
		}
		call := domain.ToolCall{
			ID:        a.pending.id,
			Name:      a.pending.name,
			Arguments: domain.ParseToolArguments(a.pending.args.String()),
		}
		a.pending = nil
		return domain.PromptResponseDelta{ToolCall: &call}, true

	case *types.ConverseStreamOutputMemberMessageStop:
		reason := mapBedrockStopReason(e.Value.StopReason)
		return domain.PromptResponseDelta{StopReason: reason}, !reason.IsNull()

	case *types.ConverseStreamOutputMemberMetadata:
		if e.Value.Usage != nil {
			total := int(aws.ToInt32(e.Value.Usage.InputTokens)) + int(aws.ToInt32(e.Value.Usage.OutputTokens))
			return domain.PromptResponseDelta{CumulativeTokens: total}, total > 0
		}
	}
	return domain.PromptResponseDelta{}, false
}

// --- Error mapping ---

func mapBedrockError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case code == "ThrottlingException" || code == "TooManyRequestsException":
			return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
		case code == "AccessDeniedException" || code == "UnrecognizedClientException":
			return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
		case code == "ValidationException" && strings.Contains(msg, "too long"):
			return fmt.Errorf("%w: %s", domain.ErrContextOverflow, msg)
		case code == "ModelNotReadyException" || code == "ServiceUnavailableException" ||
			code == "InternalServerException":
			return fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, msg)
		}
	}

	return domain.WrapOp("bedrock", err)
}
