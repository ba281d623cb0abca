package service

import (
	"context"
	"fmt"
	"io"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/adk"
	ecomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/ashwinyue/open-dialogue/internal/config"
)

// newToolCallingChatModel 创建支持工具调用的 ChatModel
func newToolCallingChatModel(ctx context.Context, cfg *config.Config) (ecomodel.ToolCallingChatModel, error) {
	aiCfg := cfg.AI

	var apiKey, baseURL, modelName string

	switch aiCfg.Provider {
	case "openai":
		apiKey = aiCfg.OpenAI.APIKey
		baseURL = aiCfg.OpenAI.BaseURL
		modelName = aiCfg.OpenAI.Model
	case "alibaba", "qwen", "dashscope":
		apiKey = aiCfg.Alibaba.AccessKeySecret
		baseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
		modelName = aiCfg.Alibaba.Model
	case "deepseek":
		apiKey = aiCfg.DeepSeek.APIKey
		baseURL = aiCfg.DeepSeek.BaseURL
		modelName = aiCfg.DeepSeek.Model
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", aiCfg.Provider)
	}

	if apiKey == "" {
		return nil, fmt.Errorf("api_key is required for provider: %s", aiCfg.Provider)
	}

	if modelName == "" {
		modelName = "gpt-4o-mini"
	}

	temperature := float32(0.7)

	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      apiKey,
		BaseURL:     baseURL,
		Model:       modelName,
		Temperature: &temperature,
	})
}

// einoEngine 基于 eino adk 的推理引擎
type einoEngine struct {
	chatModel     ecomodel.ToolCallingChatModel
	tools         []tool.BaseTool
	maxIterations int
}

// newEinoEngine 创建推理引擎
func newEinoEngine(chatModel ecomodel.ToolCallingChatModel, tools []tool.BaseTool, maxIterations int) *einoEngine {
	if maxIterations <= 0 {
		maxIterations = 5
	}
	return &einoEngine{chatModel: chatModel, tools: tools, maxIterations: maxIterations}
}

// Generate 运行一次代理回合并返回最终的助手消息
func (e *einoEngine) Generate(ctx context.Context, agentName, systemPrompt, transcript string) (string, error) {
	agentCfg := &adk.ChatModelAgentConfig{
		Name:          agentName,
		Description:   agentName + ", a group chat participant",
		Instruction:   systemPrompt,
		Model:         e.chatModel,
		MaxIterations: e.maxIterations,
	}
	if len(e.tools) > 0 {
		agentCfg.ToolsConfig = adk.ToolsConfig{
			ToolsNodeConfig: compose.ToolsNodeConfig{
				Tools: e.tools,
			},
		}
	}

	einoAgent, err := adk.NewChatModelAgent(ctx, agentCfg)
	if err != nil {
		return "", fmt.Errorf("failed to create agent: %w", err)
	}

	iter := einoAgent.Run(ctx, &adk.AgentInput{
		Messages:        []adk.Message{schema.UserMessage(transcript)},
		EnableStreaming: false,
	})

	var result string
	for {
		event, ok := iter.Next()
		if !ok {
			break
		}

		if event.Err != nil {
			if event.Err == io.EOF {
				break
			}
			return "", fmt.Errorf("agent event error: %w", event.Err)
		}

		if event.Output != nil && event.Output.MessageOutput != nil {
			msg, err := event.Output.MessageOutput.GetMessage()
			if err != nil {
				continue
			}
			if msg.Role == schema.Assistant && msg.Content != "" {
				result = msg.Content
			}
		}
	}

	return result, nil
}

// unavailableEngine 模型未配置时的兜底引擎
type unavailableEngine struct {
	reason error
}

func (e *unavailableEngine) Generate(ctx context.Context, agentName, systemPrompt, transcript string) (string, error) {
	return "", fmt.Errorf("chat model unavailable: %w", e.reason)
}
