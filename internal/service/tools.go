package service

import (
	"context"
	"fmt"
	"log"

	"github.com/ashwinyue/open-dialogue/internal/config"
	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	wikipediatool "github.com/cloudwego/eino-ext/components/tool/wikipedia"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// stubTool 占位工具
type stubTool struct {
	name string
}

func (t *stubTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.name,
		Desc: t.name + " (unavailable)",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "The query string",
				Required: true,
			},
		}),
	}, nil
}

func (t *stubTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	return fmt.Sprintf(`{"error":"%s is not available"}`, t.name), nil
}

// newWebSearchTool 创建网络搜索工具
func newWebSearchTool(ctx context.Context, cfg *config.SearchConfig) tool.InvokableTool {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	searchTool, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search",
		ToolDesc:   "Search the web for current information using DuckDuckGo. Use this when the conversation needs up-to-date facts.",
		MaxResults: maxResults,
	})
	if err != nil {
		log.Printf("Warning: failed to create web search tool: %v", err)
		return &stubTool{name: "web_search"}
	}
	return searchTool
}

// newTools 初始化代理可用的工具
func newTools(ctx context.Context, cfg *config.Config) []tool.BaseTool {
	if !cfg.Search.Enabled {
		return nil
	}

	tools := []tool.BaseTool{newWebSearchTool(ctx, &cfg.Search)}

	if cfg.Search.Wikipedia {
		wikiTool, err := wikipediatool.NewTool(ctx, &wikipediatool.Config{
			Language: "en",
			TopK:     3,
		})
		if err != nil {
			log.Printf("Warning: failed to create wikipedia tool: %v", err)
		} else {
			tools = append(tools, wikiTool)
		}
	}

	return tools
}
