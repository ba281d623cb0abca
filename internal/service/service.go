package service

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/ashwinyue/open-dialogue/internal/config"
	"github.com/ashwinyue/open-dialogue/internal/repository"
	"github.com/ashwinyue/open-dialogue/internal/service/agents"
	"github.com/ashwinyue/open-dialogue/internal/service/auth"
	"github.com/ashwinyue/open-dialogue/internal/service/conversation"
	"github.com/ashwinyue/open-dialogue/internal/service/dialogue"
	"github.com/ashwinyue/open-dialogue/internal/service/dispatch"
	"github.com/ashwinyue/open-dialogue/internal/service/session"
)

// Services 服务集合
type Services struct {
	Conversation *conversation.Service
	Dialogue     *dialogue.Service
	Auth         *auth.Service
	Roster       *agents.Roster
	Sessions     *session.Manager

	Config *config.Config

	modelAvailable bool
	modelError     string
}

// NewServices 创建所有服务
func NewServices(repo *repository.Repositories, cfg *config.Config, redisClient *redis.Client) (*Services, error) {
	ctx := context.Background()

	conv := conversation.NewService(repo.Conversation)
	roster := agents.NewRoster(cfg.Agents)
	if len(roster.Names()) == 0 {
		return nil, fmt.Errorf("at least one agent must be configured")
	}

	sessions := session.NewManager(conv, &cfg.Sync, redisClient)

	var engine dispatch.Engine
	modelAvailable := true
	modelError := ""
	chatModel, err := newToolCallingChatModel(ctx, cfg)
	if err != nil {
		log.Printf("Warning: chat model unavailable: %v", err)
		engine = &unavailableEngine{reason: err}
		modelAvailable = false
		modelError = err.Error()
	} else {
		tools := newTools(ctx, cfg)
		log.Printf("Initialized %d tools for provider %s", len(tools), cfg.AI.Provider)
		engine = newEinoEngine(chatModel, tools, cfg.Dialogue.MaxToolRounds)
	}

	dispatcher := dispatch.NewDispatcher(conv, roster, engine, dispatch.Options{
		SearchEnabled: cfg.Search.Enabled,
		Location:      cfg.App.Location(),
	})

	return &Services{
		Conversation: conv,
		Dialogue:     dialogue.NewService(conv, sessions, roster, dispatcher, &cfg.Dialogue),
		Auth:         auth.NewService(&cfg.Auth),
		Roster:       roster,
		Sessions:     sessions,
		Config:       cfg,

		modelAvailable: modelAvailable,
		modelError:     modelError,
	}, nil
}

// ModelStatus 推理模型状态描述
func (s *Services) ModelStatus() string {
	if !s.modelAvailable {
		return fmt.Sprintf("Model: unavailable (%s)", s.modelError)
	}
	name := s.Config.AI.Model()
	return fmt.Sprintf("Model: %s / %s", s.Config.AI.Provider, name)
}

// SearchStatus 网络搜索状态描述
func (s *Services) SearchStatus() string {
	if s.Config.Search.Enabled {
		return "Web search: enabled - agents can look up current information."
	}
	return "Web search: disabled - agents rely on their own knowledge."
}
