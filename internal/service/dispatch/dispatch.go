// Package dispatch 负责驱动单个代理产出一条回复：
// 渲染完整对话记录、组装系统提示词、调用推理引擎并落库清理后的回复。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashwinyue/open-dialogue/internal/model"
	"github.com/ashwinyue/open-dialogue/internal/service/agents"
	"github.com/ashwinyue/open-dialogue/internal/service/conversation"
	"github.com/ashwinyue/open-dialogue/internal/service/sanitize"
)

// ErrEngineFailure 推理引擎调用失败
var ErrEngineFailure = errors.New("reasoning engine failure")

// 对话记录的时间戳格式
const timestampLayout = "2006-01-02 15:04"

// Engine 推理引擎接口
type Engine interface {
	Generate(ctx context.Context, agentName, systemPrompt, transcript string) (string, error)
}

// Options 调度器选项
type Options struct {
	// SearchEnabled 代理是否可以使用网络搜索
	SearchEnabled bool
	// Location 对话记录时间戳的显示时区
	Location *time.Location
}

// Dispatcher 代理回复调度器
type Dispatcher struct {
	conv   *conversation.Service
	roster *agents.Roster
	engine Engine
	opts   Options
}

// NewDispatcher 创建调度器
func NewDispatcher(conv *conversation.Service, roster *agents.Roster, engine Engine, opts Options) *Dispatcher {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Dispatcher{conv: conv, roster: roster, engine: engine, opts: opts}
}

// RespondInput 一次回复请求
type RespondInput struct {
	ConversationID string
	AgentName      string
	// RoleEdited 自该代理上次回复以来角色设定被修改过
	RoleEdited bool
	// Reflection 反思模式下的回合
	Reflection bool
}

// Result 一次回复的结果
type Result struct {
	Message *model.Message
	// Request 发给引擎的完整请求（系统提示词 + 对话记录）
	Request string
	// Response 引擎的原始回复（清理前）
	Response string
	// IntroGiven 本次回复是否包含了自我介绍指令
	IntroGiven bool
}

// Respond 让指定代理基于当前完整对话记录产出一条回复。
// 引擎失败或回复为空时不写入任何消息。
func (d *Dispatcher) Respond(ctx context.Context, in RespondInput) (*Result, error) {
	agent, ok := d.roster.Get(in.AgentName)
	if !ok {
		return nil, fmt.Errorf("unknown agent: %s", in.AgentName)
	}

	msgs, err := d.conv.Load(ctx, in.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}

	hasSpoken := false
	for _, m := range msgs {
		if m.Author == agent.Name {
			hasSpoken = true
			break
		}
	}
	introRequired := in.RoleEdited || !hasSpoken

	transcript := RenderTranscript(msgs, d.opts.Location, agent.Name)
	prompt := d.buildSystemPrompt(agent, introRequired, in.Reflection)

	raw, err := d.engine.Generate(ctx, agent.Name, prompt, transcript)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w: %v", agent.Name, ErrEngineFailure, err)
	}

	reply := sanitize.Clean(raw, agent.Name)
	if strings.TrimSpace(reply) == "" {
		return nil, fmt.Errorf("agent %s: %w: empty reply", agent.Name, ErrEngineFailure)
	}

	msg, err := d.conv.Append(ctx, in.ConversationID, agent.Name, reply)
	if err != nil {
		return nil, fmt.Errorf("failed to persist reply: %w", err)
	}

	return &Result{
		Message:    msg,
		Request:    prompt + "\n\n" + transcript,
		Response:   raw,
		IntroGiven: introRequired,
	}, nil
}

// RenderTranscript 把消息渲染为引擎输入的对话记录。
// 每条消息一行，空行分隔，末尾附当前代理的回复指令。
func RenderTranscript(msgs []model.Message, loc *time.Location, agentName string) string {
	if loc == nil {
		loc = time.UTC
	}
	lines := make([]string, 0, len(msgs)+1)
	for _, m := range msgs {
		ts := m.CreatedAt.In(loc).Format(timestampLayout)
		lines = append(lines, fmt.Sprintf("At %s %s said: %s", ts, m.Author, m.Body))
	}
	lines = append(lines, fmt.Sprintf("[Reply now only as %s.]", agentName))
	return strings.Join(lines, "\n\n")
}

func (d *Dispatcher) buildSystemPrompt(agent agents.Agent, introRequired, reflection bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a participant in a group chat.\n\n", agent.Name)
	if role := strings.TrimSpace(agent.Role); role != "" {
		b.WriteString(role)
		b.WriteString("\n\n")
	}

	b.WriteString("Rules:\n")
	fmt.Fprintf(&b, "- Reply only as %s. Never write messages for other participants.\n", agent.Name)
	b.WriteString("- Do not prefix your reply with your name or a timestamp. Write only the message body.\n")
	b.WriteString("- Messages from the Instructor are directives about how you behave. Follow them; do not reply to the Instructor directly.\n")
	if others := d.roster.Others(agent.Name); len(others) > 0 {
		fmt.Fprintf(&b, "- Other participants include %s. Address them by name when it helps.\n", strings.Join(others, ", "))
	}
	if d.opts.SearchEnabled {
		b.WriteString("- You can use the web_search tool to look up current information when the conversation needs it.\n")
	}

	if introRequired {
		b.WriteString("\nThis is your first message here, or your role has just changed. Briefly introduce yourself and your perspective before responding.\n")
	}
	if reflection {
		b.WriteString("\nThe humans have stepped away. Reflect on the conversation so far with the other participants: question assumptions, explore disagreements, go deeper.\n")
	}

	return b.String()
}
