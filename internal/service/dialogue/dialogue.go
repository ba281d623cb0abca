// Package dialogue 编排群聊流程：人类消息入库、@提及触发代理、
// 代理间接龙、角色修改与反思模式。
package dialogue

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashwinyue/open-dialogue/internal/config"
	"github.com/ashwinyue/open-dialogue/internal/model"
	"github.com/ashwinyue/open-dialogue/internal/service/agents"
	"github.com/ashwinyue/open-dialogue/internal/service/conversation"
	"github.com/ashwinyue/open-dialogue/internal/service/dispatch"
	"github.com/ashwinyue/open-dialogue/internal/service/mention"
	"github.com/ashwinyue/open-dialogue/internal/service/session"
)

// 人类发言身份
const (
	RoleModerator  = "moderator"
	RoleInstructor = "instructor"
)

// InstructorLabel 指导者在记录中的署名
const InstructorLabel = "Instructor"

// Service 群聊编排服务
type Service struct {
	conv       *conversation.Service
	sessions   *session.Manager
	roster     *agents.Roster
	resolver   *mention.Resolver
	dispatcher *dispatch.Dispatcher
	cfg        *config.DialogueConfig

	now       func() time.Time
	randFloat func() float64
}

// NewService 创建编排服务
func NewService(
	conv *conversation.Service,
	sessions *session.Manager,
	roster *agents.Roster,
	dispatcher *dispatch.Dispatcher,
	cfg *config.DialogueConfig,
) *Service {
	return &Service{
		conv:       conv,
		sessions:   sessions,
		roster:     roster,
		resolver:   mention.NewResolver(roster.Names()),
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
		randFloat:  rand.Float64,
	}
}

// Resolver 返回名册对应的提及解析器
func (s *Service) Resolver() *mention.Resolver {
	return s.resolver
}

// SendMessage 发送一条人类消息并驱动其触发的代理回复。
// 提及在入库前改写为完整名字。moderator 的提及会触发
// 被提及代理依次回复；instructor 的消息只入库。
// 调用方需持有会话锁。
func (s *Service) SendMessage(ctx context.Context, sess *session.Session, role, text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("message text is required")
	}
	if sess.ConversationID == "" {
		return nil, fmt.Errorf("no conversation selected")
	}

	author := sess.DisplayName
	if role == RoleInstructor {
		author = InstructorLabel
	}

	rewritten, mentioned := s.resolver.Resolve(text)
	msg, err := s.conv.Append(ctx, sess.ConversationID, author, rewritten)
	if err != nil {
		return nil, err
	}

	// 新的人类消息重置接龙计数
	sess.ChainCount = 0
	sess.Pending = nil
	sess.TriggerAfter = nil

	if role != RoleInstructor {
		sess.Pending = append(sess.Pending, mentioned...)
		// 未被 @ 但整词点名的代理在提及队列清空后补位
		isMentioned := make(map[string]bool, len(mentioned))
		for _, name := range mentioned {
			isMentioned[name] = true
		}
		for _, name := range s.resolver.NamedAsWord(text) {
			if !isMentioned[name] {
				sess.TriggerAfter = append(sess.TriggerAfter, name)
			}
		}
	}

	if err := s.runChain(ctx, sess); err != nil {
		return msg, err
	}

	if err := s.sessions.RefreshMessages(ctx, sess, true); err != nil {
		return msg, err
	}
	return msg, nil
}

// Respond 手动让指定代理回复一次，之后照常驱动接龙。
// 调用方需持有会话锁。
func (s *Service) Respond(ctx context.Context, sess *session.Session, agentName string) error {
	if sess.ConversationID == "" {
		return fmt.Errorf("no conversation selected")
	}
	agent, ok := s.roster.Get(agentName)
	if !ok {
		return fmt.Errorf("unknown agent: %s", agentName)
	}

	sess.ChainCount = 0
	sess.Pending = []string{agent.Name}
	sess.TriggerAfter = nil

	if err := s.runChain(ctx, sess); err != nil {
		return err
	}
	return s.sessions.RefreshMessages(ctx, sess, true)
}

// runChain 依次处理待回复队列。被提及的代理总是回复；
// 由回复引出的追加回合受接龙上限约束。
func (s *Service) runChain(ctx context.Context, sess *session.Session) error {
	for len(sess.Pending) > 0 {
		name := sess.Pending[0]
		sess.Pending = sess.Pending[1:]

		res, err := s.respondOnce(ctx, sess, name, false)
		if err != nil {
			return err
		}
		s.queueFollowUps(sess, name, res.Message.Body)
	}

	// 提及队列清空后的补位触发
	for len(sess.TriggerAfter) > 0 && sess.ChainCount < s.cfg.ChainCap {
		name := sess.TriggerAfter[0]
		sess.TriggerAfter = sess.TriggerAfter[1:]

		res, err := s.respondOnce(ctx, sess, name, false)
		if err != nil {
			return err
		}
		s.queueFollowUps(sess, name, res.Message.Body)
		for len(sess.Pending) > 0 {
			next := sess.Pending[0]
			sess.Pending = sess.Pending[1:]
			res, err := s.respondOnce(ctx, sess, next, false)
			if err != nil {
				return err
			}
			s.queueFollowUps(sess, next, res.Message.Body)
		}
	}
	sess.TriggerAfter = nil
	return nil
}

// queueFollowUps 根据一条代理回复决定是否引出下一回合。
// 回复里点名其他代理时排队点名对象；否则按概率
// 让名册中的下一个代理接话。所有追加回合受接龙上限约束。
func (s *Service) queueFollowUps(sess *session.Session, author, replyBody string) {
	if sess.ChainCount >= s.cfg.ChainCap {
		return
	}

	queued := make(map[string]bool, len(sess.Pending))
	for _, name := range sess.Pending {
		queued[name] = true
	}

	_, mentioned := s.resolver.Resolve(replyBody)
	named := append(mentioned, s.resolver.NamedAsWord(replyBody)...)
	found := false
	for _, name := range named {
		if name == author || queued[name] {
			continue
		}
		sess.Pending = append(sess.Pending, name)
		queued[name] = true
		found = true
	}
	if found {
		return
	}

	p := s.cfg.CrossReplyProbability
	if p > 0.5 {
		p = 0.5
	}
	if p > 0 && s.randFloat() < p {
		if next := s.roster.After(author); next != "" && !queued[next] {
			sess.Pending = append(sess.Pending, next)
		}
	}
}

// respondOnce 驱动一个代理回复一次并更新会话状态。
// 引擎失败时记录错误并保持自我介绍标记不变。
func (s *Service) respondOnce(ctx context.Context, sess *session.Session, agentName string, reflection bool) (*dispatch.Result, error) {
	res, err := s.dispatcher.Respond(ctx, dispatch.RespondInput{
		ConversationID: sess.ConversationID,
		AgentName:      agentName,
		RoleEdited:     sess.RoleEdited(agentName),
		Reflection:     reflection,
	})
	if err != nil {
		sess.LastError = err.Error()
		return nil, err
	}

	sess.ClearNeedsIntro(agentName)
	sess.ChainCount++
	sess.LastError = ""
	sess.RequestLog = &session.RequestLog{
		Agent:    agentName,
		Request:  truncateMiddle(res.Request, requestLogLimit),
		Response: truncateMiddle(res.Response, requestLogLimit),
		At:       s.now(),
	}
	return res, nil
}

// requestLogLimit 请求日志单项长度上限
const requestLogLimit = 2000

// truncateMiddle 超长文本保留首尾，省略中间。
// 截断点落在多字节字符内时回退到完整字符边界。
func truncateMiddle(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	const marker = " ... "
	half := (limit - len(marker)) / 2

	head := half
	for head > 0 && !utf8.RuneStart(s[head]) {
		head--
	}
	tail := len(s) - half
	for tail < len(s) && !utf8.RuneStart(s[tail]) {
		tail++
	}
	return s[:head] + marker + s[tail:]
}

// UpdateAgentRole 修改代理的角色设定。
// 修改以指导者消息的形式写入当前会话，并在所有
// 活跃会话中标记该代理需要重新自我介绍。
// 调用方需持有会话锁。
func (s *Service) UpdateAgentRole(ctx context.Context, sess *session.Session, agentName, role string) (agents.Agent, error) {
	agent, err := s.roster.SetRole(agentName, role)
	if err != nil {
		return agents.Agent{}, err
	}

	if sess != nil && sess.ConversationID != "" {
		body := fmt.Sprintf("Updated %s's role:\n\n%s", agent.Name, role)
		if _, err := s.conv.Append(ctx, sess.ConversationID, InstructorLabel, body); err != nil {
			return agent, err
		}
	}

	s.sessions.MarkNeedsIntroAll(agent.Name, sess)

	if sess != nil {
		if err := s.sessions.RefreshMessages(ctx, sess, true); err != nil {
			return agent, err
		}
	}
	return agent, nil
}

// StartReflection 开启反思模式：代理在给定时长内轮流发言，
// 每次视图轮询推进一个回合。调用方需持有会话锁。
func (s *Service) StartReflection(sess *session.Session, minutes int) error {
	if sess.ConversationID == "" {
		return fmt.Errorf("no conversation selected")
	}
	if minutes < 1 {
		minutes = 1
	}
	if minutes > 10 {
		minutes = 10
	}
	names := s.roster.Names()
	if len(names) == 0 {
		return fmt.Errorf("no agents configured")
	}

	sess.ReflectUntil = s.now().Add(time.Duration(minutes) * time.Minute)
	sess.ReflectNext = names[0]
	return nil
}

// StopReflection 结束反思模式。调用方需持有会话锁。
func (s *Service) StopReflection(sess *session.Session) {
	sess.ReflectUntil = time.Time{}
	sess.ReflectNext = ""
}

// AdvanceReflection 推进一个反思回合（若反思模式激活）。
// 引擎失败结束本轮推进但不终止反思模式。
// 调用方需持有会话锁。
func (s *Service) AdvanceReflection(ctx context.Context, sess *session.Session) error {
	now := s.now()
	if !sess.ReflectionActive(now) {
		if !sess.ReflectUntil.IsZero() {
			s.StopReflection(sess)
		}
		return nil
	}
	name := sess.ReflectNext
	if name == "" {
		name = s.roster.Names()[0]
	}

	if _, err := s.respondOnce(ctx, sess, name, true); err != nil {
		return err
	}
	sess.ReflectNext = s.roster.After(name)
	if sess.ReflectNext == "" {
		sess.ReflectNext = name
	}
	return s.sessions.RefreshMessages(ctx, sess, true)
}
