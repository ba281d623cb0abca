package dialogue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ashwinyue/open-dialogue/internal/config"
	"github.com/ashwinyue/open-dialogue/internal/service/agents"
	"github.com/ashwinyue/open-dialogue/internal/service/conversation"
	"github.com/ashwinyue/open-dialogue/internal/service/dispatch"
	"github.com/ashwinyue/open-dialogue/internal/service/session"
	"github.com/ashwinyue/open-dialogue/internal/testutil"
)

// scriptedEngine 按代理名返回脚本化回复
type scriptedEngine struct {
	replies map[string][]string
	fail    map[string]error
	order   []string
}

func (e *scriptedEngine) Generate(ctx context.Context, agentName, systemPrompt, transcript string) (string, error) {
	e.order = append(e.order, agentName)
	if err := e.fail[agentName]; err != nil {
		return "", err
	}
	queue := e.replies[agentName]
	if len(queue) == 0 {
		return "nothing to add", nil
	}
	reply := queue[0]
	if len(queue) > 1 {
		e.replies[agentName] = queue[1:]
	}
	return reply, nil
}

type fixture struct {
	svc    *Service
	sess   *session.Session
	conv   *conversation.Service
	engine *scriptedEngine
	convID string
}

func newFixture(t *testing.T, cfg config.DialogueConfig) *fixture {
	t.Helper()
	ctx := context.Background()

	conv := conversation.NewService(testutil.NewMemoryStore())
	roster := agents.NewRoster([]config.AgentConfig{
		{Name: "Gosha", Role: "skeptic"},
		{Name: "Joshi", Role: "optimist"},
	})
	engine := &scriptedEngine{replies: map[string][]string{}, fail: map[string]error{}}
	d := dispatch.NewDispatcher(conv, roster, engine, dispatch.Options{})

	syncCfg := &config.SyncConfig{MessageIntervalSeconds: 2, ListIntervalSeconds: 10, SessionTTLHours: 24}
	sessions := session.NewManager(conv, syncCfg, nil)

	svc := NewService(conv, sessions, roster, d, &cfg)
	svc.randFloat = func() float64 { return 1 } // 默认关掉概率触发

	c, err := conv.Create(ctx)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	sess := sessions.Create(ctx, "alice")
	sess.Lock()
	t.Cleanup(sess.Unlock)
	if err := sessions.Select(ctx, sess, c.ID); err != nil {
		t.Fatalf("select conversation: %v", err)
	}

	return &fixture{svc: svc, sess: sess, conv: conv, engine: engine, convID: c.ID}
}

func TestSendMessageRewritesMentionsAndDispatches(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	f := newFixture(t, config.DialogueConfig{ChainCap: 0, CrossReplyProbability: 0})
	ctx := context.Background()

	f.engine.replies["Gosha"] = []string{"hello from me"}
	f.engine.replies["Joshi"] = []string{"me too"}

	msg, err := f.svc.SendMessage(ctx, f.sess, RoleModerator, "Hello @g and @j")
	assert.NoError(err)
	assert.Equal("Hello Gosha and Joshi", msg.Body)
	assert.Equal("alice", msg.Author)

	msgs, err := f.conv.Load(ctx, f.convID)
	assert.NoError(err)
	assert.Equal(3, len(msgs))
	assert.Equal("Gosha", msgs[1].Author)
	assert.Equal("Joshi", msgs[2].Author)
	assert.Equal(3, len(f.sess.Transcript), "session view refreshed after dispatch")
}

func TestSendMessageWithoutMentions(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	f := newFixture(t, config.DialogueConfig{})
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, f.sess, RoleModerator, "just thinking out loud")
	assert.NoError(err)

	msgs, err := f.conv.Load(ctx, f.convID)
	assert.NoError(err)
	assert.Equal(1, len(msgs), "no mention, no dispatch")
}

func TestInstructorMessageDoesNotDispatch(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	f := newFixture(t, config.DialogueConfig{})
	ctx := context.Background()

	msg, err := f.svc.SendMessage(ctx, f.sess, RoleInstructor, "@g stay on topic")
	assert.NoError(err)
	assert.Equal(InstructorLabel, msg.Author)
	assert.Equal("Gosha stay on topic", msg.Body, "mentions still rewritten")

	msgs, err := f.conv.Load(ctx, f.convID)
	assert.NoError(err)
	assert.Equal(1, len(msgs), "instructor messages never trigger replies")
}

func TestEngineFailureLeavesQueueErrorVisible(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	f := newFixture(t, config.DialogueConfig{})
	ctx := context.Background()

	f.engine.fail["Gosha"] = errors.New("model down")

	_, err := f.svc.SendMessage(ctx, f.sess, RoleModerator, "hey @g")
	assert.Error(err)
	assert.True(errors.Is(err, dispatch.ErrEngineFailure))
	assert.True(f.sess.LastError != "")

	msgs, err := f.conv.Load(ctx, f.convID)
	assert.NoError(err)
	assert.Equal(1, len(msgs), "only the human message persisted")
}

func TestAgentChainViaMention(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	f := newFixture(t, config.DialogueConfig{ChainCap: 3, CrossReplyProbability: 0})
	ctx := context.Background()

	// Gosha 点名 Joshi，Joshi 不再点名
	f.engine.replies["Gosha"] = []string{"what do you think, @Joshi?"}
	f.engine.replies["Joshi"] = []string{"sounds good to me"}

	_, err := f.svc.SendMessage(ctx, f.sess, RoleModerator, "hey @g")
	assert.NoError(err)

	msgs, err := f.conv.Load(ctx, f.convID)
	assert.NoError(err)
	assert.Equal(3, len(msgs))
	assert.Equal("Joshi", msgs[2].Author, "mentioned agent follows up")
}

func TestChainCapZeroBlocksFollowUps(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	f := newFixture(t, config.DialogueConfig{ChainCap: 0, CrossReplyProbability: 0})
	ctx := context.Background()

	f.engine.replies["Gosha"] = []string{"over to you @Joshi"}

	_, err := f.svc.SendMessage(ctx, f.sess, RoleModerator, "hey @g")
	assert.NoError(err)

	msgs, err := f.conv.Load(ctx, f.convID)
	assert.NoError(err)
	assert.Equal(2, len(msgs), "chain cap zero stops agent-to-agent turns")
}

func TestCrossReplyProbability(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	f := newFixture(t, config.DialogueConfig{ChainCap: 2, CrossReplyProbability: 0.35})
	ctx := context.Background()

	// 总是命中概率：Gosha 回复后 Joshi 接话一次
	f.svc.randFloat = func() float64 { return 0.1 }
	f.engine.replies["Gosha"] = []string{"plain reply"}
	f.engine.replies["Joshi"] = []string{"chiming in"}

	_, err := f.svc.SendMessage(ctx, f.sess, RoleModerator, "hey @g")
	assert.NoError(err)

	msgs, err := f.conv.Load(ctx, f.convID)
	assert.NoError(err)
	assert.True(len(msgs) >= 3)
	assert.Equal("Joshi", msgs[2].Author)
}

func TestTriggerAfterMentionChain(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	f := newFixture(t, config.DialogueConfig{ChainCap: 2, CrossReplyProbability: 0})
	ctx := context.Background()

	f.engine.replies["Gosha"] = []string{"direct answer"}
	f.engine.replies["Joshi"] = []string{"named, so I reply after"}

	// Joshi 整词点名但未被 @：在提及队列之后补位
	_, err := f.svc.SendMessage(ctx, f.sess, RoleModerator, "@g what would Joshi say?")
	assert.NoError(err)

	msgs, err := f.conv.Load(ctx, f.convID)
	assert.NoError(err)
	assert.Equal(3, len(msgs))
	assert.Equal("Gosha", msgs[1].Author)
	assert.Equal("Joshi", msgs[2].Author)
}

func TestManualRespond(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	f := newFixture(t, config.DialogueConfig{})
	ctx := context.Background()

	f.engine.replies["Joshi"] = []string{"manual turn"}

	assert.NoError(f.svc.Respond(ctx, f.sess, "Joshi"))

	msgs, err := f.conv.Load(ctx, f.convID)
	assert.NoError(err)
	assert.Equal(1, len(msgs))
	assert.Equal("Joshi", msgs[0].Author)

	assert.ErrorContains(f.svc.Respond(ctx, f.sess, "Nobody"), "unknown agent")
}

func TestUpdateAgentRole(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	f := newFixture(t, config.DialogueConfig{})
	ctx := context.Background()

	agent, err := f.svc.UpdateAgentRole(ctx, f.sess, "Gosha", "You are now a poet.")
	assert.NoError(err)
	assert.Equal("You are now a poet.", agent.Role)

	msgs, err := f.conv.Load(ctx, f.convID)
	assert.NoError(err)
	assert.Equal(1, len(msgs))
	assert.Equal(InstructorLabel, msgs[0].Author)
	assert.True(strings.Contains(msgs[0].Body, "Updated Gosha's role:"))
	assert.True(f.sess.RoleEdited("Gosha"), "role edit marks intro needed")

	// 成功回复后标记清除
	f.engine.replies["Gosha"] = []string{"a poem"}
	assert.NoError(f.svc.Respond(ctx, f.sess, "Gosha"))
	assert.False(f.sess.RoleEdited("Gosha"))
}

func TestRoleEditSurvivesEngineFailure(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	f := newFixture(t, config.DialogueConfig{})
	ctx := context.Background()

	_, err := f.svc.UpdateAgentRole(ctx, f.sess, "Gosha", "new role")
	assert.NoError(err)

	f.engine.fail["Gosha"] = errors.New("down")
	assert.Error(f.svc.Respond(ctx, f.sess, "Gosha"))
	assert.True(f.sess.RoleEdited("Gosha"), "flag cleared only on success")
}

func TestReflectionAdvancesOneTurnPerPoll(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	f := newFixture(t, config.DialogueConfig{ChainCap: 0})
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	assert.NoError(f.svc.StartReflection(f.sess, 5))
	assert.True(f.sess.ReflectionActive(now))

	f.engine.replies["Gosha"] = []string{"reflecting"}
	f.engine.replies["Joshi"] = []string{"also reflecting"}

	assert.NoError(f.svc.AdvanceReflection(ctx, f.sess))
	assert.NoError(f.svc.AdvanceReflection(ctx, f.sess))

	msgs, err := f.conv.Load(ctx, f.convID)
	assert.NoError(err)
	assert.Equal(2, len(msgs))
	assert.Equal("Gosha", msgs[0].Author, "agents alternate")
	assert.Equal("Joshi", msgs[1].Author)

	// 截止后不再推进并自动关闭
	now = now.Add(6 * time.Minute)
	assert.NoError(f.svc.AdvanceReflection(ctx, f.sess))
	msgs, err = f.conv.Load(ctx, f.convID)
	assert.NoError(err)
	assert.Equal(2, len(msgs))
	assert.False(f.sess.ReflectionActive(now))
}

func TestStartReflectionClampsMinutes(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	f := newFixture(t, config.DialogueConfig{})

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	assert.NoError(f.svc.StartReflection(f.sess, 99))
	assert.Equal(now.Add(10*time.Minute), f.sess.ReflectUntil)

	assert.NoError(f.svc.StartReflection(f.sess, 0))
	assert.Equal(now.Add(1*time.Minute), f.sess.ReflectUntil)
}

func TestEngineAlwaysSeesChronologicalOrder(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	f := newFixture(t, config.DialogueConfig{})
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, f.sess, RoleModerator, "first")
	assert.NoError(err)
	_, err = f.svc.SendMessage(ctx, f.sess, RoleModerator, "second")
	assert.NoError(err)

	// 倒序显示只影响呈现，引擎输入始终按时间顺序
	f.sess.NewestFirst = true

	var lastTranscript string
	f.svc.dispatcher = dispatch.NewDispatcher(f.conv,
		agents.NewRoster([]config.AgentConfig{{Name: "Gosha"}, {Name: "Joshi"}}),
		generateFunc(func(ctx context.Context, agentName, systemPrompt, transcript string) (string, error) {
			lastTranscript = transcript
			return "noted", nil
		}), dispatch.Options{})

	assert.NoError(f.svc.Respond(ctx, f.sess, "Gosha"))
	assert.True(strings.Index(lastTranscript, "first") < strings.Index(lastTranscript, "second"))
}

// generateFunc 以函数形式实现引擎接口
type generateFunc func(ctx context.Context, agentName, systemPrompt, transcript string) (string, error)

func (f generateFunc) Generate(ctx context.Context, agentName, systemPrompt, transcript string) (string, error) {
	return f(ctx, agentName, systemPrompt, transcript)
}

func TestHumanMessageResetsChainCount(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	f := newFixture(t, config.DialogueConfig{ChainCap: 1, CrossReplyProbability: 0})
	ctx := context.Background()

	f.sess.ChainCount = 5

	f.engine.replies["Gosha"] = []string{"fresh chain"}
	_, err := f.svc.SendMessage(ctx, f.sess, RoleModerator, "hey @g")
	assert.NoError(err)
	assert.Equal(1, f.sess.ChainCount)
}

func TestTruncateMiddle(t *testing.T) {
	assert := testutil.NewAssertHelper(t)

	assert.Equal("short", truncateMiddle("short", 20))

	long := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	got := truncateMiddle(long, 25)
	assert.True(len(got) <= 25)
	assert.True(strings.HasPrefix(got, "aaa"))
	assert.True(strings.HasSuffix(got, "bbb"))
	assert.True(strings.Contains(got, " ... "))

	// 截断点不能落在多字节字符中间
	wide := strings.Repeat("汉", 40)
	got = truncateMiddle(wide, 25)
	assert.True(utf8.ValidString(got))
	assert.True(strings.Contains(got, " ... "))
}
