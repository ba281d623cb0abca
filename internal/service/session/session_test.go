package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashwinyue/open-dialogue/internal/config"
	"github.com/ashwinyue/open-dialogue/internal/repository"
	"github.com/ashwinyue/open-dialogue/internal/service/conversation"
	"github.com/ashwinyue/open-dialogue/internal/testutil"
)

func newTestManager(t *testing.T) (*Manager, *conversation.Service, *testutil.MemoryStore) {
	t.Helper()
	store := testutil.NewMemoryStore()
	conv := conversation.NewService(store)
	cfg := &config.SyncConfig{MessageIntervalSeconds: 2, ListIntervalSeconds: 10, SessionTTLHours: 24}
	return NewManager(conv, cfg, nil), conv, store
}

func TestCreateAndGet(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	sess := m.Create(ctx, "alice")
	assert.True(sess.ID != "")
	assert.Equal("alice", sess.DisplayName)

	got, err := m.Get(ctx, sess.ID)
	assert.NoError(err)
	assert.Equal(sess.ID, got.ID)

	_, err = m.Get(ctx, "no-such-session")
	assert.True(errors.Is(err, ErrSessionNotFound))
}

func TestSelectLoadsTranscript(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	m, conv, _ := newTestManager(t)
	ctx := context.Background()

	c, err := conv.Create(ctx)
	assert.NoError(err)
	_, err = conv.Append(ctx, c.ID, "alice", "hello")
	assert.NoError(err)

	sess := m.Create(ctx, "alice")
	sess.Lock()
	defer sess.Unlock()

	assert.NoError(m.Select(ctx, sess, c.ID))
	assert.Equal(c.ID, sess.ConversationID)
	assert.Equal(1, len(sess.Transcript))

	err = m.Select(ctx, sess, "no-such-conversation")
	assert.True(errors.Is(err, repository.ErrConversationNotFound))
}

func TestRefreshMessagesReplacesWholesale(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	m, conv, _ := newTestManager(t)
	ctx := context.Background()

	c, err := conv.Create(ctx)
	assert.NoError(err)
	_, err = conv.Append(ctx, c.ID, "alice", "one")
	assert.NoError(err)

	sess := m.Create(ctx, "alice")
	sess.Lock()
	defer sess.Unlock()
	assert.NoError(m.Select(ctx, sess, c.ID))
	assert.Equal(1, len(sess.Transcript))

	// 其他端写入后强制刷新看到新消息
	_, err = conv.Append(ctx, c.ID, "bob", "two")
	assert.NoError(err)
	assert.NoError(m.RefreshMessages(ctx, sess, true))
	assert.Equal(2, len(sess.Transcript))
	assert.Equal("two", sess.Transcript[1].Body)
}

func TestRefreshMessagesThrottled(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	m, conv, _ := newTestManager(t)
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	c, err := conv.Create(ctx)
	assert.NoError(err)

	sess := m.Create(ctx, "alice")
	sess.Lock()
	defer sess.Unlock()
	assert.NoError(m.Select(ctx, sess, c.ID))

	_, err = conv.Append(ctx, c.ID, "bob", "late")
	assert.NoError(err)

	// 间隔未到：非强制刷新不访问存储
	assert.NoError(m.RefreshMessages(ctx, sess, false))
	assert.Equal(0, len(sess.Transcript))

	// 间隔已过：看到新消息
	now = now.Add(3 * time.Second)
	assert.NoError(m.RefreshMessages(ctx, sess, false))
	assert.Equal(1, len(sess.Transcript))
}

func TestRefreshMessagesDeletedConversationClearsSelection(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	m, conv, _ := newTestManager(t)
	ctx := context.Background()

	c, err := conv.Create(ctx)
	assert.NoError(err)

	sess := m.Create(ctx, "alice")
	sess.Lock()
	defer sess.Unlock()
	assert.NoError(m.Select(ctx, sess, c.ID))

	assert.NoError(conv.Delete(ctx, c.ID))
	assert.NoError(m.RefreshMessages(ctx, sess, true))
	assert.Equal("", sess.ConversationID, "deleted conversation clears selection")
	assert.Equal(0, len(sess.Transcript))
}

func TestRefreshMessagesStoreErrorKeepsCache(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	m, conv, store := newTestManager(t)
	ctx := context.Background()

	c, err := conv.Create(ctx)
	assert.NoError(err)
	_, err = conv.Append(ctx, c.ID, "alice", "hello")
	assert.NoError(err)

	sess := m.Create(ctx, "alice")
	sess.Lock()
	defer sess.Unlock()
	assert.NoError(m.Select(ctx, sess, c.ID))

	store.FailNext = true
	err = m.RefreshMessages(ctx, sess, true)
	assert.Error(err)
	assert.Equal(c.ID, sess.ConversationID, "selection survives a transient failure")
	assert.Equal(1, len(sess.Transcript), "cache survives a transient failure")
}

func TestRefreshListClearsMissingSelection(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	m, conv, _ := newTestManager(t)
	ctx := context.Background()

	first, err := conv.Create(ctx)
	assert.NoError(err)
	second, err := conv.Create(ctx)
	assert.NoError(err)

	sess := m.Create(ctx, "alice")
	sess.Lock()
	defer sess.Unlock()
	assert.NoError(m.Select(ctx, sess, first.ID))
	assert.NoError(m.RefreshList(ctx, sess, true))
	assert.Equal(2, len(sess.Conversations))
	assert.Equal(first.ID, sess.ConversationID)

	// 选中的会话从清单消失：清除选中
	assert.NoError(conv.Delete(ctx, first.ID))
	assert.NoError(m.RefreshList(ctx, sess, true))
	assert.Equal("", sess.ConversationID)
	_ = second
}

func TestRefreshListEmptyKeepsSelection(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	m, conv, _ := newTestManager(t)
	ctx := context.Background()

	c, err := conv.Create(ctx)
	assert.NoError(err)

	sess := m.Create(ctx, "alice")
	sess.Lock()
	defer sess.Unlock()
	assert.NoError(m.Select(ctx, sess, c.ID))

	assert.NoError(conv.Delete(ctx, c.ID))
	// 清单为空：选中状态暂时保留（交给消息刷新兜底）
	assert.NoError(m.RefreshList(ctx, sess, true))
	assert.Equal(c.ID, sess.ConversationID)
}

func TestMarkNeedsIntroAll(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	a := m.Create(ctx, "alice")
	b := m.Create(ctx, "bob")

	m.MarkNeedsIntroAll("Gosha", nil)
	assert.True(a.RoleEdited("Gosha"))
	assert.True(b.RoleEdited("Gosha"))
	assert.False(a.RoleEdited("Joshi"))

	a.ClearNeedsIntro("Gosha")
	assert.False(a.RoleEdited("Gosha"))
	assert.True(b.RoleEdited("Gosha"), "flags are per session")
}

func TestReflectionActive(t *testing.T) {
	assert := testutil.NewAssertHelper(t)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	s := &Session{}
	assert.False(s.ReflectionActive(now))

	s.ReflectUntil = now.Add(5 * time.Minute)
	assert.True(s.ReflectionActive(now))
	assert.False(s.ReflectionActive(now.Add(6 * time.Minute)))
}
