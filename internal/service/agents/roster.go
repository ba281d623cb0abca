// Package agents 维护参与对话的 AI 代理名册。
package agents

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ashwinyue/open-dialogue/internal/config"
)

// Agent 代理及其角色设定
type Agent struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Roster 代理名册（进程内，配置顺序固定）
type Roster struct {
	mu     sync.RWMutex
	agents []Agent
}

// NewRoster 从配置创建名册
func NewRoster(cfgs []config.AgentConfig) *Roster {
	r := &Roster{}
	for _, c := range cfgs {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		r.agents = append(r.agents, Agent{Name: name, Role: c.Role})
	}
	return r
}

// List 返回配置顺序的代理快照
func (r *Roster) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Agent(nil), r.agents...)
}

// Names 返回配置顺序的名字列表
func (r *Roster) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.agents))
	for i, a := range r.agents {
		names[i] = a.Name
	}
	return names
}

// Get 按名字查找代理（大小写不敏感）
func (r *Roster) Get(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.agents {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return Agent{}, false
}

// Others 返回除指定代理外的其他名字（配置顺序）
func (r *Roster) Others(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var others []string
	for _, a := range r.agents {
		if !strings.EqualFold(a.Name, name) {
			others = append(others, a.Name)
		}
	}
	return others
}

// After 返回指定代理之后的下一个代理名字（循环）
func (r *Roster) After(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.agents) < 2 {
		return ""
	}
	for i, a := range r.agents {
		if strings.EqualFold(a.Name, name) {
			return r.agents[(i+1)%len(r.agents)].Name
		}
	}
	return r.agents[0].Name
}

// SetRole 更新代理的角色设定
func (r *Roster) SetRole(name, role string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.agents {
		if strings.EqualFold(r.agents[i].Name, name) {
			r.agents[i].Role = role
			return r.agents[i], nil
		}
	}
	return Agent{}, fmt.Errorf("unknown agent: %s", name)
}
