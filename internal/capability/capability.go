package capability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

// Handler — обработчик одного действия. Ошибка и паника превращаются
// в неуспешный ActionResult на уровне диспетчера.
type Handler func(ctx context.Context, params, actx map[string]interface{}) (domain.ActionResult, error)

// Capability — вариант агента: закрытый набор действий, доступных по имени.
type Capability interface {
	Type() string
	Actions() []string
	Lookup(action string) (Handler, bool)
}

// Factory собирает вариант из конфигурации развертывания.
type Factory func(config map[string]interface{}) (Capability, error)

// Catalog — реестр известных типов агентов.
type Catalog struct {
	factories map[string]Factory
}

func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

func (c *Catalog) Register(agentType string, f Factory) {
	c.factories[agentType] = f
}

// Build возвращает ErrUnknownAgentType для незарегистрированного типа.
func (c *Catalog) Build(agentType string, config map[string]interface{}) (Capability, error) {
	f, ok := c.factories[agentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownAgentType, agentType)
	}
	return f(config)
}

func (c *Catalog) Types() []string {
	out := make([]string, 0, len(c.factories))
	for t := range c.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Типы агентов из коробки
const (
	TypeInventory  = "inventory"
	TypeFinance    = "finance"
	TypeProduction = "production"
	TypeQA         = "qa"
	TypeLogistics  = "logistics"
	TypeDecision   = "decision"
)

// DefaultCatalog регистрирует все встроенные варианты. now нужен обработчикам,
// которые считают сроки (годность, расписание).
func DefaultCatalog(now func() time.Time) *Catalog {
	if now == nil {
		now = time.Now
	}
	c := NewCatalog()
	c.Register(TypeInventory, func(map[string]interface{}) (Capability, error) { return NewInventory(now), nil })
	c.Register(TypeFinance, func(cfg map[string]interface{}) (Capability, error) { return NewFinance(cfg), nil })
	c.Register(TypeProduction, func(map[string]interface{}) (Capability, error) { return NewProduction(now), nil })
	c.Register(TypeQA, func(map[string]interface{}) (Capability, error) { return NewQA(), nil })
	c.Register(TypeLogistics, func(map[string]interface{}) (Capability, error) { return NewLogistics(now), nil })
	c.Register(TypeDecision, func(map[string]interface{}) (Capability, error) { return NewDecision(), nil })
	return c
}
