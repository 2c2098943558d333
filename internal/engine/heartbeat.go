package engine

import (
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Beater — экземпляр агента, от имени которого идет heartbeat.
type Beater interface {
	// Beat шлет heartbeat. false означает, что задачу пора снять.
	Beat() bool
	// Active перепроверяет состояние под замком планировщика перед снятием задачи.
	Active() bool
}

// Heartbeat — общий планировщик периодических heartbeat-задач агентов.
// Слот агента принадлежит одному экземпляру (Beater): задачи чужих экземпляров
// с тем же id не ставятся.
type Heartbeat struct {
	cron     *cronlib.Cron
	interval time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	slots map[string]*heartbeatSlot
}

// heartbeatSlot меняется только под Heartbeat.mu.
type heartbeatSlot struct {
	owner     Beater
	id        cronlib.EntryID
	scheduled bool
}

func NewHeartbeat(interval time.Duration, logger *zap.Logger) *Heartbeat {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Heartbeat{
		cron:     cronlib.New(),
		interval: interval,
		logger:   logger.Named("heartbeat"),
		slots:    make(map[string]*heartbeatSlot),
	}
}

func (h *Heartbeat) Start() { h.cron.Start() }

// Stop останавливает планировщик и ждет завершения выполняющихся задач.
func (h *Heartbeat) Stop() {
	<-h.cron.Stop().Done()
}

// Claim отдает слот агента новому экземпляру и снимает задачу прежнего.
// После Claim вызовы Track от прежнего экземпляра игнорируются.
func (h *Heartbeat) Claim(agentID string, owner Beater) {
	h.mu.Lock()
	old := h.slots[agentID]
	h.slots[agentID] = &heartbeatSlot{owner: owner}
	h.mu.Unlock()

	if old != nil && old.scheduled {
		h.cron.Remove(old.id)
	}
}

// Track ставит задачу экземпляра, если ее еще нет. Слот без владельца занимается.
func (h *Heartbeat) Track(agentID string, owner Beater) {
	h.mu.Lock()
	defer h.mu.Unlock()

	slot, ok := h.slots[agentID]
	switch {
	case !ok:
		slot = &heartbeatSlot{owner: owner}
		h.slots[agentID] = slot
	case slot.owner != owner:
		h.logger.Debug("heartbeat slot owned by another instance", zap.String("agent_id", agentID))
		return
	case slot.scheduled:
		return
	}

	slot.id = h.cron.Schedule(cronlib.Every(h.interval), cronlib.FuncJob(func() {
		if owner.Beat() {
			return
		}
		h.retire(agentID, slot)
	}))
	slot.scheduled = true
	h.logger.Debug("heartbeat scheduled", zap.String("agent_id", agentID), zap.Duration("interval", h.interval))
}

// retire снимает задачу, только если слот все еще ее и агент действительно неактивен.
// Повторный старт между Beat и retire оставляет задачу на месте.
func (h *Heartbeat) retire(agentID string, slot *heartbeatSlot) {
	h.mu.Lock()
	if h.slots[agentID] != slot || !slot.scheduled || slot.owner.Active() {
		h.mu.Unlock()
		return
	}
	slot.scheduled = false
	id := slot.id
	h.mu.Unlock()

	h.cron.Remove(id)
	h.logger.Debug("heartbeat unscheduled", zap.String("agent_id", agentID))
}

// Untrack освобождает слот агента (остановка реестра).
func (h *Heartbeat) Untrack(agentID string) {
	h.mu.Lock()
	slot, ok := h.slots[agentID]
	if ok {
		delete(h.slots, agentID)
	}
	h.mu.Unlock()
	if ok && slot.scheduled {
		h.cron.Remove(slot.id)
	}
}

func (h *Heartbeat) Tracked(agentID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	slot, ok := h.slots[agentID]
	return ok && slot.scheduled
}
