package infra

const (
	// RedisNamespace Базовый префикс ключей агентов
	RedisNamespace = "agent"
)

// Префиксы ключей и каналов, к ним дописывается ID агента
const (
	RedisKeyActivityPrefix = RedisNamespace + ":activity:" // LIST, новые записи слева
	RedisKeyConfigPrefix   = RedisNamespace + ":config:"   // STRING, JSON развертывания
	RedisChanEventsPrefix  = RedisNamespace + ":events:"   // Pub/Sub канал событий агента
)

// RedisChanControl — общий канал команд жизненного цикла, формат "agent_id:command"
const RedisChanControl = RedisNamespace + ":control"

// ActivityKey — список истории действий агента.
func ActivityKey(agentID string) string { return RedisKeyActivityPrefix + agentID }

// ConfigKey — сохраненная конфигурация развертывания.
func ConfigKey(agentID string) string { return RedisKeyConfigPrefix + agentID }

// EventsChannel — канал событий агента.
func EventsChannel(agentID string) string { return RedisChanEventsPrefix + agentID }
