package cache

import (
	"github.com/sirupsen/logrus"
)

// LogObserver writes every cache event to a logrus logger.
type LogObserver[K comparable, V any] struct {
	logger *logrus.Entry
	level  logrus.Level
}

func NewLogObserver[K comparable, V any](logger *logrus.Logger, level logrus.Level) *LogObserver[K, V] {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogObserver[K, V]{
		logger: logger.WithField("component", "go-cache.events"),
		level:  level,
	}
}

func (o *LogObserver[K, V]) OnInsert(p EventPayload[K, V]) {
	o.logger.WithFields(logrus.Fields{
		"key":   p.Key,
		"value": p.Value,
	}).Log(o.level, "cache insert")
}

func (o *LogObserver[K, V]) OnRemove(p EventPayload[K, V]) {
	o.logger.WithFields(logrus.Fields{
		"key":   p.Key,
		"value": p.Value,
	}).Log(o.level, "cache remove")
}

func (o *LogObserver[K, V]) OnClear() {
	o.logger.Log(o.level, "cache clear")
}
