package eventbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/metacubex/mihomo/log"
)

// 事件类型
const (
	EventMeasurementRecorded = "measurement_recorded"
	EventStatusChanged       = "status_changed"
	EventHistoryCleared      = "history_cleared"
)

// Event 事件接口
type Event interface {
	GetType() string
	GetTimestamp() time.Time
	GetData() map[string]interface{}
}

// EventHandler 事件处理器接口
type EventHandler interface {
	HandleEvent(event Event) error
}

// HandlerFunc 函数形式的处理器
type HandlerFunc func(event Event) error

// HandleEvent 调用函数本身
func (f HandlerFunc) HandleEvent(event Event) error {
	return f(event)
}

// EventBus 事件总线接口
type EventBus interface {
	Publish(event Event) error
	Subscribe(handler EventHandler) error
	Unsubscribe(handler EventHandler) error
	GetHandlers() []EventHandler
}

// eventBus 事件总线实现，按订阅顺序同步分发
type eventBus struct {
	handlers []EventHandler
	mu       sync.RWMutex
}

// NewEventBus 创建新的事件总线
func NewEventBus() EventBus {
	return &eventBus{}
}

// Publish 发布事件，单个处理器出错不影响其他处理器。耗时的处理器应包一层AsyncEventHandler
func (eb *eventBus) Publish(event Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	var errs []error
	for _, handler := range eb.GetHandlers() {
		if err := handler.HandleEvent(event); err != nil {
			log.Warnln("event %s handler error: %v", event.GetType(), err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe 订阅事件
func (eb *eventBus) Subscribe(handler EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers = append(eb.handlers, handler)
	return nil
}

// Unsubscribe 取消订阅
func (eb *eventBus) Unsubscribe(handler EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	if !reflect.TypeOf(handler).Comparable() {
		return fmt.Errorf("handler %T cannot be unsubscribed", handler)
	}
	for i, h := range eb.handlers {
		if reflect.TypeOf(h) == reflect.TypeOf(handler) && h == handler {
			eb.handlers = append(eb.handlers[:i], eb.handlers[i+1:]...)
			return nil
		}
	}
	return nil
}

// GetHandlers 获取所有处理器
func (eb *eventBus) GetHandlers() []EventHandler {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	handlers := make([]EventHandler, len(eb.handlers))
	copy(handlers, eb.handlers)
	return handlers
}

// BaseEvent 基础事件结构
type BaseEvent struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

func (be *BaseEvent) GetType() string {
	return be.Type
}

func (be *BaseEvent) GetTimestamp() time.Time {
	return be.Timestamp
}

func (be *BaseEvent) GetData() map[string]interface{} {
	return be.Data
}

// NewBaseEvent 创建基础事件
func NewBaseEvent(eventType string, data map[string]interface{}) *BaseEvent {
	return &BaseEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// LoggingEventHandler 日志事件处理器
type LoggingEventHandler struct{}

func (leh *LoggingEventHandler) HandleEvent(event Event) error {
	if event.GetType() == EventStatusChanged {
		log.Infoln("[Event] %s: %v", event.GetType(), event.GetData())
		return nil
	}
	log.Debugln("[Event] %s: %v", event.GetType(), event.GetData())
	return nil
}

// AsyncEventHandler 异步事件处理器
type AsyncEventHandler struct {
	handler     EventHandler
	workerCount int
	eventChan   chan Event
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func (aeh *AsyncEventHandler) HandleEvent(event Event) error {
	select {
	case aeh.eventChan <- event:
		return nil
	default:
		return fmt.Errorf("event channel is full, %s dropped", event.GetType())
	}
}

// Start 启动异步处理器
func (aeh *AsyncEventHandler) Start() {
	for i := 0; i < aeh.workerCount; i++ {
		aeh.wg.Add(1)
		go aeh.worker()
	}
}

// Stop 停止异步处理器，已入队的事件处理完再退出
func (aeh *AsyncEventHandler) Stop() {
	aeh.cancel()
	aeh.wg.Wait()
}

func (aeh *AsyncEventHandler) worker() {
	defer aeh.wg.Done()

	for {
		select {
		case event := <-aeh.eventChan:
			aeh.handle(event)
		case <-aeh.ctx.Done():
			for {
				select {
				case event := <-aeh.eventChan:
					aeh.handle(event)
				default:
					return
				}
			}
		}
	}
}

func (aeh *AsyncEventHandler) handle(event Event) {
	if err := aeh.handler.HandleEvent(event); err != nil {
		log.Warnln("async event handler error: %v", err)
	}
}

// NewAsyncEventHandler 创建异步事件处理器
func NewAsyncEventHandler(handler EventHandler, bufferSize, workerCount int) *AsyncEventHandler {
	ctx, cancel := context.WithCancel(context.Background())
	if workerCount <= 0 {
		workerCount = 1
	}

	return &AsyncEventHandler{
		handler:     handler,
		workerCount: workerCount,
		eventChan:   make(chan Event, bufferSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// FilteredEventHandler 过滤事件处理器
type FilteredEventHandler struct {
	handler    EventHandler
	eventTypes map[string]bool
	predicate  func(event Event) bool
}

func (feh *FilteredEventHandler) HandleEvent(event Event) error {
	if len(feh.eventTypes) > 0 && !feh.eventTypes[event.GetType()] {
		return nil
	}
	if feh.predicate != nil && !feh.predicate(event) {
		return nil
	}
	return feh.handler.HandleEvent(event)
}

// NewFilteredEventHandler 创建过滤事件处理器
func NewFilteredEventHandler(handler EventHandler, eventTypes []string, predicate func(event Event) bool) *FilteredEventHandler {
	typeMap := make(map[string]bool)
	for _, eventType := range eventTypes {
		typeMap[eventType] = true
	}

	return &FilteredEventHandler{
		handler:    handler,
		eventTypes: typeMap,
		predicate:  predicate,
	}
}

// RetryEventHandler 重试事件处理器
type RetryEventHandler struct {
	handler    EventHandler
	maxRetries int
	retryDelay time.Duration
	retryable  func(error) bool
}

func (reh *RetryEventHandler) HandleEvent(event Event) error {
	var lastError error

	for i := 0; i < reh.maxRetries; i++ {
		err := reh.handler.HandleEvent(event)
		if err == nil {
			return nil
		}
		lastError = err

		if reh.retryable != nil && !reh.retryable(err) {
			return err
		}
		if i < reh.maxRetries-1 {
			time.Sleep(reh.retryDelay)
		}
	}

	return lastError
}

// NewRetryEventHandler 创建重试事件处理器
func NewRetryEventHandler(handler EventHandler, maxRetries int, retryDelay time.Duration, retryable func(error) bool) *RetryEventHandler {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &RetryEventHandler{
		handler:    handler,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		retryable:  retryable,
	}
}
