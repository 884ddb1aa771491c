package broker

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/abadojack/whatlanggo"
	v1 "github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/shared/contracts/chat/v1"
)

// analysisContextWindow is how many recent messages feed one analysis.
const analysisContextWindow = 3

// AITask asks for one analysis pass over a room after a message lands.
// Tasks are decoupled from the connection that produced them; a sender
// disconnecting does not cancel analysis already queued.
type AITask struct {
	RoomID       string
	MessageID    string
	Content      string
	SenderID     string
	TargetUserID string
	TargetLang   string
}

// AIOrchestrator runs analysis tasks through a bounded queue and a fixed
// worker pool, throttled by the shared rate limiter. Results fan out as
// user-channel events; failed tasks are logged and dropped, never retried.
type AIOrchestrator struct {
	log     *slog.Logger
	ai      AIService
	store   ChatStore
	limiter RateLimiter
	groups  *GroupBroker
	workers int
	tasks   chan AITask

	wg sync.WaitGroup
}

// NewAIOrchestrator builds an orchestrator with the given worker count.
// workers and queue size fall back to sane defaults when non-positive.
func NewAIOrchestrator(log *slog.Logger, ai AIService, store ChatStore, limiter RateLimiter, groups *GroupBroker, workers, queueSize int) *AIOrchestrator {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &AIOrchestrator{
		log:     log,
		ai:      ai,
		store:   store,
		limiter: limiter,
		groups:  groups,
		workers: workers,
		tasks:   make(chan AITask, queueSize),
	}
}

// Run starts the worker pool and blocks until ctx is done and all
// in-flight tasks have finished.
func (o *AIOrchestrator) Run(ctx context.Context) {
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-o.tasks:
					o.process(ctx, task)
				}
			}
		}()
	}
	<-ctx.Done()
	o.wg.Wait()
}

// Schedule enqueues a task without blocking. When the queue is full the
// task is dropped with a warning; chat delivery never waits on AI.
func (o *AIOrchestrator) Schedule(task AITask) {
	select {
	case o.tasks <- task:
	default:
		o.log.Warn("ai.task_dropped", "room_id", task.RoomID, "message_id", task.MessageID)
	}
}

func (o *AIOrchestrator) process(ctx context.Context, task AITask) {
	if err := o.limiter.Acquire(ctx); err != nil {
		o.log.Warn("ai.rate_limit_aborted", "room_id", task.RoomID, "error", err)
		return
	}

	recent, err := o.store.RecentMessages(ctx, task.RoomID, analysisContextWindow)
	if err != nil {
		o.log.Error("ai.context_fetch_failed", "room_id", task.RoomID, "error", err)
		return
	}
	if !contains(recent, task.Content) {
		recent = append(recent, task.Content)
		if len(recent) > analysisContextWindow {
			recent = recent[len(recent)-analysisContextWindow:]
		}
	}
	conversation := strings.Join(recent, "\n")

	lang := o.resolveLanguage(ctx, task, conversation)

	analysis, err := o.ai.Analyze(ctx, conversation, lang)
	if err != nil {
		o.log.Error("ai.analysis_failed", "room_id", task.RoomID, "message_id", task.MessageID, "error", err)
		return
	}

	o.groups.Send(UserGroup(task.TargetUserID),
		v1.NewAISuggestionsEvent(task.RoomID, task.MessageID, analysis.Replies, analysis.Suggestions))
	o.groups.Send(UserGroup(task.TargetUserID), v1.NewAISummaryEvent(task.RoomID, analysis.Mood))
	o.groups.Send(UserGroup(task.SenderID), v1.NewAISummaryEvent(task.RoomID, analysis.Mood))
}

// resolveLanguage picks the language the suggestions should be written
// in: sender override first, then the target's stored preference, then a
// detection pass over the conversation, then English.
func (o *AIOrchestrator) resolveLanguage(ctx context.Context, task AITask, conversation string) string {
	if task.TargetLang != "" {
		return task.TargetLang
	}
	if lang, err := o.store.PreferredLanguage(ctx, task.TargetUserID); err == nil && lang != "" {
		return lang
	}
	if info := whatlanggo.Detect(conversation); info.IsReliable() {
		if code := info.Lang.Iso6391(); code != "" {
			return code
		}
	}
	return "en"
}

func contains(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}
