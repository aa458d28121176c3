package action

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/execlog"
	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/types"
	"github.com/BaSui01/taskflow/workflow"
)

// toolTask is one detached tool execution spawned mid-stream. The stream
// transport may finish emitting tokens before the tool resolves, so the
// round joins tasks only after the stream channel closes.
type toolTask struct {
	done chan struct{}
	msg  types.Message
	err  error // set only when the failure escalates (cancellation)
}

// runRound sends one request and consumes the stream. Tool-use chunks
// spawn detached tasks immediately; after the stream completes the round
// awaits each task and appends its tool-result message. It returns the
// messages to add to the history and whether any tool was called.
func (a *PromptAction) runRound(ctx context.Context, ec *workflow.ExecutionContext, provider llm.Provider, req *llm.ChatRequest) ([]types.Message, bool, error) {
	start := time.Now()

	stream, err := provider.Stream(ctx, req)
	if err != nil {
		a.metrics.ObserveRound("error", time.Since(start))
		return nil, false, types.NewError(types.ErrUpstreamError, "stream request failed").WithCause(err)
	}

	var (
		content strings.Builder
		calls   []types.ToolCall
		tasks   []*toolTask
	)
	for chunk := range stream {
		if chunk.Err != nil {
			a.metrics.ObserveRound("error", time.Since(start))
			return nil, false, types.NewError(types.ErrUpstreamError, "stream failed").WithCause(chunk.Err)
		}
		if ec.Aborted() {
			a.metrics.ObserveRound("canceled", time.Since(start))
			return nil, false, types.NewError(types.ErrCanceled, "aborted mid-stream")
		}
		content.WriteString(chunk.Delta)
		if chunk.Usage != nil {
			a.metrics.AddTokens(chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens)
		}
		if chunk.ToolUse != nil {
			call := *chunk.ToolUse
			calls = append(calls, call)
			tasks = append(tasks, a.spawnToolTask(ctx, ec, call))
		}
	}

	added := []types.Message{types.NewAssistantMessage(content.String()).WithToolCalls(calls)}

	// Phase two: the stream is done, now wait for the detached tasks.
	for _, task := range tasks {
		<-task.done
		if task.err != nil {
			a.metrics.ObserveRound("canceled", time.Since(start))
			return nil, true, task.err
		}
		added = append(added, task.msg)
	}

	a.metrics.ObserveRound("ok", time.Since(start))
	return added, len(calls) > 0, nil
}

func (a *PromptAction) spawnToolTask(ctx context.Context, ec *workflow.ExecutionContext, call types.ToolCall) *toolTask {
	task := &toolTask{done: make(chan struct{})}
	go func() {
		defer close(task.done)
		task.msg, task.err = a.execToolCall(ctx, ec, call)
	}()
	return task
}

// execToolCall runs the before-hook, skip/abort checks, tool execution,
// and after-hook pipeline. Failures are converted into error-flagged
// tool-result messages so the conversation continues, except cancellation
// which escalates and terminates the loop.
func (a *PromptAction) execToolCall(ctx context.Context, ec *workflow.ExecutionContext, call types.ToolCall) (types.Message, error) {
	log := ec.Logger()
	hooks := ec.Hooks()
	input := call.Arguments

	if hooks.BeforeToolUse != nil {
		mutated, err := hooks.BeforeToolUse(ctx, call.Name, ec, input)
		if err != nil {
			if types.IsCanceled(err) {
				return types.Message{}, err
			}
			return a.toolFailure(call, err, 0, log), nil
		}
		if mutated != nil {
			input = mutated
		}
	}

	if ec.ConsumeSkip() {
		log.Info("tool call skipped by hook", zap.String("tool", call.Name), zap.String("call_id", call.ID))
		return types.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Result:     json.RawMessage(`"skipped"`),
		}.ToMessage(), nil
	}

	if ec.Aborted() {
		return types.Message{}, types.NewError(types.ErrCanceled, "aborted before tool execution")
	}
	if err := ctx.Err(); err != nil {
		return types.Message{}, types.NewError(types.ErrCanceled, "context canceled").WithCause(err)
	}

	t, ok := ec.Tool(call.Name)
	if !ok {
		err := types.NewErrorf(types.ErrToolNotFound, "tool %q not available", call.Name)
		return a.toolFailure(call, err, 0, log), nil
	}

	log.Debug("tool call started", zap.String("tool", call.Name), zap.String("call_id", call.ID))
	start := time.Now()
	result, err := t.Execute(ctx, ec, input)
	duration := time.Since(start)

	if err != nil {
		if types.IsCanceled(err) {
			a.metrics.ObserveToolCall(call.Name, "canceled", duration)
			return types.Message{}, err
		}
		a.metrics.ObserveToolCall(call.Name, "error", duration)
		return a.toolFailure(call, err, duration, log), nil
	}

	if hooks.AfterToolUse != nil {
		replaced, herr := hooks.AfterToolUse(ctx, call.Name, ec, result)
		if herr != nil {
			if types.IsCanceled(herr) {
				return types.Message{}, herr
			}
			return a.toolFailure(call, herr, duration, log), nil
		}
		if replaced != nil {
			result = replaced
		}
	}

	a.last.set(call.Name, result)
	a.metrics.ObserveToolCall(call.Name, "ok", duration)
	log.Info("tool call completed",
		zap.String("tool", call.Name),
		zap.Duration("duration", duration))

	tr := types.ToolResult{ToolCallID: call.ID, Name: call.Name, Duration: duration}
	if result != nil {
		tr.Images = result.Images
		payload, merr := json.Marshal(result.Value)
		if merr != nil {
			payload, _ = json.Marshal(fmt.Sprintf("%v", result.Value))
		}
		tr.Result = payload
	}
	return tr.ToMessage(), nil
}

func (a *PromptAction) toolFailure(call types.ToolCall, err error, d time.Duration, log *execlog.Logger) types.Message {
	log.Warn("tool call failed",
		zap.String("tool", call.Name),
		zap.Error(err))
	return types.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Error:      err.Error(),
		Duration:   d,
	}.ToMessage()
}
