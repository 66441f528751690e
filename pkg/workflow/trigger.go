package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/callback"
	"go.uber.org/zap"
)

// executeTrigger builds the trigger envelope and hands it to the reporter.
// A webhook mock payload is used only for test runs without live input.
func (r *run) executeTrigger(ctx context.Context, node *Node, name string) ExecutionResult {
	triggerType, _ := node.Config["triggerType"].(string)
	data := map[string]any{
		"triggered": true,
		"timestamp": time.Now().UnixMilli(),
	}

	mock, _ := node.Config["webhookMockRequest"].(string)
	switch {
	case triggerType == "Webhook" && mock != "" && len(r.input.TriggerInput) == 0:
		var mockData map[string]any
		if err := json.Unmarshal([]byte(mock), &mockData); err != nil {
			r.logger.Warn("Failed to parse webhook mock request",
				zap.String("node_id", node.ID),
				zap.Error(err))
			break
		}
		r.logger.Debug("Using webhook mock request data", zap.String("node_id", node.ID))
		for k, v := range mockData {
			data[k] = v
		}
	case len(r.input.TriggerInput) > 0:
		for k, v := range r.input.TriggerInput {
			data[k] = v
		}
	}

	reportCtx, cancel := context.WithTimeout(ctx, r.engine.reportTimeout)
	defer cancel()
	err := r.engine.reporter.Trigger(reportCtx, callback.TriggerEvent{
		ExecutionID: r.input.ExecutionID,
		WorkflowID:  r.input.WorkflowID,
		NodeID:      node.ID,
		NodeName:    name,
		TriggerType: triggerType,
		Data:        data,
	})
	if err != nil {
		r.logger.Warn("Failed to report trigger", zap.String("node_id", node.ID), zap.Error(err))
	}

	return ExecutionResult{Success: true, Data: data}
}
