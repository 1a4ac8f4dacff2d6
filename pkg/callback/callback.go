package callback

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/log"
	"github.com/purser-io/purser/pkg/types"
)

// Create builds a callback pointing at serviceSelfLink. The target is not
// validated here; a malformed URI surfaces only at Notify time as a
// delivery error.
func Create(serviceSelfLink string, subStageComplete, subStageFailed types.SubStage,
	direction types.CallbackDirection) types.TaskCallback {
	return types.TaskCallback{
		ServiceSelfLink:  serviceSelfLink,
		SubStageComplete: subStageComplete,
		SubStageFailed:   subStageFailed,
		Direction:        direction,
	}
}

// CreateEmpty builds a no-op callback; Notify on it succeeds with zero effect
func CreateEmpty() types.TaskCallback {
	return types.TaskCallback{}
}

// SendFunc delivers a callback-derived patch to a local task document
type SendFunc func(targetLink string, patch *types.TaskDocument) error

// Notifier delivers terminal-stage notifications to callback targets.
// Local self-links go through the send function; http(s) targets are POSTed
// the raw callback response. No retries in either path; the caller owns
// recovery policy.
type Notifier struct {
	send   SendFunc
	client *http.Client
}

// NewNotifier creates a notifier delivering local callbacks through send
func NewNotifier(send SendFunc) *Notifier {
	return &Notifier{
		send:   send,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Response builds the callback response for a task in a terminal stage
func Response(task *types.TaskDocument) *types.CallbackResponse {
	cb := task.Callback
	resp := &types.CallbackResponse{
		Stage:            task.Stage,
		SourceTaskLink:   task.SelfLink,
		ResourceLinks:    task.ResourceLinks,
		CustomProperties: task.CustomProperties,
	}
	switch task.Stage {
	case types.TaskStageFinished:
		resp.SubStage = cb.SubStageComplete
	default:
		resp.SubStage = cb.SubStageFailed
		resp.Failure = task.Failure
	}
	return resp
}

// Notify delivers exactly one notification for the task's terminal
// transition. A delivery failure is returned as CallbackDeliveryError; the
// task's own terminal stage is never affected.
func (n *Notifier) Notify(task *types.TaskDocument) error {
	cb := task.Callback
	if cb.Empty() {
		return nil
	}

	resp := Response(task)
	logger := log.WithTask(task.SelfLink)
	logger.Debug().
		Str("target", cb.ServiceSelfLink).
		Str("stage", string(task.Stage)).
		Msg("Notifying callback target")

	if isExternal(cb.ServiceSelfLink) {
		if err := n.sendExternal(cb.ServiceSelfLink, resp); err != nil {
			return &errdefs.CallbackDeliveryError{Target: cb.ServiceSelfLink, Err: err}
		}
		return nil
	}

	// Local delivery patches the waiting task into the reported sub-stage.
	patch := &types.TaskDocument{
		SelfLink:      cb.ServiceSelfLink,
		Stage:         types.TaskStageStarted,
		SubStage:      resp.SubStage,
		ResourceLinks: resp.ResourceLinks,
		Failure:       resp.Failure,
	}
	if n.send == nil {
		return &errdefs.CallbackDeliveryError{
			Target: cb.ServiceSelfLink,
			Err:    fmt.Errorf("no local sender configured"),
		}
	}
	if err := n.send(cb.ServiceSelfLink, patch); err != nil {
		return &errdefs.CallbackDeliveryError{Target: cb.ServiceSelfLink, Err: err}
	}
	return nil
}

func (n *Notifier) sendExternal(target string, resp *types.CallbackResponse) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	httpResp, err := n.client.Post(target, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode >= 300 {
		return fmt.Errorf("callback target returned status %d", httpResp.StatusCode)
	}
	return nil
}

func isExternal(target string) bool {
	return strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")
}
