package usecase

import (
	"context"

	"shopassist/internal/domain/entity"
)

// ProcessStreamingTurn runs the same pipeline as ProcessTurn but delivers the
// reply as text events while the model produces it. The channel always ends
// with exactly one metadata or error event, then closes. Persistence happens
// after the model has finished.
//
// Cancelling ctx stops delivery and aborts the model call.
func (o *Orchestrator) ProcessStreamingTurn(ctx context.Context, req entity.TurnRequest) <-chan entity.StreamEvent {
	events := make(chan entity.StreamEvent, 16)

	go func() {
		defer close(events)

		emit := func(ev entity.StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		streamed := false
		result, err := o.run(ctx, req, func(chunk string) error {
			if !emit(entity.StreamEvent{Type: entity.StreamText, Content: chunk}) {
				return ctx.Err()
			}
			streamed = true
			return nil
		})
		if err != nil {
			emit(entity.StreamEvent{Type: entity.StreamError, Error: entity.UserFacingErrorMessage})
			return
		}

		// Keyword and handoff replies never went through the model.
		if !streamed && result.Reply != "" {
			if !emit(entity.StreamEvent{Type: entity.StreamText, Content: result.Reply}) {
				return
			}
		}
		emit(entity.StreamEvent{
			Type:     entity.StreamMetadata,
			Products: result.Products,
			Handoff:  result.Handoff,
		})
	}()

	return events
}
