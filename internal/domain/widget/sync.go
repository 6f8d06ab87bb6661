package widget

import (
	"context"

	"github.com/yanqian/weathercards/internal/domain/recipient"
)

// Lister returns the current recipients.
type Lister interface {
	List(ctx context.Context) ([]recipient.Recipient, error)
}

// Follow republishes the recipient index whenever the hub reports a change.
// The returned function stops following.
func (p *Publisher) Follow(hub *recipient.Hub, lister Lister) func() {
	return hub.Subscribe(func(ev recipient.Event) {
		if ev.Kind == recipient.EventDeleted {
			p.Forget(ev.Recipient.ID)
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
			defer cancel()
			list, err := lister.List(ctx)
			if err != nil {
				p.logger.Warn("listing recipients for index failed", "error", err)
				return
			}
			p.PublishRecipientsIndex(list)
		}()
	})
}
