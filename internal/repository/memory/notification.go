package memory

import (
	"context"
	"sort"

	"socialgraph/internal/model"
)

type notificationRepository struct {
	s *state
}

func (r *notificationRepository) Create(_ context.Context, n *model.Notification) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.notifications[n.ID]; exists {
		return false, nil
	}
	stored := *n
	stored.Read = false
	stored.Actor = nil
	r.s.notifications[n.ID] = &stored
	return true, nil
}

func (r *notificationRepository) List(_ context.Context, recipientID string, offset, limit int) ([]model.Notification, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []model.Notification{}
	for _, n := range r.s.notifications {
		if n.RecipientID == recipientID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, offset, limit), nil
}

func (r *notificationRepository) CountUnread(_ context.Context, recipientID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	count := 0
	for _, n := range r.s.notifications {
		if n.RecipientID == recipientID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (r *notificationRepository) MarkRead(_ context.Context, recipientID, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n, ok := r.s.notifications[id]
	if !ok {
		return model.ErrNotificationNotFound
	}
	if n.RecipientID != recipientID {
		return model.ErrNotNotificationOwner
	}
	n.Read = true
	return nil
}

func (r *notificationRepository) MarkAllRead(_ context.Context, recipientID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var marked int64
	for _, n := range r.s.notifications {
		if n.RecipientID == recipientID && !n.Read {
			n.Read = true
			marked++
		}
	}
	return marked, nil
}
