package memory

import (
	"context"

	"socialgraph/internal/repository"
)

type reconciler struct {
	s *state
}

func (r *reconciler) ReconcileCounters(_ context.Context) (repository.ReconcileReport, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var report repository.ReconcileReport
	for _, p := range r.s.posts {
		if p.LikesCount != len(p.LikerIDs) {
			p.LikesCount = len(p.LikerIDs)
			report.LikeCounts++
		}
		if p.CommentsCount != len(p.CommentIDs) {
			p.CommentsCount = len(p.CommentIDs)
			report.CommentCounts++
		}
	}
	for _, u := range r.s.users {
		if u.FollowerCount != len(u.FollowerIDs) {
			u.FollowerCount = len(u.FollowerIDs)
			report.FollowerCounts++
		}
		if u.FollowingCount != len(u.FollowingIDs) {
			u.FollowingCount = len(u.FollowingIDs)
			report.FollowingCounts++
		}
	}
	return report, nil
}

// ReconcileFollowEdges rebuilds follower sets from following sets. Counters are left to
// ReconcileCounters.
func (r *reconciler) ReconcileFollowEdges(_ context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var repaired int64
	for id, u := range r.s.users {
		for _, followeeID := range u.FollowingIDs {
			followee, ok := r.s.users[followeeID]
			if ok && !contains(followee.FollowerIDs, id) {
				followee.FollowerIDs = append(followee.FollowerIDs, id)
				repaired++
			}
		}
	}
	for id, u := range r.s.users {
		kept := u.FollowerIDs[:0:0]
		for _, followerID := range u.FollowerIDs {
			follower, ok := r.s.users[followerID]
			if ok && contains(follower.FollowingIDs, id) {
				kept = append(kept, followerID)
				continue
			}
			repaired++
		}
		u.FollowerIDs = kept
	}
	return repaired, nil
}
