package gitsync

import (
	"context"
	"errors"

	"github.com/go-git/go-git/v5"
)

// Health describes the synchronizer's view of the working copy and its
// upstream, as reported on the /health endpoint.
type Health struct {
	GitStatus string // "clean" or "dirty"
	Remote    string // "connected", "disconnected" or "timeout"
}

// Health inspects the working copy and probes the remote. A missing or
// unopenable working copy is the only error case; remote trouble is
// reported in the result, not as an error.
func (s *Synchronizer) Health(ctx context.Context) (Health, error) {
	repository, err := git.PlainOpen(s.path)
	if err != nil {
		return Health{}, err
	}

	worktree, err := repository.Worktree()
	if err != nil {
		return Health{}, err
	}
	status, err := worktree.Status()
	if err != nil {
		return Health{}, err
	}

	h := Health{GitStatus: "clean"}
	if !status.IsClean() {
		h.GitStatus = "dirty"
	}

	h.Remote = s.probeRemote(ctx, repository)
	return h, nil
}

func (s *Synchronizer) probeRemote(ctx context.Context, repository *git.Repository) string {
	remote, err := repository.Remote(remoteName)
	if err != nil {
		return "disconnected"
	}

	authMethod, err := s.auth(ctx)
	if err != nil {
		s.log.Warnf("remote probe: resolving credentials: %v", err)
		return "disconnected"
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()

	if _, err := remote.ListContext(probeCtx, &git.ListOptions{Auth: authMethod}); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "timeout"
		}
		s.log.Warnf("remote probe failed: %v", err)
		return "disconnected"
	}
	return "connected"
}
