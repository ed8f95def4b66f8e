// Package gitsync implements the GitBridge synchronization core: it
// bootstraps the local working copy of the configured repository and
// serializes all publish cycles (stage, commit, integrate, push) behind
// an exclusive cross-process lock. This package implements no retry
// policy; the caller wraps Publish with one (see internal/retry).
package gitsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp/capability"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/gray247/gitbridge/internal/config"
	"github.com/gray247/gitbridge/internal/logging"
	"github.com/gray247/gitbridge/internal/metrics"
	pkgsync "github.com/gray247/gitbridge/pkg/sync"
)

// bridgeConfigFile records, inside .git, which upstream an existing
// clone belongs to, so a changed profile wipes and re-clones instead of
// pushing to the wrong repository.
const bridgeConfigFile = "bridgeconfig"

const remoteName = "origin"

func init() {
	// For Azure DevOps compatibility. More details: https://github.com/go-git/go-git/issues/64
	transport.UnsupportedCapabilities = []capability.Capability{
		capability.ThinPack,
	}
}

var (
	// ErrLockTimeout indicates the exclusive mutation lock could not be
	// acquired within the configured timeout.
	ErrLockTimeout = errors.New("timed out waiting for repository lock")

	// ErrPublish indicates the push to the upstream branch failed.
	ErrPublish = errors.New("push to upstream failed")
)

// Synchronizer owns one repository working copy. It is safe for
// concurrent use: every mutation of the repository happens inside the
// cross-process file lock.
type Synchronizer struct {
	path          string
	profile       *config.Profile
	provider      pkgsync.SecretProvider
	log           *logging.Logger
	lockTimeout   time.Duration
	remoteTimeout time.Duration
}

// New creates a Synchronizer for the profile's working copy at path.
func New(path string, profile *config.Profile, log *logging.Logger) *Synchronizer {
	return &Synchronizer{
		path:          path,
		profile:       profile,
		log:           log,
		lockTimeout:   30 * time.Second,
		remoteTimeout: 10 * time.Second,
	}
}

// WithSecretProvider configures an external SecretProvider for
// authentication. If nil, credentials resolve from the config file.
func (s *Synchronizer) WithSecretProvider(provider pkgsync.SecretProvider) *Synchronizer {
	s.provider = provider
	return s
}

// WithLockTimeout bounds how long Publish waits for the mutation lock.
func (s *Synchronizer) WithLockTimeout(d time.Duration) *Synchronizer {
	s.lockTimeout = d
	return s
}

// WithRemoteTimeout bounds remote connectivity probes in Health.
func (s *Synchronizer) WithRemoteTimeout(d time.Duration) *Synchronizer {
	s.remoteTimeout = d
	return s
}

type recordedUpstream struct {
	Repo      string `json:"repo"`
	Reference string `json:"reference"`
}

// Ensure makes the working copy exist and track the configured upstream
// branch: clone if absent, otherwise force the local branch onto the
// latest upstream tip. Callers treat a failure here as non-fatal — the
// service starts degraded and Health reports the state.
func (s *Synchronizer) Ensure(ctx context.Context) error {
	if err := s.wipeOnUpstreamChange(); err != nil {
		return fmt.Errorf("profile %q: bootstrap: %w", s.profile.Name, err)
	}

	repository, err := git.PlainOpen(s.path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if err := s.clone(ctx); err != nil {
			return fmt.Errorf("profile %q: bootstrap: clone %v: %w", s.profile.Name, s.profile.URL(), err)
		}
		s.log.Infof("cloned %s into %s", s.profile.URL(), s.path)
		return nil
	} else if err != nil {
		return fmt.Errorf("profile %q: bootstrap: %w", s.profile.Name, err)
	}

	if err := s.resetToUpstream(ctx, repository); err != nil {
		return fmt.Errorf("profile %q: bootstrap: %w", s.profile.Name, err)
	}
	return nil
}

// wipeOnUpstreamChange removes the working copy when the recorded
// upstream no longer matches the profile. Re-cloning is the simplest
// correct reaction to a changed repository URL or branch; credential
// changes deliberately do not trigger a wipe.
func (s *Synchronizer) wipeOnUpstreamChange() error {
	data, err := os.ReadFile(filepath.Join(s.path, ".git", bridgeConfigFile))
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}

	var recorded recordedUpstream
	want := recordedUpstream{Repo: s.profile.URL(), Reference: s.profile.Ref()}
	if err := json.Unmarshal(data, &recorded); err != nil || recorded != want {
		s.log.Warnf("working copy at %s tracked %+v, wiping for %+v", s.path, recorded, want)
		return os.RemoveAll(s.path)
	}
	return nil
}

func (s *Synchronizer) clone(ctx context.Context) error {
	authMethod, err := s.auth(ctx)
	if err != nil {
		return err
	}

	_, err = git.PlainCloneContext(ctx, s.path, false, &git.CloneOptions{
		URL:           s.profile.URL(),
		Auth:          authMethod,
		ReferenceName: plumbing.NewBranchReferenceName(s.profile.Ref()),
		SingleBranch:  true,
	})
	if err != nil {
		return err
	}

	record, err := json.Marshal(recordedUpstream{Repo: s.profile.URL(), Reference: s.profile.Ref()})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.path, ".git", bridgeConfigFile), record, 0644)
}

// resetToUpstream fetches and forces the local branch onto the remote
// tip, the moral equivalent of `git checkout -B <branch>` followed by a
// pull. Local commits that never made it upstream are discarded; they
// would have been pushed before a previous publish reported success.
func (s *Synchronizer) resetToUpstream(ctx context.Context, repository *git.Repository) error {
	authMethod, err := s.auth(ctx)
	if err != nil {
		return err
	}

	branch := s.profile.Ref()
	err = repository.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		Auth:       authMethod,
		Force:      true,
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", branch, remoteName, branch)),
		},
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return err
	}

	remoteRef, err := repository.Reference(plumbing.NewRemoteReferenceName(remoteName, branch), true)
	if err != nil {
		return err
	}

	branchRef := plumbing.NewBranchReferenceName(branch)
	if err := repository.Storer.SetReference(plumbing.NewHashReference(branchRef, remoteRef.Hash())); err != nil {
		return err
	}

	worktree, err := repository.Worktree()
	if err != nil {
		return err
	}
	return worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true})
}

// Publish runs one publish cycle: acquire the exclusive mutation lock,
// stage and commit all pending changes under message, integrate upstream
// history, and push. A clean working copy with nothing left to push
// returns NoChanges without committing; a clean working copy whose
// branch is ahead of the upstream resumes at integrate+push. The lock
// is released on every exit path.
func (s *Synchronizer) Publish(ctx context.Context, message string) (pkgsync.Result, error) {
	metrics.PublishStarted()
	start := time.Now()

	result, err := s.publish(ctx, message)
	if err != nil {
		metrics.PublishFailed(s.profile.Name, failureReason(err))
		return result, fmt.Errorf("profile %q: repository synchronizer: %w", s.profile.Name, err)
	}
	metrics.PublishSucceeded(s.profile.Name, start)
	return result, nil
}

func (s *Synchronizer) publish(ctx context.Context, message string) (pkgsync.Result, error) {
	release, err := s.acquireLock(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	repository, err := git.PlainOpen(s.path)
	if err != nil {
		return 0, err
	}
	worktree, err := repository.Worktree()
	if err != nil {
		return 0, err
	}

	status, err := worktree.Status()
	if err != nil {
		return 0, err
	}
	if status.IsClean() {
		// A clean worktree can still hold commits a previous cycle
		// failed to push. Those are pending changes: skip the commit
		// and resume at integrate+push so success still means
		// "durable upstream".
		pending, err := s.unpushedCommits(repository)
		if err != nil {
			return 0, err
		}
		if !pending {
			s.log.Debugf("no changes to publish")
			return pkgsync.NoChanges, nil
		}
		s.log.Warnf("clean worktree with unpushed commits, resuming publish")
	} else {
		if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
			return 0, err
		}

		name, email := s.profile.AuthorSignature()
		commit, err := worktree.Commit(message, &git.CommitOptions{
			Author: &object.Signature{Name: name, Email: email, When: time.Now()},
		})
		if err != nil {
			return 0, err
		}
		s.log.Debugf("committed %s: %s", commit, message)
	}

	authMethod, err := s.auth(ctx)
	if err != nil {
		return 0, err
	}

	branch := s.profile.Ref()

	// Integrate upstream history before pushing. If integration fails
	// (diverged history), push anyway and let the push outcome decide:
	// the local commit is already durable, and a rejected push surfaces
	// as ErrPublish for the caller's retry policy. A persistently
	// diverged branch therefore degrades to repeated ErrPublish until
	// resolved manually; GitBridge never force-pushes.
	err = worktree.PullContext(ctx, &git.PullOptions{
		RemoteName:    remoteName,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		Auth:          authMethod,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		s.log.Warnf("upstream integration failed, proceeding to push: %v", err)
	}

	metrics.PushAttempted()
	err = repository.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		Auth:       authMethod,
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch)),
		},
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return 0, fmt.Errorf("%w: %v", ErrPublish, err)
	}

	s.log.Infof("published: %s", message)
	return pkgsync.Published, nil
}

// unpushedCommits reports whether the local branch tip differs from the
// remote-tracking reference. The tracking reference only moves on
// fetch, pull or push, so a difference means local commits never made
// it upstream. A missing tracking reference counts as pending; pushing
// is the only way to find out.
func (s *Synchronizer) unpushedCommits(repository *git.Repository) (bool, error) {
	head, err := repository.Head()
	if err != nil {
		return false, err
	}

	remoteRef, err := repository.Reference(plumbing.NewRemoteReferenceName(remoteName, s.profile.Ref()), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return true, nil
	} else if err != nil {
		return false, err
	}

	return head.Hash() != remoteRef.Hash(), nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, ErrPublish):
		return "push"
	default:
		return "other"
	}
}
