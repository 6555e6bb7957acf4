package service

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	crederrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/session"
)

// defaultRoleSessionName names the assumed-role session when the record
// does not specify one.
const defaultRoleSessionName = "assumed-from-credops"

// chainedResolver materializes a role session assumed with the credentials
// of another session. Resolution recurses into the parent: an inactive or
// expired parent is started first, so starting a leaf brings up the whole
// chain parent-first. The visited set breaks reference cycles that survived
// workspace validation.
type chainedResolver struct {
	core *core
}

func (r *chainedResolver) Resolve(ctx context.Context, s session.Session, visited map[string]bool) (resolved, error) {
	if r.core.deps.STS == nil {
		return resolved{}, crederrors.NotInitializedError{Component: "sts client factory"}
	}

	if visited[s.ID] {
		return resolved{}, cycleError(s, visited)
	}
	visited[s.ID] = true

	ws, err := r.core.deps.Repo.Load()
	if err != nil {
		return resolved{}, err
	}
	profile := ws.ProfileName(s)

	parent, err := r.core.deps.Repo.Session(s.Chained.ParentSessionID)
	if err != nil {
		return resolved{}, err
	}
	if visited[parent.ID] {
		return resolved{}, cycleError(s, visited)
	}
	if !session.IsAssumable(parent.Type) {
		return resolved{}, crederrors.UnsupportedSessionTypeError{Type: string(parent.Type)}
	}

	parentCreds, err := r.core.parentCredentials(ctx, parent, visited)
	if err != nil {
		return resolved{}, err
	}

	client, err := r.core.deps.STS.Static(ctx, s.Region,
		parentCreds.accessKeyID, parentCreds.secretAccessKey, parentCreds.sessionToken)
	if err != nil {
		return resolved{}, err
	}

	roleSessionName := s.Chained.RoleSessionName
	if roleSessionName == "" {
		roleSessionName = defaultRoleSessionName
	}

	var out *sts.AssumeRoleOutput
	err = withRetry(ctx, r.core.deps.Logger, func() error {
		var callErr error
		out, callErr = client.AssumeRole(ctx, &sts.AssumeRoleInput{
			RoleArn:         aws.String(s.Chained.RoleArn),
			RoleSessionName: aws.String(roleSessionName),
			DurationSeconds: durationSeconds(sessionTokenDuration),
		})
		if callErr != nil {
			return classify("sts", "assume-role", callErr)
		}
		return nil
	})
	if err != nil {
		return resolved{}, err
	}

	return credentialsToResolved(profile, s.Region, out.Credentials)
}

func cycleError(s session.Session, visited map[string]bool) error {
	chain := make([]string, 0, len(visited))
	for id := range visited {
		chain = append(chain, id)
	}
	return crederrors.CyclicSessionDependencyError{SessionID: s.ID, Chain: chain}
}
