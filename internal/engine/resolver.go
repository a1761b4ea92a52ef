package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/inquestlabs/inquest-engine/internal/utils"
)

// RepositoryChecker is the slice of the VCS client the resolver needs.
type RepositoryChecker interface {
	RepositoryExists(ctx context.Context, name string) (bool, error)
}

// RepositoryResolver maps a service name to its repository. When the direct
// lookup finds nothing and the name carries the configured fallback suffix,
// the stripped name is tried once.
type RepositoryResolver struct {
	checker        RepositoryChecker
	fallbackSuffix string
	logger         *slog.Logger
}

// NewRepositoryResolver wires a resolver with the given fallback suffix.
func NewRepositoryResolver(checker RepositoryChecker, fallbackSuffix string, logger *slog.Logger) *RepositoryResolver {
	return &RepositoryResolver{
		checker:        checker,
		fallbackSuffix: fallbackSuffix,
		logger:         utils.ComponentLogger(logger, "resolver"),
	}
}

// Resolve returns the repository name for a service. A miss on both the
// direct and the stripped name is kind not_found; transient lookup failures
// pass through unchanged.
func (r *RepositoryResolver) Resolve(ctx context.Context, service string) (string, error) {
	const op = "resolver.Resolve"

	exists, err := r.checker.RepositoryExists(ctx, service)
	if err != nil {
		return "", err
	}
	if exists {
		return service, nil
	}

	if r.fallbackSuffix != "" && strings.HasSuffix(service, r.fallbackSuffix) {
		stripped := strings.TrimSuffix(service, r.fallbackSuffix)
		r.logger.Info("repository not found, trying stripped name", "service", service, "stripped", stripped)

		exists, err = r.checker.RepositoryExists(ctx, stripped)
		if err != nil {
			return "", err
		}
		if exists {
			return stripped, nil
		}
	}

	return "", utils.NewAppError(op, utils.KindNotFound, "no repository for service "+service, nil)
}
