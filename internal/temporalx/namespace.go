package temporalx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	temporalsdkclient "go.temporal.io/sdk/client"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

const defaultNamespaceWait = 10 * time.Second

// EnsureNamespace registers cfg.Namespace when Describe says it is
// missing. A concurrent registration by another process counts as success.
func EnsureNamespace(ctx context.Context, cfg Config, log *logger.Logger) error {
	cfg = cfg.Normalize()
	if !cfg.Enabled() || cfg.Namespace == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		log = logger.NewNop()
	}
	wait := cfg.DialMaxWait
	if wait <= 0 {
		wait = defaultNamespaceWait
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	// Namespace clients carry no namespace header, so they can create one.
	opts, err := clientOptions(log, cfg)
	if err != nil {
		return err
	}
	ns, err := temporalsdkclient.NewNamespaceClient(opts)
	if err != nil {
		return fmt.Errorf("temporal namespace %s: init client: %w", cfg.Namespace, err)
	}
	defer ns.Close()

	deadline, _ := ctx.Deadline()
	err = retryUntil(ctx, cfg, deadline, func(attempt int) (bool, error) {
		err := ensureNamespaceOnce(ctx, ns, cfg, log)
		if err != nil && isRetryableRPC(err) {
			log.Warn("Temporal namespace not ready", "namespace", cfg.Namespace, "attempt", attempt, "error", err)
			return true, err
		}
		return false, err
	})
	if err != nil {
		return fmt.Errorf("temporal namespace %s: %w", cfg.Namespace, err)
	}
	return nil
}

func ensureNamespaceOnce(ctx context.Context, ns temporalsdkclient.NamespaceClient, cfg Config, log *logger.Logger) error {
	_, err := ns.Describe(ctx, cfg.Namespace)
	if err == nil || !IsNamespaceNotFound(err) {
		return err
	}
	err = ns.Register(ctx, &workflowservice.RegisterNamespaceRequest{
		Namespace:                        cfg.Namespace,
		Description:                      "moldline ingestion",
		WorkflowExecutionRetentionPeriod: durationpb.New(time.Duration(cfg.NamespaceRetentionDays) * 24 * time.Hour),
	})
	var exists *serviceerror.NamespaceAlreadyExists
	switch {
	case err == nil:
		log.Info("Registered Temporal namespace", "namespace", cfg.Namespace, "retention_days", cfg.NamespaceRetentionDays)
		return nil
	case errors.As(err, &exists):
		return nil
	}
	return fmt.Errorf("register: %w", err)
}

// IsNamespaceNotFound reports whether err says the namespace is missing.
func IsNamespaceNotFound(err error) bool {
	var nfe *serviceerror.NamespaceNotFound
	return errors.As(err, &nfe) || strings.Contains(strings.ToLower(fmt.Sprint(err)), "namespace not found")
}
