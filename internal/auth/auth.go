// Package auth defines the AuthProvider boundary: the SRP login handshake
// and OpenPGP key decryption needed to mint an authenticated drive.Client
// are external collaborators outside this module's scope. What lives here
// is the interface and the backoff decorator the engine wraps it in.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/julispace/proton-drive-sync/internal/drive"
)

// ErrConnectionFailed is the only error class AuthProvider retries on
// startup; any other error is fatal.
var ErrConnectionFailed = errors.New("auth: connection failed")

// Provider yields an authenticated drive.Client. Token is exposed for
// diagnostics and potential credential-storage callers; its *oauth2.Token
// shape is reused verbatim since Proton's own token envelope mirrors it
// closely enough that no bespoke type pulls its weight here.
type Provider interface {
	Authenticate(ctx context.Context) (drive.Client, *oauth2.Token, error)
}

// retrySchedule is the fixed backoff from the external-interfaces contract:
// 1s, 4s, 16s, 64s, 256s.
var retrySchedule = []time.Duration{
	1 * time.Second, 4 * time.Second, 16 * time.Second, 64 * time.Second, 256 * time.Second,
}

// backoffProvider decorates a Provider with the fixed retry schedule for
// ErrConnectionFailed. Any other error aborts immediately.
type backoffProvider struct {
	inner  Provider
	logger *slog.Logger
}

// WithBackoff wraps provider so that Authenticate retries connection
// failures on the fixed schedule before giving up.
func WithBackoff(provider Provider, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}

	return &backoffProvider{inner: provider, logger: logger}
}

func (b *backoffProvider) Authenticate(ctx context.Context) (drive.Client, *oauth2.Token, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		client, token, err := b.inner.Authenticate(ctx)
		if err == nil {
			return client, token, nil
		}

		if !errors.Is(err, ErrConnectionFailed) {
			return nil, nil, fmt.Errorf("auth: fatal startup failure: %w", err)
		}

		lastErr = err

		if attempt >= len(retrySchedule) {
			return nil, nil, fmt.Errorf("auth: exhausted retry schedule: %w", lastErr)
		}

		delay := retrySchedule[attempt]

		b.logger.Warn("auth: connection failed, retrying",
			"attempt", attempt+1, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}
