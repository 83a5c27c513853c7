package main

import (
	"context"
	"errors"

	"golang.org/x/oauth2"

	"github.com/julispace/proton-drive-sync/internal/auth"
	"github.com/julispace/proton-drive-sync/internal/drive"
)

// errProviderUnconfigured is returned by unconfiguredProvider. The SRP login
// handshake and OpenPGP key decryption that turn account credentials into an
// authenticated drive.Client are an external collaborator outside this
// repository's scope (see the purpose statement); this stub is the seam a
// production build wires a real implementation into.
var errProviderUnconfigured = errors.New("auth: no Proton Drive credential provider wired into this build")

// unconfiguredProvider is the default auth.Provider: every Authenticate call
// fails with an actionable message rather than silently no-op'ing.
type unconfiguredProvider struct{}

func (unconfiguredProvider) Authenticate(context.Context) (drive.Client, *oauth2.Token, error) {
	return nil, nil, errProviderUnconfigured
}

// newAuthProviderFunc constructs the auth.Provider used by `start`. It is a
// package-level seam so tests (and eventually a real credential backend) can
// substitute a different provider without touching command wiring.
var newAuthProviderFunc = func() auth.Provider {
	return unconfiguredProvider{}
}
