package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/julispace/proton-drive-sync/internal/drive"
)

type fakeProvider struct {
	failuresBeforeSuccess int
	calls                 int
	fatalErr              error
}

func (f *fakeProvider) Authenticate(_ context.Context) (drive.Client, *oauth2.Token, error) {
	f.calls++

	if f.fatalErr != nil {
		return nil, nil, f.fatalErr
	}

	if f.calls <= f.failuresBeforeSuccess {
		return nil, nil, ErrConnectionFailed
	}

	return nil, &oauth2.Token{AccessToken: "tok"}, nil
}

func TestWithBackoff_RetriesConnectionFailures(t *testing.T) {
	fp := &fakeProvider{failuresBeforeSuccess: 1}
	p := WithBackoff(fp, nil)

	_, token, err := p.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", token.AccessToken)
	assert.Equal(t, 2, fp.calls)
}

func TestWithBackoff_NonConnectionErrorIsFatal(t *testing.T) {
	fp := &fakeProvider{fatalErr: errors.New("bad credentials")}
	p := WithBackoff(fp, nil)

	_, _, err := p.Authenticate(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, fp.calls)
}
