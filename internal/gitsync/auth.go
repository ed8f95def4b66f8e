package gitsync

import (
	"context"
	"errors"
	"fmt"
	"net"
	gohttp "net/http"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh"

	"github.com/gray247/gitbridge/internal/config"
)

// auth resolves the profile's credentials into a transport auth method.
// Resolution happens on demand, per operation: tokens rotate underneath
// a running service, and the plaintext value exists only for the
// lifetime of the transport call.
func (s *Synchronizer) auth(ctx context.Context) (transport.AuthMethod, error) {
	if s.profile.Credentials == nil {
		return nil, nil
	}

	var typed any
	var err error
	if s.provider != nil {
		credMap, err := s.provider.GetSecret(ctx, s.profile.Credentials.Name)
		if err != nil {
			return nil, err
		}
		secret := &config.Secret{Name: s.profile.Credentials.Name, Value: credMap}
		typed, err = secret.Typed(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		typed, err = s.profile.Credentials.Resolve(ctx)
		if err != nil {
			return nil, err
		}
	}

	return authFromTyped(typed)
}

func authFromTyped(value any) (transport.AuthMethod, error) {
	switch value := value.(type) {
	case config.SecretTokenAuth:
		// GitHub-style token over HTTPS.
		return &http.BasicAuth{Username: "x-access-token", Password: value.Token}, nil

	case config.SecretBasicAuth:
		return &basicAuth{
			Username: value.Username,
			Password: value.Password,
			Headers:  value.Headers,
		}, nil

	case config.SecretSSHKey:
		return newSSHAuth(value.Key, value.Passphrase, value.Fingerprints)

	default:
		return nil, fmt.Errorf("unsupported authentication type for git: %T", value)
	}
}

func newSSHAuth(key string, passphrase string, fingerprints []string) (gitssh.AuthMethod, error) {
	var signer ssh.Signer
	var err error
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(key), []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey([]byte(key))
	}
	if err != nil {
		return nil, err
	}

	if len(fingerprints) == 0 {
		return nil, errors.New("ssh: at least one fingerprint is required when using ssh_key authentication")
	}

	return &gitssh.PublicKeys{
		User:   "git",
		Signer: signer,
		HostKeyCallbackHelper: gitssh.HostKeyCallbackHelper{
			HostKeyCallback: newCheckFingerprints(fingerprints),
		},
	}, nil
}

func newCheckFingerprints(fingerprints []string) ssh.HostKeyCallback {
	m := make(map[string]bool, len(fingerprints))
	for _, fp := range fingerprints {
		m[fp] = true
	}

	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		fingerprint := ssh.FingerprintSHA256(key)
		if _, ok := m[fingerprint]; !ok {
			return fmt.Errorf("ssh: unknown fingerprint (%s) for %s", fingerprint, hostname)
		}
		return nil
	}
}

// basicAuth provides HTTP basic authentication but in addition can set
// extra headers required for authentication.
type basicAuth struct {
	Username string
	Password string
	Headers  []string
}

func (a *basicAuth) String() string {
	masked := "*******"
	if a.Password == "" {
		masked = "<empty>"
	}
	return fmt.Sprintf("%s - %s:%s [%s]", a.Name(), a.Username, masked, strings.Join(a.Headers, ", "))
}

func (*basicAuth) Name() string {
	return "http-basic-auth-extra"
}

func (a *basicAuth) SetAuth(r *gohttp.Request) {
	r.SetBasicAuth(a.Username, a.Password)
	for _, header := range a.Headers {
		name, value, found := strings.Cut(header, ":")
		if found {
			r.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}
	}
}
