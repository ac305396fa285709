package sshclient

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/treykane/sshmux/internal/fault"
	"github.com/treykane/sshmux/internal/model"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// buildAuthMethods resolves a spec's credentials into SSH auth methods.
// Preference order: explicit private key, forwarded agent identities,
// password. At least one method must resolve.
func buildAuthMethods(spec model.ConnectionSpec) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if spec.KeyFile != "" {
		signer, err := loadSigner(spec.KeyFile, spec.KeyPassphrase)
		if err != nil {
			return nil, fault.Wrap(fault.Authentication, err, "load private key %s", spec.KeyFile)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if spec.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				return nil, fault.Wrap(fault.Authentication, err, "connect ssh agent")
			}
			ag := agent.NewClient(conn)
			methods = append(methods, ssh.PublicKeysCallback(ag.Signers))
		} else {
			return nil, fault.New(fault.Authentication, "use_agent set but SSH_AUTH_SOCK is empty")
		}
	}

	if spec.Password != "" {
		methods = append(methods, ssh.Password(spec.Password))
	}

	if len(methods) == 0 {
		return nil, fault.New(fault.Authentication, "no authentication method provided (need password, key file, or agent)")
	}
	return methods, nil
}

// loadSigner reads and parses a private key file, optionally encrypted.
func loadSigner(path, passphrase string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(key)
}

// hostKeyCallback returns the host key verification policy. With
// insecureSkipHostKey the remote key is accepted blindly; otherwise keys are
// checked against ~/.ssh/known_hosts.
func hostKeyCallback(insecureSkipHostKey bool) (ssh.HostKeyCallback, error) {
	if insecureSkipHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home for known_hosts: %w", err)
	}
	cb, err := knownhosts.New(filepath.Join(home, ".ssh", "known_hosts"))
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return cb, nil
}
