package file

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/nicolasmmb/go-payment-health/internal/core"
	"github.com/nicolasmmb/go-payment-health/internal/domain"
)

// credentialsFile is the on-disk layout:
//
//	credentials:
//	  - username: adyen
//	    password: s3cret
//	merchants:
//	  - merchantAccount: AcmeCOM
//	    hmacKey: <base64>
//	    active: false
//
// Entries are active unless they say otherwise.
type credentialsFile struct {
	Credentials []struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Active   *bool  `yaml:"active"`
	} `yaml:"credentials"`
	Merchants []struct {
		MerchantAccount string `yaml:"merchantAccount"`
		HMACKey         string `yaml:"hmacKey"`
		Active          *bool  `yaml:"active"`
	} `yaml:"merchants"`
}

type snapshot struct {
	credentials map[string]domain.Credential
	merchants   map[string]string
}

// credentialFileRepository serves credentials and merchant keys from a YAML
// file. Watch swaps in a fresh snapshot whenever the file is rewritten; a file
// that fails to parse leaves the previous snapshot in place.
type credentialFileRepository struct {
	path string
	mu   sync.RWMutex
	cur  *snapshot
}

var (
	_ core.CredentialStore  = (*credentialFileRepository)(nil)
	_ core.MerchantKeyStore = (*credentialFileRepository)(nil)
)

func NewCredentialRepository(path string) (*credentialFileRepository, error) {
	r := &credentialFileRepository{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *credentialFileRepository) GetCredential(ctx context.Context, username string) (*domain.Credential, error) {
	r.mu.RLock()
	cred, ok := r.cur.credentials[username]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &cred, nil
}

func (r *credentialFileRepository) GetMerchantKey(ctx context.Context, merchantAccount string) (string, error) {
	r.mu.RLock()
	key, ok := r.cur.merchants[merchantAccount]
	r.mu.RUnlock()
	if !ok {
		return "", domain.ErrNotFound
	}
	return key, nil
}

// Reload re-reads the file immediately.
func (r *credentialFileRepository) Reload() error {
	s, err := r.load()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cur = s
	r.mu.Unlock()
	slog.Info("[RP:File:Reload:01] - Credentials loaded", "path", r.path, "credentials", len(s.credentials), "merchants", len(s.merchants))
	return nil
}

// Watch hot-reloads the file until stop is called. The parent directory is
// watched so saves that rename a new file over the old one are seen too.
func (r *credentialFileRepository) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("credentials watcher: %w", err)
	}
	target := filepath.Clean(r.path)
	dir := filepath.Dir(target)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("credentials watcher add %s: %w", dir, err)
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if err := r.Reload(); err != nil {
						slog.Error("[RP:File:Watch:01] - Reload failed, keeping previous credentials", "path", r.path, "error", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("[RP:File:Watch:02] - Watcher error", "path", r.path, "error", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-finished
	}, nil
}

func (r *credentialFileRepository) load() (*snapshot, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read credentials %s: %w", r.path, err)
	}
	// A truncate-then-write shows up as an empty file first.
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("read credentials %s: file is empty", r.path)
	}
	var f credentialsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", r.path, err)
	}

	s := &snapshot{
		credentials: make(map[string]domain.Credential, len(f.Credentials)),
		merchants:   make(map[string]string, len(f.Merchants)),
	}
	for _, c := range f.Credentials {
		if c.Username == "" {
			continue
		}
		s.credentials[c.Username] = domain.Credential{
			Username: c.Username,
			Secret:   c.Password,
			Active:   c.Active == nil || *c.Active,
		}
	}
	for _, m := range f.Merchants {
		if m.MerchantAccount == "" || (m.Active != nil && !*m.Active) {
			continue
		}
		s.merchants[m.MerchantAccount] = m.HMACKey
	}
	return s, nil
}
