package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/nicolasmmb/go-payment-health/internal/domain"
	"github.com/nicolasmmb/go-payment-health/internal/repository/file"
)

const initial = `
credentials:
  - username: adyen
    password: "pa:ss"
  - username: retired
    password: old
    active: false
merchants:
  - merchantAccount: AcmeCOM
    hmacKey: a2V5
  - merchantAccount: Disabled
    hmacKey: a2V5
    active: false
`

func writeFile(c *qt.C, path, content string) {
	c.Assert(os.WriteFile(path, []byte(content), 0o600), qt.IsNil)
}

func TestCredentialFile(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	path := filepath.Join(c.TempDir(), "credentials.yaml")
	writeFile(c, path, initial)

	repo, err := file.NewCredentialRepository(path)
	c.Assert(err, qt.IsNil)

	cred, err := repo.GetCredential(ctx, "adyen")
	c.Assert(err, qt.IsNil)
	c.Assert(cred, qt.DeepEquals, &domain.Credential{Username: "adyen", Secret: "pa:ss", Active: true})

	cred, err = repo.GetCredential(ctx, "retired")
	c.Assert(err, qt.IsNil)
	c.Assert(cred.Active, qt.IsFalse)

	_, err = repo.GetCredential(ctx, "nobody")
	c.Assert(err, qt.ErrorIs, domain.ErrNotFound)

	key, err := repo.GetMerchantKey(ctx, "AcmeCOM")
	c.Assert(err, qt.IsNil)
	c.Assert(key, qt.Equals, "a2V5")

	_, err = repo.GetMerchantKey(ctx, "Disabled")
	c.Assert(err, qt.ErrorIs, domain.ErrNotFound)
}

func TestCredentialFileMissing(t *testing.T) {
	_, err := file.NewCredentialRepository(filepath.Join(t.TempDir(), "nope.yaml"))
	qt.Assert(t, err, qt.ErrorMatches, `read credentials .*`)
}

func TestReloadKeepsPreviousOnParseError(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.TempDir(), "credentials.yaml")
	writeFile(c, path, initial)
	repo, err := file.NewCredentialRepository(path)
	c.Assert(err, qt.IsNil)

	writeFile(c, path, "credentials: [")
	c.Assert(repo.Reload(), qt.ErrorMatches, `parse credentials .*`)

	_, err = repo.GetCredential(context.Background(), "adyen")
	c.Assert(err, qt.IsNil)
}

func TestWatchPicksUpChanges(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	path := filepath.Join(c.TempDir(), "credentials.yaml")
	writeFile(c, path, initial)
	repo, err := file.NewCredentialRepository(path)
	c.Assert(err, qt.IsNil)

	stop, err := repo.Watch()
	c.Assert(err, qt.IsNil)
	defer stop()

	writeFile(c, path, initial+`
  - merchantAccount: NewMerchant
    hmacKey: bmV3
`)

	deadline := time.Now().Add(5 * time.Second)
	for {
		key, err := repo.GetMerchantKey(ctx, "NewMerchant")
		if err == nil {
			c.Assert(key, qt.Equals, "bmV3")
			return
		}
		if time.Now().After(deadline) {
			c.Fatalf("merchant key not reloaded: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWatchSurvivesRenameOverSaves(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	dir := c.TempDir()
	path := filepath.Join(dir, "credentials.yaml")
	writeFile(c, path, initial)
	repo, err := file.NewCredentialRepository(path)
	c.Assert(err, qt.IsNil)

	stop, err := repo.Watch()
	c.Assert(err, qt.IsNil)
	defer stop()

	saveByRename := func(content string) {
		tmp := filepath.Join(dir, ".credentials.yaml.tmp")
		writeFile(c, tmp, content)
		c.Assert(os.Rename(tmp, path), qt.IsNil)
	}
	waitForKey := func(merchant, want string) {
		deadline := time.Now().Add(5 * time.Second)
		for {
			key, err := repo.GetMerchantKey(ctx, merchant)
			if err == nil {
				c.Assert(key, qt.Equals, want)
				return
			}
			if time.Now().After(deadline) {
				c.Fatalf("merchant %s not reloaded: %v", merchant, err)
			}
			time.Sleep(20 * time.Millisecond)
		}
	}

	saveByRename(initial + `
  - merchantAccount: First
    hmacKey: Zmlyc3Q=
`)
	waitForKey("First", "Zmlyc3Q=")

	// The second save only lands if the watch outlived the first rename.
	saveByRename(initial + `
  - merchantAccount: Second
    hmacKey: c2Vjb25k
`)
	waitForKey("Second", "c2Vjb25k")
}
