package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/filevault/internal/config"
	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/repository"
	"github.com/prn-tf/filevault/internal/repository/sqlite"
	"github.com/prn-tf/filevault/internal/storage/local"
)

// newLifecycleServices wires the services against in-memory SQLite and a
// local gateway on an in-memory filesystem.
func newLifecycleServices(t *testing.T) (*UserService, *FileService, *repository.Store, *local.Gateway) {
	t.Helper()

	store, err := sqlite.Open(context.Background(), config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        ":memory:",
		AutoMigrate: true,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Database.Close() })

	gw, err := local.NewWithFs(afero.NewMemMapFs(), "http://vault.test", []byte("lifecycle-signing-key"), zerolog.Nop())
	require.NoError(t, err)

	users := NewUserService(store.Repos.User, bcrypt.MinCost, zerolog.Nop())
	files := NewFileService(store.Repos.User, store.Repos.File, gw, zerolog.Nop(), DefaultFileServiceConfig())
	return users, files, store, gw
}

func upload(t *testing.T, svc *FileService, owner *domain.User, name string) (*UploadOutput, error) {
	t.Helper()
	body := "content of " + name
	return svc.Upload(context.Background(), owner, UploadInput{
		Filename:    name,
		ContentType: "text/plain",
		Size:        int64(len(body)),
		Body:        strings.NewReader(body),
	})
}

func TestFileService_QuotaLifecycle(t *testing.T) {
	ctx := context.Background()
	users, files, store, gw := newLifecycleServices(t)

	owner, err := users.Register(ctx, RegisterInput{Email: "quota@example.com", Password: "secret"})
	require.NoError(t, err)

	var uploaded []*domain.File
	for i := 1; i <= domain.MaxUploadsPerUser; i++ {
		out, err := upload(t, files, owner, fmt.Sprintf("file-%02d.txt", i))
		require.NoError(t, err)
		require.Equal(t, i, out.UploadCount)
		uploaded = append(uploaded, out.File)
	}

	_, err = upload(t, files, owner, "one-too-many.txt")
	require.ErrorIs(t, err, ErrQuotaExceeded)

	for _, f := range uploaded[:3] {
		require.NoError(t, files.Delete(ctx, owner, f.ID))
		exists, err := gw.Exists(ctx, f.StorageKey)
		require.NoError(t, err)
		require.False(t, exists)
	}

	profile, err := store.Repos.User.GetProfileByID(ctx, owner.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MaxUploadsPerUser-3, profile.UploadCount)

	listing, err := files.List(ctx, profile)
	require.NoError(t, err)
	require.Len(t, listing.Files, domain.MaxUploadsPerUser-3)
	require.Equal(t, 3, listing.UploadRemaining)
	for _, f := range listing.Files {
		require.NotEmpty(t, f.URL)
		require.NotContains(t, []string{uploaded[0].StorageKey, uploaded[1].StorageKey, uploaded[2].StorageKey}, f.StorageKey)
	}

	// A deleted file is gone for good.
	require.ErrorIs(t, files.Delete(ctx, owner, uploaded[0].ID), ErrFileNotFound)
	_, err = files.DownloadURL(ctx, owner, uploaded[0].ID)
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestFileService_CrossOwnerIsolation(t *testing.T) {
	ctx := context.Background()
	users, files, _, gw := newLifecycleServices(t)

	alice, err := users.Register(ctx, RegisterInput{Email: "alice@example.com", Password: "secret"})
	require.NoError(t, err)
	bob, err := users.Register(ctx, RegisterInput{Email: "bob@example.com", Password: "secret"})
	require.NoError(t, err)

	out, err := upload(t, files, alice, "private.txt")
	require.NoError(t, err)

	_, err = files.DownloadURL(ctx, bob, out.File.ID)
	require.ErrorIs(t, err, ErrFileNotFound)
	_, err = files.PreviewURL(ctx, bob, out.File.ID)
	require.ErrorIs(t, err, ErrFileNotFound)
	require.ErrorIs(t, files.Delete(ctx, bob, out.File.ID), ErrFileNotFound)

	exists, err := gw.Exists(ctx, out.File.StorageKey)
	require.NoError(t, err)
	require.True(t, exists)

	listing, err := files.List(ctx, bob)
	require.NoError(t, err)
	require.Empty(t, listing.Files)
}

func TestFileService_ConcurrentUploadsRespectQuota(t *testing.T) {
	ctx := context.Background()
	users, files, store, _ := newLifecycleServices(t)

	owner, err := users.Register(ctx, RegisterInput{Email: "race@example.com", Password: "secret"})
	require.NoError(t, err)

	const attempts = 25
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			caller := *owner
			_, err := upload(t, files, &caller, "same-name.txt")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case strings.Contains(err.Error(), ErrQuotaExceeded.Error()):
				rejected++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, domain.MaxUploadsPerUser, ok)
	require.Equal(t, attempts-domain.MaxUploadsPerUser, rejected)

	active, err := store.Repos.File.ListActiveByOwner(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, active, domain.MaxUploadsPerUser)

	keys := make(map[string]struct{})
	for _, f := range active {
		keys[f.StorageKey] = struct{}{}
	}
	require.Len(t, keys, domain.MaxUploadsPerUser)
}
