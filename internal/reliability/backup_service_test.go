package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/navhub/internal/database"
	"github.com/aristath/navhub/pkg/logger"
)

// memoryStore is an in-memory ObjectStore for tests.
type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (m *memoryStore) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryStore) List(ctx context.Context, prefix string) ([]types.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Object
	for key, data := range m.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, types.Object{
				Key:  aws.String(key),
				Size: aws.Int64(int64(len(data))),
			})
		}
	}
	return out, nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}

func newBackupFixture(t *testing.T, store ObjectStore, retentionDays int) (*BackupService, string) {
	t.Helper()
	dir := t.TempDir()

	databases := map[string]*database.DB{}
	for _, name := range []string{"catalog", "jobs"} {
		db, err := database.New(database.Config{
			Path:    filepath.Join(dir, name+".db"),
			Profile: database.ProfileStandard,
			Name:    name,
		})
		require.NoError(t, err)
		require.NoError(t, db.Migrate())
		t.Cleanup(func() { db.Close() })
		databases[name] = db
	}

	log := logger.New(logger.Config{Level: "error"})
	return NewBackupService(databases, store, dir, retentionDays, log), dir
}

func TestCreateAndUploadBackup(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newBackupFixture(t, store, 30)

	require.NoError(t, svc.CreateAndUploadBackup(context.Background()))

	keys := store.keys()
	require.Len(t, keys, 1)
	archive := store.objects[keys[0]]

	// The archive holds one snapshot per database plus the metadata file
	files := map[string][]byte{}
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = data
	}

	require.Contains(t, files, "catalog.db")
	require.Contains(t, files, "jobs.db")
	require.Contains(t, files, "backup-metadata.json")

	var metadata BackupMetadata
	require.NoError(t, json.Unmarshal(files["backup-metadata.json"], &metadata))
	require.Len(t, metadata.Databases, 2)
	for _, db := range metadata.Databases {
		assert.Contains(t, db.Checksum, "sha256:")
		assert.Equal(t, int64(len(files[db.Filename])), db.SizeBytes)
	}
}

func TestListBackups(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newBackupFixture(t, store, 30)

	now := time.Now()
	for _, age := range []time.Duration{72 * time.Hour, 24 * time.Hour, 0} {
		key := backupPrefix + now.Add(-age).Format(backupTimeLayout) + ".tar.gz"
		store.objects[key] = []byte("archive")
	}
	store.objects["unrelated.txt"] = []byte("noise")
	store.objects[backupPrefix+"not-a-timestamp.tar.gz"] = []byte("noise")

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 3, "non-backup objects are ignored")

	for i := 1; i < len(backups); i++ {
		assert.True(t, backups[i].Timestamp.Before(backups[i-1].Timestamp), "newest first")
	}
	assert.GreaterOrEqual(t, backups[1].AgeHours, int64(23))
}

func TestRotateOldBackups(t *testing.T) {
	addBackup := func(store *memoryStore, age time.Duration) {
		key := backupPrefix + time.Now().Add(-age).Format(backupTimeLayout) + ".tar.gz"
		store.objects[key] = []byte("archive")
	}

	t.Run("deletes expired backups past the keep floor", func(t *testing.T) {
		store := newMemoryStore()
		svc, _ := newBackupFixture(t, store, 7)

		for _, days := range []int{1, 2, 3, 10, 20} {
			addBackup(store, time.Duration(days)*24*time.Hour)
		}

		require.NoError(t, svc.RotateOldBackups(context.Background()))
		assert.Len(t, store.keys(), 3)
	})

	t.Run("always keeps the newest three even when expired", func(t *testing.T) {
		store := newMemoryStore()
		svc, _ := newBackupFixture(t, store, 7)

		for _, days := range []int{10, 20, 30} {
			addBackup(store, time.Duration(days)*24*time.Hour)
		}

		require.NoError(t, svc.RotateOldBackups(context.Background()))
		assert.Len(t, store.keys(), 3)
	})

	t.Run("retention zero keeps everything", func(t *testing.T) {
		store := newMemoryStore()
		svc, _ := newBackupFixture(t, store, 0)

		for _, days := range []int{10, 20, 30, 40, 50} {
			addBackup(store, time.Duration(days)*24*time.Hour)
		}

		require.NoError(t, svc.RotateOldBackups(context.Background()))
		assert.Len(t, store.keys(), 5)
	})
}

func TestBackupJob(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newBackupFixture(t, store, 30)

	job := NewBackupJob(svc)
	assert.Equal(t, "s3_backup", job.Name())
	require.NoError(t, job.Run())
	assert.Len(t, store.keys(), 1)
}

// failingStore rejects uploads so the error path can be observed.
type failingStore struct{ memoryStore }

func (f *failingStore) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	return fmt.Errorf("bucket unavailable")
}

func TestBackupUploadFailure(t *testing.T) {
	store := &failingStore{memoryStore{objects: map[string][]byte{}}}
	svc, _ := newBackupFixture(t, store, 30)

	err := svc.CreateAndUploadBackup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upload backup")
}
