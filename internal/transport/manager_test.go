package transport

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/rmskTV/advPlanner-sub000/internal/lock"
)

const sampleMessage = `<?xml version="1.0" encoding="UTF-8"?>
<Message xmlns:msg="http://www.1c.ru/SSL/Exchange/Message">
<msg:Header><msg:Format>http://v8.1c.ru/edi/edi_stnd/EnterpriseData/1.8</msg:Format></msg:Header>
<Body/>
</Message>`

// countingDriver records how many reads reach the wrapped driver.
type countingDriver struct {
	Driver
	reads atomic.Int32
}

func (d *countingDriver) ReadFile(ctx context.Context, name string, limit int64) ([]byte, error) {
	d.reads.Add(1)
	return d.Driver.ReadFile(ctx, name, limit)
}

type fixture struct {
	fs      afero.Fs
	driver  *countingDriver
	locker  *lock.MemoryLocker
	manager *Manager
}

func newFixture(t *testing.T, opts ...ManagerOption) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	driver := &countingDriver{Driver: NewFSDriver(fs)}
	locker := lock.NewMemoryLocker()
	opts = append(opts, WithManagerClock(func() time.Time {
		return time.Date(2024, 3, 7, 9, 5, 0, 0, time.UTC)
	}))
	manager, err := NewManager(testConnector(), driver, locker, opts...)
	require.NoError(t, err)
	return &fixture{fs: fs, driver: driver, locker: locker, manager: manager}
}

func (f *fixture) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.fs, "/"+name, []byte(content), 0o644))
}

func TestScanIncomingFiltersAndSkipsLocked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "Message_PEER_US.xml", sampleMessage)
	f.write(t, "Message_PEER_US_2.xml", sampleMessage)
	f.write(t, "Message_US_PEER.xml", sampleMessage)
	f.write(t, "readme.txt", "hello")
	require.NoError(t, f.fs.MkdirAll("/archive", 0o755))

	names, err := f.manager.ScanIncoming(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Message_PEER_US.xml", "Message_PEER_US_2.xml"}, names)

	held, err := f.manager.Lock(ctx, "Message_PEER_US.xml")
	require.NoError(t, err)
	assert.Equal(t, testConnector().ID.String()+"/Message_PEER_US.xml", held.Key)

	names, err = f.manager.ScanIncoming(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Message_PEER_US_2.xml"}, names)

	_, err = f.manager.Lock(ctx, "Message_PEER_US.xml")
	assert.True(t, IsReason(err, ReasonLocked))

	require.NoError(t, f.manager.Unlock(ctx, held))
	names, err = f.manager.ScanIncoming(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestDownloadStripsBOM(t *testing.T) {
	f := newFixture(t)
	f.write(t, "Message_PEER_US.xml", "\ufeff"+sampleMessage)

	data, err := f.manager.Download(context.Background(), "Message_PEER_US.xml")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "<?xml"))
}

func TestDownloadRejectsOversizedFileWithoutReading(t *testing.T) {
	f := newFixture(t, WithMaxFileSize(64))
	f.write(t, "Message_PEER_US.xml", sampleMessage)

	_, err := f.manager.Download(context.Background(), "Message_PEER_US.xml")
	require.Error(t, err)
	assert.True(t, IsReason(err, ReasonTooLarge))
	assert.Equal(t, int32(0), f.driver.reads.Load())
}

func TestDownloadFailures(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		reason  Reason
	}{
		{"missing", "Message_PEER_US.xml", "", ReasonNotFound},
		{"extension", "Message_PEER_US.txt", sampleMessage, ReasonInvalidExtension},
		{"not xml", "Message_PEER_US.xml", "just some text", ReasonMalformedContent},
		{"empty", "Message_PEER_US.xml", "   ", ReasonMalformedContent},
		{"doctype", "Message_PEER_US.xml", `<?xml version="1.0"?><!DOCTYPE m SYSTEM "http://evil/x.dtd"><Message/>`, ReasonMalformedContent},
		{"entity", "Message_PEER_US.xml", `<?xml version="1.0"?><Message><!ENTITY x "y"></Message>`, ReasonMalformedContent},
		{"script", "Message_PEER_US.xml", `<Message><script>alert(1)</script></Message>`, ReasonMalformedContent},
		{"broken", "Message_PEER_US.xml", `<Message><Body></Message>`, ReasonMalformedContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.content != "" {
				f.write(t, tt.file, tt.content)
			}
			_, err := f.manager.Download(context.Background(), tt.file)
			require.Error(t, err)
			assert.True(t, IsReason(err, tt.reason), "got %v", err)
		})
	}
}

func TestUploadIsAtomic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.manager.Upload(ctx, "Message_US_PEER.xml", []byte(sampleMessage)))

	entries, err := afero.ReadDir(f.fs, "/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Message_US_PEER.xml", entries[0].Name())

	content, err := afero.ReadFile(f.fs, "/Message_US_PEER.xml")
	require.NoError(t, err)
	assert.Equal(t, sampleMessage, string(content))
}

func TestUploadRejectsInvalidContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.manager.Upload(ctx, "Message_US_PEER.xml", []byte("<Message>"))
	assert.True(t, IsReason(err, ReasonMalformedContent))

	err = f.manager.Upload(ctx, "Message_US_PEER.dat", []byte(sampleMessage))
	assert.True(t, IsReason(err, ReasonInvalidExtension))

	entries, err := afero.ReadDir(f.fs, "/")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestArchiveMovesFileIntoDatedTree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "Message_PEER_US.xml", sampleMessage)

	dest, err := f.manager.Archive(ctx, "Message_PEER_US.xml")
	require.NoError(t, err)
	assert.Equal(t, "archive/2024/03/07/09/05/Message_PEER_US.xml", dest)

	exists, err := afero.Exists(f.fs, "/"+dest)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = afero.Exists(f.fs, "/Message_PEER_US.xml")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRateLimitedDriverHonorsContext(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	driver := RateLimited(NewFSDriver(afero.NewMemMapFs()), limiter)

	_, err := driver.List(context.Background(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = driver.List(ctx, "")
	require.Error(t, err)
}

func TestNextOutgoingNameSkipsUnreadFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	name, err := f.manager.NextOutgoingName(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "Message_US_PEER.xml", name)

	f.write(t, "Message_US_PEER.xml", sampleMessage)
	name, err = f.manager.NextOutgoingName(ctx, map[string]bool{"Message_US_PEER_2.xml": true})
	require.NoError(t, err)
	assert.Equal(t, "Message_US_PEER_3.xml", name)
}
