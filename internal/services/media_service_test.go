package services

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Gopher0727/Warden/config"
	"github.com/Gopher0727/Warden/internal/models"
	"github.com/Gopher0727/Warden/internal/utils"
	"github.com/Gopher0727/Warden/pkg/mq"
)

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		img.Set(x, h/2, color.RGBA{G: 180, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func textUpload(userID uint, body string) *UploadRequest {
	return &UploadRequest{
		Content:     strings.NewReader(body),
		FileName:    "notes.txt",
		ContentType: "text/plain; charset=utf-8",
		UserID:      userID,
	}
}

func (f *fixture) upload(t *testing.T, req *UploadRequest) *models.MediaFile {
	t.Helper()
	res, err := f.mediaSvc.Upload(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.Deduplicated)
	return res.File
}

func countBlobs(t *testing.T, root string) int {
	t.Helper()
	var n int
	require.NoError(t, filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	}))
	return n
}

func TestMediaService_UploadDefaults(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, textUpload(1, "hello"))

	assert.Equal(t, models.VisibilityPrivate, file.Visibility)
	assert.Equal(t, models.CategoryGeneral, file.Category)
	assert.Equal(t, models.StatusReady, file.ProcessingStatus)
	assert.Equal(t, "text/plain", file.ContentType)
	assert.EqualValues(t, 5, file.FileSize)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", file.FileHash)
	assert.True(t, strings.HasPrefix(file.StoragePath, "general/"))
	assert.True(t, strings.HasSuffix(file.StoragePath, ".txt"))
	assert.NotZero(t, file.ID)
}

func TestMediaService_Dedup(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		ctx := context.Background()
		body := rapid.SliceOfN(rapid.Byte(), 1, 4096).Draw(rt, "body")
		uploads := rapid.IntRange(2, 5).Draw(rt, "uploads")

		var first *models.MediaFile
		for i := range uploads {
			res, err := f.mediaSvc.Upload(ctx, &UploadRequest{
				Content:     bytes.NewReader(body),
				FileName:    rapid.StringMatching(`[a-z]{1,8}\.bin`).Draw(rt, "name"),
				ContentType: "application/pdf",
				UserID:      7,
			})
			if err != nil {
				rt.Fatalf("upload %d: %v", i, err)
			}
			if i == 0 {
				first = res.File
				continue
			}
			if !res.Deduplicated || res.File.ID != first.ID {
				rt.Fatalf("upload %d was not deduplicated", i)
			}
		}
		_, total, err := f.mediaSvc.ListMine(ctx, 7, 0, 0)
		if err != nil || total != 1 {
			rt.Fatalf("want 1 row, got %d (%v)", total, err)
		}

		// dedup is scoped to the uploader
		other, err := f.mediaSvc.Upload(ctx, &UploadRequest{Content: bytes.NewReader(body), ContentType: "application/pdf", UserID: 8})
		if err != nil || other.Deduplicated || other.File.ID == first.ID {
			rt.Fatalf("other uploader shared a row: %+v %v", other, err)
		}
	})
}

func TestMediaService_DedupSkipsValidation(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, textUpload(1, "same bytes"))

	// a repeat upload returns the existing row even with a different declared type
	res, err := f.mediaSvc.Upload(context.Background(), &UploadRequest{
		Content:     strings.NewReader("same bytes"),
		ContentType: "application/x-unknown",
		UserID:      1,
	})
	require.NoError(t, err)
	assert.True(t, res.Deduplicated)
	assert.Equal(t, file.ID, res.File.ID)
}

func TestMediaService_ConcurrentIdenticalUploads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	results := make([]*UploadResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			results[i], errs[i] = f.mediaSvc.Upload(ctx, textUpload(3, "racing content"))
		})
	}
	wg.Wait()

	var created int
	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].File.ID, results[i].File.ID)
		if !results[i].Deduplicated {
			created++
		}
	}
	assert.Equal(t, 1, created)
	// losers discard their bytes
	assert.Equal(t, 1, countBlobs(t, f.blobRoot))
}

func TestMediaService_UploadValidation(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Media.MaxUploadBytes = 16 })
	ctx := context.Background()

	tests := []struct {
		name string
		req  *UploadRequest
	}{
		{"oversize", textUpload(1, strings.Repeat("x", 17))},
		{"empty", textUpload(1, "")},
		{"type", &UploadRequest{Content: strings.NewReader("MZ"), ContentType: "application/x-msdownload", UserID: 1}},
		{"malformed type", &UploadRequest{Content: strings.NewReader("a"), ContentType: "text/", UserID: 1}},
		{"visibility", &UploadRequest{Content: strings.NewReader("b"), ContentType: "text/plain", UserID: 1, Visibility: "friends"}},
		{"category", &UploadRequest{Content: strings.NewReader("c"), ContentType: "text/plain", UserID: 1, Category: "misc"}},
		{"title", &UploadRequest{Content: strings.NewReader("d"), ContentType: "text/plain", UserID: 1, Title: strings.Repeat("t", 256)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mediaSvc.Upload(ctx, tt.req)
			assert.ErrorIs(t, err, ErrValidationFailed)
		})
	}
	assert.Zero(t, countBlobs(t, f.blobRoot))

	// exactly at the limit is accepted
	_, err := f.mediaSvc.Upload(ctx, textUpload(1, strings.Repeat("x", 16)))
	require.NoError(t, err)

	_, err = f.mediaSvc.Upload(ctx, textUpload(0, "anonymous"))
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMediaService_SanitizesFileName(t *testing.T) {
	f := newFixture(t)

	req := textUpload(1, "payload")
	req.FileName = `..\..\etc/passwd;rm -rf.sh`
	file := f.upload(t, req)

	assert.Equal(t, "passwd_rm -rf.sh", file.OriginalFileName)
	assert.NotContains(t, file.StoragePath, "passwd")
	assert.True(t, strings.HasSuffix(file.StoragePath, ".sh"))

	req = textUpload(1, "other payload")
	req.FileName = "../.."
	file = f.upload(t, req)
	assert.Equal(t, "file", file.OriginalFileName)
}

func TestMediaService_PrivateFileHidden(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		ctx := context.Background()
		owner := rapid.UintRange(1, 100).Draw(rt, "owner")
		other := rapid.UintRange(101, 200).Draw(rt, "other")
		roles := rapid.SliceOfDistinct(rapid.SampledFrom([]string{models.RoleUser, models.RoleAdministrator, "Editor"}), rapid.ID[string]).Draw(rt, "roles")

		file := f.upload(t, textUpload(owner, "secret"))

		_, errMissing := f.mediaSvc.Get(ctx, file.ID+1, &Requester{UserID: other, Roles: roles})
		_, errOther := f.mediaSvc.Get(ctx, file.ID, &Requester{UserID: other, Roles: roles})
		_, errAnon := f.mediaSvc.Get(ctx, file.ID, nil)
		for _, err := range []error{errMissing, errOther, errAnon} {
			if !assert.ErrorIs(t, err, ErrNotFound) {
				rt.FailNow()
			}
		}
		if _, _, err := f.mediaSvc.Serve(ctx, file.ID, &Requester{UserID: other, Roles: roles}, VariantDownload); !assert.ErrorIs(t, err, ErrNotFound) {
			rt.FailNow()
		}
		if _, err := f.mediaSvc.Get(ctx, file.ID, &Requester{UserID: owner}); err != nil {
			rt.Fatalf("owner denied: %v", err)
		}
	})
}

func TestMediaService_PublicVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := textUpload(1, "hello world")
	req.Visibility = models.VisibilityPublic
	file := f.upload(t, req)

	_, err := f.mediaSvc.Get(ctx, file.ID, &Requester{UserID: 2})
	require.NoError(t, err)

	_, err = f.mediaSvc.Get(ctx, file.ID, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	f.cfg.Media.AllowAnonymousPublic = true
	got, err := f.mediaSvc.Get(ctx, file.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, file.ID, got.ID)

	row, err := f.media.FindByID(ctx, file.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, row.AccessCount)
	assert.NotNil(t, row.LastAccessedAt)
}

func TestMediaService_SharedGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := textUpload(1, "shared doc")
	req.Visibility = models.VisibilityShared
	file := f.upload(t, req)

	reader := &Requester{UserID: 2, Roles: []string{models.RoleUser}}
	editor := &Requester{UserID: 3, Roles: []string{"Editor"}}
	stranger := &Requester{UserID: 4, Roles: []string{models.RoleUser}}

	// no grants yet
	_, err := f.mediaSvc.Get(ctx, file.ID, reader)
	assert.ErrorIs(t, err, ErrNotFound)

	uid := uint(2)
	userGrant, err := f.mediaSvc.GrantAccess(ctx, file.ID, 1, &GrantRequest{UserID: &uid, Permission: models.PermissionRead})
	require.NoError(t, err)
	_, err = f.mediaSvc.GrantAccess(ctx, file.ID, 1, &GrantRequest{RoleName: "Editor", Permission: models.PermissionDownload})
	require.NoError(t, err)

	_, err = f.mediaSvc.Get(ctx, file.ID, reader)
	require.NoError(t, err)
	// read does not include download
	_, _, err = f.mediaSvc.Serve(ctx, file.ID, reader, VariantDownload)
	assert.ErrorIs(t, err, ErrNotFound)
	_, obj, err := f.mediaSvc.Serve(ctx, file.ID, reader, VariantOriginal)
	require.NoError(t, err)
	require.NoError(t, obj.Close())

	_, obj, err = f.mediaSvc.Serve(ctx, file.ID, editor, VariantDownload)
	require.NoError(t, err)
	require.NoError(t, obj.Close())

	_, err = f.mediaSvc.Get(ctx, file.ID, stranger)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.mediaSvc.Get(ctx, file.ID, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.mediaSvc.RevokeAccess(ctx, file.ID, 1, userGrant.ID))
	_, err = f.mediaSvc.Get(ctx, file.ID, reader)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.mediaSvc.RevokeAccess(ctx, file.ID, 1, userGrant.ID), ErrNotFound)

	grants, err := f.mediaSvc.ListGrants(ctx, file.ID, 1)
	require.NoError(t, err)
	assert.Len(t, grants, 2)
}

func TestMediaService_GrantExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := textUpload(1, "expiring")
	req.Visibility = models.VisibilityShared
	file := f.upload(t, req)

	uid := uint(2)
	expires := f.clock.Now().Add(time.Hour)
	_, err := f.mediaSvc.GrantAccess(ctx, file.ID, 1, &GrantRequest{UserID: &uid, Permission: models.PermissionManage, ExpiresAt: &expires})
	require.NoError(t, err)

	_, obj, err := f.mediaSvc.Serve(ctx, file.ID, &Requester{UserID: 2}, VariantDownload)
	require.NoError(t, err)
	require.NoError(t, obj.Close())

	f.clock.Advance(time.Hour + time.Second)
	_, err = f.mediaSvc.Get(ctx, file.ID, &Requester{UserID: 2})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMediaService_GrantsIgnoredUnlessShared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.upload(t, textUpload(1, "private with grant"))

	uid := uint(2)
	_, err := f.mediaSvc.GrantAccess(ctx, file.ID, 1, &GrantRequest{UserID: &uid, Permission: models.PermissionRead})
	require.NoError(t, err)

	_, err = f.mediaSvc.Get(ctx, file.ID, &Requester{UserID: 2})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMediaService_GrantValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.upload(t, textUpload(1, "grants"))

	uid := uint(2)
	past := f.clock.Now().Add(-time.Minute)
	bad := []*GrantRequest{
		{Permission: models.PermissionRead},
		{UserID: &uid, RoleName: "Editor", Permission: models.PermissionRead},
		{UserID: &uid, Permission: "owner"},
		{UserID: &uid, Permission: models.PermissionRead, ExpiresAt: &past},
	}
	for _, req := range bad {
		_, err := f.mediaSvc.GrantAccess(ctx, file.ID, 1, req)
		assert.ErrorIs(t, err, ErrValidationFailed)
	}

	_, err := f.mediaSvc.GrantAccess(ctx, file.ID, 2, &GrantRequest{UserID: &uid, Permission: models.PermissionRead})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.mediaSvc.ListGrants(ctx, file.ID, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMediaService_Thumbnail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	file := f.upload(t, &UploadRequest{
		Content:     bytes.NewReader(pngImage(t, 200, 100)),
		FileName:    "photo.PNG",
		ContentType: "image/png",
		UserID:      5,
		Category:    models.CategoryImage,
	})
	assert.True(t, strings.HasSuffix(file.StoragePath, ".png"))

	row, err := f.media.FindByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, row.ProcessingStatus)
	assert.Equal(t, 200, row.Width)
	assert.Equal(t, 100, row.Height)
	assert.True(t, strings.HasPrefix(row.ThumbnailPath, "thumbnails/image/"))

	sent := f.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, uint(5), sent[0].UserID)
	assert.Equal(t, mq.EventMediaProcessed, sent[0].Type)

	_, obj, err := f.mediaSvc.Serve(ctx, file.ID, &Requester{UserID: 5}, VariantThumbnail)
	require.NoError(t, err)
	defer obj.Close()
	cfg, err := jpeg.DecodeConfig(obj)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 32, cfg.Height)
}

func TestMediaService_UndecodableImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	file := f.upload(t, &UploadRequest{
		Content:     strings.NewReader("definitely not a png"),
		ContentType: "image/png",
		UserID:      5,
	})

	row, err := f.media.FindByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, row.ProcessingStatus)
	assert.Empty(t, row.ThumbnailPath)

	_, _, err = f.mediaSvc.Serve(ctx, file.ID, &Requester{UserID: 5}, VariantThumbnail)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMediaService_ServeSeekable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.upload(t, textUpload(1, "0123456789"))

	got, obj, err := f.mediaSvc.Serve(ctx, file.ID, &Requester{UserID: 1}, VariantOriginal)
	require.NoError(t, err)
	defer obj.Close()
	assert.Equal(t, file.ID, got.ID)
	assert.EqualValues(t, 10, obj.Size())

	_, err = obj.Seek(7, io.SeekStart)
	require.NoError(t, err)
	tail, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, "789", string(tail))
}

func TestMediaService_ServeMissingBytes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.upload(t, textUpload(1, "vanishing"))

	require.NoError(t, f.blobs.Delete(ctx, file.StoragePath))
	_, _, err := f.mediaSvc.Serve(ctx, file.ID, &Requester{UserID: 1}, VariantOriginal)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMediaService_DeleteAndReupload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.upload(t, textUpload(1, "to be deleted"))

	assert.ErrorIs(t, f.mediaSvc.Delete(ctx, file.ID, 2), ErrNotFound)
	require.NoError(t, f.mediaSvc.Delete(ctx, file.ID, 1))
	assert.ErrorIs(t, f.mediaSvc.Delete(ctx, file.ID, 1), ErrNotFound)

	_, err := f.mediaSvc.Get(ctx, file.ID, &Requester{UserID: 1})
	assert.ErrorIs(t, err, ErrNotFound)
	files, total, err := f.mediaSvc.ListMine(ctx, 1, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, files)

	// deleted rows do not take part in dedup
	again := f.upload(t, textUpload(1, "to be deleted"))
	assert.NotEqual(t, file.ID, again.ID)
}

func TestMediaService_Sweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	photo := f.upload(t, &UploadRequest{Content: bytes.NewReader(pngImage(t, 40, 40)), ContentType: "image/png", UserID: 1})
	keep := f.upload(t, textUpload(1, "keep me"))
	assert.Equal(t, 3, countBlobs(t, f.blobRoot))

	require.NoError(t, f.mediaSvc.Delete(ctx, photo.ID, 1))
	// soft delete keeps the bytes until the sweep
	assert.Equal(t, 3, countBlobs(t, f.blobRoot))

	n, err := f.mediaSvc.Sweep(ctx, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 1, countBlobs(t, f.blobRoot))

	_, err = f.media.FindByID(ctx, photo.ID)
	assert.Error(t, err)
	_, err = f.mediaSvc.Get(ctx, keep.ID, &Requester{UserID: 1})
	require.NoError(t, err)

	n, err = f.mediaSvc.Sweep(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMediaService_SweepToleratesMissingBytes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.upload(t, textUpload(1, "gone already"))

	require.NoError(t, f.mediaSvc.Delete(ctx, file.ID, 1))
	require.NoError(t, f.blobs.Delete(ctx, file.StoragePath))

	n, err := f.mediaSvc.Sweep(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMediaService_UpdateMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.upload(t, textUpload(1, "metadata"))

	title := "  Quarterly report "
	public := models.VisibilityPublic
	got, err := f.mediaSvc.UpdateMetadata(ctx, file.ID, 1, &MediaPatch{Title: &title, Visibility: &public})
	require.NoError(t, err)
	assert.Equal(t, "Quarterly report", got.Title)
	assert.Equal(t, models.VisibilityPublic, got.Visibility)

	_, err = f.mediaSvc.Get(ctx, file.ID, &Requester{UserID: 9})
	require.NoError(t, err)

	bogus := models.Visibility("everyone")
	_, err = f.mediaSvc.UpdateMetadata(ctx, file.ID, 1, &MediaPatch{Visibility: &bogus})
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = f.mediaSvc.UpdateMetadata(ctx, file.ID, 9, &MediaPatch{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)
}

// interleavingStore runs afterRead once, right after the next FindByID returns.
type interleavingStore struct {
	MediaStore
	afterRead func()
}

func (s *interleavingStore) FindByID(ctx context.Context, id int64) (*models.MediaFile, error) {
	file, err := s.MediaStore.FindByID(ctx, id)
	if hook := s.afterRead; hook != nil {
		s.afterRead = nil
		hook()
	}
	return file, err
}

// queuedJobs holds jobs until run is called.
type queuedJobs struct {
	mu   sync.Mutex
	jobs []utils.Job
}

func (q *queuedJobs) Submit(_ context.Context, job utils.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *queuedJobs) run(ctx context.Context) {
	q.mu.Lock()
	jobs := q.jobs
	q.jobs = nil
	q.mu.Unlock()
	for _, job := range jobs {
		job(ctx)
	}
}

func TestMediaService_UpdateMetadataDoesNotUndoDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.upload(t, textUpload(1, "deleted mid-edit"))

	f.mediaSvc.store = &interleavingStore{MediaStore: f.media, afterRead: func() {
		require.NoError(t, f.mediaSvc.Delete(ctx, file.ID, 1))
	}}

	title := "late edit"
	_, err := f.mediaSvc.UpdateMetadata(ctx, file.ID, 1, &MediaPatch{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)

	row, err := f.media.FindByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, row.ProcessingStatus)
	assert.NotNil(t, row.DeletedAt)
	assert.Empty(t, row.Title)

	_, err = f.mediaSvc.Get(ctx, file.ID, &Requester{UserID: 1})
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := f.mediaSvc.Sweep(ctx, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMediaService_UpdateMetadataKeepsThumbnailResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jobs := &queuedJobs{}
	f.mediaSvc.jobs = jobs

	file := f.upload(t, &UploadRequest{
		Content:     bytes.NewReader(pngImage(t, 120, 80)),
		FileName:    "cover.png",
		ContentType: "image/png",
		UserID:      3,
		Category:    models.CategoryImage,
	})
	assert.Equal(t, models.StatusProcessing, file.ProcessingStatus)

	f.mediaSvc.store = &interleavingStore{MediaStore: f.media, afterRead: func() {
		jobs.run(ctx)
	}}

	title := "Cover"
	got, err := f.mediaSvc.UpdateMetadata(ctx, file.ID, 3, &MediaPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Cover", got.Title)
	assert.Equal(t, models.StatusReady, got.ProcessingStatus)

	row, err := f.media.FindByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cover", row.Title)
	assert.Equal(t, models.StatusReady, row.ProcessingStatus)
	assert.True(t, strings.HasPrefix(row.ThumbnailPath, "thumbnails/image/"))
	assert.Equal(t, 120, row.Width)
	assert.Equal(t, 2, countBlobs(t, f.blobRoot))
}

func TestMediaService_ListMinePaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := range 5 {
		f.upload(t, textUpload(1, strings.Repeat("p", i+1)))
	}
	f.upload(t, textUpload(2, "someone else"))

	files, total, err := f.mediaSvc.ListMine(ctx, 1, 2, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	require.Len(t, files, 2)
	assert.Greater(t, files[0].ID, files[1].ID)

	files, _, err = f.mediaSvc.ListMine(ctx, 1, 2, 4)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
