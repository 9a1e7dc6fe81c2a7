package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Gopher0727/Warden/internal/models"
	"github.com/Gopher0727/Warden/internal/repositories"
)

type Media struct {
	mu          sync.Mutex
	files       map[int64]*models.MediaFile
	grants      map[uint]*models.MediaFileAccess
	nextGrantID uint
}

func NewMedia() *Media {
	return &Media{
		files:  make(map[int64]*models.MediaFile),
		grants: make(map[uint]*models.MediaFileAccess),
	}
}

func (s *Media) Create(_ context.Context, file *models.MediaFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[file.ID]; ok {
		return fmt.Errorf("memory.Media.Create: %w", repositories.ErrAlreadyExists)
	}
	for _, f := range s.files {
		if f.UploadedByUserID == file.UploadedByUserID && f.FileHash == file.FileHash && !f.IsDeleted() {
			return fmt.Errorf("memory.Media.Create: %w", repositories.ErrAlreadyExists)
		}
	}
	now := time.Now()
	file.CreatedAt = now
	file.UpdatedAt = now
	c := *file
	s.files[file.ID] = &c
	return nil
}

func (s *Media) FindByID(_ context.Context, id int64) (*models.MediaFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("memory.Media.FindByID: %w", repositories.ErrNotFound)
	}
	c := *f
	return &c, nil
}

func (s *Media) FindActiveByHash(_ context.Context, uploaderID uint, hash string) (*models.MediaFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		if f.UploadedByUserID == uploaderID && f.FileHash == hash && !f.IsDeleted() {
			c := *f
			return &c, nil
		}
	}
	return nil, fmt.Errorf("memory.Media.FindActiveByHash: %w", repositories.ErrNotFound)
}

func (s *Media) UpdateMetadata(_ context.Context, id int64, ownerID uint, meta models.MediaMetadata, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok || f.UploadedByUserID != ownerID || f.IsDeleted() {
		return fmt.Errorf("memory.Media.UpdateMetadata: %w", repositories.ErrNotFound)
	}
	f.Title = meta.Title
	f.Description = meta.Description
	f.Visibility = meta.Visibility
	f.Category = meta.Category
	f.UpdatedAt = now
	return nil
}

func (s *Media) UpdateProcessing(_ context.Context, id int64, status models.ProcessingStatus, thumbnailPath string, width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok || f.IsDeleted() {
		return fmt.Errorf("memory.Media.UpdateProcessing: %w", repositories.ErrNotFound)
	}
	f.ProcessingStatus = status
	f.ThumbnailPath = thumbnailPath
	f.Width = width
	f.Height = height
	return nil
}

func (s *Media) IncrementAccess(_ context.Context, id int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[id]; ok {
		t := now
		f.AccessCount++
		f.LastAccessedAt = &t
	}
	return nil
}

func (s *Media) SoftDelete(_ context.Context, id int64, ownerID uint, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok || f.UploadedByUserID != ownerID || f.IsDeleted() {
		return false, nil
	}
	t := now
	f.ProcessingStatus = models.StatusDeleted
	f.DeletedAt = &t
	return true, nil
}

func (s *Media) ListByOwner(_ context.Context, ownerID uint, limit, offset int) ([]models.MediaFile, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.MediaFile
	for _, f := range s.files {
		if f.UploadedByUserID == ownerID && !f.IsDeleted() {
			all = append(all, *f)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return page(all, limit, offset), int64(len(all)), nil
}

func (s *Media) ListDeleted(_ context.Context, limit int) ([]models.MediaFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.MediaFile
	for _, f := range s.files {
		if f.IsDeleted() {
			all = append(all, *f)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, limit, 0), nil
}

func (s *Media) Purge(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok || !f.IsDeleted() {
		return nil
	}
	delete(s.files, id)
	for gid, g := range s.grants {
		if g.MediaFileID == id {
			delete(s.grants, gid)
		}
	}
	return nil
}

func (s *Media) CreateGrant(_ context.Context, grant *models.MediaFileAccess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[grant.MediaFileID]; !ok {
		return fmt.Errorf("memory.Media.CreateGrant: %w", repositories.ErrNotFound)
	}
	s.nextGrantID++
	grant.ID = s.nextGrantID
	grant.CreatedAt = time.Now()
	c := *grant
	s.grants[grant.ID] = &c
	return nil
}

func (s *Media) ListGrants(_ context.Context, fileID int64) ([]models.MediaFileAccess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MediaFileAccess
	for _, g := range s.grants {
		if g.MediaFileID == fileID {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Media) RevokeGrant(_ context.Context, fileID int64, grantID uint, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[grantID]
	if !ok || g.MediaFileID != fileID || g.Revoked {
		return false, nil
	}
	t := now
	g.Revoked = true
	g.RevokedAt = &t
	return true, nil
}
