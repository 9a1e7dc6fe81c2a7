package repositories

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Gopher0727/Warden/internal/models"
	"github.com/Gopher0727/Warden/internal/utils"
)

const (
	userCacheKeyPrefix  = "user:info:"  // gob 编码的 user, json 会丢掉 json:"-" 字段
	rolesCacheKeyPrefix = "user:roles:" // JSON 角色名数组
	userCacheTTL        = 1 * time.Hour
	rolesCacheTTL       = 10 * time.Minute
)

// UserRepository 凭证存储: 用户, 密码哈希, 角色, 锁定状态
type UserRepository struct {
	db         *gorm.DB
	redis      *redis.Client
	bcryptCost int
}

func NewUserRepository(db *gorm.DB, redis *redis.Client, bcryptCost int) *UserRepository {
	return &UserRepository{db: db, redis: redis, bcryptCost: bcryptCost}
}

func userCacheKey(id uint) string  { return fmt.Sprintf("%s%d", userCacheKeyPrefix, id) }
func rolesCacheKey(id uint) string { return fmt.Sprintf("%s%d", rolesCacheKeyPrefix, id) }

// invalidate 删除用户与角色缓存, 失败只影响缓存新鲜度
func (r *UserRepository) invalidate(ctx context.Context, id uint) {
	if r.redis != nil {
		r.redis.Del(ctx, userCacheKey(id), rolesCacheKey(id))
	}
}

// Create 创建用户, 密码在这里做哈希
func (r *UserRepository) Create(ctx context.Context, user *models.User, password string) error {
	const op = "repositories.UserRepository.Create"

	hash, err := utils.HashPassword(password, r.bcryptCost)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	user.PasswordHash = hash
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.LockoutEnabled = true

	return translate(op, r.db.WithContext(ctx).Omit(clause.Associations).Create(user).Error)
}

// FindByID 根据 ID 获取用户 (带缓存)
func (r *UserRepository) FindByID(ctx context.Context, id uint) (*models.User, error) {
	const op = "repositories.UserRepository.FindByID"

	if r.redis != nil {
		if raw, err := r.redis.Get(ctx, userCacheKey(id)).Bytes(); err == nil {
			var user models.User
			if gob.NewDecoder(bytes.NewReader(raw)).Decode(&user) == nil {
				return &user, nil
			}
		}
	}

	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translate(op, err)
	}

	// 回填 Redis
	if r.redis != nil {
		var buf bytes.Buffer
		if gob.NewEncoder(&buf).Encode(&user) == nil {
			r.redis.Set(ctx, userCacheKey(id), buf.Bytes(), userCacheTTL)
		}
	}
	return &user, nil
}

// FindByEmail 邮箱不区分大小写
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "repositories.UserRepository.FindByEmail"

	var user models.User
	err := r.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&user).Error
	if err != nil {
		return nil, translate(op, err)
	}
	return &user, nil
}

func (r *UserRepository) FindByUserName(ctx context.Context, username string) (*models.User, error) {
	const op = "repositories.UserRepository.FindByUserName"

	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, translate(op, err)
	}
	return &user, nil
}

// Update 更新用户 (同时清除缓存), 不触碰角色关联
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	const op = "repositories.UserRepository.Update"

	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(user).Error; err != nil {
		return translate(op, err)
	}
	r.invalidate(ctx, user.ID)
	return nil
}

// Delete 物理删除用户及其角色关联, 用于注册失败时回滚
func (r *UserRepository) Delete(ctx context.Context, id uint) error {
	const op = "repositories.UserRepository.Delete"

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM user_roles WHERE user_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&models.User{}, id).Error
	})
	if err != nil {
		return translate(op, err)
	}
	r.invalidate(ctx, id)
	return nil
}

// GetRoles 读取角色名 (带缓存, 角色变更时失效)
func (r *UserRepository) GetRoles(ctx context.Context, id uint) ([]string, error) {
	const op = "repositories.UserRepository.GetRoles"

	if r.redis != nil {
		if raw, err := r.redis.Get(ctx, rolesCacheKey(id)).Bytes(); err == nil {
			var names []string
			if json.Unmarshal(raw, &names) == nil {
				return names, nil
			}
		}
	}

	names := []string{}
	err := r.db.WithContext(ctx).
		Table("roles").
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", id).
		Order("roles.name").
		Pluck("roles.name", &names).Error
	if err != nil {
		return nil, translate(op, err)
	}

	if r.redis != nil {
		if data, err := json.Marshal(names); err == nil {
			r.redis.Set(ctx, rolesCacheKey(id), data, rolesCacheTTL)
		}
	}
	return names, nil
}

func (r *UserRepository) findRole(ctx context.Context, name string) (*models.Role, error) {
	var role models.Role
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&role).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

// AddToRole 幂等, 已拥有该角色时不报错
func (r *UserRepository) AddToRole(ctx context.Context, id uint, roleName string) error {
	const op = "repositories.UserRepository.AddToRole"

	role, err := r.findRole(ctx, roleName)
	if err != nil {
		return translate(op, err)
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Model(&models.User{ID: id}).Association("Roles").Append(role); err != nil {
		return translate(op, err)
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *UserRepository) RemoveFromRole(ctx context.Context, id uint, roleName string) error {
	const op = "repositories.UserRepository.RemoveFromRole"

	role, err := r.findRole(ctx, roleName)
	if err != nil {
		return translate(op, err)
	}
	if err := r.db.WithContext(ctx).Model(&models.User{ID: id}).Association("Roles").Delete(role); err != nil {
		return translate(op, err)
	}
	r.invalidate(ctx, id)
	return nil
}

// CheckPassword 校验密码; user 来自缓存时哈希为空, 从库里补读
func (r *UserRepository) CheckPassword(ctx context.Context, user *models.User, password string) bool {
	hash := user.PasswordHash
	if hash == "" {
		err := r.db.WithContext(ctx).Model(&models.User{}).
			Where("id = ?", user.ID).
			Pluck("password_hash", &hash).Error
		if err != nil || hash == "" {
			return false
		}
	}
	return utils.CheckPassword(hash, password)
}

// SetLockout until 为 nil 表示解除锁定并清零失败计数
func (r *UserRepository) SetLockout(ctx context.Context, id uint, until *time.Time) error {
	const op = "repositories.UserRepository.SetLockout"

	updates := map[string]any{"lockout_end": until}
	if until == nil {
		updates["access_failed_count"] = 0
	}
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return translate(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	r.invalidate(ctx, id)
	return nil
}

// AccessFailed 原子递增失败计数, 返回递增后的值
func (r *UserRepository) AccessFailed(ctx context.Context, id uint) (int, error) {
	const op = "repositories.UserRepository.AccessFailed"

	var user models.User
	res := r.db.WithContext(ctx).Model(&user).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "access_failed_count"}}}).
		Where("id = ?", id).
		UpdateColumn("access_failed_count", gorm.Expr("access_failed_count + 1"))
	if res.Error != nil {
		return 0, translate(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	r.invalidate(ctx, id)
	return user.AccessFailedCount, nil
}

func (r *UserRepository) ResetAccessFailed(ctx context.Context, id uint) error {
	const op = "repositories.UserRepository.ResetAccessFailed"

	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND access_failed_count <> 0", id).
		UpdateColumn("access_failed_count", 0).Error
	if err != nil {
		return translate(op, err)
	}
	r.invalidate(ctx, id)
	return nil
}

// List 获取用户列表
func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]models.User, int64, error) {
	const op = "repositories.UserRepository.List"

	var (
		users []models.User
		total int64
	)
	db := r.db.WithContext(ctx)
	if err := db.Model(&models.User{}).Count(&total).Error; err != nil {
		return nil, 0, translate(op, err)
	}
	err := db.Preload("Roles").Order("id").Limit(limit).Offset(offset).Find(&users).Error
	if err != nil {
		return nil, 0, translate(op, err)
	}
	return users, total, nil
}

func (r *UserRepository) ListRoles(ctx context.Context) ([]models.Role, error) {
	const op = "repositories.UserRepository.ListRoles"

	var roles []models.Role
	if err := r.db.WithContext(ctx).Order("name").Find(&roles).Error; err != nil {
		return nil, translate(op, err)
	}
	return roles, nil
}
