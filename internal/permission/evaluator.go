// Package permission はロールに付与されたパーミッションキーによる認可判定を提供する。
package permission

import (
	"context"
	"fmt"

	"github.com/hitoshi/leadflow/internal/repository"
)

// 組み込みのパーミッションキー。ロールへの割り当てはrole_permissionsテーブルで管理する。
const (
	KeyUserManage = "USER_MANAGE"
	KeyRoleManage = "ROLE_MANAGE"
	KeyLeadRead   = "LEAD_READ"
	KeyLeadWrite  = "LEAD_WRITE"
	KeyEmailSend  = "EMAIL_SEND"
)

// Evaluator はユーザー → ロール → パーミッションキーを解決して判定する。
// パーミッションは呼び出しごとに読み込み、キャッシュしない。
type Evaluator struct {
	userRepo repository.UserRepository
	roleRepo repository.RoleRepository
}

// NewEvaluator はEvaluatorを生成する。
func NewEvaluator(userRepo repository.UserRepository, roleRepo repository.RoleRepository) *Evaluator {
	return &Evaluator{userRepo: userRepo, roleRepo: roleRepo}
}

// Permissions はユーザーのパーミッションキー集合を返す。
// ユーザーが存在しない場合やロール未割り当ての場合は空集合。
func (e *Evaluator) Permissions(ctx context.Context, userID string) (map[string]struct{}, error) {
	user, err := e.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user for permission check: %w", err)
	}
	if user == nil || !user.HasRole() {
		return map[string]struct{}{}, nil
	}

	keys, err := e.roleRepo.ListPermissionKeys(ctx, user.RoleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions for role %s: %w", user.RoleID, err)
	}

	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set, nil
}

// HasPermission はユーザーが指定キーを持つかどうかを返す。
func (e *Evaluator) HasPermission(ctx context.Context, userID, key string) (bool, error) {
	return e.HasAll(ctx, userID, key)
}

// HasAny は指定キーのいずれかを持つかどうかを返す。キーが空の場合はfalse。
func (e *Evaluator) HasAny(ctx context.Context, userID string, keys ...string) (bool, error) {
	set, err := e.Permissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if _, ok := set[k]; ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAll は指定キーをすべて持つかどうかを返す。キーが空の場合はfalse。
func (e *Evaluator) HasAll(ctx context.Context, userID string, keys ...string) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}
	set, err := e.Permissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if _, ok := set[k]; !ok {
			return false, nil
		}
	}
	return true, nil
}
