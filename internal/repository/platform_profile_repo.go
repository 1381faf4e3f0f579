package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/packmart/internal/model"
	"github.com/hitoshi/packmart/internal/platform"
)

// profileRow はprofilesテーブルの行表現。
type profileRow struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	Role        string  `json:"role"`
	CompanyName *string `json:"company_name"`
}

func (r *profileRow) toModel() *model.Profile {
	p := &model.Profile{
		ID:    r.ID,
		Email: r.Email,
		Role:  model.Role(r.Role),
	}
	if r.CompanyName != nil {
		p.CompanyName = *r.CompanyName
	}
	return p
}

// PlatformProfileRepo はデータAPIを使用したプロフィールリポジトリ。
type PlatformProfileRepo struct {
	client *platform.Client
}

// NewPlatformProfileRepo はPlatformProfileRepoを生成する。
func NewPlatformProfileRepo(client *platform.Client) *PlatformProfileRepo {
	return &PlatformProfileRepo{client: client}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PlatformProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	var row profileRow
	_, err := r.client.From("profiles").
		Select("id, email, role, company_name").
		Eq("id", id).
		Single().
		Execute(ctx, &row)
	if platform.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}
	return row.toModel(), nil
}

// Create はプロフィールを作成する。
func (r *PlatformProfileRepo) Create(ctx context.Context, profile *model.Profile) error {
	row := profileRow{
		ID:    profile.ID,
		Email: profile.Email,
		Role:  string(profile.Role),
	}
	if profile.CompanyName != "" {
		row.CompanyName = &profile.CompanyName
	}

	if _, err := r.client.From("profiles").Insert(row).Execute(ctx, nil); err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// UpdateCompanyName は会社名を更新し、更新後のプロフィールを返す。
func (r *PlatformProfileRepo) UpdateCompanyName(ctx context.Context, id, companyName string) (*model.Profile, error) {
	var row profileRow
	_, err := r.client.From("profiles").
		Update(map[string]any{"company_name": companyName}).
		Eq("id", id).
		Single().
		Execute(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("failed to update company name: %w", err)
	}
	return row.toModel(), nil
}
