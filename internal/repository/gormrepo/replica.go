package gormrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"auction-lifecycle/internal/models"
	"auction-lifecycle/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReplicaRepo is the search service's own database.
type ReplicaRepo struct {
	db *gorm.DB
}

// NewReplicaRepo migrates the search schema and returns the repository.
func NewReplicaRepo(db *gorm.DB) (*ReplicaRepo, error) {
	if err := db.AutoMigrate(&replicaRow{}, &tombstoneRow{}); err != nil {
		return nil, fmt.Errorf("gormrepo: migrate search schema: %w", err)
	}
	return &ReplicaRepo{db: db}, nil
}

func (r *ReplicaRepo) Get(ctx context.Context, id string) (models.ReplicaItem, bool, error) {
	var row replicaRow
	err := conn(ctx, r.db).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ReplicaItem{}, false, nil
	}
	if err != nil {
		return models.ReplicaItem{}, false, classify("get search item "+id, err)
	}
	return row.toModel(), true, nil
}

func (r *ReplicaRepo) Put(ctx context.Context, item models.ReplicaItem) error {
	row := toReplicaRow(item)
	err := conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return classify("put search item "+item.ID, err)
	}
	return nil
}

func (r *ReplicaRepo) Delete(ctx context.Context, id string, at time.Time) error {
	err := withTx(ctx, r.db, func(ctx context.Context) error {
		tx := conn(ctx, r.db)
		if err := tx.Where("id = ?", id).Delete(&replicaRow{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&tombstoneRow{AuctionID: id, RemovedAt: at.UTC()}).Error
	})
	return classify("delete search item "+id, err)
}

func (r *ReplicaRepo) IsTombstoned(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := conn(ctx, r.db).Model(&tombstoneRow{}).Where("auction_id = ?", id).Count(&count).Error; err != nil {
		return false, classify("check tombstone "+id, err)
	}
	return count > 0, nil
}

func (r *ReplicaRepo) Search(ctx context.Context, params models.SearchParams) (models.SearchResult, error) {
	p := params.Normalized()
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	q := conn(ctx, r.db).Model(&replicaRow{}).Where("partial = ?", false)
	if term := strings.ToLower(strings.TrimSpace(p.Term)); term != "" {
		like := "%" + term + "%"
		q = q.Where("LOWER(make) LIKE ? OR LOWER(model) LIKE ? OR LOWER(color) LIKE ?", like, like, like)
	}
	if p.Seller != "" {
		q = q.Where("seller = ?", p.Seller)
	}
	if p.Winner != "" {
		q = q.Where("winner = ?", p.Winner)
	}
	terminal := []string{string(models.StatusSold), string(models.StatusUnsold)}
	switch p.FilterBy {
	case repository.FilterFinished:
		q = q.Where("status IN ? OR auction_end <= ?", terminal, now)
	case repository.FilterEndingSoon:
		q = q.Where("status NOT IN ? AND auction_end > ? AND auction_end < ?", terminal, now, now.Add(repository.EndingSoonWindow))
	case repository.FilterLive:
		q = q.Where("status NOT IN ? AND auction_end > ?", terminal, now)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return models.SearchResult{}, classify("count search items", err)
	}

	switch p.OrderBy {
	case repository.OrderNew:
		q = q.Order("created_at DESC")
	case repository.OrderEndingSoon:
		q = q.Order("auction_end ASC")
	default:
		q = q.Order("make ASC")
	}
	var rows []replicaRow
	err := q.Order("id ASC").Offset((p.Page - 1) * p.PageSize).Limit(p.PageSize).Find(&rows).Error
	if err != nil {
		return models.SearchResult{}, classify("search items", err)
	}

	results := make([]models.ReplicaItem, 0, len(rows))
	for _, row := range rows {
		results = append(results, row.toModel())
	}
	return models.SearchResult{
		Results:   results,
		PageCount: int((total + int64(p.PageSize) - 1) / int64(p.PageSize)),
		Total:     int(total),
	}, nil
}
