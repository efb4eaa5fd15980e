package repository

import (
	"sort"
	"strings"
	"time"

	"auction-lifecycle/internal/models"
)

// EndingSoonWindow is how close to its end a live auction must be to match filterBy=endingSoon.
const EndingSoonWindow = 6 * time.Hour

// Search filter and order keys accepted in SearchParams.
const (
	FilterFinished   = "finished"
	FilterEndingSoon = "endingSoon"
	FilterLive       = "live"

	OrderMake       = "make"
	OrderNew        = "new"
	OrderEndingSoon = "endingSoon"
)

func searchNow(p models.SearchParams) time.Time {
	if p.Now.IsZero() {
		return time.Now().UTC()
	}
	return p.Now
}

// matches applies every filter in p to a single item
func matches(item models.ReplicaItem, p models.SearchParams, now time.Time) bool {
	if item.Partial {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(p.Term)); term != "" {
		if !strings.Contains(strings.ToLower(item.Make), term) &&
			!strings.Contains(strings.ToLower(item.Model), term) &&
			!strings.Contains(strings.ToLower(item.Color), term) {
			return false
		}
	}
	if p.Seller != "" && item.Seller != p.Seller {
		return false
	}
	if p.Winner != "" && (item.Winner == nil || *item.Winner != p.Winner) {
		return false
	}
	switch p.FilterBy {
	case FilterFinished:
		return item.Status.Terminal() || !item.AuctionEnd.After(now)
	case FilterEndingSoon:
		return !item.Status.Terminal() && item.AuctionEnd.After(now) && item.AuctionEnd.Before(now.Add(EndingSoonWindow))
	case FilterLive:
		return !item.Status.Terminal() && item.AuctionEnd.After(now)
	}
	return true
}

func sortItems(items []models.ReplicaItem, orderBy string) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch orderBy {
		case OrderNew:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		case OrderEndingSoon:
			if !a.AuctionEnd.Equal(b.AuctionEnd) {
				return a.AuctionEnd.Before(b.AuctionEnd)
			}
		default:
			if a.Make != b.Make {
				return a.Make < b.Make
			}
		}
		return a.ID < b.ID
	})
}

// paginate cuts one page out of an already filtered and sorted slice
func paginate(items []models.ReplicaItem, p models.SearchParams) models.SearchResult {
	total := len(items)
	pageCount := (total + p.PageSize - 1) / p.PageSize
	start := (p.Page - 1) * p.PageSize
	if start > total {
		start = total
	}
	end := start + p.PageSize
	if end > total {
		end = total
	}
	return models.SearchResult{
		Results:   append([]models.ReplicaItem{}, items[start:end]...),
		PageCount: pageCount,
		Total:     total,
	}
}
