package service

import (
	"context"
	"log"
	"strings"

	"pharmacy/backend/internal/domain"
)

func (s *Service) ListSales(ctx context.Context, filter domain.SalesFilter) (domain.SalesListResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SalesListResponse{}, err
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return domain.SalesListResponse{}, invalidf("end date is before start date")
	}
	filter.MedicineID = strings.TrimSpace(filter.MedicineID)
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)

	records, totals, err := s.repo.ListSales(ctx, actor.ID, filter)
	if err != nil {
		return domain.SalesListResponse{}, err
	}
	return domain.SalesListResponse{
		Sales:         records,
		CurrentPage:   filter.Page,
		TotalPages:    totalPages(totals.Count, filter.Limit),
		Total:         totals.Count,
		TotalRevenue:  totals.Revenue,
		TotalQuantity: totals.Quantity,
	}, nil
}

// DashboardStats serves from the stats cache when possible. Cache failures
// fall through to the store.
func (s *Service) DashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.DashboardStats{}, err
	}

	cached, ok, err := s.stats.Get(ctx, actor.ID)
	if err != nil {
		log.Printf("[service] WARN: dashboard cache read failed owner=%s: %v", actor.ID, err)
	}
	if ok && cached != nil {
		return *cached, nil
	}

	stats, err := s.repo.DashboardStats(ctx, actor.ID, s.now(), s.expiryWarning)
	if err != nil {
		return domain.DashboardStats{}, err
	}
	if err := s.stats.Set(ctx, actor.ID, &stats, s.statsTTL); err != nil {
		log.Printf("[service] WARN: dashboard cache write failed owner=%s: %v", actor.ID, err)
	}
	return stats, nil
}
