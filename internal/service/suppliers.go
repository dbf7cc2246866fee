package service

import (
	"context"
	"strings"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/xid"
)

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierRequest) (domain.Supplier, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Supplier{}, err
	}
	supplier, err := normalizeSupplier(req)
	if err != nil {
		return domain.Supplier{}, err
	}

	now := s.now()
	supplier.ID = xid.NewID()
	supplier.CreatedAt = now
	supplier.UpdatedAt = now

	created, err := s.repo.CreateSupplier(ctx, supplier)
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, actor, "supplier_create", "supplier", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context, filter domain.SupplierFilter) (domain.SupplierListResponse, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.SupplierListResponse{}, err
	}
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)

	suppliers, total, err := s.repo.ListSuppliers(ctx, filter)
	if err != nil {
		return domain.SupplierListResponse{}, err
	}
	return domain.SupplierListResponse{
		Suppliers:   suppliers,
		CurrentPage: filter.Page,
		TotalPages:  totalPages(total, filter.Limit),
		Total:       total,
	}, nil
}

func (s *Service) UpdateSupplier(ctx context.Context, id string, req domain.SupplierRequest) (domain.Supplier, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Supplier{}, err
	}
	supplier, err := normalizeSupplier(req)
	if err != nil {
		return domain.Supplier{}, err
	}
	supplier.ID = strings.TrimSpace(id)
	supplier.UpdatedAt = s.now()

	updated, err := s.repo.UpdateSupplier(ctx, supplier)
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, actor, "supplier_update", "supplier", updated.ID, "name="+updated.Name)
	return *updated, nil
}

func (s *Service) DeleteSupplier(ctx context.Context, id string) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteSupplier(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, actor, "supplier_delete", "supplier", id, "")
	return nil
}

func normalizeSupplier(req domain.SupplierRequest) (domain.Supplier, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Supplier{}, invalidf("name is required")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email != "" && !strings.Contains(email, "@") {
		return domain.Supplier{}, invalidf("email %q is not valid", req.Email)
	}

	medicines := make([]string, 0, len(req.MedicinesSupplied))
	for _, m := range req.MedicinesSupplied {
		if m = strings.TrimSpace(m); m != "" {
			medicines = append(medicines, m)
		}
	}
	if len(medicines) > 500 {
		return domain.Supplier{}, invalidf("too many medicines listed")
	}

	return domain.Supplier{
		Name:              name,
		Contact:           strings.TrimSpace(req.Contact),
		Email:             email,
		Address:           strings.TrimSpace(req.Address),
		MedicinesSupplied: medicines,
	}, nil
}
