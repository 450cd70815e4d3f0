package payments

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Service manages admin payout destinations. Default promotion is explicit:
// every path that can change which row is the default runs in one
// transaction, so there is never a moment with two defaults.
type Service struct {
	pool *pgxpool.Pool
	repo *Repository
	log  *zap.Logger
}

func NewService(pool *pgxpool.Pool, repo *Repository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{pool: pool, repo: repo, log: log}
}

// Create registers a payout method. The first active method becomes default.
func (s *Service) Create(ctx context.Context, params CreateMethodParams) (AdminPaymentMethod, error) {
	if params.Label == "" || params.Provider == "" || params.AccountNumber == "" {
		return AdminPaymentMethod{}, fmt.Errorf("payments: label, provider and account number are required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AdminPaymentMethod{}, fmt.Errorf("payments: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := s.repo.InsertTx(ctx, tx, params)
	if err != nil {
		return AdminPaymentMethod{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return AdminPaymentMethod{}, fmt.Errorf("payments: commit create: %w", err)
	}
	return m, nil
}

// List returns live methods, default first.
func (s *Service) List(ctx context.Context) ([]AdminPaymentMethod, error) {
	return s.repo.ListActive(ctx)
}

// SetDefault makes the given method the single default. The previous default
// is unset in the same transaction.
func (s *Service) SetDefault(ctx context.Context, id string) (AdminPaymentMethod, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AdminPaymentMethod{}, fmt.Errorf("payments: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.GetForUpdateTx(ctx, tx, id); err != nil {
		return AdminPaymentMethod{}, err
	}
	if err := s.repo.ClearDefaultTx(ctx, tx); err != nil {
		return AdminPaymentMethod{}, err
	}
	m, err := s.repo.SetDefaultTx(ctx, tx, id)
	if err != nil {
		return AdminPaymentMethod{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return AdminPaymentMethod{}, fmt.Errorf("payments: commit default: %w", err)
	}

	s.log.Info("payout default changed", zap.String("method_id", m.ID))
	return m, nil
}

// SoftDelete tombstones a method. Deleting the default promotes the most
// recently created active method, when one remains.
func (s *Service) SoftDelete(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("payments: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	wasDefault, err := s.repo.SoftDeleteTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if wasDefault {
		if err := s.repo.PromoteLatestTx(ctx, tx); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("payments: commit delete: %w", err)
	}

	s.log.Info("payout method removed", zap.String("method_id", id), zap.Bool("was_default", wasDefault))
	return nil
}
