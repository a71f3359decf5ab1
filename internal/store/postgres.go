package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kkkkikiki/voucher/internal/model"
	"github.com/kkkkikiki/voucher/internal/repository"
)

// PostgresStore implements Store on top of the sqlx repositories.
type PostgresStore struct {
	db           *sqlx.DB
	campaignRepo *repository.CampaignRepository
	voucherRepo  *repository.VoucherRepository
}

// NewPostgresStore creates a PostgresStore using db.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		db:           db,
		campaignRepo: repository.NewCampaignRepository(),
		voucherRepo:  repository.NewVoucherRepository(),
	}
}

// inTx runs fn in a transaction, committing only when fn returns nil.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOrCreateCampaign(ctx context.Context, nc model.NewCampaign) (*model.Campaign, error) {
	campaign, err := s.campaignRepo.UpsertCampaign(ctx, s.db, nc)
	if err != nil {
		if constraint, ok := repository.UniqueViolation(err); ok && constraint == repository.ConstraintCampaignExternal {
			return nil, ErrExternalRefTaken
		}
		return nil, err
	}
	return campaign, nil
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	campaign, err := s.campaignRepo.GetCampaign(ctx, s.db, id)
	return campaign, campaignErr(err)
}

func (s *PostgresStore) FindCampaign(ctx context.Context, ref string) (*model.Campaign, error) {
	campaign, err := s.campaignRepo.GetCampaignByExternalRef(ctx, s.db, ref)
	if !errors.Is(err, repository.ErrNotFound) {
		return campaign, err
	}

	campaign, err = s.campaignRepo.GetCampaignByName(ctx, s.db, ref)
	if !errors.Is(err, repository.ErrNotFound) {
		return campaign, err
	}

	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		return s.GetCampaign(ctx, id)
	}
	return nil, ErrCampaignNotFound
}

func (s *PostgresStore) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	return s.campaignRepo.ListCampaigns(ctx, s.db)
}

func (s *PostgresStore) CountCampaign(ctx context.Context, id int64, now time.Time) (model.CampaignCounts, error) {
	if _, err := s.GetCampaign(ctx, id); err != nil {
		return model.CampaignCounts{}, err
	}
	return s.campaignRepo.CountVouchers(ctx, s.db, id, now)
}

func (s *PostgresStore) RecountCampaign(ctx context.Context, id int64, now time.Time) (*model.Campaign, model.CampaignCounts, error) {
	var before *model.Campaign
	var counts model.CampaignCounts

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		// Row lock on the campaign serializes the recount with counter bumps.
		var err error
		before, err = s.campaignRepo.LockCampaign(ctx, tx, id)
		if err != nil {
			return campaignErr(err)
		}
		counts, err = s.campaignRepo.CountVouchers(ctx, tx, id, now)
		if err != nil {
			return err
		}
		return s.campaignRepo.SetCounters(ctx, tx, id, counts)
	})
	if err != nil {
		return nil, model.CampaignCounts{}, err
	}
	return before, counts, nil
}

func (s *PostgresStore) DeleteCampaign(ctx context.Context, id int64) (int, error) {
	var deleted int
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		deleted, err = s.voucherRepo.DeleteByCampaign(ctx, tx, id)
		if err != nil {
			return err
		}
		return campaignErr(s.campaignRepo.DeleteCampaign(ctx, tx, id))
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *PostgresStore) CodeExists(ctx context.Context, code string) (bool, error) {
	return s.voucherRepo.CodeExists(ctx, s.db, code)
}

func (s *PostgresStore) InsertBatch(ctx context.Context, campaignID int64, vouchers []model.Voucher) error {
	if len(vouchers) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.voucherRepo.InsertBatch(ctx, tx, vouchers); err != nil {
			if constraint, ok := repository.UniqueViolation(err); ok &&
				(constraint == repository.ConstraintIssuedCode || constraint == repository.ConstraintVoucherCode) {
				return ErrDuplicateCode
			}
			return err
		}
		err := s.campaignRepo.IncrementCounters(ctx, tx, campaignID, len(vouchers), 0, 0)
		if errors.Is(err, repository.ErrNotApplied) {
			return ErrCampaignNotFound
		}
		return err
	})
}

func (s *PostgresStore) TryTransition(ctx context.Context, t model.Transition) (*model.Voucher, error) {
	if err := validateTransition(t); err != nil {
		return nil, err
	}

	var updated *model.Voucher
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		campaignID, err := s.voucherRepo.Transition(ctx, tx, t)
		if err != nil {
			if constraint, ok := repository.UniqueViolation(err); ok && constraint == repository.ConstraintVoucherAssignee {
				return ErrIdentityAssigned
			}
			if errors.Is(err, repository.ErrNotApplied) {
				return s.classifyMiss(ctx, tx, t)
			}
			return err
		}

		used, assigned := counterDelta(t)
		if err := s.campaignRepo.IncrementCounters(ctx, tx, campaignID, 0, used, assigned); err != nil {
			return fmt.Errorf("failed to bump campaign counters: %w", err)
		}

		updated, err = s.voucherRepo.GetVoucher(ctx, tx, t.Code)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// classifyMiss explains why a conditional transition matched no row.
func (s *PostgresStore) classifyMiss(ctx context.Context, tx *sqlx.Tx, t model.Transition) error {
	current, err := s.voucherRepo.GetVoucher(ctx, tx, t.Code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrVoucherNotFound
		}
		return err
	}
	if current.Status == t.From && current.IsExpired(t.At) {
		return ErrVoucherExpired
	}
	return ErrTransitionConflict
}

func (s *PostgresStore) GetVoucher(ctx context.Context, code string) (*model.Voucher, error) {
	voucher, err := s.voucherRepo.GetVoucher(ctx, s.db, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrVoucherNotFound
	}
	return voucher, err
}

func (s *PostgresStore) ListVouchers(ctx context.Context, campaignID int64) ([]model.Voucher, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.voucherRepo.ListByCampaign(ctx, s.db, campaignID)
}

func (s *PostgresStore) FindAssignedVoucher(ctx context.Context, campaignID int64, identity string) (*model.Voucher, error) {
	voucher, err := s.voucherRepo.FindAssigned(ctx, s.db, campaignID, identity)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrVoucherNotFound
	}
	return voucher, err
}

func (s *PostgresStore) ListAssignable(ctx context.Context, campaignID int64, now time.Time, limit int) ([]model.Voucher, error) {
	return s.voucherRepo.ListAssignable(ctx, s.db, campaignID, now, limit)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func campaignErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrCampaignNotFound
	}
	return err
}
